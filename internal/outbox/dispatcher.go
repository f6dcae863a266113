package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/erp-admin/internal/alert"
	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/internal/repository"
	apperrors "github.com/jwalitptl/erp-admin/pkg/errors"
	"github.com/jwalitptl/erp-admin/pkg/event"
	"github.com/jwalitptl/erp-admin/pkg/logger"
	"github.com/jwalitptl/erp-admin/pkg/metrics"
)

type Config struct {
	BatchSize int
	// MaxRetryAttempts bounds both the in-cycle publish attempts and the
	// number of cycles a message is claimed before it is dead-lettered.
	MaxRetryAttempts int
	// LockTimeout is how long a claim or failed attempt keeps a message out
	// of selection.
	LockTimeout time.Duration
	// RetryBaseDelay is the first in-cycle backoff; later ones double.
	RetryBaseDelay time.Duration
}

func (c Config) policy() repository.OutboxPolicy {
	return repository.OutboxPolicy{MaxRetryAttempts: c.MaxRetryAttempts, LockTimeout: c.LockTimeout}
}

// Dispatcher republishes captured events to in-process handlers.
type Dispatcher struct {
	repo      repository.OutboxRepository
	registry  *event.Registry
	publisher event.Publisher
	alerter   alert.Alerter
	config    Config
	logger    *logger.Logger
	metrics   *metrics.Metrics

	now      func() time.Time
	newToken func() uuid.UUID
}

func NewDispatcher(
	repo repository.OutboxRepository,
	registry *event.Registry,
	publisher event.Publisher,
	alerter alert.Alerter,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Dispatcher {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.MaxRetryAttempts <= 0 {
		panic("MaxRetryAttempts must be greater than 0")
	}
	if config.LockTimeout <= 0 {
		panic("LockTimeout must be greater than 0")
	}
	if config.RetryBaseDelay < 0 {
		panic("RetryBaseDelay must not be negative")
	}

	return &Dispatcher{
		repo:      repo,
		registry:  registry,
		publisher: publisher,
		alerter:   alerter,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
		newToken:  uuid.New,
	}
}

// ProcessOutboxMessages runs one dispatch cycle. Per-message failures are
// recorded on the row and logged; only infrastructure failures are returned.
// Cancellation is observed between messages.
func (d *Dispatcher) ProcessOutboxMessages(ctx context.Context) error {
	timer := prometheus.NewTimer(d.metrics.OutboxCycleDuration)
	defer timer.ObserveDuration()

	if err := d.sweepAbandoned(ctx); err != nil {
		return err
	}

	messages, err := d.repo.ListEligible(ctx, d.config.BatchSize, d.now(), d.config.policy())
	if err != nil {
		return apperrors.NewInfrastructure("list outbox messages", err)
	}
	if len(messages) == 0 {
		d.logger.Debug("no outbox messages to process")
		return nil
	}

	for i, msg := range messages {
		if ctx.Err() != nil {
			d.logger.Info("outbox cycle interrupted", "remaining", len(messages)-i)
			return nil
		}
		// a started message runs to completion
		if err := d.processMessage(context.WithoutCancel(ctx), msg); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) processMessage(ctx context.Context, msg *model.OutboxMessage) error {
	policy := d.config.policy()
	token := d.newToken()

	claimed, err := d.repo.Claim(ctx, msg.ID, token, d.now(), policy)
	if err != nil {
		return apperrors.NewInfrastructure("claim outbox message", err)
	}
	if !claimed {
		d.metrics.OutboxClaimContention.Inc()
		d.logger.Debug("outbox message claimed elsewhere", "message_id", msg.ID.String())
		return nil
	}

	if pubErr := d.publish(ctx, msg); pubErr != nil {
		return d.fail(ctx, msg, token, pubErr)
	}

	if err := d.repo.MarkProcessed(ctx, msg.ID, token, d.now()); err != nil {
		if errors.Is(err, repository.ErrClaimLost) {
			d.logger.Warn(err, "outbox claim taken over before completion", "message_id", msg.ID.String())
			return nil
		}
		return apperrors.NewInfrastructure("mark outbox message processed", err)
	}
	d.metrics.OutboxMessagesProcessed.Inc()
	d.metrics.OutboxProcessingLatency.WithLabelValues(msg.Type).Observe(d.now().Sub(msg.CreatedOn).Seconds())
	return nil
}

// sweepAbandoned dead-letters messages whose final claim was never finalised,
// typically because the worker holding it died.
func (d *Dispatcher) sweepAbandoned(ctx context.Context) error {
	dead, err := d.repo.DeadLetterAbandoned(ctx, d.now(), d.config.policy())
	if err != nil {
		return apperrors.NewInfrastructure("dead letter abandoned outbox messages", err)
	}
	for _, dl := range dead {
		d.metrics.OutboxDeadLettered.Inc()
		d.logger.Warn(nil, "outbox message abandoned on final claim",
			"message_id", dl.MessageID.String(),
			"event_type", dl.Type,
			"retry_count", dl.RetryCount)
		d.alert(ctx, alert.DeadLetter{
			Source:     alert.SourceOutbox,
			ID:         dl.MessageID,
			Kind:       dl.Type,
			Error:      model.ErrAbandonedClaim,
			RetryCount: dl.RetryCount,
			FailedAt:   dl.FailedAt,
		})
	}
	return nil
}

// publish decodes and publishes msg, retrying with exponential backoff.
// Undecodable payloads are not retried.
func (d *Dispatcher) publish(ctx context.Context, msg *model.OutboxMessage) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.config.RetryBaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = d.config.RetryBaseDelay << d.config.MaxRetryAttempts

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		evt, err := d.registry.Decode(msg.Type, msg.Content)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, d.publisher.Publish(ctx, evt)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.config.MaxRetryAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.metrics.OutboxPublishRetries.WithLabelValues(msg.Type).Inc()
			d.logger.Warn(err, "outbox publish failed, retrying",
				"message_id", msg.ID.String(),
				"event_type", msg.Type,
				"retry_in", next.String())
		}),
	)
	return err
}

func (d *Dispatcher) fail(ctx context.Context, msg *model.OutboxMessage, token uuid.UUID, cause error) error {
	d.metrics.OutboxMessagesFailed.Inc()
	d.logger.Error(cause, "Failed to process outbox message",
		"message_id", msg.ID.String(),
		"event_type", msg.Type)

	now := d.now()
	deadLettered, err := d.repo.MarkFailed(ctx, msg.ID, token, cause.Error(), now, d.config.policy())
	if err != nil {
		if errors.Is(err, repository.ErrClaimLost) {
			d.logger.Warn(err, "outbox claim taken over before failure was recorded", "message_id", msg.ID.String())
			return nil
		}
		return apperrors.NewInfrastructure("mark outbox message failed", err)
	}
	if !deadLettered {
		return nil
	}

	d.metrics.OutboxDeadLettered.Inc()
	d.alert(ctx, alert.DeadLetter{
		Source:     alert.SourceOutbox,
		ID:         msg.ID,
		Kind:       msg.Type,
		Error:      cause.Error(),
		RetryCount: msg.Retries() + 1,
		FailedAt:   now,
	})
	return nil
}

func (d *Dispatcher) alert(ctx context.Context, dl alert.DeadLetter) {
	if d.alerter == nil {
		return
	}
	if err := d.alerter.DeadLettered(ctx, dl); err != nil {
		d.logger.Error(err, "dead letter alert failed", "message_id", dl.ID.String())
	}
}
