package notification

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/erp-admin/internal/alert"
	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/internal/repository"
	apperrors "github.com/jwalitptl/erp-admin/pkg/errors"
	"github.com/jwalitptl/erp-admin/pkg/logger"
	"github.com/jwalitptl/erp-admin/pkg/metrics"
)

type Config struct {
	BatchSize  int
	MaxRetries int
	// BackoffUnit scales the redelivery wait: 2^RetryCount * BackoffUnit.
	BackoffUnit time.Duration
}

func (c Config) policy() repository.NotificationPolicy {
	return repository.NotificationPolicy{MaxRetries: c.MaxRetries, BackoffUnit: c.BackoffUnit}
}

// Dispatcher delivers pending notifications through a Sink.
type Dispatcher struct {
	repo    repository.NotificationRepository
	sink    Sink
	alerter alert.Alerter
	config  Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewDispatcher(
	repo repository.NotificationRepository,
	sink Sink,
	alerter alert.Alerter,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Dispatcher {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		panic("MaxRetries must be greater than 0")
	}
	if config.BackoffUnit <= 0 {
		panic("BackoffUnit must be greater than 0")
	}

	return &Dispatcher{
		repo:    repo,
		sink:    sink,
		alerter: alerter,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ProcessNotifications runs one delivery cycle inside a single transaction
// that keeps the selected rows locked against concurrent dispatchers.
// Delivery failures are recorded per notification. Cancellation stops the
// loop between notifications and what was done so far is committed.
func (d *Dispatcher) ProcessNotifications(ctx context.Context) error {
	timer := prometheus.NewTimer(d.metrics.NotificationCycleDuration)
	defer timer.ObserveDuration()

	txCtx := context.WithoutCancel(ctx)
	batch, err := d.repo.Begin(txCtx)
	if err != nil {
		return apperrors.NewInfrastructure("begin notification batch", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := batch.Rollback(); err != nil {
				d.logger.Error(err, "Failed to roll back notification batch")
			}
		}
	}()

	notifications, err := batch.ListEligible(txCtx, d.config.BatchSize, d.now(), d.config.policy())
	if err != nil {
		return apperrors.NewInfrastructure("list notifications", err)
	}
	if len(notifications) == 0 {
		d.logger.Debug("no notifications to process")
		return nil
	}

	for i, n := range notifications {
		if ctx.Err() != nil {
			d.logger.Info("notification cycle interrupted", "remaining", len(notifications)-i)
			break
		}
		if err := d.processNotification(txCtx, batch, n); err != nil {
			return err
		}
	}

	if err := batch.Commit(); err != nil {
		return apperrors.NewInfrastructure("commit notification batch", err)
	}
	committed = true
	return nil
}

func (d *Dispatcher) processNotification(ctx context.Context, batch repository.NotificationBatch, n *model.AppNotification) error {
	target := n.Target()
	deliverErr := Deliver(ctx, d.sink, target, n.Payload())
	now := d.now()

	if deliverErr == nil {
		if err := batch.MarkProcessed(ctx, n.ID, now); err != nil {
			return apperrors.NewInfrastructure("mark notification processed", err)
		}
		d.metrics.NotificationsDelivered.WithLabelValues(string(target.Kind)).Inc()
		return nil
	}

	d.metrics.NotificationsFailed.Inc()
	d.logger.Error(deliverErr, "Error sending notification",
		"notification_id", n.ID.String(),
		"target", string(target.Kind),
		"retry_count", n.RetryCount)

	deadLettered, err := batch.MarkFailed(ctx, n.ID, deliverErr.Error(), now, d.config.policy())
	if err != nil {
		return apperrors.NewInfrastructure("mark notification failed", err)
	}
	if !deadLettered {
		return nil
	}

	d.metrics.NotificationsDeadLettered.Inc()
	if d.alerter == nil {
		return nil
	}
	dl := alert.DeadLetter{
		Source:     alert.SourceNotification,
		ID:         n.ID,
		Kind:       string(target.Kind),
		Error:      deliverErr.Error(),
		RetryCount: n.RetryCount + 1,
		FailedAt:   now,
	}
	if err := d.alerter.DeadLettered(ctx, dl); err != nil {
		d.logger.Error(err, "dead letter alert failed", "notification_id", n.ID.String())
	}
	return nil
}
