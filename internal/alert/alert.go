// Package alert reports rows that exhausted their retry budget.
package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/jwalitptl/erp-admin/pkg/email"
	"github.com/jwalitptl/erp-admin/pkg/logger"
)

const (
	SourceOutbox       = "outbox"
	SourceNotification = "notification"
)

// DeadLetter describes a row moved to a dead-letter table.
type DeadLetter struct {
	Source     string
	ID         uuid.UUID
	Kind       string
	Error      string
	RetryCount int
	FailedAt   time.Time
}

type Alerter interface {
	DeadLettered(ctx context.Context, dl DeadLetter) error
}

type LogAlerter struct {
	log *logger.Logger
}

func NewLogAlerter(log *logger.Logger) *LogAlerter {
	return &LogAlerter{log: log}
}

func (a *LogAlerter) DeadLettered(_ context.Context, dl DeadLetter) error {
	a.log.Warn(nil, "dead letter",
		"source", dl.Source,
		"id", dl.ID.String(),
		"kind", dl.Kind,
		"retry_count", dl.RetryCount,
		"last_error", dl.Error,
	)
	return nil
}

type EmailAlerter struct {
	sender email.Sender
	to     string
}

func NewEmailAlerter(sender email.Sender, to string) *EmailAlerter {
	return &EmailAlerter{sender: sender, to: to}
}

func (a *EmailAlerter) DeadLettered(ctx context.Context, dl DeadLetter) error {
	subject := fmt.Sprintf("[erp-admin] %s dead letter: %s", dl.Source, dl.Kind)
	if err := a.sender.Send(ctx, a.to, subject, body(dl)); err != nil {
		return fmt.Errorf("send dead letter alert: %w", err)
	}
	return nil
}

func body(dl DeadLetter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source:      %s\n", dl.Source)
	fmt.Fprintf(&b, "ID:          %s\n", dl.ID)
	fmt.Fprintf(&b, "Kind:        %s\n", dl.Kind)
	fmt.Fprintf(&b, "Retries:     %d\n", dl.RetryCount)
	fmt.Fprintf(&b, "Failed at:   %s\n", dl.FailedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Last error:  %s\n", dl.Error)
	return b.String()
}

// Multi notifies every alerter and combines their errors.
type Multi []Alerter

func (m Multi) DeadLettered(ctx context.Context, dl DeadLetter) error {
	var err error
	for _, a := range m {
		err = multierr.Append(err, a.DeadLettered(ctx, dl))
	}
	return err
}
