package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/erp-admin/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("repository: not found")

// ErrClaimLost is returned when a finalising update finds the claim token
// replaced, which happens after a stale claim was taken over.
var ErrClaimLost = errors.New("repository: claim lost")

// OutboxPolicy carries the eligibility parameters of the outbox.
type OutboxPolicy struct {
	MaxRetryAttempts int
	LockTimeout      time.Duration
}

// NotificationPolicy carries the eligibility parameters of notifications.
type NotificationPolicy struct {
	MaxRetries  int
	BackoffUnit time.Duration
}

// All repository interfaces in one file
type (
	// OutboxRepository persists captured events and their processing state.
	OutboxRepository interface {
		// Insert writes a new message on q, normally the business transaction.
		Insert(ctx context.Context, q sqlx.ExtContext, msg *model.OutboxMessage) error
		// ListEligible returns up to limit claimable messages, oldest first,
		// skipping rows locked by concurrent transactions.
		ListEligible(ctx context.Context, limit int, now time.Time, policy OutboxPolicy) ([]*model.OutboxMessage, error)
		// Claim sets the processing lock if the message is still eligible.
		// It returns false when another worker got there first.
		Claim(ctx context.Context, id, token uuid.UUID, now time.Time, policy OutboxPolicy) (bool, error)
		// MarkProcessed finalises a claimed message.
		MarkProcessed(ctx context.Context, id, token uuid.UUID, now time.Time) error
		// MarkFailed records the error and releases the claim. When the retry
		// budget is spent the message is copied to the dead-letter table and
		// deadLettered is true.
		MarkFailed(ctx context.Context, id, token uuid.UUID, errMsg string, now time.Time, policy OutboxPolicy) (deadLettered bool, err error)
		// DeadLetterAbandoned dead-letters messages whose final claim went
		// stale without being finalised and releases their lock.
		DeadLetterAbandoned(ctx context.Context, now time.Time, policy OutboxPolicy) ([]*model.OutboxDeadLetter, error)
		Get(ctx context.Context, id uuid.UUID) (*model.OutboxMessage, error)
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// NotificationRepository persists notifications.
	NotificationRepository interface {
		Insert(ctx context.Context, q sqlx.ExtContext, n *model.AppNotification) error
		Get(ctx context.Context, id uuid.UUID) (*model.AppNotification, error)
		// MarkSeen acknowledges one notification addressed to userID.
		MarkSeen(ctx context.Context, id uuid.UUID, userID string) (bool, error)
		// MarkAllSeen acknowledges every notification addressed to userID.
		MarkAllSeen(ctx context.Context, userID string) (int64, error)
		ListByReceiver(ctx context.Context, userID string, limit int) ([]*model.AppNotification, error)
		// Begin opens the batch transaction used by the dispatcher.
		Begin(ctx context.Context) (NotificationBatch, error)
	}

	// NotificationBatch is one dispatch cycle's transaction. Rows returned by
	// ListEligible stay locked until Commit or Rollback.
	NotificationBatch interface {
		ListEligible(ctx context.Context, limit int, now time.Time, policy NotificationPolicy) ([]*model.AppNotification, error)
		MarkProcessed(ctx context.Context, id uuid.UUID, now time.Time) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, now time.Time, policy NotificationPolicy) (deadLettered bool, err error)
		Commit() error
		Rollback() error
	}

	// LookupRepository handles lookup reads and writes.
	LookupRepository interface {
		Get(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*model.Lookup, error)
		UpdateStatus(ctx context.Context, q sqlx.ExecerContext, l *model.Lookup) error
		UpdateDetailsStatus(ctx context.Context, q sqlx.ExecerContext, lookupID uuid.UUID, status bool, by string, now time.Time) (int64, error)
		ListDetails(ctx context.Context, lookupID uuid.UUID) ([]*model.LookupDetail, error)
	}
)
