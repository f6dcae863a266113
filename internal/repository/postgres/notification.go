package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/internal/repository"
)

const notificationProcessor = "NotificationProcessor"

const (
	notificationColumns = `id, title, description, url, sender_id, receiver_id, group_name, is_seen, is_processed,
    retry_count, error, created, created_by, last_modified, last_modified_by`

	notificationInsertSQL = `
INSERT INTO app_notifications (id, title, description, url, sender_id, receiver_id, group_name, created, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

	// A notification that failed retry_count times waits 2^retry_count * $2 seconds.
	notificationListEligibleSQL = `
SELECT ` + notificationColumns + `
FROM app_notifications
WHERE is_processed = FALSE
  AND retry_count < $1
  AND (last_modified IS NULL
       OR last_modified + make_interval(secs => power(2, retry_count) * $2::double precision) < $3)
ORDER BY created ASC, retry_count ASC
LIMIT $4
FOR UPDATE SKIP LOCKED
`

	notificationMarkProcessedSQL = `
UPDATE app_notifications
SET is_processed = TRUE,
    last_modified = $2,
    last_modified_by = $3,
    error = NULL
WHERE id = $1
`

	notificationMarkFailedSQL = `
UPDATE app_notifications
SET retry_count = retry_count + 1,
    last_modified = $2,
    last_modified_by = $3,
    error = $4
WHERE id = $1
RETURNING ` + notificationColumns

	notificationDeadLetterSQL = `
INSERT INTO notification_dead_letters (id, notification_id, title, receiver_id, group_name, error, retry_count, failed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (notification_id) DO NOTHING
`

	notificationGetSQL = `SELECT ` + notificationColumns + ` FROM app_notifications WHERE id = $1`

	notificationMarkSeenSQL = `
UPDATE app_notifications
SET is_seen = TRUE
WHERE id = $1
  AND receiver_id = $2
  AND is_seen = FALSE
`

	notificationMarkAllSeenSQL = `
UPDATE app_notifications
SET is_seen = TRUE
WHERE receiver_id = $1
  AND is_seen = FALSE
`

	notificationListByReceiverSQL = `
SELECT ` + notificationColumns + `
FROM app_notifications
WHERE receiver_id = $1
ORDER BY created DESC
LIMIT $2
`
)

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func (r *notificationRepository) Insert(ctx context.Context, q sqlx.ExtContext, n *model.AppNotification) error {
	if n == nil {
		return fmt.Errorf("notification store: notification cannot be nil")
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("notification store: title required")
	}
	if q == nil {
		return fmt.Errorf("notification store: nil executor")
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Created.IsZero() {
		n.Created = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, notificationInsertSQL,
		n.ID, n.Title, n.Description, n.URL, n.SenderID, n.ReceiverID, n.Group, n.Created, n.CreatedBy)
	if err != nil {
		return fmt.Errorf("notification store: insert: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.AppNotification, error) {
	if r.db == nil {
		return nil, fmt.Errorf("notification store: nil db")
	}
	var n model.AppNotification
	if err := r.db.GetContext(ctx, &n, notificationGetSQL, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("notification store: get: %w", err)
	}
	return &n, nil
}

func (r *notificationRepository) MarkSeen(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	if r.db == nil {
		return false, fmt.Errorf("notification store: nil db")
	}
	res, err := r.db.ExecContext(ctx, notificationMarkSeenSQL, id, userID)
	if err != nil {
		return false, fmt.Errorf("notification store: mark seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("notification store: mark seen rows: %w", err)
	}
	return n == 1, nil
}

func (r *notificationRepository) MarkAllSeen(ctx context.Context, userID string) (int64, error) {
	if r.db == nil {
		return 0, fmt.Errorf("notification store: nil db")
	}
	res, err := r.db.ExecContext(ctx, notificationMarkAllSeenSQL, userID)
	if err != nil {
		return 0, fmt.Errorf("notification store: mark all seen: %w", err)
	}
	return res.RowsAffected()
}

func (r *notificationRepository) ListByReceiver(ctx context.Context, userID string, limit int) ([]*model.AppNotification, error) {
	if r.db == nil {
		return nil, fmt.Errorf("notification store: nil db")
	}
	var notifications []*model.AppNotification
	if err := r.db.SelectContext(ctx, &notifications, notificationListByReceiverSQL, userID, limit); err != nil {
		return nil, fmt.Errorf("notification store: list by receiver: %w", err)
	}
	return notifications, nil
}

func (r *notificationRepository) Begin(ctx context.Context) (repository.NotificationBatch, error) {
	if r.db == nil {
		return nil, fmt.Errorf("notification store: nil db")
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("notification store: begin: %w", err)
	}
	return &notificationBatch{tx: tx}, nil
}

type notificationBatch struct {
	tx *sqlx.Tx
}

func (b *notificationBatch) ListEligible(ctx context.Context, limit int, now time.Time, policy repository.NotificationPolicy) ([]*model.AppNotification, error) {
	var notifications []*model.AppNotification
	err := b.tx.SelectContext(ctx, &notifications, notificationListEligibleSQL,
		policy.MaxRetries, policy.BackoffUnit.Seconds(), now, limit)
	if err != nil {
		return nil, fmt.Errorf("notification store: list eligible: %w", err)
	}
	return notifications, nil
}

func (b *notificationBatch) MarkProcessed(ctx context.Context, id uuid.UUID, now time.Time) error {
	if _, err := b.tx.ExecContext(ctx, notificationMarkProcessedSQL, id, now, notificationProcessor); err != nil {
		return fmt.Errorf("notification store: mark processed: %w", err)
	}
	return nil
}

func (b *notificationBatch) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, now time.Time, policy repository.NotificationPolicy) (bool, error) {
	var n model.AppNotification
	if err := b.tx.GetContext(ctx, &n, notificationMarkFailedSQL, id, now, notificationProcessor, errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, repository.ErrNotFound
		}
		return false, fmt.Errorf("notification store: mark failed: %w", err)
	}
	if n.RetryCount < policy.MaxRetries {
		return false, nil
	}
	if _, err := b.tx.ExecContext(ctx, notificationDeadLetterSQL,
		uuid.New(), n.ID, n.Title, n.ReceiverID, n.Group, n.Error, n.RetryCount, now); err != nil {
		return false, fmt.Errorf("notification store: dead letter: %w", err)
	}
	return true, nil
}

func (b *notificationBatch) Commit() error {
	return b.tx.Commit()
}

func (b *notificationBatch) Rollback() error {
	return b.tx.Rollback()
}
