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

const (
	outboxColumns = `id, type, content, created_on, processed_on, error, retry_count, processing_lock, last_processing_attempt`

	outboxInsertSQL = `
INSERT INTO outbox_messages (id, type, content, created_on)
VALUES ($1, $2, $3, $4)
`

	// $2 is now minus the lock timeout: a claim or attempt older than that is abandoned.
	outboxListEligibleSQL = `
SELECT ` + outboxColumns + `
FROM outbox_messages
WHERE processed_on IS NULL
  AND (retry_count < $1 OR retry_count IS NULL)
  AND ((processing_lock IS NULL AND last_processing_attempt IS NULL)
       OR last_processing_attempt < $2)
ORDER BY created_on ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`

	outboxClaimSQL = `
UPDATE outbox_messages
SET processing_lock = $2,
    last_processing_attempt = $3,
    retry_count = COALESCE(retry_count, 0) + 1
WHERE id = $1
  AND processed_on IS NULL
  AND COALESCE(retry_count, 0) < $4
  AND ((processing_lock IS NULL AND last_processing_attempt IS NULL)
       OR last_processing_attempt < $5)
`

	outboxMarkProcessedSQL = `
UPDATE outbox_messages
SET processed_on = $3,
    processing_lock = NULL,
    error = NULL
WHERE id = $1
  AND processing_lock = $2
`

	outboxMarkFailedSQL = `
UPDATE outbox_messages
SET error = $3,
    processing_lock = NULL
WHERE id = $1
  AND processing_lock = $2
RETURNING ` + outboxColumns

	outboxDeadLetterSQL = `
INSERT INTO outbox_dead_letters (id, message_id, type, content, error, retry_count, created_on, failed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (message_id) DO NOTHING
`

	// Rows whose final claim went stale are no longer eligible; copy them to
	// the dead-letter table and release the lock in one statement.
	outboxDeadLetterAbandonedSQL = `
WITH abandoned AS (
    SELECT id
    FROM outbox_messages
    WHERE processed_on IS NULL
      AND retry_count >= $1
      AND processing_lock IS NOT NULL
      AND last_processing_attempt < $2
    FOR UPDATE SKIP LOCKED
), released AS (
    UPDATE outbox_messages m
    SET processing_lock = NULL,
        error = $3
    FROM abandoned a
    WHERE m.id = a.id
    RETURNING m.id, m.type, m.content, m.error, m.retry_count, m.created_on
)
INSERT INTO outbox_dead_letters (id, message_id, type, content, error, retry_count, created_on, failed_at)
SELECT gen_random_uuid(), id, type, content, error, retry_count, created_on, $4
FROM released
ON CONFLICT (message_id) DO NOTHING
RETURNING id, message_id, type, content, error, retry_count, created_on, failed_at
`

	outboxGetSQL = `SELECT ` + outboxColumns + ` FROM outbox_messages WHERE id = $1`

	outboxDeleteProcessedSQL = `
DELETE FROM outbox_messages
WHERE processed_on IS NOT NULL
  AND processed_on < $1
`
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func (r *outboxRepository) Insert(ctx context.Context, q sqlx.ExtContext, msg *model.OutboxMessage) error {
	if msg == nil {
		return fmt.Errorf("outbox store: message cannot be nil")
	}
	if strings.TrimSpace(msg.Type) == "" {
		return fmt.Errorf("outbox store: message type required")
	}
	if msg.Content == "" {
		return fmt.Errorf("outbox store: message content required")
	}
	if q == nil {
		return fmt.Errorf("outbox store: nil executor")
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedOn.IsZero() {
		msg.CreatedOn = time.Now().UTC()
	}

	if _, err := q.ExecContext(ctx, outboxInsertSQL, msg.ID, msg.Type, msg.Content, msg.CreatedOn); err != nil {
		return fmt.Errorf("outbox store: insert: %w", err)
	}
	return nil
}

func (r *outboxRepository) ListEligible(ctx context.Context, limit int, now time.Time, policy repository.OutboxPolicy) ([]*model.OutboxMessage, error) {
	if r.db == nil {
		return nil, fmt.Errorf("outbox store: nil db")
	}
	var messages []*model.OutboxMessage
	err := r.db.SelectContext(ctx, &messages, outboxListEligibleSQL,
		policy.MaxRetryAttempts, now.Add(-policy.LockTimeout), limit)
	if err != nil {
		return nil, fmt.Errorf("outbox store: list eligible: %w", err)
	}
	return messages, nil
}

func (r *outboxRepository) Claim(ctx context.Context, id, token uuid.UUID, now time.Time, policy repository.OutboxPolicy) (bool, error) {
	if r.db == nil {
		return false, fmt.Errorf("outbox store: nil db")
	}
	res, err := r.db.ExecContext(ctx, outboxClaimSQL,
		id, token, now, policy.MaxRetryAttempts, now.Add(-policy.LockTimeout))
	if err != nil {
		return false, fmt.Errorf("outbox store: claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("outbox store: claim rows: %w", err)
	}
	return n == 1, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id, token uuid.UUID, now time.Time) error {
	if r.db == nil {
		return fmt.Errorf("outbox store: nil db")
	}
	res, err := r.db.ExecContext(ctx, outboxMarkProcessedSQL, id, token, now)
	if err != nil {
		return fmt.Errorf("outbox store: mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("outbox store: mark processed rows: %w", err)
	}
	if n == 0 {
		return repository.ErrClaimLost
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id, token uuid.UUID, errMsg string, now time.Time, policy repository.OutboxPolicy) (bool, error) {
	deadLettered := false
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var msg model.OutboxMessage
		if err := tx.GetContext(ctx, &msg, outboxMarkFailedSQL, id, token, errMsg); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrClaimLost
			}
			return fmt.Errorf("outbox store: mark failed: %w", err)
		}
		if msg.Retries() < policy.MaxRetryAttempts {
			return nil
		}
		if _, err := tx.ExecContext(ctx, outboxDeadLetterSQL,
			uuid.New(), msg.ID, msg.Type, msg.Content, msg.Error, msg.Retries(), msg.CreatedOn, now); err != nil {
			return fmt.Errorf("outbox store: dead letter: %w", err)
		}
		deadLettered = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deadLettered, nil
}

func (r *outboxRepository) DeadLetterAbandoned(ctx context.Context, now time.Time, policy repository.OutboxPolicy) ([]*model.OutboxDeadLetter, error) {
	if r.db == nil {
		return nil, fmt.Errorf("outbox store: nil db")
	}
	var dead []*model.OutboxDeadLetter
	err := r.db.SelectContext(ctx, &dead, outboxDeadLetterAbandonedSQL,
		policy.MaxRetryAttempts, now.Add(-policy.LockTimeout), model.ErrAbandonedClaim, now)
	if err != nil {
		return nil, fmt.Errorf("outbox store: dead letter abandoned: %w", err)
	}
	return dead, nil
}

func (r *outboxRepository) Get(ctx context.Context, id uuid.UUID) (*model.OutboxMessage, error) {
	if r.db == nil {
		return nil, fmt.Errorf("outbox store: nil db")
	}
	var msg model.OutboxMessage
	if err := r.db.GetContext(ctx, &msg, outboxGetSQL, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("outbox store: get: %w", err)
	}
	return &msg, nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	if r.db == nil {
		return 0, fmt.Errorf("outbox store: nil db")
	}
	result, err := r.db.ExecContext(ctx, outboxDeleteProcessedSQL, before)
	if err != nil {
		return 0, fmt.Errorf("outbox store: delete processed: %w", err)
	}
	return result.RowsAffected()
}
