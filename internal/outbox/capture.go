package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/internal/repository"
	"github.com/jwalitptl/erp-admin/pkg/event"
)

// Capturer writes events into the outbox on the caller's transaction.
type Capturer struct {
	repo     repository.OutboxRepository
	registry *event.Registry
	now      func() time.Time
}

func NewCapturer(repo repository.OutboxRepository, registry *event.Registry) *Capturer {
	return &Capturer{
		repo:     repo,
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Capture inserts one outbox row per event on q. Events of one call get
// strictly increasing CreatedOn so they are dispatched in the order given.
// Nothing is published here.
func (c *Capturer) Capture(ctx context.Context, q sqlx.ExtContext, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}
	base := c.now().Truncate(time.Microsecond)
	for i, evt := range events {
		eventType, content, err := c.registry.Encode(evt)
		if err != nil {
			return fmt.Errorf("capture event %d: %w", i, err)
		}
		msg := &model.OutboxMessage{
			Type:      eventType,
			Content:   content,
			CreatedOn: base.Add(time.Duration(i) * time.Microsecond),
		}
		if err := c.repo.Insert(ctx, q, msg); err != nil {
			return fmt.Errorf("capture %s: %w", eventType, err)
		}
	}
	return nil
}

// TxFunc is the business part of a unit of work. The events it returns are
// captured in the same transaction.
type TxFunc func(ctx context.Context, tx *sqlx.Tx) ([]event.Event, error)

type UnitOfWork struct {
	db       *sqlx.DB
	capturer *Capturer
}

func NewUnitOfWork(db *sqlx.DB, capturer *Capturer) *UnitOfWork {
	return &UnitOfWork{db: db, capturer: capturer}
}

// Execute runs fn and captures its events in one transaction. Any error,
// from fn or from capture, rolls back both the business write and the
// outbox rows.
func (u *UnitOfWork) Execute(ctx context.Context, fn TxFunc) (err error) {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unit of work: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
		}
	}()

	events, err := fn(ctx, tx)
	if err != nil {
		return err
	}
	if err = u.capturer.Capture(ctx, tx, events...); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("unit of work: commit: %w", err)
	}
	return nil
}
