package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/internal/repository"
)

const (
	lookupGetSQL = `
SELECT id, name, code, status, created, created_by, last_modified, last_modified_by
FROM lookups
WHERE id = $1
`

	lookupUpdateStatusSQL = `
UPDATE lookups
SET status = $2, last_modified = $3, last_modified_by = $4
WHERE id = $1
`

	lookupUpdateDetailsSQL = `
UPDATE lookup_details
SET status = $2, last_modified = $3, last_modified_by = $4
WHERE lookup_id = $1
`

	lookupListDetailsSQL = `
SELECT id, lookup_id, name, code, status
FROM lookup_details
WHERE lookup_id = $1
ORDER BY name
`
)

type lookupRepository struct {
	BaseRepository
}

func NewLookupRepository(base BaseRepository) repository.LookupRepository {
	return &lookupRepository{base}
}

func (r *lookupRepository) Get(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*model.Lookup, error) {
	if q == nil {
		q = r.db
	}
	var l model.Lookup
	if err := sqlx.GetContext(ctx, q, &l, lookupGetSQL, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("lookup store: get: %w", err)
	}
	return &l, nil
}

func (r *lookupRepository) UpdateStatus(ctx context.Context, q sqlx.ExecerContext, l *model.Lookup) error {
	if l == nil {
		return fmt.Errorf("lookup store: lookup cannot be nil")
	}
	if q == nil {
		q = r.db
	}
	res, err := q.ExecContext(ctx, lookupUpdateStatusSQL, l.ID, l.Status, l.LastModified, l.LastModifiedBy)
	if err != nil {
		return fmt.Errorf("lookup store: update status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *lookupRepository) UpdateDetailsStatus(ctx context.Context, q sqlx.ExecerContext, lookupID uuid.UUID, status bool, by string, now time.Time) (int64, error) {
	if q == nil {
		q = r.db
	}
	res, err := q.ExecContext(ctx, lookupUpdateDetailsSQL, lookupID, status, now, by)
	if err != nil {
		return 0, fmt.Errorf("lookup store: update details: %w", err)
	}
	return res.RowsAffected()
}

func (r *lookupRepository) ListDetails(ctx context.Context, lookupID uuid.UUID) ([]*model.LookupDetail, error) {
	var details []*model.LookupDetail
	if err := r.db.SelectContext(ctx, &details, lookupListDetailsSQL, lookupID); err != nil {
		return nil, fmt.Errorf("lookup store: list details: %w", err)
	}
	return details, nil
}
