package outbox

import (
	"context"
	"time"

	"github.com/jwalitptl/erp-admin/internal/repository"
	apperrors "github.com/jwalitptl/erp-admin/pkg/errors"
	"github.com/jwalitptl/erp-admin/pkg/logger"
)

// Cleaner removes processed messages past their retention.
type Cleaner struct {
	repo      repository.OutboxRepository
	retention time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

func NewCleaner(repo repository.OutboxRepository, retention time.Duration, logger *logger.Logger) *Cleaner {
	return &Cleaner{
		repo:      repo,
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (c *Cleaner) Cleanup(ctx context.Context) error {
	deleted, err := c.repo.DeleteProcessedBefore(ctx, c.now().Add(-c.retention))
	if err != nil {
		return apperrors.NewInfrastructure("delete processed outbox messages", err)
	}
	if deleted > 0 {
		c.logger.Info("Deleted processed outbox messages", "count", deleted)
	}
	return nil
}
