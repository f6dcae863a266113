// Package lookup manages setup lookups. Status changes raise LookupUpdated
// through the outbox; the handler for it cascades the status to details and
// raises NotificationCreated for the user who made the change.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/erp-admin/internal/cache"
	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/internal/outbox"
	"github.com/jwalitptl/erp-admin/internal/repository"
	apperrors "github.com/jwalitptl/erp-admin/pkg/errors"
	"github.com/jwalitptl/erp-admin/pkg/event"
	"github.com/jwalitptl/erp-admin/pkg/logger"
)

type UnitOfWork interface {
	Execute(ctx context.Context, fn outbox.TxFunc) error
}

type Service struct {
	repo      repository.LookupRepository
	uow       UnitOfWork
	store     *cache.Store
	publisher event.Publisher
	logger    *logger.Logger
	now       func() time.Time
}

func NewService(repo repository.LookupRepository, uow UnitOfWork, store *cache.Store, publisher event.Publisher, logger *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		uow:       uow,
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a lookup, served from the cache when present.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Lookup, error) {
	key := cache.Key(cache.KeyLookup, id.String())
	if v, ok := s.store.Get(key); ok {
		cached := v.(model.Lookup)
		return &cached, nil
	}
	l, err := s.repo.Get(ctx, nil, id)
	if err != nil {
		return nil, notFound(err)
	}
	s.store.Set(key, *l)
	return l, nil
}

// ListDetails returns the details of a lookup, served from the cache when present.
func (s *Service) ListDetails(ctx context.Context, lookupID uuid.UUID) ([]*model.LookupDetail, error) {
	key := cache.Key(cache.KeyLookupDetail, lookupID.String())
	if v, ok := s.store.Get(key); ok {
		return v.([]*model.LookupDetail), nil
	}
	details, err := s.repo.ListDetails(ctx, lookupID)
	if err != nil {
		return nil, err
	}
	s.store.Set(key, details)
	return details, nil
}

// UpdateStatus changes a lookup's status. The row update and the
// LookupUpdated event are committed together; setting the current status
// again writes nothing.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status bool, by string) (*model.Lookup, error) {
	if strings.TrimSpace(by) == "" {
		return nil, apperrors.NewBadRequest("updated by is required", nil)
	}

	var updated *model.Lookup
	err := s.uow.Execute(ctx, func(ctx context.Context, tx *sqlx.Tx) ([]event.Event, error) {
		l, err := s.repo.Get(ctx, tx, id)
		if err != nil {
			return nil, notFound(err)
		}
		l.SetStatus(status, by, s.now())
		events := l.Pull()
		updated = l
		if len(events) == 0 {
			return nil, nil
		}
		if err := s.repo.UpdateStatus(ctx, tx, l); err != nil {
			return nil, notFound(err)
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.publisher.Publish(ctx, model.CacheInvalidated{Keys: []string{cache.KeyLookup}}); err != nil {
		s.logger.Warn(err, "lookup cache invalidation failed", "lookup_id", id.String())
	}
	return updated, nil
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("lookup", err)
	}
	return err
}

// Handler reacts to LookupUpdated.
type Handler struct {
	repo      repository.LookupRepository
	uow       UnitOfWork
	publisher event.Publisher
	logger    *logger.Logger
	now       func() time.Time
}

func NewHandler(repo repository.LookupRepository, uow UnitOfWork, publisher event.Publisher, logger *logger.Logger) *Handler {
	return &Handler{
		repo:      repo,
		uow:       uow,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandleLookupUpdated cascades the status to the lookup's details and
// captures a NotificationCreated for the user who changed it, in one
// transaction. Cached details are invalidated after commit when any detail
// changed.
func (h *Handler) HandleLookupUpdated(ctx context.Context, evt model.LookupUpdated) error {
	var changed int64
	err := h.uow.Execute(ctx, func(ctx context.Context, tx *sqlx.Tx) ([]event.Event, error) {
		n, err := h.repo.UpdateDetailsStatus(ctx, tx, evt.LookupID, evt.Status, evt.UpdatedBy, h.now())
		if err != nil {
			return nil, fmt.Errorf("update lookup details: %w", err)
		}
		changed = n
		return []event.Event{updatedNotification(evt)}, nil
	})
	if err != nil {
		h.logger.Error(err, "lookup updated handler failed", "lookup_id", evt.LookupID.String())
		return err
	}

	if changed > 0 {
		if err := h.publisher.Publish(ctx, model.CacheInvalidated{Keys: []string{cache.KeyLookupDetail}}); err != nil {
			h.logger.Warn(err, "lookup detail cache invalidation failed", "lookup_id", evt.LookupID.String())
		}
	}
	h.logger.Info("lookup updated processed", "lookup_id", evt.LookupID.String(), "details", changed)
	return nil
}

func updatedNotification(evt model.LookupUpdated) model.NotificationCreated {
	description := fmt.Sprintf("Lookup '%s' has been updated", evt.Name)
	url := "/lookups/" + evt.LookupID.String()
	by := evt.UpdatedBy
	return model.NotificationCreated{
		Title:       "Lookup Updated",
		Description: &description,
		URL:         &url,
		SenderID:    by,
		ReceiverID:  &by,
	}
}

func RegisterHandlers(bus *event.Bus, h *Handler) {
	event.Handle(bus, h.HandleLookupUpdated)
}
