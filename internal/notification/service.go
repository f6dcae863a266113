package notification

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/internal/repository"
	apperrors "github.com/jwalitptl/erp-admin/pkg/errors"
	"github.com/jwalitptl/erp-admin/pkg/event"
	"github.com/jwalitptl/erp-admin/pkg/logger"
)

const defaultListLimit = 50

// Service stores notifications and records their acknowledgment. It never
// touches delivery state; that belongs to the Dispatcher.
type Service struct {
	repo     repository.NotificationRepository
	db       sqlx.ExtContext
	validate *validator.Validate
	logger   *logger.Logger
}

func NewService(repo repository.NotificationRepository, db sqlx.ExtContext, logger *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		db:       db,
		validate: validator.New(),
		logger:   logger,
	}
}

// Create validates n and inserts it as pending. When q is nil the insert runs
// on the service's own connection.
func (s *Service) Create(ctx context.Context, q sqlx.ExtContext, n *model.AppNotification) error {
	if n == nil {
		return apperrors.NewBadRequest("notification is required", nil)
	}
	if err := s.validate.Struct(n); err != nil {
		return apperrors.NewBadRequest("invalid notification", err)
	}
	n.IsSeen = false
	n.IsProcessed = false
	n.RetryCount = 0
	n.Error = nil
	n.LastModified = nil
	n.LastModifiedBy = nil

	if q == nil {
		q = s.db
	}
	if err := s.repo.Insert(ctx, q, n); err != nil {
		return err
	}
	s.logger.Debug("notification created", "notification_id", n.ID.String(), "target", string(n.Target().Kind))
	return nil
}

// MarkSeen acknowledges one notification on behalf of its receiver.
func (s *Service) MarkSeen(ctx context.Context, id uuid.UUID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.NewBadRequest("user id is required", nil)
	}
	ok, err := s.repo.MarkSeen(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewNotFound("notification", nil)
	}
	return nil
}

// MarkAllSeen acknowledges every notification addressed to userID.
func (s *Service) MarkAllSeen(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, apperrors.NewBadRequest("user id is required", nil)
	}
	return s.repo.MarkAllSeen(ctx, userID)
}

func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]*model.AppNotification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.repo.ListByReceiver(ctx, userID, limit)
}

// RegisterHandlers subscribes the service to events that request a
// notification.
func RegisterHandlers(bus *event.Bus, s *Service) {
	event.Handle(bus, func(ctx context.Context, e model.NotificationCreated) error {
		return s.Create(ctx, nil, &model.AppNotification{
			Title:       e.Title,
			Description: e.Description,
			URL:         e.URL,
			SenderID:    e.SenderID,
			ReceiverID:  e.ReceiverID,
			Group:       e.Group,
			CreatedBy:   &e.SenderID,
		})
	})
}
