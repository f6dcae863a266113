package notification

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/erp-admin/internal/handler"
	"github.com/jwalitptl/erp-admin/internal/middleware"
	"github.com/jwalitptl/erp-admin/internal/model"
)

type Service interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]*model.AppNotification, error)
	MarkSeen(ctx context.Context, id uuid.UUID, userID string) error
	MarkAllSeen(ctx context.Context, userID string) (int64, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes expects the group to be behind AuthMiddleware.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", h.List)
		notifications.PUT("/seen", h.MarkAllSeen)
		notifications.PUT("/:id/seen", h.MarkSeen)
	}
}

func (h *Handler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	items, err := h.service.ListForUser(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(items))
}

func (h *Handler) MarkSeen(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid notification ID"))
		return
	}
	if err := h.service.MarkSeen(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"id": id}))
}

func (h *Handler) MarkAllSeen(c *gin.Context) {
	n, err := h.service.MarkAllSeen(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"updated": n}))
}
