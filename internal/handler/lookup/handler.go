package lookup

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/erp-admin/internal/handler"
	"github.com/jwalitptl/erp-admin/internal/middleware"
	"github.com/jwalitptl/erp-admin/internal/model"
)

type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Lookup, error)
	ListDetails(ctx context.Context, lookupID uuid.UUID) ([]*model.LookupDetail, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status bool, by string) (*model.Lookup, error)
}

type UpdateStatusRequest struct {
	Status *bool `json:"status" binding:"required"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	lookups := r.Group("/lookups")
	{
		lookups.GET("/:id", h.Get)
		lookups.GET("/:id/details", h.ListDetails)
		lookups.PUT("/:id/status", h.UpdateStatus)
	}
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	l, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(l))
}

func (h *Handler) ListDetails(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	details, err := h.service.ListDetails(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(details))
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("status is required"))
		return
	}

	l, err := h.service.UpdateStatus(c.Request.Context(), id, *req.Status, middleware.UserID(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(l))
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid lookup ID"))
		return uuid.Nil, false
	}
	return id, true
}
