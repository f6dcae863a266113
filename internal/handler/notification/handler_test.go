package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/erp-admin/internal/auth"
	"github.com/jwalitptl/erp-admin/internal/middleware"
	"github.com/jwalitptl/erp-admin/internal/model"
	apperrors "github.com/jwalitptl/erp-admin/pkg/errors"
)

const secret = "handler-test-secret-0123456789"

type fakeService struct {
	listUser  string
	listLimit int
	items     []*model.AppNotification
	seen      map[uuid.UUID]string
	markErr   error
}

func (f *fakeService) ListForUser(_ context.Context, userID string, limit int) ([]*model.AppNotification, error) {
	f.listUser, f.listLimit = userID, limit
	return f.items, nil
}

func (f *fakeService) MarkSeen(_ context.Context, id uuid.UUID, userID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.seen[id] = userID
	return nil
}

func (f *fakeService) MarkAllSeen(_ context.Context, userID string) (int64, error) {
	return 3, nil
}

func newRouter(t *testing.T, svc Service) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	v := auth.NewValidator(secret)
	token, err := v.Issue("u1", nil, time.Hour)
	require.NoError(t, err)

	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(middleware.NewAuthMiddleware(v).Authenticate())
	NewHandler(svc).RegisterRoutes(api)
	return r, token
}

func do(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListUsesCallerAndLimit(t *testing.T) {
	svc := &fakeService{items: []*model.AppNotification{{ID: uuid.New(), Title: "hi", SenderID: "s"}}}
	r, token := newRouter(t, svc)

	w := do(r, http.MethodGet, "/api/v1/notifications?limit=5", token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", svc.listUser)
	assert.Equal(t, 5, svc.listLimit)
	assert.Contains(t, w.Body.String(), `"title":"hi"`)
}

func TestListRejectsBadLimit(t *testing.T) {
	r, token := newRouter(t, &fakeService{})

	w := do(r, http.MethodGet, "/api/v1/notifications?limit=0", token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequiresAuthentication(t *testing.T) {
	r, _ := newRouter(t, &fakeService{})

	w := do(r, http.MethodGet, "/api/v1/notifications", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMarkSeen(t *testing.T) {
	svc := &fakeService{seen: map[uuid.UUID]string{}}
	r, token := newRouter(t, svc)
	id := uuid.New()

	w := do(r, http.MethodPut, "/api/v1/notifications/"+id.String()+"/seen", token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", svc.seen[id])
}

func TestMarkSeenErrors(t *testing.T) {
	svc := &fakeService{markErr: apperrors.NewNotFound("notification", nil)}
	r, token := newRouter(t, svc)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/api/v1/notifications/not-a-uuid/seen", token).Code)

	w := do(r, http.MethodPut, "/api/v1/notifications/"+uuid.NewString()+"/seen", token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"status":"error","message":"notification not found"}`, w.Body.String())
}

func TestMarkAllSeen(t *testing.T) {
	r, token := newRouter(t, &fakeService{})

	w := do(r, http.MethodPut, "/api/v1/notifications/seen", token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success","data":{"updated":3}}`, w.Body.String())
}
