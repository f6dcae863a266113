package router

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/erp-admin/internal/middleware"
	"github.com/jwalitptl/erp-admin/pkg/logger"
)

// Handler is implemented by every route group.
type Handler interface {
	RegisterRoutes(gin.IRouter)
}

type Router struct {
	engine *gin.Engine
	auth   *middleware.AuthMiddleware

	// Public routes live at the root: health, metrics and the hub, which
	// authenticates its own upgrade requests.
	public []Handler
	// Protected routes live under /api/v1 behind bearer authentication.
	protected []Handler
}

type Config struct {
	Public    []Handler
	Protected []Handler
	// Middleware runs before the router's own middleware, for example
	// request metrics.
	Middleware []gin.HandlerFunc
}

func NewRouter(auth *middleware.AuthMiddleware, log *logger.Logger, config Config) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(config.Middleware...)
	engine.Use(
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recovery(log),
	)

	return &Router{
		engine:    engine,
		auth:      auth,
		public:    config.Public,
		protected: config.Protected,
	}
}

func (r *Router) Setup() {
	for _, h := range r.public {
		h.RegisterRoutes(r.engine)
	}

	api := r.engine.Group("/api/v1")
	api.Use(r.auth.Authenticate())
	for _, h := range r.protected {
		h.RegisterRoutes(api)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
