package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cv-processing-backend/internal/shared/config"
	"cv-processing-backend/internal/shared/metrics"
	"cv-processing-backend/internal/shared/server/middleware"
	"cv-processing-backend/internal/shared/server/respond"
)

// RouteRegistrar is implemented by every feature handler.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouterDeps carries everything the router mounts.
type RouterDeps struct {
	Config  config.Config
	Metrics *metrics.Registry

	// Public routes such as token issuance, rate limited per client IP.
	Public []RouteRegistrar

	// Authenticated routes, rate limited per caller.
	Upload RouteRegistrar
	API    []RouteRegistrar

	// Webhook routes, guarded by the shared secret instead of user auth.
	Webhooks []RouteRegistrar

	// Ready reports dependency health for /health. Nil means always ready.
	Ready func(ctx context.Context) error
}

const uploadRateGroup = "UPLOAD"

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
	)

	api := r.Group("/api/v1")
	api.GET("/health", healthHandler(deps.Ready))
	if deps.Metrics != nil {
		api.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	if len(deps.Public) > 0 {
		public := api.Group("", middleware.RateLimit(middleware.RateLimitConfig{
			Rules: map[string]middleware.RateLimitRule{
				"DEFAULT": middleware.PerMinute(cfg.RateLimitDefaultPerMin),
			},
		}))
		for _, h := range deps.Public {
			h.RegisterRoutes(public)
		}
	}

	hooks := api.Group("", middleware.WebhookAuth(cfg.WebhookSecret))
	for _, h := range deps.Webhooks {
		h.RegisterRoutes(hooks)
	}

	authed := api.Group("",
		middleware.Auth(cfg.Env),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules: map[string]middleware.RateLimitRule{
				uploadRateGroup: middleware.PerMinute(cfg.RateLimitUploadPerMin),
				"DEFAULT":       middleware.PerMinute(cfg.RateLimitDefaultPerMin),
			},
			GroupFor: func(c *gin.Context) string {
				if c.Request.Method == http.MethodPost && c.FullPath() == "/api/v1/documents/upload" {
					return uploadRateGroup
				}
				return ""
			},
		}),
	)
	if deps.Upload != nil {
		deps.Upload.RegisterRoutes(authed)
	}
	for _, h := range deps.API {
		h.RegisterRoutes(authed)
	}

	return r
}

func healthHandler(ready func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				respond.Error(c, http.StatusServiceUnavailable, "unavailable", "dependency check failed", nil)
				return
			}
		}
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
