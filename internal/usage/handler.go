package usage

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cv-processing-backend/internal/quota"
	"cv-processing-backend/internal/shared/server/middleware"
	"cv-processing-backend/internal/shared/server/respond"
)

// Handler exposes usage endpoints.
type Handler struct {
	Reporter *Reporter
}

// NewHandler constructs a Handler.
func NewHandler(r *Reporter) *Handler {
	return &Handler{Reporter: r}
}

// RegisterRoutes attaches usage routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/usage", h.getUsage)
}

func (h *Handler) getUsage(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	u, err := h.Reporter.Get(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, quota.ErrUserRequired):
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "user required", nil)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			respond.Error(c, http.StatusRequestTimeout, "timeout", "request canceled", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch usage", nil)
		}
		return
	}
	respond.OK(c, u)
}
