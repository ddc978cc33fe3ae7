package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	sharedauth "cv-processing-backend/internal/shared/auth"
	"cv-processing-backend/internal/shared/server/respond"
)

const maxNameLength = 128

// TokenHandler issues bearer tokens accepted by the Auth middleware.
type TokenHandler struct {
	ttl time.Duration
}

// NewTokenHandler builds a TokenHandler. A non-positive ttl uses sharedauth.DefaultTTL.
func NewTokenHandler(ttl time.Duration) *TokenHandler {
	if ttl <= 0 {
		ttl = sharedauth.DefaultTTL
	}
	return &TokenHandler{ttl: ttl}
}

// RegisterRoutes attaches the token route. The group must not require auth.
func (h *TokenHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.issue)
}

type tokenRequest struct {
	Name string `json:"name"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Message     string `json:"message"`
}

func (h *TokenHandler) issue(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		respond.Error(c, http.StatusBadRequest, "validation_error", "name is required", nil)
		return
	case len(name) > maxNameLength:
		respond.Error(c, http.StatusBadRequest, "validation_error", "name is too long", nil)
		return
	case strings.HasPrefix(strings.ToLower(name), "guest:"):
		// Guest identities come from X-Guest-Id only.
		respond.Error(c, http.StatusBadRequest, "validation_error", "name must not start with guest:", nil)
		return
	}

	issued := time.Now().UTC()
	token, err := sharedauth.SignJWT(sharedauth.Claims{
		Sub:  name,
		Name: name,
		Role: "user",
		Iat:  issued.Unix(),
		Exp:  issued.Add(h.ttl).Unix(),
	})
	if errors.Is(err, sharedauth.ErrMissingSecret) {
		respond.Error(c, http.StatusServiceUnavailable, "configuration_error", "token signing is not configured", nil)
		return
	}
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to issue token", nil)
		return
	}
	respond.OK(c, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.ttl / time.Second),
		Message:     "Token issued successfully",
	})
}
