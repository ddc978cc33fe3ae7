package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cv-processing-backend/internal/shared/server/respond"
)

// WebhookAuth admits requests whose bearer token equals secret.
func WebhookAuth(secret string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(secret))
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "Webhook authentication token not provided", nil)
			return
		}
		if len(expected) == 0 {
			respond.Error(c, http.StatusInternalServerError, "configuration_error", "Webhook secret is not configured on the server", nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "Invalid webhook authentication token", nil)
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || scheme != "Bearer" {
		return ""
	}
	return strings.TrimSpace(token)
}
