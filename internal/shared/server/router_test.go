package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"cv-processing-backend/internal/shared/config"
	"cv-processing-backend/internal/shared/metrics"
)

type registrarFunc func(rg *gin.RouterGroup)

func (f registrarFunc) RegisterRoutes(rg *gin.RouterGroup) { f(rg) }

func okRoute(method, path string) RouteRegistrar {
	return registrarFunc(func(rg *gin.RouterGroup) {
		rg.Handle(method, path, func(c *gin.Context) { c.Status(http.StatusOK) })
	})
}

func testRouter(t *testing.T, ready func(context.Context) error) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(RouterDeps{
		Config: config.Config{
			Env:                    "dev",
			WebhookSecret:          "hook",
			RateLimitUploadPerMin:  1,
			RateLimitDefaultPerMin: 100,
		},
		Metrics:  metrics.New(),
		Public:   []RouteRegistrar{okRoute(http.MethodPost, "/auth/token")},
		Upload:   okRoute(http.MethodPost, "/documents/upload"),
		API:      []RouteRegistrar{okRoute(http.MethodGet, "/usage")},
		Webhooks: []RouteRegistrar{okRoute(http.MethodPost, "/webhooks/processing/result")},
		Ready:    ready,
	})
}

func do(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	r := testRouter(t, nil)
	if resp := do(r, http.MethodGet, "/api/v1/health", nil); resp.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", resp.Code)
	}
	resp := do(r, http.MethodGet, "/api/v1/metrics", nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "# HELP") {
		t.Fatalf("metrics: unexpected response %d", resp.Code)
	}
	if resp.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestHealthReportsDependencyFailure(t *testing.T) {
	r := testRouter(t, func(context.Context) error { return errors.New("db down") })
	if resp := do(r, http.MethodGet, "/api/v1/health", nil); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestWebhookUsesSharedSecretNotUserAuth(t *testing.T) {
	r := testRouter(t, nil)
	if resp := do(r, http.MethodPost, "/api/v1/webhooks/processing/result", map[string]string{"X-Guest-Id": "alice"}); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", resp.Code)
	}
	if resp := do(r, http.MethodPost, "/api/v1/webhooks/processing/result", map[string]string{"Authorization": "Bearer hook"}); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with secret, got %d", resp.Code)
	}
}

func TestUploadIsRateLimitedSeparately(t *testing.T) {
	r := testRouter(t, nil)
	guest := map[string]string{"X-Guest-Id": "alice"}

	if resp := do(r, http.MethodPost, "/api/v1/documents/upload", guest); resp.Code != http.StatusOK {
		t.Fatalf("first upload: expected 200, got %d", resp.Code)
	}
	if resp := do(r, http.MethodPost, "/api/v1/documents/upload", guest); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("second upload: expected 429, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, "/api/v1/usage", guest); resp.Code != http.StatusOK {
		t.Fatalf("usage should use the default bucket, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, "/api/v1/usage", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", resp.Code)
	}
}

func TestAddr(t *testing.T) {
	for in, want := range map[string]string{"": ":8080", "9000": ":9000", ":7000": ":7000"} {
		if got := Addr(in); got != want {
			t.Fatalf("Addr(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPublicRoutesSkipUserAuth(t *testing.T) {
	r := testRouter(t, nil)
	if resp := do(r, http.MethodPost, "/api/v1/auth/token", nil); resp.Code != http.StatusOK {
		t.Fatalf("token route: expected 200 without identity, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, "/api/v1/usage", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("usage: expected 401 without identity, got %d", resp.Code)
	}
}
