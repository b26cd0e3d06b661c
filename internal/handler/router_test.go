package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/time/rate"

	"github.com/hitoshi/crmlink/internal/middleware"
)

func TestNewRouter_Health(t *testing.T) {
	router := newTestRouter(&mockIntegrationService{}, &mockItemFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_HealthCheckerFailure(t *testing.T) {
	router := NewRouter(&RouterDeps{
		IntegrationService: &mockIntegrationService{},
		ItemFetcher:        &mockItemFetcher{},
		HealthChecker: func(ctx context.Context) error {
			return errors.New("redis: connection refused")
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestNewRouter_MetricsRoute(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})

	router := NewRouter(&RouterDeps{
		IntegrationService: &mockIntegrationService{},
		ItemFetcher:        &mockItemFetcher{},
		MetricsHandler:     metricsHandler,
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_MetricsRouteDisabled(t *testing.T) {
	router := newTestRouter(&mockIntegrationService{}, &mockItemFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("GET /metrics status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestNewRouter_AppliesMiddlewareChain(t *testing.T) {
	router := newTestRouter(&mockIntegrationService{}, &mockItemFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("X-Request-ID header should be set")
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want http://localhost:3000", got)
	}
}

func TestNewRouter_CallbackRejectsPost(t *testing.T) {
	router := newTestRouter(&mockIntegrationService{}, &mockItemFetcher{})

	req := httptest.NewRequest(http.MethodPost, "/integrations/hubspot/oauth2callback", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST oauth2callback status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestNewRouter_RateLimitOnIntegrationRoutes(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  rate.Limit(0.001),
		Burst: 1,
	}, middleware.RemoteAddrKey)
	defer limiter.Stop()

	router := NewRouter(&RouterDeps{
		IntegrationService: &mockIntegrationService{
			buildAuthorizationURLFn: func(userID, orgID string) string { return "https://example.com" },
		},
		ItemFetcher: &mockItemFetcher{},
		RateLimiter: limiter,
	})

	values := url.Values{"user_id": {"u1"}, "org_id": {"o1"}}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, postForm("/integrations/hubspot/authorize", values))
	if w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, postForm("/integrations/hubspot/authorize", values))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// ヘルスチェックはレート制限の対象外
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
}
