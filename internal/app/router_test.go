package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meridian-fsm/meridian/internal/observability"
)

func TestRouterServesHealthz(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestRouterServesMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{Config: &Config{}, Metrics: metrics})

	// A request through the router first, so the exposition has data.
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected healthz status: %d", rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	router.ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if metricsRR.Code != http.StatusOK {
		t.Fatalf("unexpected metrics status: %d", metricsRR.Code)
	}
	if !strings.Contains(metricsRR.Body.String(), "meridian_http_requests_total") {
		t.Fatalf("expected request metrics in exposition, got: %s", metricsRR.Body.String())
	}
}
