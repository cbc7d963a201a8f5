package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRouter(t *testing.T) (*gin.Engine, *MetricsCollector) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(reg, reg, "relay-test", "v1", "abc")

	r := gin.New()
	r.Use(mc.MetricsMiddleware())
	r.GET("/api/cameras", func(c *gin.Context) { c.String(http.StatusOK, "[]") })
	r.GET("/ws", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	return r, mc
}

func TestMetricsMiddlewareLabelsRoutes(t *testing.T) {
	r, mc := newTestRouter(t)

	for _, path := range []string{"/api/cameras", "/wp-login.php", "/.env"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(mc.requests.WithLabelValues("GET", "/api/cameras", "200")); got != 1 {
		t.Fatalf("expected one /api/cameras request, got %v", got)
	}
	if got := testutil.ToFloat64(mc.requests.WithLabelValues("GET", unmatchedRoute, "404")); got != 2 {
		t.Fatalf("expected unmatched paths folded into one series, got %v", got)
	}
}

func TestMetricsMiddlewareSeparatesUpgrades(t *testing.T) {
	r, mc := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(mc.upgrades.WithLabelValues("/ws", "400")); got != 1 {
		t.Fatalf("expected one upgrade attempt, got %v", got)
	}
	if got := testutil.CollectAndCount(mc.requests); got != 0 {
		t.Fatalf("expected upgrades kept out of request counts, got %d series", got)
	}
	if got := testutil.ToFloat64(mc.inFlight); got != 0 {
		t.Fatalf("expected no in-flight requests, got %v", got)
	}
}

func TestBuildInfo(t *testing.T) {
	_, mc := newTestRouter(t)
	if got := testutil.ToFloat64(mc.buildInfo.WithLabelValues("v1", "abc")); got != 1 {
		t.Fatalf("expected build info gauge of 1, got %v", got)
	}
}
