package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHealthChecker_Basic(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	status := hc.CheckHealth()
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", status.Status)
	}
	if status.Checks["ok"].Latency == "" {
		t.Fatalf("expected latency to be filled in")
	}
}

func TestHealthChecker_Aggregation(t *testing.T) {
	tests := []struct {
		name   string
		checks []string
		want   string
	}{
		{"none", nil, StatusHealthy},
		{"degraded wins over healthy", []string{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []string{StatusDegraded, StatusUnhealthy}, StatusUnhealthy},
		{"unknown is unhealthy", []string{"weird"}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker("svc", "v1")
			for i, s := range tt.checks {
				s := s
				hc.AddCheck(string(rune('a'+i)), func() CheckResult { return CheckResult{Status: s} })
			}
			if got := hc.CheckHealth().Status; got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestHealthChecker_HandlerIncludesDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("upstream", func() CheckResult { return CheckResult{Status: StatusDegraded} })
	hc.AddDetail("clients", func() interface{} { return 3 })

	r := gin.New()
	r.GET("/health", hc.Handler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for degraded, got %d", w.Code)
	}
	var body HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != StatusDegraded || body.Version != "v1" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Details["clients"] != float64(3) {
		t.Fatalf("expected clients detail, got %v", body.Details["clients"])
	}

	hc.AddCheck("config", func() CheckResult { return CheckResult{Status: StatusUnhealthy} })
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for unhealthy, got %d", w.Code)
	}
}

func TestConfigurationHealthCheck(t *testing.T) {
	res := ConfigurationHealthCheck(map[string]string{"JWT_SECRET": "x", "PROTECT_HOST": ""})()
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", res.Status)
	}
	if !strings.Contains(res.Message, "PROTECT_HOST") {
		t.Fatalf("expected missing key in message, got %q", res.Message)
	}
	if ok := ConfigurationHealthCheck(map[string]string{"A": "1"})(); ok.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", ok.Status)
	}
}

func TestMetricsCollector_CustomMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(reg, reg, "my-svc", "v1", "abc")

	c := mc.NewCounter("things_total", "things", []string{"kind"})
	c.WithLabelValues("a").Inc()
	if got := testutil.ToFloat64(c.WithLabelValues("a")); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mc.MetricsMiddleware())
	r.GET("/metrics", mc.Handler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "my_svc_things_total") {
		t.Fatalf("expected sanitized metric name in exposition")
	}
	if !strings.Contains(w.Body.String(), `my_svc_service_info{commit="abc",version="v1"} 1`) {
		t.Fatalf("expected service info in exposition")
	}
}
