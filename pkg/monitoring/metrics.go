package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute labels requests gin could not route, keeping scanner noise
// from minting one series per requested path
const unmatchedRoute = "unmatched"

// MetricsCollector owns the HTTP metrics of a service and builds its
// domain metrics under a common name prefix
type MetricsCollector struct {
	prefix     string
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	upgrades  *prometheus.CounterVec
	buildInfo *prometheus.GaugeVec
}

// NewMetricsCollector creates a collector on the default Prometheus registry
func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer, serviceName, version, commit)
}

// NewMetricsCollectorWithRegistry creates a collector bound to reg. Metric
// names are prefixed with serviceName, hyphens replaced by underscores.
func NewMetricsCollectorWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer, serviceName, version, commit string) *MetricsCollector {
	mc := &MetricsCollector{
		prefix:     strings.ReplaceAll(serviceName, "-", "_") + "_",
		registerer: reg,
		gatherer:   gatherer,
	}

	mc.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: mc.prefix + "http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	mc.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    mc.prefix + "http_request_duration_seconds",
		Help:    "HTTP request latency, websocket upgrades excluded",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"method", "route"})

	mc.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: mc.prefix + "http_requests_in_flight",
		Help: "Plain HTTP requests being served",
	})

	mc.upgrades = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: mc.prefix + "websocket_upgrades_total",
		Help: "Websocket upgrade requests by route and final status",
	}, []string{"route", "status"})

	mc.buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: mc.prefix + "build_info",
		Help: "Build version and commit, always 1",
	}, []string{"version", "commit"})

	reg.MustRegister(mc.requests, mc.latency, mc.inFlight, mc.upgrades, mc.buildInfo)
	mc.buildInfo.WithLabelValues(version, commit).Set(1)
	return mc
}

func isUpgrade(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

// MetricsMiddleware records request counts and latency per route. Websocket
// upgrades live as long as the connection, so they are counted on their own
// and kept out of the latency and in-flight series.
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}

		if isUpgrade(c) {
			c.Next()
			mc.upgrades.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
			return
		}

		start := time.Now()
		mc.inFlight.Inc()
		defer mc.inFlight.Dec()

		c.Next()

		mc.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		mc.latency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus exposition for the collector's gatherer
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(mc.gatherer, promhttp.HandlerOpts{})
	return gin.WrapH(handler)
}

// NewCounter registers a prefixed counter vector
func (mc *MetricsCollector) NewCounter(name, help string, labels []string) *prometheus.CounterVec {
	v := prometheus.NewCounterVec(prometheus.CounterOpts{Name: mc.prefix + name, Help: help}, labels)
	mc.registerer.MustRegister(v)
	return v
}

// NewGauge registers a prefixed gauge vector
func (mc *MetricsCollector) NewGauge(name, help string, labels []string) *prometheus.GaugeVec {
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: mc.prefix + name, Help: help}, labels)
	mc.registerer.MustRegister(v)
	return v
}

// NewHistogram registers a prefixed histogram vector. nil buckets use the
// Prometheus defaults.
func (mc *MetricsCollector) NewHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: mc.prefix + name, Help: help, Buckets: buckets}, labels)
	mc.registerer.MustRegister(v)
	return v
}
