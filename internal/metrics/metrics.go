package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/cache"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/monitoring"
)

// Metrics holds all Prometheus metrics for the relay. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Downstream hub metrics
	HubClients      *prometheus.GaugeVec
	EventsDelivered *prometheus.CounterVec
	Evictions       *prometheus.CounterVec
	BroadcastFanout *prometheus.HistogramVec
	ControlMessages *prometheus.CounterVec

	// Upstream metrics
	EventsReceived     *prometheus.CounterVec
	UpstreamState      *prometheus.GaugeVec
	UpstreamReconnects *prometheus.CounterVec
	CameraCache        *prometheus.CounterVec

	// Token issuance
	TokensIssued *prometheus.CounterVec
}

// New registers the relay metrics on mc
func New(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		HubClients:      mc.NewGauge("hub_clients", "Registered downstream clients", nil),
		EventsDelivered: mc.NewCounter("events_delivered_total", "Event frames enqueued to clients", []string{"type"}),
		Evictions:       mc.NewCounter("client_evictions_total", "Clients removed from the registry", []string{"reason"}),
		BroadcastFanout: mc.NewHistogram("broadcast_fanout", "Clients reached per broadcast", nil, []float64{0, 1, 2, 5, 10, 25, 50, 100}),
		ControlMessages: mc.NewCounter("control_messages_total", "Inbound client control messages", []string{"type"}),

		EventsReceived:     mc.NewCounter("events_received_total", "Events produced by the upstream connector", []string{"source", "type"}),
		UpstreamState:      mc.NewGauge("upstream_state", "1 for the current upstream connection state", []string{"state"}),
		UpstreamReconnects: mc.NewCounter("upstream_connect_attempts_total", "Upstream connect attempts", []string{"outcome"}),
		CameraCache:        mc.NewCounter("camera_cache_operations_total", "Camera list cache lookups and stores", []string{"operation"}),

		TokensIssued: mc.NewCounter("tokens_issued_total", "Client tokens issued", []string{"outcome"}),
	}
}

func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.HubClients.WithLabelValues().Set(float64(n))
}

func (m *Metrics) Delivered(eventType string, n int) {
	if m == nil {
		return
	}
	if n > 0 {
		m.EventsDelivered.WithLabelValues(eventType).Add(float64(n))
	}
	m.BroadcastFanout.WithLabelValues().Observe(float64(n))
}

func (m *Metrics) Evicted(reason string) {
	if m == nil {
		return
	}
	m.Evictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) Control(msgType string) {
	if m == nil {
		return
	}
	m.ControlMessages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Received(source, eventType string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(source, eventType).Inc()
}

// SetUpstreamState flips the state gauge so exactly one of states reads 1
func (m *Metrics) SetUpstreamState(current string, states []string) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.UpstreamState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) ConnectAttempt(ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.UpstreamReconnects.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TokenIssued(ok bool) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if ok {
		outcome = "issued"
	}
	m.TokensIssued.WithLabelValues(outcome).Inc()
}

// CacheHooks counts camera cache hits, misses, stale reads, stores and load
// errors. A nil *Metrics yields hooks that do nothing.
func (m *Metrics) CacheHooks() cache.MetricsHooks {
	if m == nil {
		return cache.MetricsHooks{}
	}
	count := func(op string) func(map[string]string) {
		return func(map[string]string) { m.CameraCache.WithLabelValues(op).Inc() }
	}
	return cache.MetricsHooks{
		OnHit:   count("hit"),
		OnMiss:  count("miss"),
		OnStale: count("stale"),
		OnStore: count("store"),
		OnError: count("error"),
	}
}
