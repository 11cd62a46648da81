// Package metrics holds the gateway's Prometheus collectors. All methods
// are nil-receiver safe so components can run unmetered in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ordersTotal    *prometheus.CounterVec
	orderApply     prometheus.Histogram
	activeSessions prometheus.Gauge
	sessionsTotal  prometheus.Counter
	cacheReads     *prometheus.CounterVec
	framesIn       prometheus.Counter
	framesOut      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordergate_orders_total",
			Help: "Orders processed, by side and outcome.",
		}, []string{"side", "status"}),
		orderApply: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ordergate_order_apply_seconds",
			Help:    "Latency of one order's transactional apply.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ordergate_active_sessions",
			Help: "Currently open client sessions.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordergate_sessions_total",
			Help: "Sessions accepted since start.",
		}),
		cacheReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordergate_cache_reads_total",
			Help: "Cache lookups, by entity and hit/miss.",
		}, []string{"entity", "result"}),
		framesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordergate_ws_frames_in_total",
			Help: "WebSocket frames decoded from clients.",
		}),
		framesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordergate_ws_frames_out_total",
			Help: "WebSocket frames written to clients.",
		}),
	}
	reg.MustRegister(m.ordersTotal, m.orderApply, m.activeSessions,
		m.sessionsTotal, m.cacheReads, m.framesIn, m.framesOut)
	return m
}

func (m *Metrics) OrderDone(side, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.ordersTotal.WithLabelValues(side, status).Inc()
	m.orderApply.Observe(took.Seconds())
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) CacheRead(entity string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheReads.WithLabelValues(entity, result).Inc()
}

func (m *Metrics) FrameIn() {
	if m == nil {
		return
	}
	m.framesIn.Inc()
}

func (m *Metrics) FrameOut() {
	if m == nil {
		return
	}
	m.framesOut.Inc()
}
