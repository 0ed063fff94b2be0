// Package metrics instruments the research pipeline with Prometheus
// collectors and feeds the live performance stream consumed by dashboards.
package metrics

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query outcomes recorded on the queries_total counter.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
)

// Metrics holds the service collectors. Atomic shadows back the Snapshot
// path, which needs readable values without gathering the registry.
type Metrics struct {
	queriesTotal      *prometheus.CounterVec
	synthesisDuration prometheus.Histogram
	activeStreams     prometheus.Gauge
	chatTotal         prometheus.Counter

	started     time.Time
	served      atomic.Int64
	chats       atomic.Int64
	streams     atomic.Int64
	queryMillis atomic.Int64
}

// New registers the collectors with reg. A nil reg uses the default
// Prometheus registerer; tests pass prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chimera",
			Subsystem: "research",
			Name:      "queries_total",
			Help:      "Research queries processed, by persona and outcome",
		}, []string{"persona", "outcome"}),
		synthesisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chimera",
			Subsystem: "research",
			Name:      "synthesis_duration_seconds",
			Help:      "End-to-end query synthesis duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "chimera",
			Subsystem: "research",
			Name:      "active_streams",
			Help:      "Currently open query event streams",
		}),
		chatTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chimera",
			Subsystem: "research",
			Name:      "chat_messages_total",
			Help:      "Chat messages answered",
		}),
		started: time.Now(),
	}
}

// RecordQuery records one finished query with its outcome and duration.
func (m *Metrics) RecordQuery(persona, outcome string, d time.Duration) {
	m.queriesTotal.WithLabelValues(persona, outcome).Inc()
	m.synthesisDuration.Observe(d.Seconds())
	m.served.Add(1)
	m.queryMillis.Add(d.Milliseconds())
}

// RecordChat records one answered chat message.
func (m *Metrics) RecordChat() {
	m.chatTotal.Inc()
	m.chats.Add(1)
}

// StreamOpened and StreamClosed bracket the lifetime of one event stream.
func (m *Metrics) StreamOpened() {
	m.activeStreams.Inc()
	m.streams.Add(1)
}

func (m *Metrics) StreamClosed() {
	m.activeStreams.Dec()
	m.streams.Add(-1)
}

// Snapshot is one frame of the live performance stream.
type Snapshot struct {
	UptimeSeconds  float64 `json:"uptime_seconds"`
	Goroutines     int     `json:"goroutines"`
	HeapAllocMB    float64 `json:"heap_alloc_mb"`
	QueriesServed  int64   `json:"queries_served"`
	ChatMessages   int64   `json:"chat_messages"`
	ActiveStreams  int64   `json:"active_streams"`
	AvgQueryTimeMS int64   `json:"query_time_ms"`
}

// Snapshot reads the current service vitals.
func (m *Metrics) Snapshot() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	served := m.served.Load()
	var avg int64
	if served > 0 {
		avg = m.queryMillis.Load() / served
	}
	return Snapshot{
		UptimeSeconds:  time.Since(m.started).Seconds(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocMB:    float64(ms.HeapAlloc) / (1 << 20),
		QueriesServed:  served,
		ChatMessages:   m.chats.Load(),
		ActiveStreams:  m.streams.Load(),
		AvgQueryTimeMS: avg,
	}
}
