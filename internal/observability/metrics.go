package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	WSWriteErrors    *prometheus.CounterVec
	Turns            *prometheus.CounterVec
	TurnLatency      prometheus.Histogram
	Confidence       prometheus.Histogram
	SignalsFired     *prometheus.CounterVec
	Profiles         prometheus.Gauge
	MemoryEntries    *prometheus.GaugeVec
	MemoryHealth     prometheus.Gauge
	EmotionalRatio   prometheus.Gauge
	MemoryEvictions  *prometheus.CounterVec
	PersistenceError *prometheus.CounterVec

	latency *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of open conversation sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket write failures by operation.",
		}, []string{"op"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed turns by identity outcome.",
		}, []string{"outcome"}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End to end turn processing latency in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		Confidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "identity_confidence",
			Help:      "Confidence of identity resolutions.",
			Buckets:   []float64{0.1, 0.2, 0.35, 0.5, 0.65, 0.8, 0.9, 0.95, 1},
		}),
		SignalsFired: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_signals_total",
			Help:      "Signal scores emitted by source.",
		}, []string{"source"}),
		Profiles: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "profiles",
			Help:      "Number of known user profiles.",
		}),
		MemoryEntries: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_entries",
			Help:      "Stored memories by type.",
		}, []string{"type"}),
		MemoryHealth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_health_score",
			Help:      "Memory health score from 0 to 100.",
		}),
		EmotionalRatio: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_emotional_ratio",
			Help:      "Share of memories that are emotional.",
		}),
		MemoryEvictions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_evictions_total",
			Help:      "Memories removed by the monitor, by reason.",
		}, []string{"reason"}),
		PersistenceError: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Snapshot load and save failures by operation.",
		}, []string{"op"}),
		latency: newLatencyWindow(256),
	}
}

// The helpers below accept a nil *Metrics so callers built without
// instrumentation need no guards.

func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.TurnLatency.Observe(float64(d.Microseconds()) / 1000)
}

// ObserveStage records one stage duration in the rolling latency window.
func (m *Metrics) ObserveStage(stage Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.observe(stage, float64(d.Microseconds())/1000)
}

// ObserveOutcome counts one identity outcome in the latency window.
func (m *Metrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.latency.outcome(outcome)
}

func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return newLatencyWindow(0).snapshot()
	}
	return m.latency.snapshot()
}

func (m *Metrics) ResetLatency() {
	if m == nil {
		return
	}
	m.latency.reset()
}

func (m *Metrics) SessionEvent(event string, active int) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
	m.ActiveSessions.Set(float64(active))
}

func (m *Metrics) WSMessage(direction, typ string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, typ).Inc()
}

func (m *Metrics) WSWriteError(op string) {
	if m == nil {
		return
	}
	m.WSWriteErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) MemoryStored(typ string) {
	if m == nil {
		return
	}
	m.MemoryEntries.WithLabelValues(typ).Inc()
}

func (m *Metrics) SetProfiles(n int) {
	if m == nil {
		return
	}
	m.Profiles.Set(float64(n))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
