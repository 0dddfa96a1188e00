package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arena"

// Metrics records what the session and shell are doing. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PositionUpdates *prometheus.CounterVec // result: persisted|rolled_back
	ChangeEvents    *prometheus.CounterVec // type, outcome
	Transitions     *prometheus.CounterVec // phase entered
	PlayersOnline   prometheus.Gauge
	FramesRendered  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PositionUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_updates_total",
			Help:      "Local position updates by persistence result.",
		}, []string{"result"}),
		ChangeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_events_total",
			Help:      "Change feed events by type and reconcile outcome.",
		}, []string{"type", "outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state machine transitions by entered phase.",
		}, []string{"phase"}),
		PlayersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players_online",
			Help:      "Players in the local player map.",
		}),
		FramesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rendered_total",
			Help:      "Frames drawn by the renderer.",
		}),
	}
	m.registry.MustRegister(
		m.PositionUpdates,
		m.ChangeEvents,
		m.Transitions,
		m.PlayersOnline,
		m.FramesRendered,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Update(result string) {
	if m != nil {
		m.PositionUpdates.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Event(kind, outcome string) {
	if m != nil {
		m.ChangeEvents.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) Transition(phase string) {
	if m != nil {
		m.Transitions.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) Online(n int) {
	if m != nil {
		m.PlayersOnline.Set(float64(n))
	}
}

func (m *Metrics) Frame() {
	if m != nil {
		m.FramesRendered.Inc()
	}
}
