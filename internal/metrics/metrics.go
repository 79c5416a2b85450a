// Package metrics exposes engine and executor measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/exitwatch/internal/domain"
	"github.com/alanyoungcy/exitwatch/internal/engine"
	"github.com/alanyoungcy/exitwatch/internal/executor"
)

const namespace = "exitwatch"

// Metrics owns a private registry so tests and multiple engines in one
// process do not collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	passDuration prometheus.Histogram
	evaluated    prometheus.Gauge
	decisions    *prometheus.CounterVec
	faults       prometheus.Counter
	submissions  *prometheus.CounterVec
	events       *prometheus.CounterVec
	queueDepth   *prometheus.GaugeVec
	registry     *prometheus.GaugeVec
	running      prometheus.Gauge
	bar          prometheus.Gauge
}

var (
	_ engine.Recorder   = (*Metrics)(nil)
	_ executor.Recorder = (*Metrics)(nil)
)

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		passDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "pass_duration_seconds",
			Help:      "Time to evaluate every eligible position once.",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		evaluated: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "positions_evaluated",
			Help:      "Positions evaluated in the most recent pass.",
		}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exit_decisions_total",
			Help:      "Exit decisions by action.",
		}, []string{"action"}),
		faults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_faults_total",
			Help:      "Position evaluations that panicked and were skipped.",
		}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_submissions_total",
			Help:      "Order submissions by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Engine events emitted by type.",
		}, []string{"type"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items waiting in the hand-off queues.",
		}, []string{"queue"}),
		registry: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_size",
			Help:      "Registry contents by kind.",
		}, []string{"kind"}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "running",
			Help:      "1 while the scheduler is running.",
		}),
		bar: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bar",
			Help:      "Current bar counter.",
		}),
	}
}

// PassCompleted implements engine.Recorder.
func (m *Metrics) PassCompleted(d time.Duration, evaluated int) {
	m.passDuration.Observe(d.Seconds())
	m.evaluated.Set(float64(evaluated))
}

// Decision implements engine.Recorder.
func (m *Metrics) Decision(action domain.ExitAction) {
	m.decisions.WithLabelValues(action.String()).Inc()
}

// Fault implements engine.Recorder.
func (m *Metrics) Fault() {
	m.faults.Inc()
}

// Submission implements executor.Recorder.
func (m *Metrics) Submission(purpose domain.OrderPurpose, outcome string) {
	m.submissions.WithLabelValues(string(purpose), outcome).Inc()
}

// Event counts an emitted engine event.
func (m *Metrics) Event(t domain.EventType) {
	m.events.WithLabelValues(string(t)).Inc()
}

// ObserveStatus copies an engine status snapshot into the gauges.
func (m *Metrics) ObserveStatus(s engine.Status) {
	m.queueDepth.WithLabelValues("deletions").Set(float64(s.PendingDeletions))
	m.queueDepth.WithLabelValues("promotions").Set(float64(s.PendingPromotions))
	m.registry.WithLabelValues("entries").Set(float64(s.Registry.Entries))
	m.registry.WithLabelValues("eligible").Set(float64(s.Registry.Eligible))
	m.registry.WithLabelValues("intents").Set(float64(s.Registry.Intents))
	m.registry.WithLabelValues("records").Set(float64(s.Registry.Records))
	m.bar.Set(float64(s.Bar))
	if s.State == engine.StateRunning.String() {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
