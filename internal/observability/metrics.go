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
	DetectorTicks     *prometheus.CounterVec
	NewEventsDetected prometheus.Counter
	PlanOutcomes      *prometheus.CounterVec
	AutomationRuns    *prometheus.CounterVec
	AutomationLatency prometheus.Histogram
	TaskTransitions   *prometheus.CounterVec
	PipelinesInFlight prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		DetectorTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_ticks_total",
			Help:      "Change detector ticks by outcome.",
		}, []string{"outcome"}),
		NewEventsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "new_events_detected_total",
			Help:      "Events reported as new by the change detector.",
		}),
		PlanOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_outcomes_total",
			Help:      "Planning stage results by outcome.",
		}, []string{"outcome"}),
		AutomationRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automation_runs_total",
			Help:      "Birthday automation runs by outcome.",
		}, []string{"outcome"}),
		AutomationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "automation_latency_seconds",
			Help:      "Wall-clock duration of birthday automation runs.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		TaskTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task status transitions by target status.",
		}, []string{"to"}),
		PipelinesInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipelines_in_flight",
			Help:      "Events currently being advanced by the orchestrator.",
		}),
	}
}

func (m *Metrics) ObserveTick(outcome string) {
	if m == nil {
		return
	}
	m.DetectorTicks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePlanOutcome(outcome string) {
	if m == nil {
		return
	}
	m.PlanOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAutomationRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AutomationRuns.WithLabelValues(outcome).Inc()
	m.AutomationLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveTaskTransition(to string) {
	if m == nil {
		return
	}
	m.TaskTransitions.WithLabelValues(to).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
