package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the core counters emitted by the acquisition runner.
type Metrics struct {
	runs     *prometheus.CounterVec
	attempts prometheus.Counter
	failures *prometheus.CounterVec
	phases   *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snaptix_runs_total",
		Help: "Total runs by result.",
	}, []string{"result"})
	attempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "snaptix_attempts_total",
		Help: "Total workflow attempts across all runs.",
	})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snaptix_failures_total",
		Help: "Total classified failures by reason.",
	}, []string{"reason"})
	phases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snaptix_phase_transitions_total",
		Help: "Total phase transitions by destination phase.",
	}, []string{"phase"})

	runs = registerCounterVec(registerer, runs)
	attempts = registerCounter(registerer, attempts)
	failures = registerCounterVec(registerer, failures)
	phases = registerCounterVec(registerer, phases)

	return &Metrics{
		runs:     runs,
		attempts: attempts,
		failures: failures,
		phases:   phases,
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) IncRun(result string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
}

func (m *Metrics) IncAttempt() {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.Inc()
}

func (m *Metrics) IncFailure(reason string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncPhase(phase string) {
	if m == nil || m.phases == nil {
		return
	}
	m.phases.WithLabelValues(phase).Inc()
}

func registerCounterVec(registerer prometheus.Registerer, counter *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return counter
}

func registerCounter(registerer prometheus.Registerer, counter prometheus.Counter) prometheus.Counter {
	if err := registerer.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
	}
	return counter
}
