package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the control plane.
type Metrics struct {
	config MetricsConfig

	// Reconciliation metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Deploy metrics
	deploys        *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	breakerTransitions *prometheus.CounterVec
	breakerOpenShorts  *prometheus.CounterVec

	// Invocation metrics
	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec

	// Remote state store metrics
	storeRetries *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration. A
// disabled configuration returns a no-op instance.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_started_total",
				Help:      "Total number of reconciliation runs started",
			},
			[]string{"flow"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_completed_total",
				Help:      "Total number of reconciliation runs completed",
			},
			[]string{"flow", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_run_duration_seconds",
				Help:      "Duration of reconciliation runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"flow", "status"},
		),
		deploys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deploys_total",
				Help:      "Total number of resource deploy attempts",
			},
			[]string{"resource_type", "status"},
		),
		deployDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deploy_duration_seconds",
				Help:      "Duration of resource deploys in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"resource_type"},
		),
		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"endpoint", "from", "to"},
		),
		breakerOpenShorts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_open_shorts_total",
				Help:      "Total number of calls failed fast by an open circuit",
			},
			[]string{"endpoint"},
		),
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of remote function invocations",
			},
			[]string{"execution_type", "status"},
		),
		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Duration of remote function invocations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"execution_type"},
		),
		storeRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_store_retries_total",
				Help:      "Total number of remote state store retries",
			},
			[]string{"operation"},
		),
	}

	collectors := []prometheus.Collector{
		m.runsStarted, m.runsCompleted, m.runDuration,
		m.deploys, m.deployDuration,
		m.breakerTransitions, m.breakerOpenShorts,
		m.invocations, m.invocationDuration,
		m.storeRetries,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// RecordRunStarted increments the started-run counter.
func (m *Metrics) RecordRunStarted(flow string) {
	if m.registry == nil {
		return
	}
	m.runsStarted.WithLabelValues(flow).Inc()
}

// RecordRunCompleted records a finished run with its duration.
func (m *Metrics) RecordRunCompleted(flow, status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.runsCompleted.WithLabelValues(flow, status).Inc()
	m.runDuration.WithLabelValues(flow, status).Observe(duration.Seconds())
}

// RecordDeploy records a deploy attempt.
func (m *Metrics) RecordDeploy(resourceType, status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.deploys.WithLabelValues(resourceType, status).Inc()
	m.deployDuration.WithLabelValues(resourceType).Observe(duration.Seconds())
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(endpoint, from, to string) {
	if m.registry == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(endpoint, from, to).Inc()
}

// RecordBreakerShort records a call failed fast by an open circuit.
func (m *Metrics) RecordBreakerShort(endpoint string) {
	if m.registry == nil {
		return
	}
	m.breakerOpenShorts.WithLabelValues(endpoint).Inc()
}

// RecordInvocation records a remote function invocation.
func (m *Metrics) RecordInvocation(executionType, status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.invocations.WithLabelValues(executionType, status).Inc()
	m.invocationDuration.WithLabelValues(executionType).Observe(duration.Seconds())
}

// RecordStoreRetry records a remote state store retry.
func (m *Metrics) RecordStoreRetry(operation string) {
	if m.registry == nil {
		return
	}
	m.storeRetries.WithLabelValues(operation).Inc()
}

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartMetricsServer serves the metrics endpoint on the configured address.
func (m *Metrics) StartMetricsServer() error {
	if m.registry == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}
