package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the Prometheus surface.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected at all.
	Enabled bool

	// Namespace prefixes every metric name.
	Namespace string

	// ListenAddress and Path locate the scrape endpoint when serving.
	ListenAddress string
	Path          string
}

// Metrics provides Prometheus metrics for diagnostic runs. A nil *Metrics is
// a valid no-op sink, so callers never guard their recording calls.
type Metrics struct {
	config MetricsConfig

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	moduleExecutions *prometheus.CounterVec
	moduleSkips      *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "hostprobe"
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "runs_started_total",
			Help:      "Total number of diagnostic runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of diagnostic runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of diagnostic runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		moduleExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "module_executions_total",
				Help:      "Total number of module executions by verdict",
			},
			[]string{"verdict"},
		),
		moduleSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "module_skips_total",
				Help:      "Total number of modules skipped by tracked reason",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.moduleExecutions,
		m.moduleSkips,
	)

	return m, nil
}

// RecordRunStarted increments the started-run counter.
func (m *Metrics) RecordRunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
}

// RecordRunCompleted records a finished run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordModuleExecution counts one executed module by final verdict.
func (m *Metrics) RecordModuleExecution(verdict string) {
	if m == nil {
		return
	}
	m.moduleExecutions.WithLabelValues(verdict).Inc()
}

// RecordSkips adds count skipped modules for a tracked reason.
func (m *Metrics) RecordSkips(reason string, count int) {
	if m == nil {
		return
	}
	m.moduleSkips.WithLabelValues(reason).Add(float64(count))
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer exposes the scrape endpoint in the background.
func (m *Metrics) StartMetricsServer() error {
	if m == nil || !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		// The scrape endpoint failing never takes down a run.
		_ = server.ListenAndServe()
	}()

	return nil
}
