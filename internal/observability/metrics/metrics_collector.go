// Package metrics provides metrics collection and exposition for verl-prime.
// It integrates the Prometheus SDK to define and collect the trainer's core
// metrics: step phase timings, filter decisions, dropped trajectories,
// reward-model update statistics, and collaborator I/O.
package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ============================================================================
// Metrics Collector
// ============================================================================

// MetricsCollector manages Prometheus metrics collection
type MetricsCollector struct {
	registry *prometheus.Registry

	namespace string

	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec

	mu sync.RWMutex
}

// CollectorConfig defines metrics collector configuration
type CollectorConfig struct {
	// Namespace for all metrics
	Namespace string

	// Enable default Go runtime metrics
	EnableGoMetrics bool

	// Enable process metrics
	EnableProcessMetrics bool

	// Custom registry (optional)
	Registry *prometheus.Registry
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(cfg CollectorConfig) *MetricsCollector {
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.EnableGoMetrics {
		registry.MustRegister(prometheus.NewGoCollector())
	}

	if cfg.EnableProcessMetrics {
		registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}

	collector := &MetricsCollector{
		registry:   registry,
		namespace:  cfg.Namespace,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}

	collector.registerCoreMetrics()

	return collector
}

// registerCoreMetrics registers all trainer metrics
func (c *MetricsCollector) registerCoreMetrics() {
	// Step loop metrics
	c.RegisterCounter("steps_total", "Total number of training steps completed", []string{"run_id", "status"})
	c.RegisterHistogram("step_phase_duration_seconds", "Duration of each step phase", []string{"phase"}, prometheus.DefBuckets)
	c.RegisterGauge("current_step", "Current training step", []string{"run_id"})

	// Sample filter metrics
	c.RegisterCounter("groups_admitted_total", "Groups admitted by the accuracy filter", []string{"run_id"})
	c.RegisterCounter("groups_rejected_total", "Groups rejected by the accuracy filter", []string{"run_id", "reason"})
	c.RegisterHistogram("group_accuracy", "Observed group accuracy distribution", []string{"run_id"}, prometheus.LinearBuckets(0, 0.1, 11))

	// Trajectory data-error metrics
	c.RegisterCounter("trajectories_dropped_total", "Trajectories dropped for data errors", []string{"run_id", "code"})
	c.RegisterCounter("degenerate_groups_total", "Groups too small for leave-one-out estimation", []string{"run_id"})

	// Advantage metrics
	c.RegisterHistogram("advantage_mean", "Mean advantage per step", []string{"run_id"}, prometheus.LinearBuckets(-2, 0.4, 11))
	c.RegisterHistogram("trajectory_return", "Per-trajectory scalar return", []string{"run_id"}, prometheus.DefBuckets)

	// Reward model update metrics
	c.RegisterCounter("rm_updates_total", "Reward model refreshes", []string{"run_id", "policy"})
	c.RegisterHistogram("rm_update_loss", "Reward model update loss", []string{"run_id"}, prometheus.DefBuckets)
	c.RegisterHistogram("rm_update_grad_norm", "Reward model gradient norm", []string{"run_id"}, prometheus.DefBuckets)

	// Intake / buffer metrics
	c.RegisterCounter("mq_trajectories_consumed_total", "Trajectories consumed from the rollout queue", []string{"topic"})
	c.RegisterCounter("mq_messages_failed_total", "Undecodable rollout messages", []string{"topic", "error_type"})
	c.RegisterGauge("buffer_groups", "Groups parked in the overflow buffer", []string{"run_id"})

	// Checkpoint metrics
	c.RegisterCounter("checkpoints_saved_total", "Checkpoints written", []string{"component"})
	c.RegisterHistogram("checkpoint_duration_seconds", "Checkpoint write duration", []string{"component"}, prometheus.DefBuckets)

	// HTTP API metrics
	c.RegisterCounter("http_requests_total", "Total number of HTTP requests", []string{"method", "path", "status"})
	c.RegisterHistogram("http_request_duration_seconds", "HTTP request duration in seconds", []string{"method", "path"}, prometheus.DefBuckets)
}

// ============================================================================
// Metric Registration
// ============================================================================

// RegisterCounter registers a counter vector
func (c *MetricsCollector) RegisterCounter(name, help string, labels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.counters[name]; exists {
		return
	}

	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      help,
	}, labels)

	c.registry.MustRegister(counter)
	c.counters[name] = counter
}

// RegisterGauge registers a gauge vector
func (c *MetricsCollector) RegisterGauge(name, help string, labels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.gauges[name]; exists {
		return
	}

	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      help,
	}, labels)

	c.registry.MustRegister(gauge)
	c.gauges[name] = gauge
}

// RegisterHistogram registers a histogram vector
func (c *MetricsCollector) RegisterHistogram(name, help string, labels []string, buckets []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.histograms[name]; exists {
		return
	}

	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)

	c.registry.MustRegister(histogram)
	c.histograms[name] = histogram
}

// ============================================================================
// Metric Operations
// ============================================================================

// IncrementCounter increments a counter by 1
func (c *MetricsCollector) IncrementCounter(name string, labels map[string]string) {
	c.mu.RLock()
	counter, exists := c.counters[name]
	c.mu.RUnlock()

	if exists {
		counter.With(labels).Inc()
	}
}

// AddCounter adds a value to a counter
func (c *MetricsCollector) AddCounter(name string, value float64, labels map[string]string) {
	c.mu.RLock()
	counter, exists := c.counters[name]
	c.mu.RUnlock()

	if exists {
		counter.With(labels).Add(value)
	}
}

// SetGauge sets a gauge value
func (c *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	c.mu.RLock()
	gauge, exists := c.gauges[name]
	c.mu.RUnlock()

	if exists {
		gauge.With(labels).Set(value)
	}
}

// Observe records a value into a histogram
func (c *MetricsCollector) Observe(name string, value float64, labels map[string]string) {
	c.mu.RLock()
	histogram, exists := c.histograms[name]
	c.mu.RUnlock()

	if exists {
		histogram.With(labels).Observe(value)
	}
}

// Handler returns the HTTP handler for the /metrics endpoint
func (c *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (c *MetricsCollector) Registry() *prometheus.Registry {
	return c.registry
}

// ============================================================================
// No-op Collector
// ============================================================================

// NewNoopCollector returns a collector backed by a private registry;
// useful in tests that do not assert on metrics
func NewNoopCollector() *MetricsCollector {
	return NewMetricsCollector(CollectorConfig{Namespace: "test"})
}

// String renders registered metric names, for debugging
func (c *MetricsCollector) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("MetricsCollector{namespace=%s counters=%d gauges=%d histograms=%d}",
		c.namespace, len(c.counters), len(c.gauges), len(c.histograms))
}
