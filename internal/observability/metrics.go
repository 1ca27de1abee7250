package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the orchestrator. Each collector
// owns its registry so several can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	// Workflow metrics
	PhaseRuns     *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec
	GraphNodes    prometheus.Gauge
	GraphVersion  prometheus.Gauge
	Degraded      *prometheus.CounterVec

	// History metrics
	HistoryAppendFailures prometheus.Counter

	// Gateway metrics
	GatewayCalls    *prometheus.CounterVec
	GatewayDuration *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		PhaseRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_runs_total",
				Help:      "Workflow phase invocations by outcome",
			},
			[]string{"phase", "outcome"},
		),
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Workflow phase duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"phase"},
		),
		GraphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Nodes in the current causal graph",
		}),
		GraphVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_version",
			Help:      "Number of graph replacements applied",
		}),
		Degraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "degraded_results_total",
				Help:      "Results completed with fallback or partial data",
			},
			[]string{"phase"},
		),
		HistoryAppendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_append_failures_total",
			Help:      "History saves that failed and were dropped",
		}),
		GatewayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_calls_total",
				Help:      "Calls to the inference gateway",
			},
			[]string{"operation", "status"},
		),
		GatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_call_duration_seconds",
				Help:      "Inference gateway call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		c.PhaseRuns,
		c.PhaseDuration,
		c.GraphNodes,
		c.GraphVersion,
		c.Degraded,
		c.HistoryAppendFailures,
		c.GatewayCalls,
		c.GatewayDuration,
	)
	return c
}

// Registry exposes the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordPhase counts a finished phase and its duration
func (c *Collector) RecordPhase(phase, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.PhaseRuns.WithLabelValues(phase, outcome).Inc()
	c.PhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordDegraded counts a result returned with fallback or partial data
func (c *Collector) RecordDegraded(phase string) {
	if c == nil {
		return
	}
	c.Degraded.WithLabelValues(phase).Inc()
}

// RecordGraph tracks the size and version of the current graph
func (c *Collector) RecordGraph(nodes int, version uint64) {
	if c == nil {
		return
	}
	c.GraphNodes.Set(float64(nodes))
	c.GraphVersion.Set(float64(version))
}

// RecordHistoryAppendFailure counts a dropped history save
func (c *Collector) RecordHistoryAppendFailure() {
	if c == nil {
		return
	}
	c.HistoryAppendFailures.Inc()
}

// ObserveGatewayCall records one gateway round trip. Status 0 means the call
// never got a response.
func (c *Collector) ObserveGatewayCall(op string, status int, duration time.Duration, _ error) {
	if c == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	c.GatewayCalls.WithLabelValues(op, label).Inc()
	c.GatewayDuration.WithLabelValues(op).Observe(duration.Seconds())
}
