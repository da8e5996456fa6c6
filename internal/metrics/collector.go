// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector owns every Prometheus series the substrate exports.
type Collector struct {
	// HTTP surface
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Task routing and dispatch
	tasksRoutedTotal *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec

	// Workflow outcomes
	workflowsTotal   *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec

	// Reliability governor
	breakerTransitions  *prometheus.CounterVec
	rateLimitRejections *prometheus.CounterVec

	// Registry population
	registeredAgents   *prometheus.GaugeVec
	agentsStartedTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a Collector registered against reg. A nil reg uses
// the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.tasksRoutedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_routed_total",
			Help:      "Total number of tasks routed to agents",
		},
		[]string{"task_type", "agent_type", "status"},
	)

	c.dispatchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_dispatch_duration_seconds",
			Help:      "End to end task dispatch duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent_type"},
	)

	c.workflowsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Total number of workflow executions",
		},
		[]string{"workflow_type", "status"},
	)

	c.workflowDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"workflow_type"},
	)

	c.breakerTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"agent_id", "from_state", "to_state"},
	)

	c.rateLimitRejections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total number of admissions rejected by the rate limiter",
		},
		[]string{"agent_id"},
	)

	c.registeredAgents = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_agents",
			Help:      "Number of live registered agents",
		},
		[]string{"agent_type"},
	)

	c.agentsStartedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agents_started_total",
			Help:      "Total number of agents started on demand",
		},
		[]string{"agent_type", "status"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTaskRouted records one routed task and its dispatch latency.
func (c *Collector) RecordTaskRouted(taskType, agentType, status string, duration time.Duration) {
	c.tasksRoutedTotal.WithLabelValues(taskType, agentType, status).Inc()
	c.dispatchDuration.WithLabelValues(agentType).Observe(duration.Seconds())
}

// RecordWorkflow records one finished workflow execution.
func (c *Collector) RecordWorkflow(workflowType, status string, duration time.Duration) {
	c.workflowsTotal.WithLabelValues(workflowType, status).Inc()
	c.workflowDuration.WithLabelValues(workflowType).Observe(duration.Seconds())
}

// RecordBreakerTransition records one circuit breaker state change.
func (c *Collector) RecordBreakerTransition(agentID, fromState, toState string) {
	c.breakerTransitions.WithLabelValues(agentID, fromState, toState).Inc()
}

// RecordRateLimitRejection records one rate limited admission.
func (c *Collector) RecordRateLimitRejection(agentID string) {
	c.rateLimitRejections.WithLabelValues(agentID).Inc()
}

// SetRegisteredAgents sets the live agent gauge for a type.
func (c *Collector) SetRegisteredAgents(agentType string, count int) {
	c.registeredAgents.WithLabelValues(agentType).Set(float64(count))
}

// RecordAgentStarted records one on-demand agent start attempt.
func (c *Collector) RecordAgentStarted(agentType, status string) {
	c.agentsStartedTotal.WithLabelValues(agentType, status).Inc()
}

// statusCode buckets an HTTP status code into its class.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
