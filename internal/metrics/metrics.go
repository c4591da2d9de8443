package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsearch_workflows_started_total",
			Help: "Total number of search workflows started",
		},
		[]string{"intent"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsearch_workflows_completed_total",
			Help: "Total number of search workflows completed",
		},
		[]string{"intent", "status"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medsearch_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"intent"},
	)

	// Agent metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsearch_agent_executions_total",
			Help: "Total number of hybrid search agent executions",
		},
		[]string{"agent", "status"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medsearch_agent_execution_duration_ms",
			Help:    "Agent execution duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"agent"},
	)

	AgentFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsearch_agent_fallbacks_total",
			Help: "Total number of agent fallbacks to the canned dataset",
		},
		[]string{"agent", "reason"},
	)

	// Retrieval metrics
	IndexSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsearch_index_searches_total",
			Help: "Total number of index backend searches",
		},
		[]string{"collection", "mode", "status"},
	)

	IndexSearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medsearch_index_search_duration_seconds",
			Help:    "Index backend search duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"collection", "mode"},
	)

	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsearch_embedding_requests_total",
			Help: "Embedding provider requests by outcome (ok, error, lru_hit, cache_hit)",
		},
		[]string{"model", "status"},
	)

	EmbeddingRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medsearch_embedding_request_duration_seconds",
			Help:    "Embedding provider request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"model"},
	)

	// Generation metrics
	GenerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsearch_generation_requests_total",
			Help: "Text-generation provider requests by purpose and outcome",
		},
		[]string{"purpose", "status"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medsearch_generation_duration_seconds",
			Help:    "Text-generation request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"purpose"},
	)

	// Cache metrics
	CacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsearch_cache_ops_total",
			Help: "Cache store operations by namespace and outcome (hit, miss, write, error)",
		},
		[]string{"namespace", "outcome"},
	)

	// Conflict detection
	ConflictsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medsearch_conflicts_detected_total",
			Help: "Total number of workflows where cross-source conflicts were detected",
		},
	)

	// Circuit breaker state: 0=closed, 1=half-open, 2=open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medsearch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medsearch_circuit_breaker_requests_total",
			Help: "Requests observed by circuit breakers",
		},
		[]string{"name", "outcome"},
	)
)

// RecordWorkflowMetrics records completion metrics for a workflow execution.
func RecordWorkflowMetrics(intent, status string, durationSeconds float64) {
	WorkflowsCompleted.WithLabelValues(intent, status).Inc()
	WorkflowDuration.WithLabelValues(intent).Observe(durationSeconds)
}

// RecordAgentMetrics records one agent execution.
func RecordAgentMetrics(agent, status string, durationMs float64) {
	AgentExecutions.WithLabelValues(agent, status).Inc()
	AgentExecutionDuration.WithLabelValues(agent).Observe(durationMs)
}

// RecordIndexSearch records one lexical or vector index query.
func RecordIndexSearch(collection, mode, status string, durationSeconds float64) {
	IndexSearches.WithLabelValues(collection, mode, status).Inc()
	if status == "ok" {
		IndexSearchDuration.WithLabelValues(collection, mode).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records one embedding lookup or provider call.
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if status == "ok" {
		EmbeddingRequestDuration.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordGenerationMetrics records one text-generation call.
func RecordGenerationMetrics(purpose, status string, durationSeconds float64) {
	GenerationRequests.WithLabelValues(purpose, status).Inc()
	if status == "ok" {
		GenerationDuration.WithLabelValues(purpose).Observe(durationSeconds)
	}
}

// RecordCircuitBreakerRequest records a request outcome and current breaker state.
func RecordCircuitBreakerRequest(name string, state float64, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	CircuitBreakerRequests.WithLabelValues(name, outcome).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(state)
}
