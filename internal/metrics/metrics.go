package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "propensity_runs_started_total",
			Help: "Total number of analysis runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propensity_runs_completed_total",
			Help: "Total number of analysis runs finished, by outcome",
		},
		[]string{"outcome"},
	)

	RunsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propensity_runs_rejected_total",
			Help: "Total number of run submissions rejected before dispatch",
		},
		[]string{"reason"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "propensity_run_duration_seconds",
			Help:    "End-to-end analysis run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 240, 300},
		},
	)

	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "propensity_active_runs",
			Help: "Number of analysis runs currently executing",
		},
	)

	// Research task metrics
	AnalysisTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propensity_analysis_tasks_total",
			Help: "Total number of research tasks executed, by kind and status",
		},
		[]string{"kind", "status"},
	)

	AnalysisTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propensity_analysis_task_duration_seconds",
			Help:    "Research task duration in seconds, by kind",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	BarrierWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "propensity_barrier_wait_seconds",
			Help:    "Time between the first and last research result at the join barrier",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	DuplicateResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propensity_duplicate_results_total",
			Help: "Research results dropped at the barrier because the kind was already collected",
		},
		[]string{"kind"},
	)

	// Scoring metrics
	ScoreDistribution = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "propensity_score",
			Help:    "Distribution of produced propensity scores",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)

	ScoreParseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propensity_score_parse_failures_total",
			Help: "Analyzer responses that fell through the JSON extraction chain",
		},
		[]string{"stage"},
	)

	// LLM metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propensity_llm_calls_total",
			Help: "Total completion calls, by provider and status",
		},
		[]string{"provider", "status"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propensity_llm_call_duration_seconds",
			Help:    "Completion call duration in seconds, by provider",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	LLMTokensUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propensity_llm_tokens_used",
			Help:    "Tokens consumed per completion call, by provider",
			Buckets: []float64{50, 100, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"provider"},
	)

	// Research client metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propensity_search_requests_total",
			Help: "Search API requests, by status",
		},
		[]string{"status"},
	)

	SearchRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "propensity_search_request_duration_seconds",
			Help:    "Search API request duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// Conversation metrics
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "propensity_conversations_created_total",
			Help: "Total number of conversations created",
		},
	)

	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propensity_messages_appended_total",
			Help: "Messages appended to conversations, by role",
		},
		[]string{"role"},
	)

	ConversationCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "propensity_conversation_cache_size",
			Help: "Conversations held in the local write-through cache",
		},
	)

	ConversationCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "propensity_conversation_cache_hits_total",
			Help: "Conversation lookups served from the local cache",
		},
	)

	ConversationCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "propensity_conversation_cache_misses_total",
			Help: "Conversation lookups that fell through to Redis",
		},
	)

	ConversationCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "propensity_conversation_cache_evictions_total",
			Help: "Conversations evicted from the local cache by the LRU sweep",
		},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "propensity_stream_subscribers",
			Help: "Currently connected stream subscribers (SSE and WS)",
		},
	)

	StreamEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propensity_stream_events_published_total",
			Help: "Events published to the streaming manager, by type",
		},
		[]string{"type"},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "propensity_stream_events_dropped_total",
			Help: "Events dropped because a subscriber channel was full",
		},
	)

	// History store metrics
	DBWriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "propensity_db_write_queue_depth",
			Help: "Pending writes in the history store queue",
		},
	)

	DBWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propensity_db_writes_total",
			Help: "History store writes, by entity and status",
		},
		[]string{"entity", "status"},
	)

	// Policy metrics
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propensity_policy_decisions_total",
			Help: "Policy decisions on run submissions, by decision and mode",
		},
		[]string{"decision", "mode"},
	)
)

// RecordRunMetrics records the standard per-run metrics in one place.
func RecordRunMetrics(outcome string, durationSeconds float64) {
	RunsCompleted.WithLabelValues(outcome).Inc()
	RunDuration.Observe(durationSeconds)
}

// RecordAnalysisTask records one research task execution.
func RecordAnalysisTask(kind, status string, durationSeconds float64) {
	AnalysisTasks.WithLabelValues(kind, status).Inc()
	AnalysisTaskDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordLLMCall records one completion call.
func RecordLLMCall(provider, status string, durationSeconds float64, tokens int) {
	LLMCalls.WithLabelValues(provider, status).Inc()
	LLMCallDuration.WithLabelValues(provider).Observe(durationSeconds)
	if tokens > 0 {
		LLMTokensUsed.WithLabelValues(provider).Observe(float64(tokens))
	}
}

// RecordSearchRequest records one search API request.
func RecordSearchRequest(status string, durationSeconds float64) {
	SearchRequests.WithLabelValues(status).Inc()
	SearchRequestDuration.Observe(durationSeconds)
}
