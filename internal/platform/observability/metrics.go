package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lensfeed_pipeline_runs_total",
		Help: "The total number of pipeline runs by outcome",
	}, []string{"status"})

	StageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lensfeed_stage_duration_seconds",
		Help:    "Duration of pipeline stages",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	ItemsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lensfeed_items_ingested_total",
		Help: "The total number of upserted content items",
	}, []string{"source_type"})

	FetchRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lensfeed_fetch_runs_total",
		Help: "The total number of source fetch runs by status",
	}, []string{"status"})

	EmbeddingsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lensfeed_embeddings_written_total",
		Help: "The total number of embedding vectors written",
	})

	DuplicatesMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lensfeed_duplicates_marked_total",
		Help: "The total number of content items marked as near-duplicates",
	})

	ClustersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lensfeed_clusters_created_total",
		Help: "The total number of new clusters created",
	})

	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lensfeed_provider_calls_total",
		Help: "The total number of paid provider calls by purpose and status",
	}, []string{"purpose", "status"})

	ProviderTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lensfeed_provider_tokens_total",
		Help: "The total number of provider tokens by purpose and direction",
	}, []string{"purpose", "direction"})

	ProviderCreditsEstimated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lensfeed_provider_credits_estimated_total",
		Help: "Estimated credits spent on provider calls by purpose",
	}, []string{"purpose"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lensfeed_llm_request_duration_seconds",
		Help:    "Duration of LLM requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	DigestsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lensfeed_digests_written_total",
		Help: "The total number of digests written by mode",
	}, []string{"mode"})

	DigestItemsSelected = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lensfeed_digest_items_selected",
		Help:    "Number of items selected per digest",
		Buckets: []float64{1, 3, 5, 10, 15, 20, 30, 50},
	})

	BudgetWarningLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lensfeed_budget_warning_level",
		Help: "Current budget warning level (0 none, 1 approaching, 2 critical)",
	})

	BudgetStops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lensfeed_budget_stops_total",
		Help: "The total number of runs stopped by the credit budget gate",
	})
)
