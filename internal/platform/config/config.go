// Package config loads the engine configuration from environment variables,
// with an optional .env file for local runs.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`
	HealthPort  int    `env:"HEALTH_PORT" envDefault:"8080"`

	OpenAIAPIKey   string `env:"OPENAI_API_KEY"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDims  int    `env:"EMBEDDING_DIMS" envDefault:"1536"`
	RateLimitRPS   int    `env:"RATE_LIMIT_RPS" envDefault:"1"`

	// Per-run paid-call caps.
	TriageMaxCallsPerRun int    `env:"OPENAI_TRIAGE_MAX_CALLS_PER_RUN" envDefault:"40"`
	SignalMaxSearchCalls int    `env:"SIGNAL_MAX_SEARCH_CALLS_PER_RUN" envDefault:"5"`
	EnrichMaxItemsLow    int    `env:"ENRICH_MAX_ITEMS_LOW" envDefault:"0"`
	EnrichMaxItemsNormal int    `env:"ENRICH_MAX_ITEMS_NORMAL" envDefault:"3"`
	EnrichMaxItemsHigh   int    `env:"ENRICH_MAX_ITEMS_HIGH" envDefault:"8"`
	TriageModelLow       string `env:"TRIAGE_MODEL_LOW" envDefault:"gpt-4o-mini"`
	TriageModelNormal    string `env:"TRIAGE_MODEL_NORMAL" envDefault:"gpt-4o-mini"`
	TriageModelHigh      string `env:"TRIAGE_MODEL_HIGH" envDefault:"gpt-4o"`
	EnrichModelLow       string `env:"ENRICH_MODEL_LOW" envDefault:"gpt-4o-mini"`
	EnrichModelNormal    string `env:"ENRICH_MODEL_NORMAL" envDefault:"gpt-4o"`
	EnrichModelHigh      string `env:"ENRICH_MODEL_HIGH" envDefault:"gpt-4o"`

	// Credit budget caps. Zero monthly credits means unlimited.
	MonthlyCredits       float64 `env:"MONTHLY_CREDITS" envDefault:"0"`
	DailyThrottleCredits float64 `env:"DAILY_THROTTLE_CREDITS" envDefault:"0"`

	// Scheduler.
	SchedulerTickInterval    string `env:"SCHEDULER_TICK_INTERVAL" envDefault:"1m"`
	SchedulerMaxBackfill     int    `env:"SCHEDULER_MAX_BACKFILL_WINDOWS" envDefault:"6"`
	SchedulerMinWindowSecond int    `env:"SCHEDULER_MIN_WINDOW_SECONDS" envDefault:"60"`
	SchedulerLagSeconds      int    `env:"SCHEDULER_LAG_SECONDS" envDefault:"60"`

	// Ingest.
	IngestMaxItemsPerSource int      `env:"INGEST_MAX_ITEMS_PER_SOURCE" envDefault:"200"`
	PaidSourceTypes         []string `env:"PAID_SOURCE_TYPES" envSeparator:"," envDefault:"signal,x_posts"`

	// Embed.
	EmbedMaxItems      int `env:"EMBED_MAX_ITEMS" envDefault:"500"`
	EmbedBatchSize     int `env:"EMBED_BATCH_SIZE" envDefault:"64"`
	EmbedMaxInputChars int `env:"EMBED_MAX_INPUT_CHARS" envDefault:"8000"`

	// Dedupe.
	DedupeMaxItems            int     `env:"DEDUPE_MAX_ITEMS" envDefault:"500"`
	DedupeLookbackDays        int     `env:"DEDUPE_LOOKBACK_DAYS" envDefault:"30"`
	DedupeSimilarityThreshold float64 `env:"DEDUPE_SIMILARITY_THRESHOLD" envDefault:"0.995"`

	// Cluster.
	ClusterMaxItems            int     `env:"CLUSTER_MAX_ITEMS" envDefault:"500"`
	ClusterLookbackDays        int     `env:"CLUSTER_LOOKBACK_DAYS" envDefault:"7"`
	ClusterSimilarityThreshold float64 `env:"CLUSTER_SIMILARITY_THRESHOLD" envDefault:"0.86"`
	ClusterUpdateCentroid      bool    `env:"CLUSTER_UPDATE_CENTROID" envDefault:"true"`

	// Digest selection.
	DigestMaxPoolSize       int     `env:"DIGEST_MAX_POOL_SIZE" envDefault:"120"`
	DigestMaxItems          int     `env:"DIGEST_MAX_ITEMS" envDefault:"20"`
	ExplorationFraction     float64 `env:"TRIAGE_EXPLORATION_FRACTION" envDefault:"0.3"`
	DiversityAlphaType      float64 `env:"DIVERSITY_ALPHA_TYPE" envDefault:"0.15"`
	DiversityAlphaSource    float64 `env:"DIVERSITY_ALPHA_SOURCE" envDefault:"0.05"`
	NoveltyLookbackDays     int     `env:"NOVELTY_LOOKBACK_DAYS" envDefault:"30"`
	EnableSignalCorrelation bool    `env:"ENABLE_SIGNAL_CORROBORATION" envDefault:"false"`

	// Ranking.
	SourceTypeWeightsJSON   string `env:"SOURCE_TYPE_WEIGHTS_JSON" envDefault:""`
	SourceCalibrationJSON   string `env:"SOURCE_CALIBRATION_JSON" envDefault:""`
	EnableSourceCalibration bool   `env:"ENABLE_SOURCE_CALIBRATION" envDefault:"false"`

	// Feedback.
	FeedbackLookbackDays int     `env:"FEEDBACK_LOOKBACK_DAYS" envDefault:"30"`
	PreferenceEMAAlpha   float64 `env:"PREFERENCE_EMA_ALPHA" envDefault:"0.2"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	return cfg, nil
}

// SourceTypeWeights decodes SOURCE_TYPE_WEIGHTS_JSON into a type → weight map.
func (c *Config) SourceTypeWeights() (map[string]float64, error) {
	return decodeWeightMap(c.SourceTypeWeightsJSON, "SOURCE_TYPE_WEIGHTS_JSON")
}

// SourceCalibration decodes SOURCE_CALIBRATION_JSON into a sourceID → aha
// offset map.
func (c *Config) SourceCalibration() (map[string]float64, error) {
	return decodeWeightMap(c.SourceCalibrationJSON, "SOURCE_CALIBRATION_JSON")
}

func decodeWeightMap(raw, name string) (map[string]float64, error) {
	if raw == "" {
		return map[string]float64{}, nil
	}

	out := map[string]float64{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}

	return out, nil
}
