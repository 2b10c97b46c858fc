// Package app wires configuration, storage, connectors, LLM clients, and the
// pipeline runner into the two entry modes: the scheduler loop and a single
// admin pass.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/connector"
	"github.com/lensfeed/lensfeed/internal/core/budget"
	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/core/embeddings"
	"github.com/lensfeed/lensfeed/internal/core/llm"
	"github.com/lensfeed/lensfeed/internal/feedback"
	"github.com/lensfeed/lensfeed/internal/output/digest"
	"github.com/lensfeed/lensfeed/internal/platform/config"
	"github.com/lensfeed/lensfeed/internal/platform/observability"
	"github.com/lensfeed/lensfeed/internal/platform/schedule"
	"github.com/lensfeed/lensfeed/internal/platform/worker"
	"github.com/lensfeed/lensfeed/internal/process/cluster"
	"github.com/lensfeed/lensfeed/internal/process/dedup"
	"github.com/lensfeed/lensfeed/internal/process/embed"
	"github.com/lensfeed/lensfeed/internal/process/ingest"
	"github.com/lensfeed/lensfeed/internal/process/pipeline"
	"github.com/lensfeed/lensfeed/internal/storage"
)

const appEnvLocal = "local"

type App struct {
	cfg      *config.Config
	db       *storage.DB
	runner   *pipeline.Runner
	feedback *feedback.Engine
	schedCfg schedule.Config
	tick     time.Duration
	logger   *zerolog.Logger
}

// New connects to the store, runs migrations, and wires every stage.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	db, err := storage.New(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Pool.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	tick, err := time.ParseDuration(cfg.SchedulerTickInterval)
	if err != nil {
		db.Pool.Close()
		return nil, fmt.Errorf("parsing SCHEDULER_TICK_INTERVAL: %w", err)
	}

	typeWeights, err := cfg.SourceTypeWeights()
	if err != nil {
		db.Pool.Close()
		return nil, err
	}

	calibration, err := cfg.SourceCalibration()
	if err != nil {
		db.Pool.Close()
		return nil, err
	}

	registry := connector.NewRegistry(cfg.PaidSourceTypes)
	registry.Register(connector.NewRSS(logger))

	llmClient, embedClient := buildClients(cfg, logger)
	router := llm.NewRouter(cfg)

	digestCfg := digest.DefaultConfig()
	digestCfg.MaxPoolSize = cfg.DigestMaxPoolSize
	digestCfg.MaxItems = cfg.DigestMaxItems
	digestCfg.MaxTriageCalls = cfg.TriageMaxCallsPerRun
	digestCfg.ExplorationFraction = cfg.ExplorationFraction
	digestCfg.DiversityAlphaType = cfg.DiversityAlphaType
	digestCfg.DiversityAlphaSource = cfg.DiversityAlphaSource
	digestCfg.NoveltyLookbackDays = cfg.NoveltyLookbackDays
	digestCfg.FeedbackLookbackDays = cfg.FeedbackLookbackDays
	digestCfg.TypeWeights = typeWeights
	digestCfg.EnableSignalCorroboration = cfg.EnableSignalCorrelation
	digestCfg.Calibration = calibration
	digestCfg.CalibrationEnabled = cfg.EnableSourceCalibration
	digestCfg.EnrichMaxItems = map[domain.Tier]int{
		domain.TierLow:    cfg.EnrichMaxItemsLow,
		domain.TierNormal: cfg.EnrichMaxItemsNormal,
		domain.TierHigh:   cfg.EnrichMaxItemsHigh,
	}

	runner := pipeline.NewRunner(
		db,
		budget.NewEngine(db, logger),
		ingest.NewStage(db, registry, cfg.IngestMaxItemsPerSource, cfg.SignalMaxSearchCalls, logger),
		embed.NewStage(db, embedClient, logger),
		dedup.NewStage(db, logger),
		cluster.NewStage(db, logger),
		digest.NewStage(db, llmClient, router, digestCfg, logger),
		pipeline.Config{
			MonthlyCredits:       cfg.MonthlyCredits,
			DailyThrottleCredits: cfg.DailyThrottleCredits,
			EmbedLimits: embed.Limits{
				MaxItems:      cfg.EmbedMaxItems,
				BatchSize:     cfg.EmbedBatchSize,
				MaxInputChars: cfg.EmbedMaxInputChars,
			},
			Dedupe: dedup.Config{
				MaxItems:            cfg.DedupeMaxItems,
				LookbackDays:        cfg.DedupeLookbackDays,
				SimilarityThreshold: cfg.DedupeSimilarityThreshold,
			},
			Cluster: cluster.Config{
				MaxItems:            cfg.ClusterMaxItems,
				LookbackDays:        cfg.ClusterLookbackDays,
				SimilarityThreshold: cfg.ClusterSimilarityThreshold,
				UpdateCentroid:      cfg.ClusterUpdateCentroid,
			},
		},
		logger,
	)

	return &App{
		cfg:      cfg,
		db:       db,
		runner:   runner,
		feedback: feedback.NewEngine(db, cfg.PreferenceEMAAlpha, cfg.FeedbackLookbackDays, logger),
		schedCfg: schedule.Config{
			MaxBackfillWindows: cfg.SchedulerMaxBackfill,
			MinWindowSeconds:   cfg.SchedulerMinWindowSecond,
			LagSeconds:         cfg.SchedulerLagSeconds,
		},
		tick:   tick,
		logger: logger,
	}, nil
}

// buildClients picks the real provider clients, or deterministic mocks when
// running locally without an API key.
func buildClients(cfg *config.Config, logger *zerolog.Logger) (llm.Client, embeddings.Client) {
	if cfg.OpenAIAPIKey == "" && cfg.AppEnv == appEnvLocal {
		logger.Warn().Msg("no OPENAI_API_KEY: using mock LLM and embedding clients")

		return llm.MockClient{}, &embeddings.MockClient{Dims: cfg.EmbeddingDims}
	}

	return llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.RateLimitRPS, logger),
		embeddings.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDims, cfg.RateLimitRPS)
}

// Feedback exposes the feedback engine for admin tooling.
func (a *App) Feedback() *feedback.Engine {
	return a.feedback
}

// Serve runs the health endpoints and the scheduler loop until the context
// is canceled.
func (a *App) Serve(ctx context.Context) error {
	health := observability.NewServer(a.db, a.cfg.HealthPort, a.logger)

	go func() {
		if err := health.Start(ctx); err != nil {
			a.logger.Error().Err(err).Msg("health server failed")
		}
	}()

	return worker.Loop(ctx, worker.Config{
		Name:         "scheduler",
		PollInterval: a.tick,
		Process:      a.processDueTopics,
		Logger:       a.logger,
	})
}

// RunOnce processes every due window once and prints per-stage summaries.
func (a *App) RunOnce(ctx context.Context) error {
	return a.runDueTopics(ctx, true)
}

func (a *App) processDueTopics(ctx context.Context) error {
	return a.runDueTopics(ctx, false)
}

func (a *App) runDueTopics(ctx context.Context, verbose bool) error {
	topics, err := a.db.ListScheduledTopics(ctx)
	if err != nil {
		return fmt.Errorf("listing scheduled topics: %w", err)
	}

	now := time.Now().UTC()

	for _, topic := range topics {
		windows := schedule.DueWindows(topic, now, a.schedCfg)

		for _, window := range windows {
			result, err := a.runner.RunWindow(ctx, topic, window)
			if err != nil {
				a.logger.Error().Err(err).
					Str("topic", topic.Name).
					Time("window_end", window.End).
					Msg("pipeline run failed")

				break
			}

			if verbose {
				printRunSummary(topic, window, result)
			}

			// A window that did not commit stays due; retry next tick rather
			// than running later windows out of order.
			if !result.CursorAdvanced {
				break
			}
		}
	}

	return nil
}

func printRunSummary(topic domain.Topic, window domain.Window, result *pipeline.RunResult) {
	fmt.Printf("topic %q window [%s, %s) tier=%s\n",
		topic.Name,
		window.Start.Format(time.RFC3339),
		window.End.Format(time.RFC3339),
		result.Tier)

	if result.Ingest != nil {
		fmt.Printf("  ingest: sources=%d fetched=%d upserted=%d skipped=%d errors=%d\n",
			result.Ingest.Sources, result.Ingest.Fetched, result.Ingest.Upserted,
			result.Ingest.Skipped, result.Ingest.Errors)
	}

	if result.Embed != nil {
		fmt.Printf("  embed: selected=%d embedded=%d batches=%d errors=%d\n",
			result.Embed.Selected, result.Embed.Embedded, result.Embed.Batches, result.Embed.Errors)
	}

	if result.Dedupe != nil {
		fmt.Printf("  dedupe: attempted=%d matches=%d deduped=%d\n",
			result.Dedupe.Attempted, result.Dedupe.Matches, result.Dedupe.Deduped)
	}

	if result.Cluster != nil {
		fmt.Printf("  cluster: attempted=%d assigned=%d created=%d\n",
			result.Cluster.Attempted, result.Cluster.Assigned, result.Cluster.Created)
	}

	if result.Warning != budget.WarningNone {
		fmt.Printf("  credit warning: %s\n", result.Warning)
	}

	switch {
	case result.DigestSkippedDueToCredits:
		fmt.Println("  digest: SKIPPED (credit budget exhausted); run was heuristic-only, no digest persisted")
	case result.Digest != nil:
		fmt.Printf("  digest: %s items=%d triaged=%d enriched=%d\n",
			result.Digest.ID, result.DigestStats.Selected,
			result.DigestStats.Triaged, result.DigestStats.Enriched)
	default:
		fmt.Println("  digest: empty window, nothing to select")
	}
}

// Close releases the database pool.
func (a *App) Close() {
	a.db.Pool.Close()
}
