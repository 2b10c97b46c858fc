// Package pipeline orchestrates one window end to end: budget gate, ingest,
// embed, dedupe, cluster, digest, and the scheduler cursor advance.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/core/budget"
	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/output/digest"
	"github.com/lensfeed/lensfeed/internal/platform/observability"
	"github.com/lensfeed/lensfeed/internal/platform/worker"
	"github.com/lensfeed/lensfeed/internal/process/cluster"
	"github.com/lensfeed/lensfeed/internal/process/dedup"
	"github.com/lensfeed/lensfeed/internal/process/embed"
	"github.com/lensfeed/lensfeed/internal/process/ingest"
	"github.com/lensfeed/lensfeed/internal/storage"
)

// Repository is the storage surface the runner itself needs; the stages carry
// their own.
type Repository interface {
	AdvanceTopicCursor(ctx context.Context, topicID string, cursorEnd time.Time) error
}

var _ Repository = (*storage.DB)(nil)

// Stage interfaces let tests swap in fakes per stage.
type (
	IngestStage interface {
		Run(ctx context.Context, topic domain.Topic, window domain.Window, filter ingest.Filter, paidCallsAllowed bool) (*ingest.Result, error)
	}

	EmbedStage interface {
		Run(ctx context.Context, userID string, topic domain.Topic, window *domain.Window, limits embed.Limits) (*embed.Result, error)
	}

	DedupeStage interface {
		Run(ctx context.Context, topic domain.Topic, window domain.Window, cfg dedup.Config) (*dedup.Result, error)
	}

	ClusterStage interface {
		Run(ctx context.Context, topic domain.Topic, window domain.Window, cfg cluster.Config) (*cluster.Result, error)
	}

	DigestStage interface {
		Run(ctx context.Context, topic domain.Topic, window domain.Window, tier domain.Tier) (*domain.Digest, *digest.Result, error)
	}
)

// Config bounds one runner.
type Config struct {
	MonthlyCredits       float64
	DailyThrottleCredits float64
	EmbedLimits          embed.Limits
	Dedupe               dedup.Config
	Cluster              cluster.Config
}

// RunResult aggregates one full pipeline run over one window.
type RunResult struct {
	Tier                      domain.Tier
	PaidCallsAllowed          bool
	Warning                   budget.WarningLevel
	Ingest                    *ingest.Result
	Embed                     *embed.Result
	Dedupe                    *dedup.Result
	Cluster                   *cluster.Result
	Digest                    *domain.Digest
	DigestStats               *digest.Result
	DigestSkippedDueToCredits bool
	CursorAdvanced            bool
}

type Runner struct {
	repo    Repository
	budget  *budget.Engine
	ingest  IngestStage
	embed   EmbedStage
	dedupe  DedupeStage
	cluster ClusterStage
	digest  DigestStage
	cfg     Config
	logger  *zerolog.Logger
}

func NewRunner(
	repo Repository,
	budgetEngine *budget.Engine,
	ingestStage IngestStage,
	embedStage EmbedStage,
	dedupeStage DedupeStage,
	clusterStage ClusterStage,
	digestStage DigestStage,
	cfg Config,
	logger *zerolog.Logger,
) *Runner {
	return &Runner{
		repo:    repo,
		budget:  budgetEngine,
		ingest:  ingestStage,
		embed:   embedStage,
		dedupe:  dedupeStage,
		cluster: clusterStage,
		digest:  digestStage,
		cfg:     cfg,
		logger:  logger,
	}
}

// RunWindow executes one (topic, window). Ingest, embed, dedupe, and cluster
// always run; the digest runs only when paid calls are allowed. The scheduler
// cursor advances only after a committed digest, or after an empty window
// processed with paid calls allowed. On a budget stop the window is left for
// the next tick.
func (r *Runner) RunWindow(ctx context.Context, topic domain.Topic, window domain.Window) (result *RunResult, err error) {
	defer worker.RecoverPanic(r.logger, "pipeline run")

	started := time.Now()

	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}

		observability.PipelineRuns.WithLabelValues(status).Inc()
	}()

	status, err := r.budget.ComputeCreditsStatus(ctx, topic.UserID,
		r.cfg.MonthlyCredits, r.cfg.DailyThrottleCredits, window.End)
	if err != nil {
		return nil, fmt.Errorf("evaluating credit budget: %w", err)
	}

	tier := window.Mode
	if tier == "" {
		tier = topic.Mode
	}

	if tier == "" {
		tier = domain.TierNormal
	}

	if !status.PaidCallsAllowed {
		tier = domain.TierLow
	}

	result = &RunResult{
		Tier:             tier,
		PaidCallsAllowed: status.PaidCallsAllowed,
		Warning:          status.WarningLevel,
	}

	logger := r.logger.With().
		Str("topic_id", shortID(topic.ID)).
		Time("window_start", window.Start).
		Time("window_end", window.End).
		Logger()

	logger.Info().
		Str("tier", string(tier)).
		Bool("paid_calls_allowed", status.PaidCallsAllowed).
		Msg("pipeline run started")

	result.Ingest, err = runStage("ingest", func() (*ingest.Result, error) {
		return r.ingest.Run(ctx, topic, window, ingest.Filter{}, status.PaidCallsAllowed)
	})
	if err != nil {
		return result, err
	}

	result.Embed, err = runStage("embed", func() (*embed.Result, error) {
		return r.embed.Run(ctx, topic.UserID, topic, &window, r.cfg.EmbedLimits)
	})
	if err != nil {
		return result, err
	}

	result.Dedupe, err = runStage("dedupe", func() (*dedup.Result, error) {
		return r.dedupe.Run(ctx, topic, window, r.cfg.Dedupe)
	})
	if err != nil {
		return result, err
	}

	result.Cluster, err = runStage("cluster", func() (*cluster.Result, error) {
		return r.cluster.Run(ctx, topic, window, r.cfg.Cluster)
	})
	if err != nil {
		return result, err
	}

	if !status.PaidCallsAllowed {
		result.DigestSkippedDueToCredits = true

		observability.BudgetStops.Inc()
		logger.Warn().Msg("digest skipped: credit budget exhausted")

		return result, nil
	}

	digestStart := time.Now()

	written, stats, err := r.digest.Run(ctx, topic, window, tier)
	observability.StageDurationSeconds.WithLabelValues("digest").Observe(time.Since(digestStart).Seconds())

	if err != nil {
		return result, fmt.Errorf("digest stage: %w", err)
	}

	result.Digest = written
	result.DigestStats = stats

	// Advance after a committed digest, or after a genuinely empty window.
	// An error or budget stop leaves the cursor alone so the window retries.
	if written != nil || stats.Empty {
		if err := r.repo.AdvanceTopicCursor(ctx, topic.ID, window.End); err != nil {
			return result, fmt.Errorf("advancing topic cursor: %w", err)
		}

		result.CursorAdvanced = true
	}

	logger.Info().
		Dur("elapsed", time.Since(started)).
		Bool("digest_written", written != nil).
		Bool("cursor_advanced", result.CursorAdvanced).
		Msg("pipeline run finished")

	return result, nil
}

func runStage[T any](name string, fn func() (*T, error)) (*T, error) {
	started := time.Now()

	out, err := fn()
	observability.StageDurationSeconds.WithLabelValues(name).Observe(time.Since(started).Seconds())

	if err != nil {
		return out, fmt.Errorf("%s stage: %w", name, err)
	}

	return out, nil
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}

	return id[:8]
}
