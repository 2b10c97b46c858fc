// Package dedup marks near-duplicate content items by nearest-neighbor
// vector lookup against strictly older items.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/platform/observability"
	"github.com/lensfeed/lensfeed/internal/storage"
)

// Repository is the storage surface the dedupe stage needs.
type Repository interface {
	ListDedupeCandidates(ctx context.Context, topicID string, window domain.Window, limit int) ([]storage.VectorItem, error)
	FindNearestOlderNeighbor(ctx context.Context, topicID, itemID string, at time.Time, vector []float32, lookbackStart time.Time) (*storage.Neighbor, error)
	MarkDuplicate(ctx context.Context, itemID, duplicateOfID string) error
}

var _ Repository = (*storage.DB)(nil)

// Config bounds one dedupe run. The threshold is deliberately high: false
// positives are worse than false negatives.
type Config struct {
	MaxItems            int
	LookbackDays        int
	SimilarityThreshold float64
}

func DefaultConfig() Config {
	return Config{
		MaxItems:            500,
		LookbackDays:        30,
		SimilarityThreshold: 0.995,
	}
}

// Result aggregates one dedupe run.
type Result struct {
	Attempted int
	Matches   int
	Deduped   int
	Errors    int
}

type Stage struct {
	repo   Repository
	logger *zerolog.Logger
}

func NewStage(repo Repository, logger *zerolog.Logger) *Stage {
	return &Stage{repo: repo, logger: logger}
}

// Run marks each in-window candidate a duplicate of its nearest strictly
// older neighbor when similarity reaches the threshold.
func (s *Stage) Run(ctx context.Context, topic domain.Topic, window domain.Window, cfg Config) (*Result, error) {
	candidates, err := s.repo.ListDedupeCandidates(ctx, topic.ID, window, cfg.MaxItems)
	if err != nil {
		return nil, fmt.Errorf("listing dedupe candidates: %w", err)
	}

	result := &Result{Attempted: len(candidates)}
	lookbackStart := window.Start.Add(-time.Duration(cfg.LookbackDays) * 24 * time.Hour)

	for _, c := range candidates {
		neighbor, err := s.repo.FindNearestOlderNeighbor(ctx, topic.ID, c.ID, c.At, c.Vector, lookbackStart)
		if err != nil {
			result.Errors++

			s.logger.Warn().Err(err).Str("item_id", shortID(c.ID)).Msg("neighbor lookup failed")

			continue
		}

		if neighbor == nil || neighbor.Similarity < cfg.SimilarityThreshold {
			continue
		}

		result.Matches++

		if err := s.repo.MarkDuplicate(ctx, c.ID, neighbor.ContentItemID); err != nil {
			result.Errors++

			s.logger.Warn().Err(err).Str("item_id", shortID(c.ID)).Msg("marking duplicate failed")

			continue
		}

		result.Deduped++

		observability.DuplicatesMarked.Inc()
	}

	return result, nil
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}

	return id[:8]
}
