// Package cluster groups related content items by incremental centroid
// assignment: each new item either joins the nearest hot cluster or seeds
// its own.
package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/platform/observability"
	"github.com/lensfeed/lensfeed/internal/storage"
)

// Repository is the storage surface the cluster stage needs.
type Repository interface {
	ListUnclusteredItems(ctx context.Context, topicID string, window domain.Window, limit int) ([]storage.VectorItem, error)
	FindNearestHotCluster(ctx context.Context, userID string, vector []float32, hotSince time.Time) (*storage.NearestCluster, error)
	CreateCluster(ctx context.Context, userID, itemID string, vector []float32, now time.Time) (string, error)
	AssignToCluster(ctx context.Context, clusterID, itemID string, similarity float64, vector []float32, updateCentroid bool, now time.Time) error
}

var _ Repository = (*storage.DB)(nil)

// Config bounds one clustering run.
type Config struct {
	MaxItems            int
	LookbackDays        int
	SimilarityThreshold float64
	UpdateCentroid      bool
}

func DefaultConfig() Config {
	return Config{
		MaxItems:            500,
		LookbackDays:        7,
		SimilarityThreshold: 0.86,
		UpdateCentroid:      true,
	}
}

// Result aggregates one clustering run.
type Result struct {
	Attempted int
	Assigned  int
	Created   int
	Errors    int
}

type Stage struct {
	repo   Repository
	logger *zerolog.Logger
}

func NewStage(repo Repository, logger *zerolog.Logger) *Stage {
	return &Stage{repo: repo, logger: logger}
}

// Run assigns each unclustered in-window item to the nearest cluster touched
// within the lookback, or seeds a new one when nothing is close enough.
// Items are processed oldest first so early stories anchor the clusters
// later items join.
func (s *Stage) Run(ctx context.Context, topic domain.Topic, window domain.Window, cfg Config) (*Result, error) {
	items, err := s.repo.ListUnclusteredItems(ctx, topic.ID, window, cfg.MaxItems)
	if err != nil {
		return nil, fmt.Errorf("listing unclustered items: %w", err)
	}

	result := &Result{Attempted: len(items)}
	hotSince := window.End.Add(-time.Duration(cfg.LookbackDays) * 24 * time.Hour)
	now := time.Now().UTC()

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("cluster run canceled: %w", err)
		}

		nearest, err := s.repo.FindNearestHotCluster(ctx, topic.UserID, item.Vector, hotSince)
		if err != nil {
			result.Errors++

			s.logger.Warn().Err(err).Str("item_id", shortID(item.ID)).Msg("nearest cluster lookup failed")

			continue
		}

		if nearest == nil || nearest.Similarity < cfg.SimilarityThreshold {
			if _, err := s.repo.CreateCluster(ctx, topic.UserID, item.ID, item.Vector, now); err != nil {
				result.Errors++

				s.logger.Warn().Err(err).Str("item_id", shortID(item.ID)).Msg("creating cluster failed")

				continue
			}

			result.Created++

			observability.ClustersCreated.Inc()

			continue
		}

		if err := s.repo.AssignToCluster(ctx, nearest.ClusterID, item.ID, nearest.Similarity, item.Vector, cfg.UpdateCentroid, now); err != nil {
			result.Errors++

			s.logger.Warn().Err(err).
				Str("item_id", shortID(item.ID)).
				Str("cluster_id", shortID(nearest.ClusterID)).
				Msg("cluster assignment failed")

			continue
		}

		result.Assigned++
	}

	return result, nil
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}

	return id[:8]
}
