// Package digest assembles, samples, triages, ranks, and selects the final
// ordered items of one window, then persists them as a digest.
package digest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/core/embeddings"
	"github.com/lensfeed/lensfeed/internal/storage"
)

// Candidate is one digest candidate: either a cluster (with its centroid and
// a representative item) or a standalone item (with its own vector). Later
// phases fill in triage, novelty, corroboration, and the final score.
type Candidate struct {
	ClusterID         string // empty for standalone items
	MemberCount       int
	MemberSourceIDs   []string
	MemberSourceTypes []string

	Item   storage.CandidateItem
	Vector []float32

	Recency01    float64
	Engagement01 float64
	Heuristic    float64
	PositiveSim  *float64
	NegativeSim  *float64

	Triage        *domain.TriageOutput
	Novelty01     float64
	SignalMatched bool

	Score      float64
	TriageJSON map[string]any
	Summary    map[string]any
}

// ID is the stable identity used for deterministic tie-breaking.
func (c *Candidate) ID() string {
	if c.ClusterID != "" {
		return c.ClusterID
	}

	return c.Item.ID
}

// At is the candidate timestamp: published_at when known, else fetched_at.
func (c *Candidate) At() time.Time {
	return c.Item.At
}

type assemblyRepo interface {
	ListClusterCandidates(ctx context.Context, topicID string, window domain.Window) ([]storage.ClusterCandidateRow, error)
	ListItemCandidates(ctx context.Context, topicID string, window domain.Window) ([]storage.ItemCandidateRow, error)
}

// assembleCandidates loads cluster and item candidates for the window and
// precomputes recency, engagement, heuristic score, and preference
// similarities.
func assembleCandidates(
	ctx context.Context,
	repo assemblyRepo,
	topicID string,
	window domain.Window,
	profile *domain.PreferenceProfile,
) ([]*Candidate, error) {
	clusters, err := repo.ListClusterCandidates(ctx, topicID, window)
	if err != nil {
		return nil, fmt.Errorf("listing cluster candidates: %w", err)
	}

	items, err := repo.ListItemCandidates(ctx, topicID, window)
	if err != nil {
		return nil, fmt.Errorf("listing item candidates: %w", err)
	}

	candidates := make([]*Candidate, 0, len(clusters)+len(items))

	for _, row := range clusters {
		candidates = append(candidates, &Candidate{
			ClusterID:         row.ClusterID,
			MemberCount:       row.MemberCount,
			MemberSourceIDs:   row.MemberSourceIDs,
			MemberSourceTypes: row.MemberSourceTypes,
			Item:              row.Representative,
			Vector:            row.Centroid,
		})
	}

	for _, row := range items {
		candidates = append(candidates, &Candidate{Item: row.Item, Vector: row.Vector})
	}

	raws := make([]float64, len(candidates))
	maxRaw := 0.0

	for i, c := range candidates {
		c.Recency01 = recency01(c.At(), window)
		raws[i] = engagementRaw(c.Item.Metadata)

		if raws[i] > maxRaw {
			maxRaw = raws[i]
		}
	}

	for i, c := range candidates {
		if maxRaw > 0 {
			c.Engagement01 = raws[i] / maxRaw
		}

		c.Heuristic = 0.6*c.Recency01 + 0.4*c.Engagement01

		if profile != nil {
			if len(profile.PositiveVector) == len(c.Vector) {
				sim := embeddings.CosineSimilarity(c.Vector, profile.PositiveVector)
				c.PositiveSim = &sim
			}

			if len(profile.NegativeVector) == len(c.Vector) {
				sim := embeddings.CosineSimilarity(c.Vector, profile.NegativeVector)
				c.NegativeSim = &sim
			}
		}
	}

	return candidates, nil
}

func recency01(at time.Time, window domain.Window) float64 {
	span := window.End.Sub(window.Start).Seconds()
	if span <= 0 {
		return 0
	}

	return clamp01(1 - window.End.Sub(at).Seconds()/span)
}

// engagementRaw blends vote and comment counts from source metadata. Keys
// vary by connector: reddit uses score/num_comments, others ups/comment_count.
func engagementRaw(metadata map[string]any) float64 {
	votes := metaNumber(metadata, "score", "ups")
	comments := metaNumber(metadata, "num_comments", "comment_count")

	return math.Log1p(math.Max(0, votes)) + 0.25*math.Log1p(math.Max(0, comments))
}

func metaNumber(metadata map[string]any, keys ...string) float64 {
	for _, key := range keys {
		v, ok := metadata[key]
		if !ok {
			continue
		}

		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}

	return 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func clamp(lo, hi, v float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
