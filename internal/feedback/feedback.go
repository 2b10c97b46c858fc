// Package feedback turns user reactions into ranking signals: EMA preference
// vectors per (user, topic) and soft weights per source type and author.
package feedback

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/storage"
)

// Repository is the storage surface the feedback engine needs.
type Repository interface {
	InsertFeedbackEvent(ctx context.Context, event domain.FeedbackEvent) (string, error)
	ListRecentFeedback(ctx context.Context, userID, topicID string, since time.Time) ([]storage.FeedbackRow, error)
	GetPreferenceProfile(ctx context.Context, userID, topicID string) (*domain.PreferenceProfile, error)
	UpsertPreferenceProfile(ctx context.Context, profile domain.PreferenceProfile) error
}

var _ Repository = (*storage.DB)(nil)

// DefaultAlpha is the EMA smoothing factor for preference vectors.
const DefaultAlpha = 0.2

type Engine struct {
	repo     Repository
	alpha    float64
	lookback time.Duration
	logger   *zerolog.Logger
}

func NewEngine(repo Repository, alpha float64, lookbackDays int, logger *zerolog.Logger) *Engine {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}

	return &Engine{
		repo:     repo,
		alpha:    alpha,
		lookback: time.Duration(lookbackDays) * 24 * time.Hour,
		logger:   logger,
	}
}

// Record appends a reaction and refreshes the topic preference profile from
// the recent feedback history.
func (e *Engine) Record(ctx context.Context, topicID string, event domain.FeedbackEvent) error {
	if _, err := e.repo.InsertFeedbackEvent(ctx, event); err != nil {
		return fmt.Errorf("recording feedback: %w", err)
	}

	return e.RebuildProfile(ctx, event.UserID, topicID)
}

// RebuildProfile recomputes the EMA preference vectors by replaying recent
// feedback in order. Events without an item embedding shift the counts but
// not the vectors.
func (e *Engine) RebuildProfile(ctx context.Context, userID, topicID string) error {
	since := time.Now().UTC().Add(-e.lookback)

	rows, err := e.repo.ListRecentFeedback(ctx, userID, topicID, since)
	if err != nil {
		return fmt.Errorf("loading feedback history: %w", err)
	}

	profile := domain.PreferenceProfile{UserID: userID, TopicID: topicID}

	for _, row := range rows {
		switch row.Action {
		case domain.FeedbackLike, domain.FeedbackSave:
			profile.PositiveCount++
			profile.PositiveVector = ema(profile.PositiveVector, row.Vector, e.alpha)
		case domain.FeedbackDislike, domain.FeedbackSkip:
			profile.NegativeCount++
			profile.NegativeVector = ema(profile.NegativeVector, row.Vector, e.alpha)
		}
	}

	if err := e.repo.UpsertPreferenceProfile(ctx, profile); err != nil {
		return fmt.Errorf("saving preference profile: %w", err)
	}

	e.logger.Debug().
		Str("topic_id", topicID).
		Int("positive", profile.PositiveCount).
		Int("negative", profile.NegativeCount).
		Msg("preference profile rebuilt")

	return nil
}

// ema folds a new vector into the running mean: first observation seeds the
// vector, later ones blend with factor alpha.
func ema(current, next []float32, alpha float64) []float32 {
	if len(next) == 0 {
		return current
	}

	if len(current) != len(next) {
		return append([]float32(nil), next...)
	}

	out := make([]float32, len(current))
	for i := range current {
		out[i] = current[i]*float32(1-alpha) + next[i]*float32(alpha)
	}

	return out
}

// Weights derives the soft ranking multipliers from recent feedback. Each
// like or save raises the facet, each dislike or skip lowers it, clamped to
// [0.5, 2.0].
func Weights(rows []storage.FeedbackRow) (typeWeights, authorWeights map[string]float64) {
	type tally struct{ positive, negative int }

	byType := map[string]*tally{}
	byAuthor := map[string]*tally{}

	observe := func(m map[string]*tally, key string, positive bool) {
		if key == "" {
			return
		}

		t := m[key]
		if t == nil {
			t = &tally{}
			m[key] = t
		}

		if positive {
			t.positive++
		} else {
			t.negative++
		}
	}

	for _, row := range rows {
		switch row.Action {
		case domain.FeedbackLike, domain.FeedbackSave:
			observe(byType, row.SourceType, true)
			observe(byAuthor, row.Author, true)
		case domain.FeedbackDislike, domain.FeedbackSkip:
			observe(byType, row.SourceType, false)
			observe(byAuthor, row.Author, false)
		}
	}

	toWeights := func(m map[string]*tally) map[string]float64 {
		out := make(map[string]float64, len(m))
		for key, t := range m {
			out[key] = clampWeight(1 + 0.1*float64(t.positive) - 0.15*float64(t.negative))
		}

		return out
	}

	return toWeights(byType), toWeights(byAuthor)
}

func clampWeight(w float64) float64 {
	return math.Max(0.5, math.Min(2.0, w))
}
