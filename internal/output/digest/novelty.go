package digest

import (
	"context"
	"time"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

// fillNovelty scores each candidate by how unlike it is compared to topic
// history in [windowStart − lookback, windowStart). No history means fully
// novel.
func (s *Stage) fillNovelty(ctx context.Context, topicID string, window domain.Window, candidates []*Candidate) int {
	from := window.Start.Add(-time.Duration(s.cfg.NoveltyLookbackDays) * 24 * time.Hour)
	errors := 0

	for _, c := range candidates {
		maxSim, err := s.repo.MaxHistoricSimilarity(ctx, topicID, c.Vector, from, window.Start)
		if err != nil {
			errors++

			s.logger.Warn().Err(err).Str("candidate_id", shortID(c.ID())).Msg("novelty lookup failed")

			continue
		}

		c.Novelty01 = clamp01(1 - maxSim)
	}

	return errors
}
