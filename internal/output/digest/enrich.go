package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/core/llm"
)

// runEnrich produces deep summaries for the selected candidates the triage
// marked worth summarizing, up to the mode-derived cap.
func (s *Stage) runEnrich(
	ctx context.Context,
	userID string,
	tier domain.Tier,
	selected []*Candidate,
	sourceNames map[string]string,
	maxItems int,
) (enriched, errors int, err error) {
	if maxItems <= 0 {
		return 0, 0, nil
	}

	choice := s.router.ChooseModel(domain.PurposeEnrich, tier)

	for _, c := range selected {
		if enriched >= maxItems {
			break
		}

		if c.Triage == nil || !c.Triage.ShouldDeepSummarize {
			continue
		}

		if err := ctx.Err(); err != nil {
			return enriched, errors, fmt.Errorf("enrich canceled: %w", err)
		}

		input := llm.EnrichInput{
			Title:      c.Item.Title,
			Body:       c.Item.BodyText,
			SourceName: sourceNames[c.Item.SourceID],
		}

		if c.Item.CanonicalURL != nil {
			input.PrimaryURL = *c.Item.CanonicalURL
		}

		started := time.Now().UTC()

		result, callErr := s.client.Enrich(ctx, choice, input)
		s.recordCall(ctx, userID, domain.PurposeEnrich, choice, enrichAccounting(result), started, callErr)

		if callErr != nil {
			errors++

			s.logger.Warn().Err(callErr).Str("candidate_id", shortID(c.ID())).Msg("enrich call failed")

			continue
		}

		c.Summary = result.Summary
		enriched++
	}

	return enriched, errors, nil
}

func enrichAccounting(result *llm.EnrichResult) *llm.Accounting {
	if result == nil {
		return nil
	}

	return &result.Accounting
}
