package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/core/llm"
)

const bodySnippetChars = 600

// runTriage scores the allocated candidates with the tier-appropriate model.
// One provider call is persisted per attempt; failures are logged and the
// candidate stays untriaged.
func (s *Stage) runTriage(
	ctx context.Context,
	userID string,
	tier domain.Tier,
	window domain.Window,
	allocated []*Candidate,
	sourceNames map[string]string,
	callCap *llm.CallCap,
) (triaged, errors int, err error) {
	choice := s.router.ChooseModel(domain.PurposeTriage, tier)

	for _, c := range allocated {
		if err := ctx.Err(); err != nil {
			return triaged, errors, fmt.Errorf("triage canceled: %w", err)
		}

		if !callCap.Allow() {
			break
		}

		started := time.Now().UTC()

		result, callErr := s.client.Triage(ctx, choice, triageInput(c, window, sourceNames[c.Item.SourceID]))
		s.recordCall(ctx, userID, domain.PurposeTriage, choice, accountingOf(result), started, callErr)

		if callErr != nil {
			errors++

			s.logger.Warn().Err(callErr).Str("candidate_id", shortID(c.ID())).Msg("triage call failed")

			continue
		}

		output := result.Output
		c.Triage = &output
		triaged++
	}

	return triaged, errors, nil
}

func triageInput(c *Candidate, window domain.Window, sourceName string) llm.TriageInput {
	input := llm.TriageInput{
		Title:       c.Item.Title,
		BodySnippet: snippet(c.Item.BodyText, bodySnippetChars),
		SourceType:  c.Item.SourceType,
		SourceName:  sourceName,
		Author:      c.Item.Author,
		PublishedAt: c.Item.PublishedAt,
		WindowStart: window.Start,
		WindowEnd:   window.End,
	}

	if c.Item.CanonicalURL != nil {
		input.PrimaryURL = *c.Item.CanonicalURL
	}

	return input
}

func accountingOf(result *llm.TriageResult) *llm.Accounting {
	if result == nil {
		return nil
	}

	return &result.Accounting
}

func snippet(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}

	return s[:maxChars]
}
