package llm

import (
	"context"
	"errors"
	"time"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("llm disabled: no API key configured")

// TriageInput is the topic-agnostic candidate context sent to the triage
// prompt.
type TriageInput struct {
	Title       string
	BodySnippet string
	SourceType  string
	SourceName  string
	PrimaryURL  string
	Author      string
	PublishedAt *time.Time
	WindowStart time.Time
	WindowEnd   time.Time
}

// EnrichInput is the context for a deep summary of one selected candidate.
type EnrichInput struct {
	Title      string
	Body       string
	SourceName string
	PrimaryURL string
}

// Accounting carries the token and credit bookkeeping of one call.
type Accounting struct {
	Provider            string
	Model               string
	Endpoint            string
	InputTokens         int
	OutputTokens        int
	CostEstimateCredits float64
}

// TriageResult is the parsed triage output plus accounting.
type TriageResult struct {
	Accounting
	Output domain.TriageOutput
}

// EnrichResult is the structured summary plus accounting.
type EnrichResult struct {
	Accounting
	Summary map[string]any
}

// Client performs triage and enrichment calls against one provider.
type Client interface {
	Triage(ctx context.Context, choice ModelChoice, input TriageInput) (*TriageResult, error)
	Enrich(ctx context.Context, choice ModelChoice, input EnrichInput) (*EnrichResult, error)
	Available() bool
}
