// Package ingest runs the connectors of a topic's sources for one window and
// upserts the normalized items.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/connector"
	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/core/urlcanon"
	"github.com/lensfeed/lensfeed/internal/platform/observability"
	"github.com/lensfeed/lensfeed/internal/storage"
)

const (
	skipReasonBudget = "budget_exhausted"
	cursorLastFetch  = "last_fetch_at"
)

// Repository is the storage surface the ingest stage needs.
type Repository interface {
	ListEnabledSources(ctx context.Context, topicID string) ([]domain.Source, error)
	OpenFetchRun(ctx context.Context, sourceID string, cursorIn map[string]any, startedAt time.Time) (string, error)
	FinalizeFetchRun(ctx context.Context, runID, status string, cursorOut, counts map[string]any, runErr *string, endedAt time.Time) error
	UpsertContentItem(ctx context.Context, item domain.ContentItem) (string, bool, error)
	LinkItemSource(ctx context.Context, contentItemID, sourceID string) error
	UpdateSourceCursor(ctx context.Context, sourceID string, cursor map[string]any) error
	InsertProviderCall(ctx context.Context, call domain.ProviderCall) (string, error)
}

var _ Repository = (*storage.DB)(nil)

// Filter optionally restricts a run to some source types or ids.
type Filter struct {
	OnlySourceTypes []string
	OnlySourceIDs   []string
}

// SourceResult is the outcome for one source.
type SourceResult struct {
	SourceID   string
	SourceType string
	Status     string
	SkipReason string
	Fetched    int
	Upserted   int
	Inserted   int
	Errors     int
}

// Result aggregates one ingest run.
type Result struct {
	Sources   int
	Fetched   int
	Upserted  int
	Inserted  int
	Errors    int
	Skipped   int
	PerSource []SourceResult
}

type Stage struct {
	repo              Repository
	registry          *connector.Registry
	maxItemsPerSource int
	maxPaidCalls      int
	logger            *zerolog.Logger
}

func NewStage(repo Repository, registry *connector.Registry, maxItemsPerSource, maxPaidCalls int, logger *zerolog.Logger) *Stage {
	return &Stage{
		repo:              repo,
		registry:          registry,
		maxItemsPerSource: maxItemsPerSource,
		maxPaidCalls:      maxPaidCalls,
		logger:            logger,
	}
}

// Run ingests every enabled source of the topic, sequentially to preserve
// per-source cursor ordering. Source-level failures are counted, not
// propagated.
func (s *Stage) Run(
	ctx context.Context,
	topic domain.Topic,
	window domain.Window,
	filter Filter,
	paidCallsAllowed bool,
) (*Result, error) {
	sources, err := s.repo.ListEnabledSources(ctx, topic.ID)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}

	result := &Result{}

	for _, src := range sources {
		if !filter.match(src) {
			continue
		}

		result.Sources++

		srcResult := s.runSource(ctx, src, window, paidCallsAllowed)
		result.PerSource = append(result.PerSource, srcResult)
		result.Fetched += srcResult.Fetched
		result.Upserted += srcResult.Upserted
		result.Inserted += srcResult.Inserted
		result.Errors += srcResult.Errors

		if srcResult.Status == domain.FetchStatusSkipped {
			result.Skipped++
		}

		observability.FetchRuns.WithLabelValues(srcResult.Status).Inc()
	}

	return result, nil
}

func (s *Stage) runSource(ctx context.Context, src domain.Source, window domain.Window, paidCallsAllowed bool) SourceResult {
	logger := s.logger.With().Str("source_id", shortID(src.ID)).Str("source_type", src.Type).Logger()
	started := time.Now().UTC()

	srcResult := SourceResult{SourceID: src.ID, SourceType: src.Type}

	runID, err := s.repo.OpenFetchRun(ctx, src.ID, src.Cursor, started)
	if err != nil {
		logger.Error().Err(err).Msg("opening fetch run")

		srcResult.Status = domain.FetchStatusError
		srcResult.Errors++

		return srcResult
	}

	if s.registry.Paid(src.Type) && !paidCallsAllowed {
		srcResult.Status = domain.FetchStatusSkipped
		srcResult.SkipReason = skipReasonBudget

		s.finalize(ctx, runID, srcResult, nil, nil)
		logger.Info().Str("reason", skipReasonBudget).Msg("paid source skipped")

		return srcResult
	}

	conn, err := s.registry.Lookup(src.Type)
	if err != nil {
		srcResult.Status = domain.FetchStatusError
		srcResult.Errors++

		s.finalize(ctx, runID, srcResult, nil, &err)
		logger.Error().Err(err).Msg("no connector")

		return srcResult
	}

	params := connector.FetchParams{
		Source:       src,
		Cursor:       src.Cursor,
		MaxItems:     s.maxItemsPerSource,
		MaxPaidCalls: s.maxPaidCalls,
		WindowStart:  window.Start,
		WindowEnd:    window.End,
	}

	fetched, err := conn.Fetch(ctx, params)
	if err != nil {
		srcResult.Status = domain.FetchStatusError
		srcResult.Errors++

		s.finalize(ctx, runID, srcResult, nil, &err)
		logger.Error().Err(err).Msg("fetch failed")

		return srcResult
	}

	srcResult.Fetched = len(fetched.RawItems)

	s.persistProviderCalls(ctx, src.UserID, fetched.ProviderCalls, started)

	for _, raw := range fetched.RawItems {
		inserted, err := s.upsertRaw(ctx, conn, raw, params, src)
		if err != nil {
			srcResult.Errors++

			logger.Warn().Err(err).Msg("item dropped")

			continue
		}

		srcResult.Upserted++

		if inserted {
			srcResult.Inserted++
		}
	}

	// Cursor advances once, after all items are persisted.
	nextCursor := mergeCursor(fetched.NextCursor, window.End)
	if err := s.repo.UpdateSourceCursor(ctx, src.ID, nextCursor); err != nil {
		srcResult.Status = domain.FetchStatusError
		srcResult.Errors++

		s.finalize(ctx, runID, srcResult, nextCursor, &err)
		logger.Error().Err(err).Msg("cursor update failed")

		return srcResult
	}

	srcResult.Status = domain.FetchStatusOK
	if srcResult.Errors > 0 {
		srcResult.Status = domain.FetchStatusPartial
	}

	s.finalize(ctx, runID, srcResult, nextCursor, nil)

	observability.ItemsIngested.WithLabelValues(src.Type).Add(float64(srcResult.Upserted))

	return srcResult
}

func (s *Stage) upsertRaw(ctx context.Context, conn connector.Connector, raw any, params connector.FetchParams, src domain.Source) (bool, error) {
	draft, err := conn.Normalize(raw, params)
	if err != nil {
		return false, fmt.Errorf("normalize: %w", err)
	}

	item := buildItem(*draft, src, time.Now().UTC())

	itemID, inserted, err := s.repo.UpsertContentItem(ctx, item)
	if err != nil {
		return false, fmt.Errorf("upsert: %w", err)
	}

	if err := s.repo.LinkItemSource(ctx, itemID, src.ID); err != nil {
		return inserted, fmt.Errorf("link source: %w", err)
	}

	return inserted, nil
}

func (s *Stage) persistProviderCalls(ctx context.Context, userID string, drafts []connector.ProviderCallDraft, at time.Time) {
	for _, d := range drafts {
		status := d.Status
		if status == "" {
			status = domain.CallStatusOK
		}

		call := domain.ProviderCall{
			UserID:              userID,
			Purpose:             d.Purpose,
			Provider:            d.Provider,
			Model:               d.Model,
			InputTokens:         d.InputTokens,
			OutputTokens:        d.OutputTokens,
			CostEstimateCredits: d.CostEstimateCredits,
			Meta:                d.Meta,
			StartedAt:           at,
			EndedAt:             time.Now().UTC(),
			Status:              status,
			Error:               d.Error,
		}

		if _, err := s.repo.InsertProviderCall(ctx, call); err != nil {
			s.logger.Error().Err(err).Msg("persisting connector provider call")
		}
	}
}

func (s *Stage) finalize(ctx context.Context, runID string, srcResult SourceResult, cursorOut map[string]any, runErr *error) {
	counts := map[string]any{
		"fetched":  srcResult.Fetched,
		"upserted": srcResult.Upserted,
		"errors":   srcResult.Errors,
	}

	if srcResult.SkipReason != "" {
		counts["skip_reason"] = srcResult.SkipReason
	}

	var errText *string
	if runErr != nil && *runErr != nil {
		msg := (*runErr).Error()
		errText = &msg
	}

	if err := s.repo.FinalizeFetchRun(ctx, runID, srcResult.Status, cursorOut, counts, errText, time.Now().UTC()); err != nil {
		s.logger.Error().Err(err).Str("run_id", shortID(runID)).Msg("finalizing fetch run")
	}
}

// buildItem resolves the upsert keying: external id when present, else the
// canonical URL hash, else a stable synthetic external id.
func buildItem(draft domain.ContentItemDraft, src domain.Source, fetchedAt time.Time) domain.ContentItem {
	item := domain.ContentItem{
		UserID:      src.UserID,
		SourceID:    src.ID,
		SourceType:  draft.SourceType,
		Title:       draft.Title,
		BodyText:    draft.BodyText,
		Author:      draft.Author,
		PublishedAt: draft.PublishedAt,
		FetchedAt:   fetchedAt,
		Metadata:    draft.Metadata,
		Raw:         draft.Raw,
	}

	if item.SourceType == "" {
		item.SourceType = src.Type
	}

	if draft.CanonicalURL != "" {
		canonical := urlcanon.Canonicalize(draft.CanonicalURL)
		hashURL := urlcanon.HashText(canonical)
		item.CanonicalURL = &canonical
		item.HashURL = &hashURL
	}

	switch {
	case draft.ExternalID != "":
		externalID := draft.ExternalID
		item.ExternalID = &externalID
	case draft.CanonicalURL != "":
		// keyed by (user_id, hash_url)
	default:
		synthetic := syntheticExternalID(draft, src)
		item.ExternalID = &synthetic
	}

	return item
}

func syntheticExternalID(draft domain.ContentItemDraft, src domain.Source) string {
	publishedAt := ""
	if draft.PublishedAt != nil {
		publishedAt = draft.PublishedAt.UTC().Format(time.RFC3339)
	}

	parts := []string{
		src.ID,
		draft.SourceType,
		draft.Title,
		draft.BodyText,
		draft.CanonicalURL,
		publishedAt,
		draft.Author,
	}

	return urlcanon.HashText(strings.Join(parts, "\x1f"))
}

func mergeCursor(next map[string]any, windowEnd time.Time) map[string]any {
	merged := map[string]any{}
	for k, v := range next {
		merged[k] = v
	}

	merged[cursorLastFetch] = windowEnd.UTC().Format(time.RFC3339)

	return merged
}

func (f Filter) match(src domain.Source) bool {
	if len(f.OnlySourceTypes) > 0 && !contains(f.OnlySourceTypes, src.Type) {
		return false
	}

	if len(f.OnlySourceIDs) > 0 && !contains(f.OnlySourceIDs, src.ID) {
		return false
	}

	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}

	return id[:8]
}
