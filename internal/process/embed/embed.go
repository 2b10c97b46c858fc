// Package embed turns content items into vectors, batch by batch, with
// all-or-nothing batch writes.
package embed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/core/embeddings"
	"github.com/lensfeed/lensfeed/internal/core/urlcanon"
	"github.com/lensfeed/lensfeed/internal/platform/observability"
	"github.com/lensfeed/lensfeed/internal/storage"
)

// Repository is the storage surface the embed stage needs.
type Repository interface {
	ListItemsNeedingEmbedding(ctx context.Context, topicID string, window *domain.Window, model string, dims, limit int) ([]storage.EmbedCandidate, error)
	SetItemHashText(ctx context.Context, itemID, hashText string) error
	UpsertEmbeddingsBatch(ctx context.Context, model string, dims int, entries []storage.EmbeddingEntry) error
	InsertProviderCall(ctx context.Context, call domain.ProviderCall) (string, error)
}

var _ Repository = (*storage.DB)(nil)

// Limits bounds one embed run.
type Limits struct {
	MaxItems      int
	BatchSize     int
	MaxInputChars int
}

// Result aggregates one embed run.
type Result struct {
	Selected        int
	Embedded        int
	UpdatedHashOnly int
	Batches         int
	Errors          int
	Disabled        bool
}

type pendingItem struct {
	id       string
	text     string
	hashText string
}

type Stage struct {
	repo   Repository
	client embeddings.Client
	logger *zerolog.Logger
}

func NewStage(repo Repository, client embeddings.Client, logger *zerolog.Logger) *Stage {
	return &Stage{repo: repo, client: client, logger: logger}
}

// Run embeds every item of the topic that needs it. Batches are processed
// sequentially; a failed batch is counted and skipped, not propagated. When
// no API key is configured the run is a no-op rather than a failure.
func (s *Stage) Run(ctx context.Context, userID string, topic domain.Topic, window *domain.Window, limits Limits) (*Result, error) {
	if !s.client.Available() {
		s.logger.Info().Msg("Embeddings disabled")

		return &Result{Disabled: true}, nil
	}

	candidates, err := s.repo.ListItemsNeedingEmbedding(ctx, topic.ID, window, s.client.Model(), s.client.Dimensions(), limits.MaxItems)
	if err != nil {
		return nil, fmt.Errorf("listing embed candidates: %w", err)
	}

	result := &Result{Selected: len(candidates)}

	var pending []pendingItem

	for _, c := range candidates {
		text := inputText(c.Title, c.BodyText, limits.MaxInputChars)
		hashText := urlcanon.HashText(text)

		if c.HasEmbedding && c.HashTextMissing {
			if err := s.repo.SetItemHashText(ctx, c.ID, hashText); err != nil {
				result.Errors++

				s.logger.Warn().Err(err).Str("item_id", shortID(c.ID)).Msg("updating hash_text")

				continue
			}

			result.UpdatedHashOnly++

			continue
		}

		pending = append(pending, pendingItem{id: c.ID, text: text, hashText: hashText})
	}

	batchSize := limits.BatchSize
	if batchSize <= 0 {
		batchSize = len(pending)
	}

	for start := 0; start < len(pending); start += batchSize {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("embed run canceled: %w", err)
		}

		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}

		s.runBatch(ctx, userID, pending[start:end], result)
	}

	return result, nil
}

func (s *Stage) runBatch(ctx context.Context, userID string, batch []pendingItem, result *Result) {
	result.Batches++

	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.text
	}

	started := time.Now().UTC()

	resp, err := s.client.EmbedBatch(ctx, texts)
	if err != nil {
		result.Errors += len(batch)

		s.recordCall(ctx, userID, started, nil, err)
		s.logger.Error().Err(err).Int("batch", len(batch)).Msg("embedding batch failed")

		return
	}

	if len(resp.Vectors) != len(batch) {
		result.Errors += len(batch)

		countErr := fmt.Errorf("vector count mismatch: got %d, want %d", len(resp.Vectors), len(batch))
		s.recordCall(ctx, userID, started, resp, countErr)
		s.logger.Error().Err(countErr).Msg("embedding batch rejected")

		return
	}

	entries := make([]storage.EmbeddingEntry, len(batch))

	for i, p := range batch {
		if err := embeddings.ValidateVector(resp.Vectors[i], s.client.Dimensions()); err != nil {
			// One malformed vector fails the whole batch.
			result.Errors += len(batch)

			s.recordCall(ctx, userID, started, resp, err)
			s.logger.Error().Err(err).Str("item_id", shortID(p.id)).Msg("embedding batch rejected")

			return
		}

		entries[i] = storage.EmbeddingEntry{ContentItemID: p.id, HashText: p.hashText, Vector: resp.Vectors[i]}
	}

	if err := s.repo.UpsertEmbeddingsBatch(ctx, s.client.Model(), s.client.Dimensions(), entries); err != nil {
		result.Errors += len(batch)

		s.recordCall(ctx, userID, started, resp, err)
		s.logger.Error().Err(err).Msg("embedding batch write failed")

		return
	}

	result.Embedded += len(batch)

	s.recordCall(ctx, userID, started, resp, nil)
	observability.EmbeddingsWritten.Add(float64(len(batch)))
}

func (s *Stage) recordCall(ctx context.Context, userID string, started time.Time, resp *embeddings.BatchResult, callErr error) {
	call := domain.ProviderCall{
		UserID:    userID,
		Purpose:   domain.PurposeEmbed,
		Provider:  "openai",
		Model:     s.client.Model(),
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
		Status:    domain.CallStatusOK,
	}

	if resp != nil {
		call.Provider = resp.Provider
		call.Model = resp.Model
		call.InputTokens = resp.InputTokens
		call.CostEstimateCredits = resp.CostEstimateCredits
	}

	if callErr != nil {
		call.Status = domain.CallStatusError
		call.Error = map[string]any{"message": callErr.Error()}
	}

	if _, err := s.repo.InsertProviderCall(ctx, call); err != nil {
		s.logger.Error().Err(err).Msg("persisting embed provider call")
	}
}

func inputText(title, body string, maxChars int) string {
	text := strings.TrimSpace(title)
	if strings.TrimSpace(body) != "" {
		text += "\n\n" + strings.TrimSpace(body)
	}

	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}

	return text
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}

	return id[:8]
}
