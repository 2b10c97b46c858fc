package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/core/llm"
	"github.com/lensfeed/lensfeed/internal/feedback"
	"github.com/lensfeed/lensfeed/internal/platform/observability"
	"github.com/lensfeed/lensfeed/internal/storage"
)

// Repository is the storage surface the digest stage needs.
type Repository interface {
	ListClusterCandidates(ctx context.Context, topicID string, window domain.Window) ([]storage.ClusterCandidateRow, error)
	ListItemCandidates(ctx context.Context, topicID string, window domain.Window) ([]storage.ItemCandidateRow, error)
	ListEnabledSources(ctx context.Context, topicID string) ([]domain.Source, error)
	GetPreferenceProfile(ctx context.Context, userID, topicID string) (*domain.PreferenceProfile, error)
	ListRecentFeedback(ctx context.Context, userID, topicID string, since time.Time) ([]storage.FeedbackRow, error)
	ListSignalBundles(ctx context.Context, topicID string, window domain.Window) ([]domain.ContentItem, error)
	MaxHistoricSimilarity(ctx context.Context, topicID string, vector []float32, from, to time.Time) (float64, error)
	InsertProviderCall(ctx context.Context, call domain.ProviderCall) (string, error)
	UpsertDigestWithItems(ctx context.Context, digest domain.Digest, items []domain.DigestItem) (string, error)
}

var _ Repository = (*storage.DB)(nil)

// Config bounds one digest run.
type Config struct {
	MaxPoolSize          int
	MaxItems             int
	MaxTriageCalls       int
	ExplorationFraction  float64
	DiversityAlphaType   float64
	DiversityAlphaSource float64
	NoveltyLookbackDays  int
	FeedbackLookbackDays int

	Weights     Weights
	TypeWeights map[string]float64

	EnableSignalCorroboration bool
	SignalWeight              float64 // applied only when corroboration is on

	Calibration        map[string]float64
	CalibrationEnabled bool

	EnrichMaxItems map[domain.Tier]int
}

func DefaultConfig() Config {
	return Config{
		MaxPoolSize:          120,
		MaxItems:             20,
		MaxTriageCalls:       40,
		ExplorationFraction:  0.3,
		DiversityAlphaType:   0.15,
		DiversityAlphaSource: 0.05,
		NoveltyLookbackDays:  30,
		FeedbackLookbackDays: 30,
		Weights:              DefaultWeights(),
		SignalWeight:         0.1,
		EnrichMaxItems: map[domain.Tier]int{
			domain.TierLow:    0,
			domain.TierNormal: 3,
			domain.TierHigh:   8,
		},
	}
}

// Result aggregates one digest run.
type Result struct {
	Candidates    int
	Pooled        int
	Allocated     int
	Triaged       int
	TriageErrors  int
	NoveltyErrors int
	SignalMatches int
	Selected      int
	Enriched      int
	EnrichErrors  int
	Empty         bool

	Sample     SampleStats
	Allocation AllocationStats
	Selection  SelectionStats
}

type Stage struct {
	repo   Repository
	client llm.Client
	router *llm.Router
	cfg    Config
	logger *zerolog.Logger
}

func NewStage(repo Repository, client llm.Client, router *llm.Router, cfg Config, logger *zerolog.Logger) *Stage {
	return &Stage{repo: repo, client: client, router: router, cfg: cfg, logger: logger}
}

// Run builds and persists the digest for one window: assemble candidates,
// sample a fair pool, triage within budget, rank with the full feature set,
// select with diversity penalties, enrich the top, and write the result
// atomically. Returns a nil digest when the window yields nothing.
func (s *Stage) Run(ctx context.Context, topic domain.Topic, window domain.Window, tier domain.Tier) (*domain.Digest, *Result, error) {
	result := &Result{}

	sources, err := s.repo.ListEnabledSources(ctx, topic.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing sources: %w", err)
	}

	sourceNames := make(map[string]string, len(sources))
	sourceWeights := make(map[string]float64, len(sources))

	for _, src := range sources {
		sourceNames[src.ID] = src.Name

		if src.Weight != nil {
			sourceWeights[src.ID] = *src.Weight
		}
	}

	profile, err := s.repo.GetPreferenceProfile(ctx, topic.UserID, topic.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading preference profile: %w", err)
	}

	candidates, err := assembleCandidates(ctx, s.repo, topic.ID, window, profile)
	if err != nil {
		return nil, nil, err
	}

	result.Candidates = len(candidates)

	if len(candidates) == 0 {
		result.Empty = true

		s.logger.Info().Str("topic_id", shortID(topic.ID)).Msg("no digest candidates in window")

		return nil, result, nil
	}

	pool, sampleStats := samplePool(candidates, window, s.cfg.MaxPoolSize)
	result.Pooled = len(pool)
	result.Sample = sampleStats

	allocated, allocStats := allocateTriage(pool, s.cfg.MaxTriageCalls, s.cfg.ExplorationFraction)
	result.Allocated = len(allocated)
	result.Allocation = allocStats

	if s.client.Available() {
		callCap := llm.NewCallCap(s.cfg.MaxTriageCalls)

		triaged, triageErrors, err := s.runTriage(ctx, topic.UserID, tier, window, allocated, sourceNames, callCap)
		result.Triaged = triaged
		result.TriageErrors = triageErrors

		if err != nil {
			return nil, result, err
		}
	}

	result.NoveltyErrors = s.fillNovelty(ctx, topic.ID, window, pool)

	weights := s.cfg.Weights

	if s.cfg.EnableSignalCorroboration {
		bundles, err := s.repo.ListSignalBundles(ctx, topic.ID, window)
		if err != nil {
			return nil, result, fmt.Errorf("listing signal bundles: %w", err)
		}

		result.SignalMatches = markCorroborated(pool, buildSignalHashSet(bundles))
		weights.Signal = s.cfg.SignalWeight
	}

	feedbackRows, err := s.repo.ListRecentFeedback(ctx, topic.UserID, topic.ID,
		window.End.Add(-time.Duration(s.cfg.FeedbackLookbackDays)*24*time.Hour))
	if err != nil {
		return nil, result, fmt.Errorf("loading recent feedback: %w", err)
	}

	userTypeWeights, authorWeights := feedback.Weights(feedbackRows)

	decayHours := 0.0
	if topic.DecayHours != nil {
		decayHours = *topic.DecayHours
	}

	rankCandidates(pool, rankContext{
		weights:            weights,
		typeWeights:        s.cfg.TypeWeights,
		sourceWeights:      sourceWeights,
		userTypeWeights:    userTypeWeights,
		authorWeights:      authorWeights,
		calibration:        s.cfg.Calibration,
		calibrationEnabled: s.cfg.CalibrationEnabled,
		signalEnabled:      s.cfg.EnableSignalCorroboration,
		decayHours:         decayHours,
		windowEnd:          window.End,
	})

	selected, selStats := selectDiverse(pool, s.cfg.MaxItems,
		s.cfg.DiversityAlphaType, s.cfg.DiversityAlphaSource, s.client.Available())
	result.Selected = len(selected)
	result.Selection = selStats

	if len(selected) == 0 {
		result.Empty = true

		s.logger.Info().Str("topic_id", shortID(topic.ID)).
			Int("triage_filtered", selStats.TriageFiltered).
			Msg("no digest items selected")

		return nil, result, nil
	}

	enriched, enrichErrors, err := s.runEnrich(ctx, topic.UserID, tier, selected, sourceNames, s.cfg.EnrichMaxItems[tier])
	result.Enriched = enriched
	result.EnrichErrors = enrichErrors

	if err != nil {
		return nil, result, err
	}

	digest := domain.Digest{
		UserID:      topic.UserID,
		TopicID:     topic.ID,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Mode:        tier,
	}

	items := make([]domain.DigestItem, len(selected))

	for i, c := range selected {
		item := domain.DigestItem{
			Rank:        i + 1,
			Score:       c.Score,
			TriageJSON:  c.TriageJSON,
			SummaryJSON: c.Summary,
		}

		if c.ClusterID != "" {
			clusterID := c.ClusterID
			item.ClusterID = &clusterID
		} else {
			itemID := c.Item.ID
			item.ContentItemID = &itemID
		}

		items[i] = item
	}

	digestID, err := s.repo.UpsertDigestWithItems(ctx, digest, items)
	if err != nil {
		return nil, result, fmt.Errorf("writing digest: %w", err)
	}

	digest.ID = digestID

	observability.DigestsWritten.WithLabelValues(string(tier)).Inc()
	observability.DigestItemsSelected.Observe(float64(len(items)))

	s.logger.Info().
		Str("digest_id", shortID(digestID)).
		Int("items", len(items)).
		Int("triaged", result.Triaged).
		Int("enriched", result.Enriched).
		Msg("digest written")

	return &digest, result, nil
}

func (s *Stage) recordCall(
	ctx context.Context,
	userID, purpose string,
	choice llm.ModelChoice,
	acct *llm.Accounting,
	started time.Time,
	callErr error,
) {
	call := domain.ProviderCall{
		UserID:    userID,
		Purpose:   purpose,
		Provider:  choice.Provider,
		Model:     choice.Model,
		Meta:      map[string]any{"endpoint": choice.Endpoint},
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
		Status:    domain.CallStatusOK,
	}

	if acct != nil {
		call.InputTokens = acct.InputTokens
		call.OutputTokens = acct.OutputTokens
		call.CostEstimateCredits = acct.CostEstimateCredits
	}

	if callErr != nil {
		call.Status = domain.CallStatusError
		call.Error = map[string]any{"message": callErr.Error()}
	}

	if _, err := s.repo.InsertProviderCall(ctx, call); err != nil {
		s.logger.Error().Err(err).Str("purpose", purpose).Msg("persisting provider call")
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}

	return id[:8]
}
