package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/connector"
	"github.com/lensfeed/lensfeed/internal/core/domain"
)

type fakeRepo struct {
	sources       []domain.Source
	items         []domain.ContentItem
	links         [][2]string
	cursors       map[string]map[string]any
	finalized     map[string]string // run id → status
	providerCalls []domain.ProviderCall
	upsertErr     error
}

func newFakeRepo(sources ...domain.Source) *fakeRepo {
	return &fakeRepo{
		sources:   sources,
		cursors:   map[string]map[string]any{},
		finalized: map[string]string{},
	}
}

func (f *fakeRepo) ListEnabledSources(_ context.Context, _ string) ([]domain.Source, error) {
	return f.sources, nil
}

func (f *fakeRepo) OpenFetchRun(_ context.Context, sourceID string, _ map[string]any, _ time.Time) (string, error) {
	return "run-" + sourceID, nil
}

func (f *fakeRepo) FinalizeFetchRun(_ context.Context, runID, status string, _, _ map[string]any, _ *string, _ time.Time) error {
	f.finalized[runID] = status
	return nil
}

func (f *fakeRepo) UpsertContentItem(_ context.Context, item domain.ContentItem) (string, bool, error) {
	if f.upsertErr != nil {
		return "", false, f.upsertErr
	}

	f.items = append(f.items, item)

	return "item-1", true, nil
}

func (f *fakeRepo) LinkItemSource(_ context.Context, contentItemID, sourceID string) error {
	f.links = append(f.links, [2]string{contentItemID, sourceID})
	return nil
}

func (f *fakeRepo) UpdateSourceCursor(_ context.Context, sourceID string, cursor map[string]any) error {
	f.cursors[sourceID] = cursor
	return nil
}

func (f *fakeRepo) InsertProviderCall(_ context.Context, call domain.ProviderCall) (string, error) {
	f.providerCalls = append(f.providerCalls, call)
	return call.ID, nil
}

type fakeConnector struct {
	typ     string
	items   []domain.ContentItemDraft
	fetchEr error
}

func (c *fakeConnector) Type() string { return c.typ }

func (c *fakeConnector) Fetch(_ context.Context, _ connector.FetchParams) (*connector.FetchResult, error) {
	if c.fetchEr != nil {
		return nil, c.fetchEr
	}

	raw := make([]any, len(c.items))
	for i := range c.items {
		raw[i] = c.items[i]
	}

	return &connector.FetchResult{RawItems: raw, NextCursor: map[string]any{"page": "2"}}, nil
}

func (c *fakeConnector) Normalize(raw any, _ connector.FetchParams) (*domain.ContentItemDraft, error) {
	draft, ok := raw.(domain.ContentItemDraft)
	if !ok {
		return nil, errors.New("bad raw item")
	}

	return &draft, nil
}

func testWindow() domain.Window {
	return domain.Window{
		Start: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC),
		Mode:  domain.TierNormal,
	}
}

func testStage(repo Repository, conns ...connector.Connector) *Stage {
	registry := connector.NewRegistry([]string{"signal", "x_posts"})
	for _, c := range conns {
		registry.Register(c)
	}

	nop := zerolog.Nop()

	return NewStage(repo, registry, 100, 5, &nop)
}

func TestRunEmptySource(t *testing.T) {
	src := domain.Source{ID: "s1", UserID: "u1", TopicID: "t1", Type: "rss", Name: "feed", Enabled: true}
	repo := newFakeRepo(src)
	stage := testStage(repo, &fakeConnector{typ: "rss"})

	result, err := stage.Run(context.Background(), domain.Topic{ID: "t1"}, testWindow(), Filter{}, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Fetched != 0 || result.Upserted != 0 || result.Errors != 0 {
		t.Errorf("empty source counters = %+v", result)
	}

	if repo.finalized["run-s1"] != domain.FetchStatusOK {
		t.Errorf("fetch run status = %s, want ok", repo.finalized["run-s1"])
	}
}

func TestRunSkipsPaidSourceWhenBudgetExhausted(t *testing.T) {
	src := domain.Source{ID: "s1", UserID: "u1", Type: "signal", Enabled: true}
	repo := newFakeRepo(src)
	stage := testStage(repo, &fakeConnector{typ: "signal", items: []domain.ContentItemDraft{{Title: "x"}}})

	result, err := stage.Run(context.Background(), domain.Topic{ID: "t1"}, testWindow(), Filter{}, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Skipped != 1 || result.Fetched != 0 {
		t.Errorf("result = %+v, want 1 skipped and nothing fetched", result)
	}

	if got := result.PerSource[0].SkipReason; got != skipReasonBudget {
		t.Errorf("skip reason = %q, want %q", got, skipReasonBudget)
	}

	if repo.finalized["run-s1"] != domain.FetchStatusSkipped {
		t.Errorf("fetch run status = %s, want skipped", repo.finalized["run-s1"])
	}

	if len(repo.cursors) != 0 {
		t.Error("cursor must not advance on skip")
	}
}

func TestRunUpsertsAndAdvancesCursor(t *testing.T) {
	src := domain.Source{ID: "s1", UserID: "u1", Type: "rss", Enabled: true}
	repo := newFakeRepo(src)
	published := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	stage := testStage(repo, &fakeConnector{typ: "rss", items: []domain.ContentItemDraft{
		{SourceType: "rss", ExternalID: "guid-1", Title: "a", PublishedAt: &published},
		{SourceType: "rss", CanonicalURL: "https://example.com/a?utm_source=x", Title: "b"},
		{SourceType: "rss", Title: "c", BodyText: "no key at all"},
	}})

	result, err := stage.Run(context.Background(), domain.Topic{ID: "t1"}, testWindow(), Filter{}, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Upserted != 3 || result.Errors != 0 {
		t.Fatalf("result = %+v, want 3 upserted", result)
	}

	byTitle := map[string]domain.ContentItem{}
	for _, item := range repo.items {
		byTitle[item.Title] = item
	}

	if a := byTitle["a"]; a.ExternalID == nil || *a.ExternalID != "guid-1" {
		t.Error("external id keying lost")
	}

	b := byTitle["b"]
	if b.ExternalID != nil {
		t.Error("url-keyed item must not get an external id")
	}

	if b.HashURL == nil || b.CanonicalURL == nil || *b.CanonicalURL != "https://example.com/a" {
		t.Errorf("canonical url = %v, want tracking params stripped", b.CanonicalURL)
	}

	if c := byTitle["c"]; c.ExternalID == nil || len(*c.ExternalID) != 64 {
		t.Error("keyless item must get a synthetic sha-256 external id")
	}

	cursor := repo.cursors["s1"]
	if cursor["page"] != "2" {
		t.Errorf("cursor = %v, want connector next cursor merged", cursor)
	}

	if cursor[cursorLastFetch] != "2026-01-06T00:00:00Z" {
		t.Errorf("cursor last_fetch_at = %v, want window end", cursor[cursorLastFetch])
	}
}

func TestRunFetchErrorLeavesCursorUnchanged(t *testing.T) {
	src := domain.Source{ID: "s1", UserID: "u1", Type: "rss", Enabled: true}
	repo := newFakeRepo(src)
	stage := testStage(repo, &fakeConnector{typ: "rss", fetchEr: errors.New("boom")})

	result, err := stage.Run(context.Background(), domain.Topic{ID: "t1"}, testWindow(), Filter{}, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Errors != 1 {
		t.Errorf("errors = %d, want 1", result.Errors)
	}

	if repo.finalized["run-s1"] != domain.FetchStatusError {
		t.Errorf("fetch run status = %s, want error", repo.finalized["run-s1"])
	}

	if len(repo.cursors) != 0 {
		t.Error("cursor must not advance on fetch error")
	}
}

func TestRunPartialOnUpsertErrors(t *testing.T) {
	src := domain.Source{ID: "s1", UserID: "u1", Type: "rss", Enabled: true}
	repo := newFakeRepo(src)
	repo.upsertErr = errors.New("constraint")
	stage := testStage(repo, &fakeConnector{typ: "rss", items: []domain.ContentItemDraft{{Title: "a"}}})

	result, err := stage.Run(context.Background(), domain.Topic{ID: "t1"}, testWindow(), Filter{}, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Errors != 1 {
		t.Errorf("errors = %d, want 1", result.Errors)
	}

	if repo.finalized["run-s1"] != domain.FetchStatusPartial {
		t.Errorf("fetch run status = %s, want partial", repo.finalized["run-s1"])
	}
}

func TestFilterRestrictsSources(t *testing.T) {
	srcA := domain.Source{ID: "a", Type: "rss", Enabled: true}
	srcB := domain.Source{ID: "b", Type: "reddit", Enabled: true}
	repo := newFakeRepo(srcA, srcB)
	stage := testStage(repo, &fakeConnector{typ: "rss"}, &fakeConnector{typ: "reddit"})

	result, err := stage.Run(context.Background(), domain.Topic{ID: "t1"}, testWindow(),
		Filter{OnlySourceTypes: []string{"reddit"}}, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Sources != 1 || result.PerSource[0].SourceID != "b" {
		t.Errorf("filter should leave only source b, got %+v", result.PerSource)
	}
}
