package feedback

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/storage"
)

type fakeRepo struct {
	rows    []storage.FeedbackRow
	events  []domain.FeedbackEvent
	profile *domain.PreferenceProfile
}

func (f *fakeRepo) InsertFeedbackEvent(_ context.Context, event domain.FeedbackEvent) (string, error) {
	f.events = append(f.events, event)
	return "e1", nil
}

func (f *fakeRepo) ListRecentFeedback(_ context.Context, _, _ string, _ time.Time) ([]storage.FeedbackRow, error) {
	return f.rows, nil
}

func (f *fakeRepo) GetPreferenceProfile(_ context.Context, _, _ string) (*domain.PreferenceProfile, error) {
	return f.profile, nil
}

func (f *fakeRepo) UpsertPreferenceProfile(_ context.Context, profile domain.PreferenceProfile) error {
	f.profile = &profile
	return nil
}

func row(action string, vector []float32) storage.FeedbackRow {
	return storage.FeedbackRow{Action: action, SourceType: "rss", Author: "ada", Vector: vector}
}

func TestRebuildProfileSeedsAndBlends(t *testing.T) {
	repo := &fakeRepo{rows: []storage.FeedbackRow{
		row(domain.FeedbackLike, []float32{1, 0}),
		row(domain.FeedbackSave, []float32{0, 1}),
		row(domain.FeedbackDislike, []float32{1, 1}),
	}}

	nop := zerolog.Nop()
	engine := NewEngine(repo, 0.2, 30, &nop)

	if err := engine.RebuildProfile(context.Background(), "u1", "t1"); err != nil {
		t.Fatalf("RebuildProfile: %v", err)
	}

	p := repo.profile
	if p == nil {
		t.Fatal("profile not written")
	}

	if p.PositiveCount != 2 || p.NegativeCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", p.PositiveCount, p.NegativeCount)
	}

	// Seed {1,0}, then blend {0,1} at alpha 0.2 → {0.8, 0.2}.
	if math.Abs(float64(p.PositiveVector[0])-0.8) > 1e-6 || math.Abs(float64(p.PositiveVector[1])-0.2) > 1e-6 {
		t.Errorf("positive vector = %v, want {0.8, 0.2}", p.PositiveVector)
	}

	if p.NegativeVector[0] != 1 || p.NegativeVector[1] != 1 {
		t.Errorf("negative vector = %v, want the single seed", p.NegativeVector)
	}
}

func TestRebuildProfileSkipsVectorlessEvents(t *testing.T) {
	repo := &fakeRepo{rows: []storage.FeedbackRow{
		row(domain.FeedbackLike, nil),
		row(domain.FeedbackLike, []float32{1, 0}),
	}}

	nop := zerolog.Nop()
	engine := NewEngine(repo, 0.2, 30, &nop)

	if err := engine.RebuildProfile(context.Background(), "u1", "t1"); err != nil {
		t.Fatalf("RebuildProfile: %v", err)
	}

	p := repo.profile
	if p.PositiveCount != 2 {
		t.Errorf("count = %d, want vectorless events still counted", p.PositiveCount)
	}

	if len(p.PositiveVector) != 2 || p.PositiveVector[0] != 1 {
		t.Errorf("vector = %v, want the only embedded event as seed", p.PositiveVector)
	}
}

func TestRecordInsertsThenRebuilds(t *testing.T) {
	repo := &fakeRepo{}
	nop := zerolog.Nop()
	engine := NewEngine(repo, 0.2, 30, &nop)

	event := domain.FeedbackEvent{UserID: "u1", ContentItemID: "i1", Action: domain.FeedbackLike}
	if err := engine.Record(context.Background(), "t1", event); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if len(repo.events) != 1 {
		t.Fatalf("events = %d, want 1", len(repo.events))
	}

	if repo.profile == nil {
		t.Error("profile must be rebuilt after recording")
	}
}

func TestWeightsClampAndDirection(t *testing.T) {
	var rows []storage.FeedbackRow

	// 15 likes would push to 2.5; clamp holds at 2.0.
	for i := 0; i < 15; i++ {
		rows = append(rows, row(domain.FeedbackLike, nil))
	}

	rows = append(rows,
		storage.FeedbackRow{Action: domain.FeedbackSkip, SourceType: "reddit", Author: "bob"},
		storage.FeedbackRow{Action: domain.FeedbackDislike, SourceType: "reddit", Author: "bob"},
	)

	typeWeights, authorWeights := Weights(rows)

	if typeWeights["rss"] != 2.0 {
		t.Errorf("rss weight = %v, want clamp at 2.0", typeWeights["rss"])
	}

	if got := typeWeights["reddit"]; math.Abs(got-0.7) > 1e-9 {
		t.Errorf("reddit weight = %v, want 1 - 2*0.15", got)
	}

	if authorWeights["ada"] != 2.0 || math.Abs(authorWeights["bob"]-0.7) > 1e-9 {
		t.Errorf("author weights = %v", authorWeights)
	}
}
