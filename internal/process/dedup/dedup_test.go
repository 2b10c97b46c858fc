package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/core/embeddings"
	"github.com/lensfeed/lensfeed/internal/storage"
)

// fakeRepo answers neighbor lookups from an in-memory item list using real
// cosine similarity, honoring the strictly-older rule.
type fakeRepo struct {
	items  []storage.VectorItem
	marked map[string]string
}

func (f *fakeRepo) ListDedupeCandidates(_ context.Context, _ string, _ domain.Window, limit int) ([]storage.VectorItem, error) {
	if limit < len(f.items) {
		return f.items[:limit], nil
	}

	return f.items, nil
}

func (f *fakeRepo) FindNearestOlderNeighbor(_ context.Context, _, itemID string, at time.Time, vector []float32, lookbackStart time.Time) (*storage.Neighbor, error) {
	var best *storage.Neighbor

	for _, other := range f.items {
		if other.ID == itemID || f.marked[other.ID] != "" {
			continue
		}

		if !other.At.Before(at) || other.At.Before(lookbackStart) {
			continue
		}

		sim := embeddings.CosineSimilarity(vector, other.Vector)
		if best == nil || sim > best.Similarity {
			best = &storage.Neighbor{ContentItemID: other.ID, Similarity: sim}
		}
	}

	return best, nil
}

func (f *fakeRepo) MarkDuplicate(_ context.Context, itemID, duplicateOfID string) error {
	if f.marked == nil {
		f.marked = map[string]string{}
	}

	f.marked[itemID] = duplicateOfID

	return nil
}

func at(hour int) time.Time {
	return time.Date(2026, 1, 5, hour, 0, 0, 0, time.UTC)
}

func window() domain.Window {
	return domain.Window{Start: at(0), End: at(24)}
}

func TestRunMarksNewerOfNearIdenticalPair(t *testing.T) {
	repo := &fakeRepo{items: []storage.VectorItem{
		{ID: "old", At: at(10), Vector: []float32{1, 0, 0.01}},
		{ID: "new", At: at(14), Vector: []float32{1, 0, 0}},
	}}

	nop := zerolog.Nop()
	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 0.99

	result, err := NewStage(repo, &nop).Run(context.Background(), domain.Topic{ID: "t1"}, window(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Attempted != 2 || result.Matches != 1 || result.Deduped != 1 {
		t.Errorf("result = %+v, want {2,1,1}", result)
	}

	if repo.marked["new"] != "old" {
		t.Errorf("marked = %v, want the 14:00 item pointing at the 10:00 item", repo.marked)
	}

	if repo.marked["old"] != "" {
		t.Error("the older item must never be marked")
	}
}

func TestRunNeverMarksAgainstNewerItem(t *testing.T) {
	// Only item; identical vector exists but is newer, so no neighbor.
	repo := &fakeRepo{items: []storage.VectorItem{
		{ID: "a", At: at(10), Vector: []float32{1, 0, 0}},
		{ID: "b", At: at(14), Vector: []float32{1, 0, 0}},
	}}

	nop := zerolog.Nop()

	result, err := NewStage(repo, &nop).Run(context.Background(), domain.Topic{ID: "t1"}, window(), DefaultConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// b is marked against a; a finds no older neighbor.
	if repo.marked["a"] != "" {
		t.Error("item with no older neighbor must stay unmarked")
	}

	if repo.marked["b"] != "a" {
		t.Errorf("marked = %v", repo.marked)
	}

	if result.Deduped != 1 {
		t.Errorf("deduped = %d, want 1", result.Deduped)
	}
}

func TestRunBelowThresholdLeavesItems(t *testing.T) {
	repo := &fakeRepo{items: []storage.VectorItem{
		{ID: "a", At: at(10), Vector: []float32{1, 0, 0}},
		{ID: "b", At: at(14), Vector: []float32{0, 1, 0}},
	}}

	nop := zerolog.Nop()

	result, err := NewStage(repo, &nop).Run(context.Background(), domain.Topic{ID: "t1"}, window(), DefaultConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Matches != 0 || len(repo.marked) != 0 {
		t.Errorf("orthogonal vectors must not match: %+v %v", result, repo.marked)
	}
}
