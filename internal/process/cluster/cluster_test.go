package cluster

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/core/embeddings"
	"github.com/lensfeed/lensfeed/internal/storage"
)

type fakeCluster struct {
	id          string
	centroid    []float32
	memberCount int
	members     []string
}

// fakeRepo keeps clusters in memory and mirrors the incremental centroid
// update so assignment order is observable.
type fakeRepo struct {
	items    []storage.VectorItem
	clusters []*fakeCluster
}

func (f *fakeRepo) ListUnclusteredItems(_ context.Context, _ string, _ domain.Window, _ int) ([]storage.VectorItem, error) {
	return f.items, nil
}

func (f *fakeRepo) FindNearestHotCluster(_ context.Context, _ string, vector []float32, _ time.Time) (*storage.NearestCluster, error) {
	var (
		best    *fakeCluster
		bestSim float64
	)

	for _, c := range f.clusters {
		sim := embeddings.CosineSimilarity(vector, c.centroid)
		if best == nil || sim > bestSim {
			best, bestSim = c, sim
		}
	}

	if best == nil {
		return nil, nil //nolint:nilnil // not found is not an error
	}

	return &storage.NearestCluster{ClusterID: best.id, Similarity: bestSim, MemberCount: best.memberCount}, nil
}

func (f *fakeRepo) CreateCluster(_ context.Context, _, itemID string, vector []float32, _ time.Time) (string, error) {
	c := &fakeCluster{
		id:          fmt.Sprintf("c%d", len(f.clusters)+1),
		centroid:    append([]float32(nil), vector...),
		memberCount: 1,
		members:     []string{itemID},
	}
	f.clusters = append(f.clusters, c)

	return c.id, nil
}

func (f *fakeRepo) AssignToCluster(_ context.Context, clusterID, itemID string, _ float64, vector []float32, updateCentroid bool, _ time.Time) error {
	for _, c := range f.clusters {
		if c.id != clusterID {
			continue
		}

		c.members = append(c.members, itemID)

		if updateCentroid {
			n := float32(c.memberCount)
			for i := range c.centroid {
				c.centroid[i] = (c.centroid[i]*n + vector[i]) / (n + 1)
			}
		}

		c.memberCount++

		return nil
	}

	return fmt.Errorf("unknown cluster %s", clusterID)
}

func window() domain.Window {
	return domain.Window{
		Start: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC),
	}
}

func item(id string, hour int, vector []float32) storage.VectorItem {
	return storage.VectorItem{
		ID:     id,
		At:     time.Date(2026, 1, 5, hour, 0, 0, 0, time.UTC),
		Vector: vector,
	}
}

func run(t *testing.T, repo *fakeRepo, cfg Config) *Result {
	t.Helper()

	nop := zerolog.Nop()

	result, err := NewStage(repo, &nop).Run(context.Background(),
		domain.Topic{ID: "t1", UserID: "u1"}, window(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	return result
}

func TestRunSeedsClusterWhenNothingIsClose(t *testing.T) {
	repo := &fakeRepo{items: []storage.VectorItem{
		item("a", 1, []float32{1, 0, 0}),
		item("b", 2, []float32{0, 1, 0}),
	}}

	result := run(t, repo, DefaultConfig())

	if result.Created != 2 || result.Assigned != 0 {
		t.Errorf("result = %+v, want two new clusters", result)
	}
}

func TestRunAssignsAboveThreshold(t *testing.T) {
	repo := &fakeRepo{items: []storage.VectorItem{
		item("a", 1, []float32{1, 0, 0}),
		item("b", 2, []float32{0.99, 0.1, 0}),
	}}

	result := run(t, repo, DefaultConfig())

	if result.Created != 1 || result.Assigned != 1 {
		t.Fatalf("result = %+v, want one cluster with a joined member", result)
	}

	c := repo.clusters[0]
	if len(c.members) != 2 || c.memberCount != 2 {
		t.Errorf("cluster = %+v, want both items", c)
	}
}

func TestRunUpdatesCentroidIncrementally(t *testing.T) {
	repo := &fakeRepo{items: []storage.VectorItem{
		item("a", 1, []float32{1, 0}),
		item("b", 2, []float32{0.9, 0.1}),
	}}

	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 0.9

	run(t, repo, cfg)

	c := repo.clusters[0]
	if got := c.centroid[0]; got < 0.94 || got > 0.96 {
		t.Errorf("centroid[0] = %v, want the running mean 0.95", got)
	}
}

func TestRunFrozenCentroidStillCountsMembers(t *testing.T) {
	repo := &fakeRepo{items: []storage.VectorItem{
		item("a", 1, []float32{1, 0}),
		item("b", 2, []float32{0.95, 0.05}),
	}}

	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 0.9
	cfg.UpdateCentroid = false

	run(t, repo, cfg)

	c := repo.clusters[0]
	if c.centroid[0] != 1 {
		t.Errorf("centroid moved to %v with updates disabled", c.centroid)
	}

	if c.memberCount != 2 {
		t.Errorf("member count = %d, want 2", c.memberCount)
	}
}
