package digest

import (
	"fmt"
	"testing"
	"time"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/storage"
)

func testWindow(hours int) domain.Window {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	return domain.Window{Start: start, End: start.Add(time.Duration(hours) * time.Hour)}
}

func testCandidate(id, sourceID, sourceType string, at time.Time, heuristic float64) *Candidate {
	return &Candidate{
		Item: storage.CandidateItem{
			ID:         id,
			SourceID:   sourceID,
			SourceType: sourceType,
			At:         at,
		},
		Heuristic: heuristic,
	}
}

func TestSamplePoolPassesThroughSmallInput(t *testing.T) {
	window := testWindow(24)
	candidates := []*Candidate{
		testCandidate("a", "s1", "rss", window.Start.Add(time.Hour), 0.5),
		testCandidate("b", "s2", "reddit", window.Start.Add(2*time.Hour), 0.6),
	}

	pool, _ := samplePool(candidates, window, 10)
	if len(pool) != 2 {
		t.Fatalf("pool = %d, want all candidates when under the cap", len(pool))
	}
}

func TestSamplePoolKeepsQuietSourceAlive(t *testing.T) {
	// A loud source with 10 mid-score items and a quiet one with 2 strong
	// items over a 2h window: the quiet source must keep both slots.
	window := testWindow(2)

	var candidates []*Candidate

	for i := 0; i < 10; i++ {
		candidates = append(candidates, testCandidate(
			fmt.Sprintf("a%d", i), "sourceA", "rss",
			window.Start.Add(time.Duration(i)*10*time.Minute),
			0.50+float64(i)*0.01))
	}

	candidates = append(candidates,
		testCandidate("b0", "sourceB", "rss", window.Start.Add(30*time.Minute), 0.90),
		testCandidate("b1", "sourceB", "rss", window.Start.Add(90*time.Minute), 0.85),
	)

	pool, stats := samplePool(candidates, window, 6)

	if len(pool) > 6 {
		t.Fatalf("pool = %d, want at most 6", len(pool))
	}

	if stats.BucketCount != 3 {
		t.Errorf("bucket count = %d, want 3 for a 2h window", stats.BucketCount)
	}

	got := map[string]bool{}
	for _, c := range pool {
		got[c.Item.ID] = true
	}

	if !got["b0"] || !got["b1"] {
		t.Errorf("quiet source candidates missing from pool: %v", got)
	}
}

func TestSamplePoolCoversEveryType(t *testing.T) {
	window := testWindow(24)

	var candidates []*Candidate

	for i := 0; i < 20; i++ {
		candidates = append(candidates, testCandidate(
			fmt.Sprintf("r%d", i), "s1", "rss",
			window.Start.Add(time.Duration(i)*time.Hour), 0.9))
	}

	candidates = append(candidates,
		testCandidate("h0", "s2", "hn", window.Start.Add(time.Hour), 0.1))

	pool, _ := samplePool(candidates, window, 8)

	hasHN := false

	for _, c := range pool {
		if c.Item.SourceType == "hn" {
			hasHN = true
		}
	}

	if !hasHN {
		t.Error("stratification must keep at least one candidate per source type")
	}
}
