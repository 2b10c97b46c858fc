package digest

import (
	"math"
	"testing"
	"time"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

func rankCtx(window domain.Window) rankContext {
	return rankContext{
		weights:   DefaultWeights(),
		windowEnd: window.End,
	}
}

func TestScoreUntriagedUsesHeuristicBase(t *testing.T) {
	window := testWindow(24)
	c := testCandidate("a", "s1", "rss", window.End.Add(-time.Hour), 0.7)

	score(c, rankCtx(window))

	// base = heuristic, no pref, multipliers all 1, no decay configured.
	if math.Abs(c.Score-0.7) > 1e-9 {
		t.Errorf("score = %v, want the bare heuristic 0.7", c.Score)
	}
}

func TestScoreTriagedBlendsAhaAndHeuristic(t *testing.T) {
	window := testWindow(24)
	c := testCandidate("a", "s1", "rss", window.End.Add(-time.Hour), 0.5)
	c.Triage = &domain.TriageOutput{AIScore: 90}

	score(c, rankCtx(window))

	want := 0.8*0.9 + 0.15*0.5
	if math.Abs(c.Score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", c.Score, want)
	}
}

func TestScoreAppliesPreferenceAndDecay(t *testing.T) {
	window := testWindow(24)
	c := testCandidate("a", "s1", "rss", window.End.Add(-12*time.Hour), 0.5)

	pos, neg := 0.6, 0.1
	c.PositiveSim = &pos
	c.NegativeSim = &neg

	rc := rankCtx(window)
	rc.decayHours = 24
	rc.userTypeWeights = map[string]float64{"rss": 1.5}

	score(c, rankCtx(window))

	plain := c.Score

	score(c, rc)

	want := plain * 1.5 * math.Exp(-12.0/24)
	if math.Abs(c.Score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", c.Score, want)
	}
}

func TestScoreClampsMultipliers(t *testing.T) {
	window := testWindow(24)
	c := testCandidate("a", "s1", "rss", window.End.Add(-time.Hour), 0.5)

	rc := rankCtx(window)
	rc.typeWeights = map[string]float64{"rss": 10}
	rc.sourceWeights = map[string]float64{"s1": 10}
	rc.userTypeWeights = map[string]float64{"rss": 5}
	rc.authorWeights = map[string]float64{"": 5}

	score(c, rc)

	features := c.TriageJSON["system_features"].(map[string]any)
	sourceWeight := features["source_weight_v1"].(map[string]any)

	if sourceWeight["effective"] != 3.0 {
		t.Errorf("source multiplier = %v, want clamp at 3.0", sourceWeight["effective"])
	}

	userPref := features["user_preference_v1"].(map[string]any)
	if userPref["effective"] != 2.0 {
		t.Errorf("user preference multiplier = %v, want clamp at 2.0", userPref["effective"])
	}
}

func TestScoreCalibrationOffset(t *testing.T) {
	window := testWindow(24)
	c := testCandidate("a", "s1", "rss", window.End.Add(-time.Hour), 0.5)
	c.Triage = &domain.TriageOutput{AIScore: 95}

	rc := rankCtx(window)
	rc.calibrationEnabled = true
	rc.calibration = map[string]float64{"s1": 0.2}

	score(c, rc)

	// 0.95 + 0.2 clamps to 1.0.
	want := 0.8*1.0 + 0.15*0.5
	if math.Abs(c.Score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", c.Score, want)
	}
}

func TestRankOrderIsDeterministic(t *testing.T) {
	window := testWindow(24)

	build := func() []*Candidate {
		a := testCandidate("aaa", "s1", "rss", window.End.Add(-time.Hour), 0.5)
		b := testCandidate("bbb", "s1", "rss", window.End.Add(-time.Hour), 0.5)
		c := testCandidate("ccc", "s2", "reddit", window.End.Add(-2*time.Hour), 0.9)

		return []*Candidate{c, b, a}
	}

	first := build()
	second := build()

	rankCandidates(first, rankCtx(window))
	rankCandidates(second, rankCtx(window))

	for i := range first {
		if first[i].Item.ID != second[i].Item.ID {
			t.Fatalf("order differs at %d: %s vs %s", i, first[i].Item.ID, second[i].Item.ID)
		}
	}

	// Equal score and timestamp fall back to id asc.
	if first[1].Item.ID != "aaa" || first[2].Item.ID != "bbb" {
		t.Errorf("tie-break order = %v, want id asc", ids(first))
	}
}

func TestTriageJSONCarriesSystemFeatures(t *testing.T) {
	window := testWindow(24)
	c := testCandidate("a", "s1", "rss", window.End.Add(-time.Hour), 0.5)
	c.Triage = &domain.TriageOutput{AIScore: 80, OneLiner: "worth a look"}
	c.SignalMatched = true
	c.Novelty01 = 0.4

	rc := rankCtx(window)
	rc.signalEnabled = true
	rc.weights.Signal = 0.1

	score(c, rc)

	if c.TriageJSON["one_liner"] != "worth a look" {
		t.Error("triage fields must be copied into triage_json")
	}

	features, ok := c.TriageJSON["system_features"].(map[string]any)
	if !ok {
		t.Fatal("system_features block missing")
	}

	for _, key := range []string{
		"signal_corroboration_v1", "novelty_v1", "source_weight_v1",
		"user_preference_v1", "recency_decay_v1", "source_calibration_v1",
		"score_debug_v1",
	} {
		if _, ok := features[key]; !ok {
			t.Errorf("system_features missing %s", key)
		}
	}

	debug := features["score_debug_v1"].(map[string]any)
	if debug["score"] != c.Score {
		t.Errorf("score_debug score = %v, want %v", debug["score"], c.Score)
	}
}
