package digest

import (
	"math"
	"sort"
	"time"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

// Weights are the linear coefficients of the ranking formula.
type Weights struct {
	Aha       float64
	Heuristic float64
	Pref      float64
	Signal    float64
	Novelty   float64
}

// DefaultWeights returns the production ranking weights. The signal weight is
// zero unless corroboration is enabled.
func DefaultWeights() Weights {
	return Weights{
		Aha:       0.8,
		Heuristic: 0.15,
		Pref:      0.15,
		Signal:    0,
		Novelty:   0.05,
	}
}

// rankContext carries everything the ranking formula needs beyond the
// candidate itself.
type rankContext struct {
	weights            Weights
	typeWeights        map[string]float64 // configured per source type
	sourceWeights      map[string]float64 // per source row weight
	userTypeWeights    map[string]float64 // feedback-derived, [0.5, 2.0]
	authorWeights      map[string]float64 // feedback-derived, [0.5, 2.0]
	calibration        map[string]float64 // per-source aha offset
	calibrationEnabled bool
	signalEnabled      bool
	decayHours         float64
	windowEnd          time.Time
}

// rankCandidates scores every candidate, attaches the explainability
// triage_json, and sorts by score desc, timestamp desc, id asc. The third
// key makes the order deterministic for identical inputs.
func rankCandidates(candidates []*Candidate, rc rankContext) {
	for _, c := range candidates {
		score(c, rc)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}

		if !candidates[i].At().Equal(candidates[j].At()) {
			return candidates[i].At().After(candidates[j].At())
		}

		return candidates[i].ID() < candidates[j].ID()
	})
}

func score(c *Candidate, rc rankContext) {
	aha01 := c.Heuristic
	if c.Triage != nil {
		aha01 = float64(c.Triage.AIScore) / 100
	}

	calibrationOffset := 0.0
	if rc.calibrationEnabled {
		calibrationOffset = rc.calibration[c.Item.SourceID]
		aha01 = clamp01(aha01 + calibrationOffset)
	}

	pref := deref(c.PositiveSim) - deref(c.NegativeSim)

	signal01 := 0.0
	if c.SignalMatched {
		signal01 = 1
	}

	var base float64
	if c.Triage != nil {
		base = rc.weights.Aha*aha01 + rc.weights.Heuristic*c.Heuristic + rc.weights.Pref*pref
	} else {
		base = c.Heuristic + rc.weights.Pref*pref
	}

	preWeight := base + rc.weights.Signal*signal01 + rc.weights.Novelty*c.Novelty01

	typeWeight := weightOr1(rc.typeWeights, c.Item.SourceType)
	sourceWeight := weightOr1(rc.sourceWeights, c.Item.SourceID)
	sourceEffective := clamp(0.1, 3.0, typeWeight*sourceWeight)

	userTypeWeight := weightOr1(rc.userTypeWeights, c.Item.SourceType)
	authorWeight := weightOr1(rc.authorWeights, c.Item.Author)
	userPref := clamp(0.5, 2.0, userTypeWeight*authorWeight)

	ageHours := rc.windowEnd.Sub(c.At()).Hours()

	decay := 1.0
	if rc.decayHours > 0 {
		decay = math.Exp(-ageHours / rc.decayHours)
	}

	c.Score = preWeight * sourceEffective * userPref * decay

	c.TriageJSON = triageJSON(c, rc, scoreDebug{
		aha01:             aha01,
		pref:              pref,
		signal01:          signal01,
		base:              base,
		preWeight:         preWeight,
		typeWeight:        typeWeight,
		sourceWeight:      sourceWeight,
		sourceEffective:   sourceEffective,
		userTypeWeight:    userTypeWeight,
		authorWeight:      authorWeight,
		userPref:          userPref,
		ageHours:          ageHours,
		decay:             decay,
		calibrationOffset: calibrationOffset,
	})
}

type scoreDebug struct {
	aha01             float64
	pref              float64
	signal01          float64
	base              float64
	preWeight         float64
	typeWeight        float64
	sourceWeight      float64
	sourceEffective   float64
	userTypeWeight    float64
	authorWeight      float64
	userPref          float64
	ageHours          float64
	decay             float64
	calibrationOffset float64
}

// triageJSON copies the triage fields (when present) and attaches the
// versioned system_features block explaining every contributing feature.
func triageJSON(c *Candidate, rc rankContext, d scoreDebug) map[string]any {
	out := map[string]any{}

	if c.Triage != nil {
		out = triageFields(*c.Triage)
	}

	out["system_features"] = map[string]any{
		"signal_corroboration_v1": map[string]any{
			"enabled": rc.signalEnabled,
			"matched": c.SignalMatched,
		},
		"novelty_v1": map[string]any{
			"novelty01": c.Novelty01,
		},
		"source_weight_v1": map[string]any{
			"type_weight":   d.typeWeight,
			"source_weight": d.sourceWeight,
			"effective":     d.sourceEffective,
		},
		"user_preference_v1": map[string]any{
			"source_type_weight": d.userTypeWeight,
			"author_weight":      d.authorWeight,
			"effective":          d.userPref,
		},
		"recency_decay_v1": map[string]any{
			"age_hours":   d.ageHours,
			"decay_hours": rc.decayHours,
			"decay":       d.decay,
		},
		"source_calibration_v1": map[string]any{
			"enabled": rc.calibrationEnabled,
			"offset":  d.calibrationOffset,
		},
		"score_debug_v1": map[string]any{
			"weights": map[string]any{
				"aha":       rc.weights.Aha,
				"heuristic": rc.weights.Heuristic,
				"pref":      rc.weights.Pref,
				"signal":    rc.weights.Signal,
				"novelty":   rc.weights.Novelty,
			},
			"inputs": map[string]any{
				"triaged":      c.Triage != nil,
				"aha01":        d.aha01,
				"heuristic":    c.Heuristic,
				"recency01":    c.Recency01,
				"engagement01": c.Engagement01,
				"positive_sim": c.PositiveSim,
				"negative_sim": c.NegativeSim,
				"pref":         d.pref,
				"signal01":     d.signal01,
				"novelty01":    c.Novelty01,
			},
			"components": map[string]any{
				"base":       d.base,
				"pre_weight": d.preWeight,
			},
			"multipliers": map[string]any{
				"source_effective": d.sourceEffective,
				"user_preference":  d.userPref,
				"decay":            d.decay,
			},
			"score": c.Score,
		},
	}

	return out
}

func triageFields(t domain.TriageOutput) map[string]any {
	return map[string]any{
		"schema_version":        t.SchemaVersion,
		"prompt_id":             t.PromptID,
		"provider":              t.Provider,
		"model":                 t.Model,
		"ai_score":              t.AIScore,
		"reason":                t.Reason,
		"is_relevant":           t.IsRelevant,
		"is_novel":              t.IsNovel,
		"categories":            t.Categories,
		"should_deep_summarize": t.ShouldDeepSummarize,
		"topic":                 t.Topic,
		"one_liner":             t.OneLiner,
	}
}

func weightOr1(weights map[string]float64, key string) float64 {
	if w, ok := weights[key]; ok {
		return w
	}

	return 1
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}

	return *v
}
