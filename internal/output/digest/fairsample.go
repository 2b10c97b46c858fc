package digest

import (
	"math"
	"sort"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

// SampleStats describes one fair-sampling pass.
type SampleStats struct {
	BucketCount   int
	Groups        int
	UniqueTypes   int
	UniqueSources int
	Trimmed       int
}

// samplePool stratifies candidates across (sourceType, sourceId, timeBucket)
// so high-volume sources do not starve quieter ones, then trims the union to
// maxPoolSize by heuristic score.
func samplePool(candidates []*Candidate, window domain.Window, maxPoolSize int) ([]*Candidate, SampleStats) {
	stats := SampleStats{}
	stats.UniqueTypes, stats.UniqueSources = countFacets(candidates)

	if maxPoolSize <= 0 || len(candidates) <= maxPoolSize {
		return candidates, stats
	}

	windowHours := window.End.Sub(window.Start).Hours()
	bucketCount := int(clamp(3, 12, math.Round(windowHours/2)))
	stats.BucketCount = bucketCount

	windowMs := window.End.Sub(window.Start).Milliseconds()

	type groupKey struct {
		sourceType string
		sourceID   string
		bucket     int
	}

	groups := map[groupKey][]*Candidate{}
	order := []groupKey{}

	for _, c := range candidates {
		offset := c.At().Sub(window.Start).Milliseconds()
		bucket := int(float64(offset) / float64(windowMs) * float64(bucketCount))

		if bucket < 0 {
			bucket = 0
		}

		if bucket > bucketCount-1 {
			bucket = bucketCount - 1
		}

		key := groupKey{sourceType: c.Item.SourceType, sourceID: c.Item.SourceID, bucket: bucket}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}

		groups[key] = append(groups[key], c)
	}

	stats.Groups = len(groups)
	kPerGroup := int(math.Ceil(float64(maxPoolSize) / float64(len(groups))))

	if kPerGroup < 1 {
		kPerGroup = 1
	}

	var union []*Candidate

	for _, key := range order {
		group := groups[key]
		sortByHeuristic(group)

		take := kPerGroup
		if take > len(group) {
			take = len(group)
		}

		union = append(union, group[:take]...)
	}

	if len(union) > maxPoolSize {
		stats.Trimmed = len(union) - maxPoolSize
		union = trimKeepingTypes(union, maxPoolSize)
	}

	return union, stats
}

// trimKeepingTypes cuts the union to maxPoolSize by heuristic score, but
// reserves the best candidate of each source type first so the trim never
// erases a type entirely.
func trimKeepingTypes(union []*Candidate, maxPoolSize int) []*Candidate {
	sortByHeuristic(union)

	kept := make([]*Candidate, 0, maxPoolSize)
	seenType := map[string]bool{}
	picked := map[*Candidate]bool{}

	for _, c := range union {
		if len(kept) >= maxPoolSize {
			break
		}

		if !seenType[c.Item.SourceType] {
			seenType[c.Item.SourceType] = true
			picked[c] = true

			kept = append(kept, c)
		}
	}

	for _, c := range union {
		if len(kept) >= maxPoolSize {
			break
		}

		if !picked[c] {
			kept = append(kept, c)
		}
	}

	sortByHeuristic(kept)

	return kept
}

// sortByHeuristic orders by heuristic desc with the candidate id as a stable
// tie-breaker.
func sortByHeuristic(candidates []*Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Heuristic != candidates[j].Heuristic {
			return candidates[i].Heuristic > candidates[j].Heuristic
		}

		return candidates[i].ID() < candidates[j].ID()
	})
}

func countFacets(candidates []*Candidate) (types, sources int) {
	typeSet := map[string]struct{}{}
	sourceSet := map[string]struct{}{}

	for _, c := range candidates {
		typeSet[c.Item.SourceType] = struct{}{}
		sourceSet[c.Item.SourceID] = struct{}{}
	}

	return len(typeSet), len(sourceSet)
}
