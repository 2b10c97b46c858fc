package digest

import (
	"math"
	"sort"
)

// AllocationStats describes how the triage budget was split.
type AllocationStats struct {
	ExplorationBudget int
	Exploration       int
	Exploitation      int
	TypesCovered      int
}

// allocateTriage splits the triage call budget into an exploration phase
// (fair coverage across source types and sources) and an exploitation phase
// (global top by heuristic). The returned order is exploration first, both
// phases sorted by heuristic desc.
func allocateTriage(candidates []*Candidate, maxTriageCalls int, explorationFraction float64) ([]*Candidate, AllocationStats) {
	stats := AllocationStats{}

	if maxTriageCalls <= 0 {
		return nil, stats
	}

	if len(candidates) <= maxTriageCalls {
		all := append([]*Candidate(nil), candidates...)
		sortByHeuristic(all)

		stats.Exploration = len(all)
		stats.TypesCovered, _ = countFacets(all)

		return all, stats
	}

	explorationBudget := int(math.Floor(float64(maxTriageCalls) * explorationFraction))
	if explorationBudget < 1 {
		explorationBudget = 1
	}

	stats.ExplorationBudget = explorationBudget

	byType := map[string]map[string][]*Candidate{}

	for _, c := range candidates {
		sources, ok := byType[c.Item.SourceType]
		if !ok {
			sources = map[string][]*Candidate{}
			byType[c.Item.SourceType] = sources
		}

		sources[c.Item.SourceID] = append(sources[c.Item.SourceID], c)
	}

	basePerType := explorationBudget / len(byType)
	if basePerType < 2 {
		basePerType = 2
	}

	picked := map[*Candidate]bool{}

	var exploration []*Candidate

	for _, sourceType := range sortedKeys(byType) {
		sources := byType[sourceType]

		basePerSource := basePerType / len(sources)
		if basePerSource < 1 {
			basePerSource = 1
		}

		typeTaken := 0

		for _, sourceID := range sortedKeys(sources) {
			group := append([]*Candidate(nil), sources[sourceID]...)
			sortByHeuristic(group)

			sourceTaken := 0

			for _, c := range group {
				if typeTaken >= basePerType || sourceTaken >= basePerSource {
					break
				}

				exploration = append(exploration, c)
				picked[c] = true
				typeTaken++
				sourceTaken++
			}
		}
	}

	sortByHeuristic(exploration)

	if len(exploration) > explorationBudget {
		for _, c := range exploration[explorationBudget:] {
			delete(picked, c)
		}

		exploration = exploration[:explorationBudget]
	}

	exploitationBudget := maxTriageCalls - len(exploration)

	var remainder []*Candidate

	for _, c := range candidates {
		if !picked[c] {
			remainder = append(remainder, c)
		}
	}

	sortByHeuristic(remainder)

	if len(remainder) > exploitationBudget {
		remainder = remainder[:exploitationBudget]
	}

	stats.Exploration = len(exploration)
	stats.Exploitation = len(remainder)
	stats.TypesCovered, _ = countFacets(exploration)

	return append(exploration, remainder...), stats
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
