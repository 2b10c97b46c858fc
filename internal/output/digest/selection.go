package digest

// SelectionStats describes the diversity selection outcome.
type SelectionStats struct {
	Considered     int
	Selected       int
	TriageFiltered int
	TypeCounts     map[string]int
	SourceCounts   map[string]int
}

// selectDiverse picks the final top maxItems from the ranked list with soft
// penalties against source and type domination. Cluster candidates bump the
// counts of every member source so a dominant cluster pays for its whole
// membership.
func selectDiverse(ranked []*Candidate, maxItems int, alphaType, alphaSource float64, requireTriage bool) ([]*Candidate, SelectionStats) {
	stats := SelectionStats{
		TypeCounts:   map[string]int{},
		SourceCounts: map[string]int{},
	}

	pool := make([]*Candidate, 0, len(ranked))

	for _, c := range ranked {
		if requireTriage && c.Triage == nil {
			stats.TriageFiltered++
			continue
		}

		pool = append(pool, c)
	}

	stats.Considered = len(pool)

	var selected []*Candidate

	for len(selected) < maxItems && len(pool) > 0 {
		bestIdx := -1
		bestScore := 0.0

		for i, c := range pool {
			adjusted := c.Score / (1 +
				alphaType*float64(stats.TypeCounts[c.Item.SourceType]) +
				alphaSource*float64(stats.SourceCounts[c.Item.SourceID]))

			if bestIdx == -1 || adjusted > bestScore {
				bestIdx, bestScore = i, adjusted
			}
		}

		pick := pool[bestIdx]
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
		selected = append(selected, pick)

		bump(stats.TypeCounts, pick.Item.SourceType)
		bump(stats.SourceCounts, pick.Item.SourceID)

		for _, sourceID := range pick.MemberSourceIDs {
			if sourceID != pick.Item.SourceID {
				bump(stats.SourceCounts, sourceID)
			}
		}

		for _, sourceType := range pick.MemberSourceTypes {
			if sourceType != pick.Item.SourceType {
				bump(stats.TypeCounts, sourceType)
			}
		}
	}

	stats.Selected = len(selected)

	return selected, stats
}

func bump(counts map[string]int, key string) {
	counts[key]++
}
