package discovery

import (
	"math"
	"sort"
	"time"
)

// Priority weights: quality dominates, cost subtracts, free sources get a
// small bonus.
const (
	qualityWeight = 0.7
	costWeight    = 0.3
	freeBonus     = 0.1
)

// QualityScore rates a source on provenance, peer review, recency and
// citation count, clamped to [0, 1].
func QualityScore(s Source) float64 {
	score := 0.5
	if s.Pool == PoolAcademic {
		score += 0.1
	}
	if s.PeerReviewed {
		score += 0.2
	}
	switch {
	case s.Citations > 100:
		score += 0.2
	case s.Citations > 10:
		score += 0.1
	}
	if s.Year > 0 && s.Year >= time.Now().Year()-5 {
		score += 0.1
	}
	return clamp01(score)
}

// CostScore rates access cost: free sources are 0, paywalled or proprietary
// 0.8, unknown 0.3.
func CostScore(s Source) float64 {
	switch {
	case s.Paywalled:
		return 0.8
	case s.Free:
		return 0.0
	default:
		return 0.3
	}
}

// Prioritize fills in the Quality, Cost and Priority fields.
func Prioritize(s Source) Source {
	s.Quality = QualityScore(s)
	s.Cost = CostScore(s)
	s.Priority = qualityWeight*s.Quality - costWeight*s.Cost
	if s.Free && !s.Paywalled {
		s.Priority += freeBonus
	}
	return s
}

// RankDiverse orders sources by priority while enforcing source-type
// diversity: at most ceil(max/3) per type until the quota is met, then the
// remainder fills by priority alone.
func RankDiverse(sources []Source, max int) []Source {
	if max <= 0 || len(sources) == 0 {
		return nil
	}

	bySort := make([]Source, len(sources))
	copy(bySort, sources)
	sortByPriority(bySort)

	perType := int(math.Ceil(float64(max) / 3.0))
	typeCounts := make(map[string]int)
	picked := make([]Source, 0, max)
	var overflow []Source

	for _, s := range bySort {
		if len(picked) >= max {
			break
		}
		if typeCounts[s.SourceType] < perType {
			typeCounts[s.SourceType]++
			picked = append(picked, s)
		} else {
			overflow = append(overflow, s)
		}
	}
	for _, s := range overflow {
		if len(picked) >= max {
			break
		}
		picked = append(picked, s)
	}

	sortByPriority(picked)
	return picked
}

func sortByPriority(sources []Source) {
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Priority > sources[j].Priority
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
