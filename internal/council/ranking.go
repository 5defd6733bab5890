package council

import (
	"regexp"
	"sort"
)

var (
	finalRankingBlock = regexp.MustCompile(`(?is)FINAL RANKING[:\s]*\n((?:[\d]+[.\)]\s*Response\s+[A-Z].*\n?)+)`)
	responseLabel     = regexp.MustCompile(`Response\s+([A-Z])`)
)

// parseRankingFromText extracts an ordered list of "Response X" labels from
// an evaluator's free-text ranking, preferring a "FINAL RANKING:" numbered
// block and falling back to the order of first mention across the text.
func parseRankingFromText(text string) []string {
	if m := finalRankingBlock.FindStringSubmatch(text); m != nil {
		labels := responseLabel.FindAllStringSubmatch(m[1], -1)
		ordered := make([]string, 0, len(labels))
		for _, l := range labels {
			ordered = append(ordered, labelPrefix+l[1])
		}
		return ordered
	}

	all := responseLabel.FindAllStringSubmatch(text, -1)
	if len(all) == 0 {
		return nil
	}
	seen := map[string]bool{}
	ordered := make([]string, 0, len(all))
	for _, l := range all {
		label := l[1]
		if !seen[label] {
			seen[label] = true
			ordered = append(ordered, labelPrefix+label)
		}
	}
	return ordered
}

// createLabelMapping assigns anonymous letter labels "Response A", "Response
// B", ... to models in the order given.
func createLabelMapping(models []string) map[string]string {
	mapping := make(map[string]string, len(models))
	for i, model := range models {
		label := labelPrefix + string(rune('A'+i))
		mapping[label] = model
	}
	return mapping
}

// calculateAggregateRankings computes, for every label, the mean rank
// position across all evaluators' parsed rankings, sorted ascending (lower
// mean rank is better); ties are broken by the order labels first appeared
// across the evaluators' rankings.
func calculateAggregateRankings(rankings []Ranking, labelToModel map[string]string) []AggregateRank {
	positions := make(map[string][]int, len(labelToModel))
	order := make([]string, 0, len(labelToModel))
	for _, r := range rankings {
		for pos, label := range r.ParsedRanking {
			if _, ok := labelToModel[label]; !ok {
				continue
			}
			if _, seen := positions[label]; !seen {
				order = append(order, label)
			}
			positions[label] = append(positions[label], pos+1)
		}
	}

	results := make([]AggregateRank, 0, len(order))
	for _, label := range order {
		pos := positions[label]
		if len(pos) == 0 {
			continue
		}
		sum := 0
		for _, p := range pos {
			sum += p
		}
		avg := float64(sum) / float64(len(pos))
		results = append(results, AggregateRank{
			Model:       labelToModel[label],
			Label:       label,
			AverageRank: roundTo(avg, 2),
			VoteCount:   len(pos),
			Positions:   pos,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].AverageRank < results[j].AverageRank
	})
	return results
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int(v*mult+0.5)) / mult
}
