package main

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
)

var (
	numberedRankingPattern = regexp.MustCompile(`\d+\.\s*Response [A-Z]`)
	responseLabelPattern   = regexp.MustCompile(`Response [A-Z]`)
)

// ShortName returns the display name of a model identifier:
// the part after the provider prefix, or the whole identifier.
func ShortName(model string) string {
	if _, name, ok := strings.Cut(model, "/"); ok && name != "" {
		if i := strings.IndexByte(name, '/'); i >= 0 {
			name = name[:i]
		}
		if name != "" {
			return name
		}
	}
	return model
}

// DeAnonymize replaces every occurrence of each label in labelToModel with the
// emphasized short name of the model it stands for. Labels missing from the
// map are left as they are. Longer labels win over labels they contain and
// replaced text is never rescanned.
func DeAnonymize(text string, labelToModel map[string]string) string {
	if len(labelToModel) == 0 || text == "" {
		return text
	}

	labels := make([]string, 0, len(labelToModel))
	for label := range labelToModel {
		if label != "" {
			labels = append(labels, label)
		}
	}
	slices.SortFunc(labels, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	pairs := make([]string, 0, len(labels)*2)
	for _, label := range labels {
		pairs = append(pairs, label, "**"+ShortName(labelToModel[label])+"**")
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// AggregateOrder returns the server computed aggregate rankings as a total
// order over every model in the label map: ascending average rank, ties
// broken by model identifier. Models no evaluator ranked come last with a
// zero count. The metadata itself is not modified.
func AggregateOrder(meta Metadata) []AggregateRanking {
	out := make([]AggregateRanking, 0, len(meta.AggregateRankings))
	seen := make(map[string]bool, len(meta.AggregateRankings))
	for _, r := range meta.AggregateRankings {
		if seen[r.Model] {
			continue
		}
		seen[r.Model] = true
		out = append(out, r)
	}
	sortAggregate(out)

	var unranked []string
	for _, model := range meta.LabelToModel {
		if !seen[model] {
			seen[model] = true
			unranked = append(unranked, model)
		}
	}
	slices.Sort(unranked)
	for _, model := range unranked {
		out = append(out, AggregateRanking{Model: model})
	}
	return out
}

// ParseRankingFromText extracts the ranking from a model's response text.
// Looks for a "FINAL RANKING:" section and parses numbered responses (e.g., "1. Response A").
// Falls back to extracting any "Response X" patterns found in the text.
func ParseRankingFromText(rankingText string) []string {
	if _, section, ok := strings.Cut(rankingText, "FINAL RANKING:"); ok {
		if numbered := numberedRankingPattern.FindAllString(section, -1); len(numbered) > 0 {
			var results []string
			for _, match := range numbered {
				if label := responseLabelPattern.FindString(match); label != "" {
					results = append(results, label)
				}
			}
			return results
		}

		if matches := responseLabelPattern.FindAllString(section, -1); len(matches) > 0 {
			return matches
		}
	}

	return responseLabelPattern.FindAllString(rankingText, -1)
}

// CalculateAggregateRankings computes aggregate rankings across all evaluators.
// Each evaluator's parsed ranking is mapped through labelToModel; a model's
// rank from that evaluator is its 1-based position. Ranks are averaged per
// model and sorted ascending (lower is better), ties by model identifier.
func CalculateAggregateRankings(stage2Results []Stage2Ranking, labelToModel map[string]string) []AggregateRanking {
	modelPositions := make(map[string][]int)

	for _, ranking := range stage2Results {
		position := 0
		ranked := make(map[string]bool)
		for _, label := range ranking.ParsedRanking {
			model, ok := labelToModel[label]
			if !ok || ranked[model] {
				continue
			}
			ranked[model] = true
			position++
			modelPositions[model] = append(modelPositions[model], position)
		}
	}

	aggregate := make([]AggregateRanking, 0, len(modelPositions))
	for model, positions := range modelPositions {
		sum := 0
		for _, pos := range positions {
			sum += pos
		}
		aggregate = append(aggregate, AggregateRanking{
			Model:         model,
			AverageRank:   float64(sum) / float64(len(positions)),
			RankingsCount: len(positions),
		})
	}

	sortAggregate(aggregate)
	return aggregate
}

func sortAggregate(rankings []AggregateRanking) {
	slices.SortStableFunc(rankings, func(a, b AggregateRanking) int {
		if c := cmp.Compare(a.AverageRank, b.AverageRank); c != 0 {
			return c
		}
		return strings.Compare(a.Model, b.Model)
	})
}
