package main

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseRankingFromText tests the ranking parser with various formats
func TestParseRankingFromText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "evaluation before the header is ignored",
			input:    "Response A is thin.\nResponse C is thorough.\n\nFINAL RANKING:\n1. Response C\n2. Response A",
			expected: []string{"Response C", "Response A"},
		},
		{
			name:     "crlf line endings",
			input:    "FINAL RANKING:\r\n1. Response B\r\n2. Response A\r\n",
			expected: []string{"Response B", "Response A"},
		},
		{
			name:     "prose after the numbered list is ignored",
			input:    "FINAL RANKING:\n1. Response B\n2. Response A\n\nResponse A was a close second.",
			expected: []string{"Response B", "Response A"},
		},
		{
			name:     "unnumbered section",
			input:    "FINAL RANKING:\nResponse C, then Response A",
			expected: []string{"Response C", "Response A"},
		},
		{
			name:     "no header falls back to the whole text",
			input:    "Response A beats Response C.",
			expected: []string{"Response A", "Response C"},
		},
		{
			name:     "lower case labels are not labels",
			input:    "FINAL RANKING:\n1. response a",
			expected: nil,
		},
		{
			name:     "already de-anonymized text",
			input:    "FINAL RANKING:\n1. **gpt-4o**\n2. **claude**",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseRankingFromText(tt.input)
			if len(tt.expected) == 0 {
				assert.Empty(t, result)
				return
			}
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseRankingFromScriptedRanker(t *testing.T) {
	labels := []string{"Response A", "Response B", "Response C"}
	responses := map[string]string{"Response A": "a", "Response B": "bb", "Response C": "ccc"}

	text, err := (&ScriptedResponder{}).Rank(context.Background(), "v/m", "q", labels, responses)
	require.NoError(t, err)

	// "v/m" rotates the order by len("v/m") % 3 == 0
	assert.Equal(t, labels, ParseRankingFromText(text))
}

func TestCalculateAggregateRankings(t *testing.T) {
	abc := map[string]string{"Response A": "m/a", "Response B": "m/b", "Response C": "m/c"}

	tests := []struct {
		name         string
		stage2       []Stage2Ranking
		labelToModel map[string]string
		want         []AggregateRanking
	}{
		{
			name:         "duplicate label counts once",
			stage2:       []Stage2Ranking{{Model: "e1", ParsedRanking: []string{"Response A", "Response B", "Response A"}}},
			labelToModel: abc,
			want: []AggregateRanking{
				{Model: "m/a", AverageRank: 1, RankingsCount: 1},
				{Model: "m/b", AverageRank: 2, RankingsCount: 1},
			},
		},
		{
			name:         "unknown label takes no position",
			stage2:       []Stage2Ranking{{Model: "e1", ParsedRanking: []string{"Response Z", "Response B", "Response A", "Response B"}}},
			labelToModel: abc,
			want: []AggregateRanking{
				{Model: "m/b", AverageRank: 1, RankingsCount: 1},
				{Model: "m/a", AverageRank: 2, RankingsCount: 1},
			},
		},
		{
			name:         "two labels for one model",
			stage2:       []Stage2Ranking{{Model: "e1", ParsedRanking: []string{"Response A", "Response C", "Response B"}}},
			labelToModel: map[string]string{"Response A": "m/a", "Response B": "m/a", "Response C": "m/c"},
			want: []AggregateRanking{
				{Model: "m/a", AverageRank: 1, RankingsCount: 1},
				{Model: "m/c", AverageRank: 2, RankingsCount: 1},
			},
		},
		{
			name: "empty evaluator contributes nothing",
			stage2: []Stage2Ranking{
				{Model: "e1", ParsedRanking: []string{"Response B", "Response A"}},
				{Model: "e2"},
			},
			labelToModel: abc,
			want: []AggregateRanking{
				{Model: "m/b", AverageRank: 1, RankingsCount: 1},
				{Model: "m/a", AverageRank: 2, RankingsCount: 1},
			},
		},
		{
			name: "averages across evaluators",
			stage2: []Stage2Ranking{
				{Model: "e1", ParsedRanking: []string{"Response A", "Response B", "Response C"}},
				{Model: "e2", ParsedRanking: []string{"Response C", "Response A", "Response B"}},
			},
			labelToModel: abc,
			want: []AggregateRanking{
				{Model: "m/a", AverageRank: 1.5, RankingsCount: 2},
				{Model: "m/c", AverageRank: 2, RankingsCount: 2},
				{Model: "m/b", AverageRank: 2.5, RankingsCount: 2},
			},
		},
		{
			name:         "no label map",
			stage2:       []Stage2Ranking{{Model: "e1", ParsedRanking: []string{"Response A"}}},
			labelToModel: nil,
			want:         []AggregateRanking{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateAggregateRankings(tt.stage2, tt.labelToModel))
		})
	}
}

func TestCalculateAggregateRankingsScenario(t *testing.T) {
	// three evaluators: X placed 1, 2, 1 and Y placed 2, 1, 2
	stage2 := []Stage2Ranking{
		{Model: "e1", ParsedRanking: []string{"Response A", "Response B"}},
		{Model: "e2", ParsedRanking: []string{"Response B", "Response A"}},
		{Model: "e3", ParsedRanking: []string{"Response A", "Response B"}},
	}
	labelToModel := map[string]string{"Response A": "vendor/x", "Response B": "vendor/y"}

	result := CalculateAggregateRankings(stage2, labelToModel)
	require.Len(t, result, 2)

	assert.Equal(t, "vendor/x", result[0].Model)
	assert.InDelta(t, 4.0/3.0, result[0].AverageRank, 1e-9)
	assert.Equal(t, 3, result[0].RankingsCount)

	assert.Equal(t, "vendor/y", result[1].Model)
	assert.InDelta(t, 5.0/3.0, result[1].AverageRank, 1e-9)
	assert.Equal(t, 3, result[1].RankingsCount)
}

func TestCalculateAggregateRankingsTieBreak(t *testing.T) {
	stage2 := []Stage2Ranking{
		{Model: "e1", ParsedRanking: []string{"Response A", "Response B"}},
		{Model: "e2", ParsedRanking: []string{"Response B", "Response A"}},
	}
	labelToModel := map[string]string{"Response A": "zeta/model", "Response B": "alpha/model"}

	for range 5 {
		result := CalculateAggregateRankings(stage2, labelToModel)
		require.Len(t, result, 2)
		assert.Equal(t, "alpha/model", result[0].Model, "ties are broken by model id")
		assert.Equal(t, "zeta/model", result[1].Model)
	}
}

func TestShortName(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"openai/gpt-4o", "gpt-4o"},
		{"x-ai/grok-4.1-fast", "grok-4.1-fast"},
		{"local-model", "local-model"},
		{"provider/", "provider/"},
		{"a/b/c", "b"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, ShortName(tt.model))
		})
	}
}

func TestDeAnonymize(t *testing.T) {
	labelToModel := map[string]string{
		"Response A": "openai/gpt-4o",
		"Response B": "anthropic/claude-sonnet",
	}

	t.Run("replaces every occurrence", func(t *testing.T) {
		got := DeAnonymize("Response A beats Response B. Response A is concise.", labelToModel)
		assert.Equal(t, "**gpt-4o** beats **claude-sonnet**. **gpt-4o** is concise.", got)
	})

	t.Run("unknown labels are left alone", func(t *testing.T) {
		got := DeAnonymize("Response C is missing", labelToModel)
		assert.Equal(t, "Response C is missing", got)
	})

	t.Run("no labels left behind", func(t *testing.T) {
		text := "FINAL RANKING:\n1. Response B\n2. Response A"
		got := DeAnonymize(text, labelToModel)
		for label := range labelToModel {
			assert.NotContains(t, got, label)
		}
		assert.Contains(t, got, "1. **claude-sonnet**")
	})

	t.Run("longer labels win over their prefixes", func(t *testing.T) {
		labels := map[string]string{
			"Response A":  "vendor/short",
			"Response AB": "vendor/long",
		}
		assert.Equal(t, "**long** and **short**", DeAnonymize("Response AB and Response A", labels))
	})

	t.Run("replaced names are not rescanned", func(t *testing.T) {
		labels := map[string]string{"Response A": "vendor/Response B", "Response B": "vendor/other"}
		assert.Equal(t, "**Response B**", DeAnonymize("Response A", labels))
	})

	t.Run("empty map", func(t *testing.T) {
		assert.Equal(t, "Response A", DeAnonymize("Response A", nil))
	})
}

func TestAggregateOrder(t *testing.T) {
	meta := Metadata{
		LabelToModel: map[string]string{
			"Response A": "m/a",
			"Response B": "m/b",
			"Response C": "m/c",
			"Response D": "m/d",
		},
		AggregateRankings: []AggregateRanking{
			{Model: "m/b", AverageRank: 2, RankingsCount: 2},
			{Model: "m/a", AverageRank: 1.5, RankingsCount: 2},
			{Model: "m/c", AverageRank: 1.5, RankingsCount: 2},
			{Model: "m/a", AverageRank: 9, RankingsCount: 1},
		},
	}
	original := append([]AggregateRanking(nil), meta.AggregateRankings...)

	order := AggregateOrder(meta)

	models := make([]string, len(order))
	for i, r := range order {
		models[i] = r.Model
	}
	assert.Equal(t, []string{"m/a", "m/c", "m/b", "m/d"}, models)
	assert.Equal(t, 0, order[3].RankingsCount, "unranked models come last")
	assert.Equal(t, original, meta.AggregateRankings, "metadata is not modified")
}

func TestParseRankingFromTextDeAnonymizedRoundTrip(t *testing.T) {
	text := strings.Join([]string{
		"Response A is thorough.",
		"",
		"FINAL RANKING:",
		"1. Response A",
		"2. Response B",
	}, "\n")
	labelToModel := map[string]string{"Response A": "p/one", "Response B": "p/two"}

	parsed := ParseRankingFromText(text)
	require.Equal(t, []string{"Response A", "Response B"}, parsed)
	assert.Empty(t, ParseRankingFromText(DeAnonymize(text, labelToModel)))
}
