package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuestion_StripsTemporalQualifiers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    string
		b    string
	}{
		{
			name: "by-end-of-month",
			a:    "Will Bitcoin reach $100k by end of March?",
			b:    "Will Bitcoin reach $100k by end of June?",
		},
		{
			name: "by-end-of-month-with-year",
			a:    "Will Bitcoin reach $100k by the end of March 2026?",
			b:    "Will Bitcoin reach $100k by the end of June 2026?",
		},
		{
			name: "in-month",
			a:    "Will the Fed cut rates in September?",
			b:    "Will the Fed cut rates in December?",
		},
		{
			name: "before-date",
			a:    "Will the bill pass before January 15, 2026?",
			b:    "Will the bill pass before March 30, 2026?",
		},
		{
			name: "quarter",
			a:    "Will GDP growth exceed 3% in Q1 2026?",
			b:    "Will GDP growth exceed 3% in Q3 2026?",
		},
		{
			name: "numeric-date",
			a:    "Will the merger close by 3/15/2026?",
			b:    "Will the merger close by 9/30/2026?",
		},
		{
			name: "relative-window",
			a:    "Will it snow this month?",
			b:    "Will it snow next month?",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			na, nb := NormalizeQuestion(tt.a), NormalizeQuestion(tt.b)
			assert.Equal(t, na, nb, "same event should normalize identically")
			assert.NotEmpty(t, na)
		})
	}
}

func TestNormalizeQuestion_KeepsDistinctEventsApart(t *testing.T) {
	t.Parallel()

	a := NormalizeQuestion("Will Bitcoin reach $100k by March?")
	b := NormalizeQuestion("Will Ethereum reach $10k by March?")
	assert.NotEqual(t, a, b)
}

func TestNormalizeQuestion_Cleanup(t *testing.T) {
	t.Parallel()

	got := NormalizeQuestion("  Will   X  happen?!  ")
	assert.Equal(t, "will x happen", got)

	assert.Equal(t, "", NormalizeQuestion(""))
	assert.Equal(t, "", NormalizeQuestion("March 2026?"))
}

func TestKeywords(t *testing.T) {
	t.Parallel()

	kw := Keywords("will the fed cut rates")
	assert.True(t, kw["fed"])
	assert.True(t, kw["cut"])
	assert.True(t, kw["rates"])
	assert.False(t, kw["will"], "stop word")
	assert.False(t, kw["the"], "stop word")
}

func TestKeywordSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    string
		b    string
		min  float64
		max  float64
	}{
		{
			name: "identical-modulo-deadline",
			a:    "Will Bitcoin reach $100k by March 2026?",
			b:    "Will Bitcoin reach $100k by June 2026?",
			min:  0.99,
			max:  1.0,
		},
		{
			name: "unrelated",
			a:    "Will the Lakers win the championship?",
			b:    "Will Bitcoin reach $100k?",
			min:  0,
			max:  0.01,
		},
		{
			name: "partial-overlap",
			a:    "Will Bitcoin reach $100k this year?",
			b:    "Will Bitcoin drop below $50k this year?",
			min:  0.2,
			max:  0.8,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			score := KeywordSimilarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, score, tt.min)
			assert.LessOrEqual(t, score, tt.max)
		})
	}

	assert.InDelta(t, 0, KeywordSimilarity("", "anything"), 1e-9)
}
