package textsearch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnalyzer(t *testing.T) {
	_, err := NewAnalyzer("german")
	assert.Error(t, err)

	a, err := NewAnalyzer(ConfigSimple)
	require.NoError(t, err)
	assert.Equal(t, ConfigSimple, a.Config())
}

func TestAnalyzer_Tokens(t *testing.T) {
	a, _ := NewAnalyzer(ConfigSimple)

	assert.Equal(t, []string{"need", "a", "car", "service", "to", "the", "airport", "tomorrow"},
		a.Tokens("Need a car-service to the AIRPORT, tomorrow!"))
	assert.Equal(t, []string{"strasse", "café"}, a.Tokens("Straße CAFÉ"))
	assert.Empty(t, a.Tokens("  ... !!! "))
}

func TestAnalyzer_WordsComposeMarksAndKeepCase(t *testing.T) {
	a, _ := NewAnalyzer(ConfigEnglish)

	assert.Equal(t, []string{"A", "na\u00efve", "Plan"}, a.Words("A nai\u0308ve Plan"))
	assert.Equal(t, a.Tokens("nai\u0308ve"), a.Tokens("na\u00efve"))
}

func TestAnalyzer_EnglishTermsStemAndDropStopWords(t *testing.T) {
	a, _ := NewAnalyzer(ConfigEnglish)

	assert.Equal(t, []string{"look", "luxuri", "car", "rental", "pari"},
		a.Terms("Looking for a luxury car rental in Paris"))
	assert.Empty(t, a.Terms("the and of"))
}

func TestAnalyzer_SimpleTermsKeepEverything(t *testing.T) {
	a, _ := NewAnalyzer(ConfigSimple)

	assert.Equal(t, []string{"looking", "for", "a", "car"}, a.Terms("Looking for a car"))
}

func TestAnalyzer_QueryTermsAreDistinctAndSorted(t *testing.T) {
	a, _ := NewAnalyzer(ConfigEnglish)

	assert.Equal(t, []string{"car", "rental"}, a.QueryTerms("rental CAR cars the"))
	assert.Empty(t, a.QueryTerms("the of"))
}

func TestAnalyzer_IndexAndQueryAgree(t *testing.T) {
	a, _ := NewAnalyzer(ConfigEnglish)

	freqs, n := a.TermFrequencies("Booked two cars; the car rentals were great")
	assert.Equal(t, 6, n)
	for _, term := range a.QueryTerms("car rental booking") {
		assert.Positive(t, freqs[term], "term %q should be indexed", term)
	}
}

func TestScore_Monotonic(t *testing.T) {
	stats := CorpusStats{
		Documents:   3,
		TotalLength: 12,
		DocFreq:     map[string]int{"car": 2, "pari": 1},
	}
	one := Document{ID: "a", TermFreqs: map[string]int{"car": 1, "x": 3}, Length: 4}
	both := Document{ID: "b", TermFreqs: map[string]int{"car": 1, "pari": 1, "x": 2}, Length: 4}
	none := Document{ID: "c", TermFreqs: map[string]int{"x": 4}, Length: 4}

	terms := []string{"car", "pari"}
	assert.Greater(t, Score(both, terms, stats), Score(one, terms, stats))
	assert.Greater(t, Score(one, terms, stats), Score(none, terms, stats))
	assert.Zero(t, Score(none, terms, stats))
}

func TestScore_DenserDocumentRanksHigher(t *testing.T) {
	stats := CorpusStats{Documents: 2, TotalLength: 12, DocFreq: map[string]int{"car": 2}}
	short := Document{ID: "s", TermFreqs: map[string]int{"car": 1}, Length: 2}
	long := Document{ID: "l", TermFreqs: map[string]int{"car": 1}, Length: 10}

	assert.Greater(t, Score(short, []string{"car"}, stats), Score(long, []string{"car"}, stats))
}

func TestScore_EmptyCorpus(t *testing.T) {
	assert.Zero(t, Score(Document{}, []string{"car"}, CorpusStats{}))
}

func TestMatchesAll(t *testing.T) {
	doc := Document{TermFreqs: map[string]int{"car": 1, "pari": 2}}
	assert.True(t, MatchesAll(doc, []string{"car", "pari"}))
	assert.False(t, MatchesAll(doc, []string{"car", "airport"}))
	assert.True(t, MatchesAll(doc, nil))
}

func TestSortHits_TieBreakByID(t *testing.T) {
	hits := []Hit{{ID: "c", Score: 1}, {ID: "a", Score: 1}, {ID: "b", Score: 2}}
	SortHits(hits)
	assert.Equal(t, []Hit{{ID: "b", Score: 2}, {ID: "a", Score: 1}, {ID: "c", Score: 1}}, hits)
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		n, offset, limit int
		start, end       int
	}{
		{n: 25, offset: 0, limit: 10, start: 0, end: 10},
		{n: 25, offset: 20, limit: 10, start: 20, end: 25},
		{n: 25, offset: 30, limit: 10, start: 25, end: 25},
		{n: 0, offset: 0, limit: 10, start: 0, end: 0},
	}
	for _, tt := range tests {
		start, end := PageBounds(tt.n, tt.offset, tt.limit)
		assert.Equal(t, tt.start, start)
		assert.Equal(t, tt.end, end)
	}
}
