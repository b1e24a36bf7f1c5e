// Package textsearch derives the inverted-token representation of message text
// and ranks documents against normalized queries. Backends whose engine has no
// native full-text support (memory, DynamoDB, MongoDB) use it so that indexing
// and query normalization always share one configuration.
package textsearch

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Supported analysis configurations, named after their PostgreSQL equivalents
const (
	ConfigEnglish = "english"
	ConfigSimple  = "simple"
)

// Analyzer turns free text into index terms.
//
// english: NFKC normalization, Unicode case folding, English stop-word removal
// and Snowball stemming. simple: normalization and case folding only.
type Analyzer struct {
	config string
}

// NewAnalyzer returns an analyzer for config
func NewAnalyzer(config string) (*Analyzer, error) {
	switch config {
	case ConfigEnglish, ConfigSimple:
		return &Analyzer{config: config}, nil
	default:
		return nil, fmt.Errorf("unsupported text search config: %q", config)
	}
}

// Config returns the configuration name
func (a *Analyzer) Config() string {
	return a.config
}

// Tokens splits text into case-folded words without stop-word removal or stemming.
func (a *Analyzer) Tokens(text string) []string {
	// cases.Caser is stateful, so one is built per call
	return Split(cases.Fold().String(norm.NFKC.String(text)))
}

// Words splits NFKC-normalized text into words with case preserved. Combining
// marks are composed into their base letter first, so a decomposed word stays whole.
func (a *Analyzer) Words(text string) []string {
	return Split(norm.NFKC.String(text))
}

// Split breaks text into runs of letters and digits with no other normalization
func Split(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// IsStopWord reports whether word is dropped from queries and documents under this config
func (a *Analyzer) IsStopWord(word string) bool {
	if a.config != ConfigEnglish {
		return false
	}
	_, stop := englishStopWords[cases.Fold().String(norm.NFKC.String(word))]
	return stop
}

// Terms returns the index terms of text in order of appearance, duplicates kept
func (a *Analyzer) Terms(text string) []string {
	tokens := a.Tokens(text)
	if a.config == ConfigSimple {
		return tokens
	}

	terms := tokens[:0]
	for _, tok := range tokens {
		if _, stop := englishStopWords[tok]; stop {
			continue
		}
		terms = append(terms, stem(tok))
	}
	return terms
}

// TermFrequencies returns term -> occurrence count and the total number of terms
func (a *Analyzer) TermFrequencies(text string) (map[string]int, int) {
	terms := a.Terms(text)
	freqs := make(map[string]int, len(terms))
	for _, t := range terms {
		freqs[t]++
	}
	return freqs, len(terms)
}

// QueryTerms normalizes a search query into its distinct terms, sorted.
// An empty result means the query can match nothing.
func (a *Analyzer) QueryTerms(query string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range a.Terms(query) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func stem(word string) string {
	stemmed, err := snowball.Stem(word, "english", true)
	if err != nil || stemmed == "" {
		return word
	}
	return stemmed
}

// englishStopWords mirrors the PostgreSQL english.stop list
var englishStopWords = toSet(`i me my myself we our ours ourselves you your yours yourself
yourselves he him his himself she her hers herself it its itself they them their theirs
themselves what which who whom this that these those am is are was were be been being have
has had having do does did doing a an the and but if or because as until while of at by for
with about against between into through during before after above below to from up down in
out on off over under again further then once here there when where why how all any both
each few more most other some such no nor not only own same so than too very s t can will
just don should now`)

func toSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}
