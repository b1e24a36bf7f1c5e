package textsearch

import (
	"math"
	"sort"
)

// BM25 parameters
const (
	k1 = 1.2
	b  = 0.75
)

// Document is the derived search representation of one message
type Document struct {
	ID        string
	TermFreqs map[string]int
	Length    int
}

// CorpusStats are the collection-wide inputs to the relevance function
type CorpusStats struct {
	Documents   int
	TotalLength int
	DocFreq     map[string]int
}

// Hit is a matching document and its relevance
type Hit struct {
	ID    string
	Score float64
}

// MatchesAll reports whether doc contains every term
func MatchesAll(doc Document, terms []string) bool {
	for _, t := range terms {
		if doc.TermFreqs[t] == 0 {
			return false
		}
	}
	return true
}

// Score is Okapi BM25. Each matching term adds a strictly positive amount, so
// a document never ranks lower for matching an extra query term, and shorter
// documents with the same term counts rank higher.
func Score(doc Document, terms []string, stats CorpusStats) float64 {
	if stats.Documents == 0 {
		return 0
	}
	avgLen := float64(stats.TotalLength) / float64(stats.Documents)
	if avgLen == 0 {
		avgLen = 1
	}

	var score float64
	for _, t := range terms {
		tf := float64(doc.TermFreqs[t])
		if tf == 0 {
			continue
		}
		df := float64(stats.DocFreq[t])
		idf := math.Log(1 + (float64(stats.Documents)-df+0.5)/(df+0.5))
		norm := tf + k1*(1-b+b*float64(doc.Length)/avgLen)
		score += idf * tf * (k1 + 1) / norm
	}
	return score
}

// SortHits orders hits by descending score, then ascending ID
func SortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

// PageBounds returns the [start, end) slice bounds for offset/limit over n items.
// start == end when offset is past the end.
func PageBounds(n, offset, limit int) (int, int) {
	if offset >= n || offset < 0 {
		return n, n
	}
	end := offset + limit
	if end > n {
		end = n
	}
	return offset, end
}
