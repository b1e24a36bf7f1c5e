package storage

import (
	"context"
	"sync"

	"github.com/cyderes/message-search-service/internal/models"
	"github.com/cyderes/message-search-service/internal/textsearch"
)

// MemoryStorage implements Storage with an in-process inverted index.
// Intended for local development and tests; nothing survives a restart.
type MemoryStorage struct {
	analyzer *textsearch.Analyzer

	mu          sync.RWMutex
	messages    map[string]models.Message
	docs        map[string]textsearch.Document
	postings    map[string]map[string]int // term -> id -> tf
	totalLength int
	status      *models.IngestionStatus
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage(textConfig string) (*MemoryStorage, error) {
	analyzer, err := textsearch.NewAnalyzer(textConfig)
	if err != nil {
		return nil, err
	}
	return &MemoryStorage{
		analyzer: analyzer,
		messages: make(map[string]models.Message),
		docs:     make(map[string]textsearch.Document),
		postings: make(map[string]map[string]int),
	}, nil
}

// UpsertMessages inserts or replaces messages keyed by id, re-deriving their terms
func (m *MemoryStorage) UpsertMessages(_ context.Context, messages []models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range messages {
		m.removeLocked(msg.ID)

		freqs, length := m.analyzer.TermFrequencies(msg.Message)
		doc := textsearch.Document{ID: msg.ID, TermFreqs: freqs, Length: length}
		for term, tf := range freqs {
			ids, ok := m.postings[term]
			if !ok {
				ids = make(map[string]int)
				m.postings[term] = ids
			}
			ids[msg.ID] = tf
		}

		m.messages[msg.ID] = msg
		m.docs[msg.ID] = doc
		m.totalLength += length
	}
	return nil
}

func (m *MemoryStorage) removeLocked(id string) {
	old, ok := m.docs[id]
	if !ok {
		return
	}
	for term := range old.TermFreqs {
		delete(m.postings[term], id)
		if len(m.postings[term]) == 0 {
			delete(m.postings, term)
		}
	}
	m.totalLength -= old.Length
	delete(m.docs, id)
}

// SearchMessages intersects the postings of every query term and ranks with BM25
func (m *MemoryStorage) SearchMessages(_ context.Context, query SearchQuery) (*models.SearchResult, error) {
	terms := m.analyzer.QueryTerms(query.Text)
	result := &models.SearchResult{Items: []models.Message{}}
	if len(terms) == 0 {
		return result, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// Walk the rarest term's postings and check the rest per document
	rarest := terms[0]
	for _, t := range terms[1:] {
		if len(m.postings[t]) < len(m.postings[rarest]) {
			rarest = t
		}
	}

	stats := textsearch.CorpusStats{
		Documents:   len(m.docs),
		TotalLength: m.totalLength,
		DocFreq:     make(map[string]int, len(terms)),
	}
	for _, t := range terms {
		stats.DocFreq[t] = len(m.postings[t])
	}

	var hits []textsearch.Hit
	for id := range m.postings[rarest] {
		doc := m.docs[id]
		if !textsearch.MatchesAll(doc, terms) {
			continue
		}
		hits = append(hits, textsearch.Hit{ID: id, Score: textsearch.Score(doc, terms, stats)})
	}
	textsearch.SortHits(hits)

	result.Total = len(hits)
	start, end := textsearch.PageBounds(len(hits), query.Offset, query.Limit)
	for _, h := range hits[start:end] {
		result.Items = append(result.Items, m.messages[h.ID])
	}
	return result, nil
}

// GetMessageByID returns the message or nil when absent
func (m *MemoryStorage) GetMessageByID(_ context.Context, id string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

// CountMessages returns the number of stored messages
func (m *MemoryStorage) CountMessages(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.messages)), nil
}

// UpdateIngestionStatus replaces the recorded status
func (m *MemoryStorage) UpdateIngestionStatus(_ context.Context, status models.IngestionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = &status
	return nil
}

// GetIngestionStatus returns the recorded status, or never_run
func (m *MemoryStorage) GetIngestionStatus(_ context.Context) (*models.IngestionStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == nil {
		return neverRunStatus(), nil
	}
	status := *m.status
	return &status, nil
}

// Ping always succeeds
func (m *MemoryStorage) Ping(context.Context) error { return nil }

// Close is a no-op
func (m *MemoryStorage) Close() error { return nil }
