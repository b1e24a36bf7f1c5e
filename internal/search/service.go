// Package search executes ranked, paginated full-text queries against the message store.
package search

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cyderes/message-search-service/internal/config"
	apperrors "github.com/cyderes/message-search-service/internal/errors"
	"github.com/cyderes/message-search-service/internal/metrics"
	"github.com/cyderes/message-search-service/internal/models"
	"github.com/cyderes/message-search-service/internal/storage"
	"github.com/cyderes/message-search-service/internal/tracing"
)

// Service validates queries and runs them against the store
type Service struct {
	store   storage.Storage
	config  config.SearchConfig
	logger  *apperrors.Logger
	metrics *metrics.Metrics
}

// NewService creates a new query executor. m may be nil.
func NewService(store storage.Storage, cfg config.SearchConfig, logger *apperrors.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		config:  cfg,
		logger:  logger,
		metrics: m,
	}
}

// Validate checks the request parameters. Violations are VALIDATION_FAILED errors.
func (s *Service) Validate(query string, page, limit int) error {
	if strings.TrimSpace(query) == "" {
		return apperrors.NewValidationError("query must not be empty")
	}
	if page < 0 {
		return apperrors.NewValidationError("page must be >= 0")
	}
	if limit < 1 || limit > s.config.MaxLimit {
		return apperrors.NewValidationError(fmt.Sprintf("limit must be between 1 and %d", s.config.MaxLimit))
	}
	return nil
}

// Search returns the page-th page of limit ranked matches for query together
// with the size of the whole matching set. Any store fault becomes a STORE error.
func (s *Service) Search(ctx context.Context, query string, page, limit int) (*models.SearchResult, error) {
	if err := s.Validate(query, page, limit); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)

	ctx, span := tracing.StartSpan(ctx, "search.query",
		attribute.String("search.query", query),
		attribute.Int("search.page", page),
		attribute.Int("search.limit", limit),
	)
	defer span.End()

	start := time.Now()
	result, err := s.store.SearchMessages(ctx, storage.SearchQuery{
		Text:   query,
		Offset: offsetFor(page, limit),
		Limit:  limit,
	})
	elapsed := time.Since(start)

	if err != nil {
		storeErr := apperrors.NewStoreError(err, "search query failed").WithContext("query", query)
		s.metrics.SearchFailed(string(storeErr.Code))
		tracing.RecordError(ctx, storeErr)
		s.logger.LogError(storeErr, "Search failed", logrus.Fields{
			"page":        page,
			"limit":       limit,
			"duration_ms": elapsed.Milliseconds(),
		})
		return nil, storeErr
	}

	s.metrics.ObserveSearch(elapsed, result.Total)
	tracing.AddSpanAttributes(ctx,
		attribute.Int("search.total", result.Total),
		attribute.Int("search.items", len(result.Items)),
	)
	s.logger.WithFields(logrus.Fields{
		"query":       query,
		"page":        page,
		"limit":       limit,
		"total":       result.Total,
		"items":       len(result.Items),
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("Search completed")

	return result, nil
}

// offsetFor computes page*limit, saturating instead of overflowing
func offsetFor(page, limit int) int {
	if page > math.MaxInt/limit {
		return math.MaxInt
	}
	return page * limit
}
