package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/cyderes/message-search-service/internal/errors"
	"github.com/cyderes/message-search-service/internal/models"
)

// Source is the upstream paginated message API
type Source interface {
	FetchPage(ctx context.Context, skip, limit int) (*models.MessagePage, error)
}

// HTTPSource fetches pages with GET <endpoint>/messages/?skip=&limit=
type HTTPSource struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPSource creates a source whose requests time out after timeout
func NewHTTPSource(endpoint string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type upstreamMessage struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

type upstreamPage struct {
	Items []upstreamMessage `json:"items"`
	Total int               `json:"total"`
}

// FetchPage performs a single request. Every failure is an UPSTREAM_FETCH error.
func (s *HTTPSource) FetchPage(ctx context.Context, skip, limit int) (*models.MessagePage, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))
	target := s.endpoint + "/messages/?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperrors.NewUpstreamFetchError(fmt.Errorf("failed to create request: %w", err), skip, limit)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewUpstreamFetchError(fmt.Errorf("failed to make request: %w", err), skip, limit)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, apperrors.NewUpstreamFetchError(fmt.Errorf("API returned status %d", resp.StatusCode), skip, limit).
			WithContext("status_code", resp.StatusCode)
	}

	var page upstreamPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, apperrors.NewUpstreamFetchError(fmt.Errorf("failed to unmarshal response: %w", err), skip, limit)
	}

	out := &models.MessagePage{Total: page.Total, Items: make([]models.Message, 0, len(page.Items))}
	for _, item := range page.Items {
		ts, err := parseTimestamp(item.Timestamp)
		if err != nil {
			return nil, apperrors.NewUpstreamFetchError(fmt.Errorf("message %s: %w", item.ID, err), skip, limit)
		}
		out.Items = append(out.Items, models.Message{
			ID:        item.ID,
			UserID:    item.UserID,
			UserName:  item.UserName,
			Timestamp: ts,
			Message:   item.Message,
		})
	}
	return out, nil
}

// Accepted upstream timestamp layouts. Values without an offset are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}
