package search

import (
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/message-search-service/internal/config"
	apperrors "github.com/cyderes/message-search-service/internal/errors"
	"github.com/cyderes/message-search-service/internal/metrics"
	"github.com/cyderes/message-search-service/internal/models"
	"github.com/cyderes/message-search-service/internal/storage"
)

// MockStorage is a mock implementation of the Storage interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) UpsertMessages(ctx context.Context, messages []models.Message) error {
	args := m.Called(ctx, messages)
	return args.Error(0)
}

func (m *MockStorage) SearchMessages(ctx context.Context, query storage.SearchQuery) (*models.SearchResult, error) {
	args := m.Called(ctx, query)
	if r := args.Get(0); r != nil {
		return r.(*models.SearchResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStorage) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStorage) CountMessages(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	args := m.Called(ctx, status)
	return args.Error(0)
}

func (m *MockStorage) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(*models.IngestionStatus), args.Error(1)
}

func (m *MockStorage) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}

func testLogger() *apperrors.Logger {
	return apperrors.NewLoggerWithOptions("error", "json", io.Discard)
}

func searchConfig() config.SearchConfig {
	return config.SearchConfig{TextConfig: config.TextConfigEnglish, DefaultLimit: 10, MaxLimit: 100}
}

func TestService_Validate(t *testing.T) {
	svc := NewService(new(MockStorage), searchConfig(), testLogger(), nil)

	tests := []struct {
		name    string
		query   string
		page    int
		limit   int
		wantErr string
	}{
		{name: "valid", query: "paris", page: 0, limit: 10},
		{name: "max limit", query: "paris", page: 3, limit: 100},
		{name: "empty query", query: "", page: 0, limit: 10, wantErr: "query must not be empty"},
		{name: "blank query", query: "   ", page: 0, limit: 10, wantErr: "query must not be empty"},
		{name: "negative page", query: "paris", page: -1, limit: 10, wantErr: "page must be >= 0"},
		{name: "zero limit", query: "paris", page: 0, limit: 0, wantErr: "limit must be between 1 and 100"},
		{name: "limit too large", query: "paris", page: 0, limit: 101, wantErr: "limit must be between 1 and 100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Validate(tt.query, tt.page, tt.limit)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
			assert.Equal(t, tt.wantErr, apperrors.GetUserMessage(err))
		})
	}
}

func TestService_Search_ComputesOffset(t *testing.T) {
	store := new(MockStorage)
	want := &models.SearchResult{Total: 42, Items: []models.Message{{ID: "m-21"}}}
	store.On("SearchMessages", mock.Anything, storage.SearchQuery{Text: "paris trip", Offset: 20, Limit: 10}).
		Return(want, nil)

	svc := NewService(store, searchConfig(), testLogger(), metrics.New())
	got, err := svc.Search(context.Background(), "  paris trip ", 2, 10)

	require.NoError(t, err)
	assert.Equal(t, want, got)
	store.AssertExpectations(t)
}

func TestService_Search_InvalidDoesNotTouchStore(t *testing.T) {
	store := new(MockStorage)
	svc := NewService(store, searchConfig(), testLogger(), nil)

	_, err := svc.Search(context.Background(), "", 0, 10)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
	store.AssertNotCalled(t, "SearchMessages", mock.Anything, mock.Anything)
}

func TestService_Search_StoreFaultIsStoreError(t *testing.T) {
	store := new(MockStorage)
	store.On("SearchMessages", mock.Anything, mock.Anything).Return(nil, assert.AnError).Once()

	svc := NewService(store, searchConfig(), testLogger(), metrics.New())
	result, err := svc.Search(context.Background(), "paris", 0, 10)

	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStore))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "Database error", apperrors.GetUserMessage(err))
	store.AssertNumberOfCalls(t, "SearchMessages", 1)
}

func TestOffsetFor_Saturates(t *testing.T) {
	assert.Equal(t, 0, offsetFor(0, 10))
	assert.Equal(t, 30, offsetFor(3, 10))
	assert.Equal(t, math.MaxInt, offsetFor(math.MaxInt/2, 100))
}

func seededService(t *testing.T) *Service {
	t.Helper()
	store, err := storage.NewMemoryStorage(config.TextConfigEnglish)
	require.NoError(t, err)

	ts := time.Date(2024, 11, 7, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertMessages(context.Background(), []models.Message{
		{ID: "a", UserID: "u1", UserName: "Sophia", Timestamp: ts, Message: "Book a table in Paris for Friday"},
		{ID: "b", UserID: "u2", UserName: "Fatima", Timestamp: ts, Message: "Need a car in Paris, Paris airport pickup"},
		{ID: "c", UserID: "u3", UserName: "Armand", Timestamp: ts, Message: "Please update my phone number"},
		{ID: "d", UserID: "u4", UserName: "Vikram", Timestamp: ts, Message: "Book tickets to Paris"},
		{ID: "e", UserID: "u5", UserName: "Lily", Timestamp: ts, Message: "Paris hotel booking for Friday"},
	}))
	return NewService(store, searchConfig(), testLogger(), nil)
}

func TestService_Search_PaginationIsConsistent(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	whole, err := svc.Search(ctx, "paris", 0, 4)
	require.NoError(t, err)
	require.Equal(t, 4, whole.Total)
	require.Len(t, whole.Items, 4)

	var paged []models.Message
	for page := 0; page < 2; page++ {
		res, err := svc.Search(ctx, "paris", page, 2)
		require.NoError(t, err)
		assert.Equal(t, 4, res.Total)
		assert.LessOrEqual(t, len(res.Items), 2)
		paged = append(paged, res.Items...)
	}
	assert.Equal(t, whole.Items, paged)
}

func TestService_Search_PastTheEnd(t *testing.T) {
	svc := seededService(t)

	res, err := svc.Search(context.Background(), "paris", 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Empty(t, res.Items)
	assert.NotNil(t, res.Items)
}

func TestService_Search_NoMatch(t *testing.T) {
	svc := seededService(t)

	res, err := svc.Search(context.Background(), "zebra", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.Empty(t, res.Items)
}

func TestService_Search_AllTermsRequired(t *testing.T) {
	svc := seededService(t)

	res, err := svc.Search(context.Background(), "paris friday", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	ids := []string{res.Items[0].ID, res.Items[1].ID}
	assert.ElementsMatch(t, []string{"a", "e"}, ids)
}
