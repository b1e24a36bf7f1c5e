package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(ErrCodeValidationFailed, "q must not be empty"),
			expected: "VALIDATION_FAILED: q must not be empty",
		},
		{
			name:     "error with cause",
			err:      Wrap(errors.New("connection refused"), ErrCodeStore, "search query failed"),
			expected: "STORE: search query failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeInternalError, "something went wrong")

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeStore, GetCode(NewStoreError(errors.New("boom"), "x")))
	assert.Equal(t, ErrCodeStore, GetCode(fmt.Errorf("outer: %w", NewStoreError(errors.New("boom"), "x"))))
	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain")))
}

func TestIsCode_WalksWrapChain(t *testing.T) {
	fetchErr := NewUpstreamFetchError(errors.New("timeout"), 100, 100)
	runErr := NewIngestionError(fetchErr, 100)

	assert.True(t, IsCode(runErr, ErrCodeIngestion))
	assert.True(t, IsCode(runErr, ErrCodeUpstreamFetch))
	assert.False(t, IsCode(runErr, ErrCodeStore))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeStore))
	assert.False(t, IsCode(nil, ErrCodeStore))
}

func TestMessagesProcessed(t *testing.T) {
	err := NewIngestionError(NewStoreError(errors.New("disk full"), "upsert failed"), 250)

	assert.Equal(t, 250, MessagesProcessed(err))
	assert.Equal(t, 250, MessagesProcessed(fmt.Errorf("run: %w", err)))
	assert.Equal(t, 0, MessagesProcessed(errors.New("plain")))
	assert.Equal(t, 0, MessagesProcessed(NewStoreError(errors.New("x"), "y")))
}

func TestGetUserMessage(t *testing.T) {
	assert.Equal(t, "Database error", GetUserMessage(NewStoreError(errors.New("x"), "y")))
	assert.Equal(t, "limit must be between 1 and 100", GetUserMessage(NewValidationError("limit must be between 1 and 100")))
	assert.Equal(t, "Internal server error", GetUserMessage(errors.New("plain")))
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("Message not found").WithContext("id", "m1")
	assert.Equal(t, ErrCodeNotFound, GetCode(err))
	assert.Equal(t, "Message not found", GetUserMessage(err))
}

func TestLogger_LogErrorIncludesAppErrorFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOptions("debug", "json", &buf)

	err := NewIngestionError(errors.New("boom"), 42)
	logger.LogError(err, "ingestion failed", logrus.Fields{"run_id": "r1"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ingestion failed", entry["msg"])
	assert.Equal(t, "INGESTION", entry["error_code"])
	assert.Equal(t, float64(42), entry[ContextKeyMessagesProcessed])
	assert.Equal(t, "r1", entry["run_id"])
	assert.Equal(t, "error", entry["level"])
	assert.NotContains(t, entry, "retryable")
}

func TestNewLoggerWithOptions_UnknownLevelFallsBackToInfo(t *testing.T) {
	logger := NewLoggerWithOptions("chatty", "text", &bytes.Buffer{})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	_, isText := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
}
