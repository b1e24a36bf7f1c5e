package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a categorized error type
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Request errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"

	// Message store errors
	ErrCodeStore ErrorCode = "STORE"

	// Ingestion errors
	ErrCodeUpstreamFetch       ErrorCode = "UPSTREAM_FETCH"
	ErrCodeIngestion           ErrorCode = "INGESTION"
	ErrCodeIngestionInProgress ErrorCode = "INGESTION_IN_PROGRESS"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ContextKeyMessagesProcessed is the context key carrying partial ingestion progress
const ContextKeyMessagesProcessed = "messages_processed"

// AppError represents a structured application error
type AppError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	Cause       error                  `json:"-"`
	Context     map[string]interface{} `json:"context,omitempty"`
	UserMessage string                 `json:"user_message,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets a user-friendly message
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// NewNotFoundError reports a missing resource; message is shown to the caller
func NewNotFoundError(message string) *AppError {
	return New(ErrCodeNotFound, message).WithUserMessage(message)
}

// NewValidationError reports a malformed request parameter
func NewValidationError(message string) *AppError {
	return New(ErrCodeValidationFailed, message).WithUserMessage(message)
}

// NewStoreError wraps a connectivity or query fault against the message store.
// The user message is deliberately generic.
func NewStoreError(err error, message string) *AppError {
	return Wrap(err, ErrCodeStore, message).WithUserMessage("Database error")
}

// NewUpstreamFetchError wraps a network, timeout or non-success response from the message source
func NewUpstreamFetchError(err error, skip, limit int) *AppError {
	return Wrap(err, ErrCodeUpstreamFetch, "failed to fetch messages page").
		WithContext("skip", skip).
		WithContext("limit", limit)
}

// NewIngestionError wraps an upstream or store fault that aborted an ingestion run.
// processed is the number of messages committed before the fault.
func NewIngestionError(err error, processed int) *AppError {
	return Wrap(err, ErrCodeIngestion, "ingestion run failed").
		WithContext(ContextKeyMessagesProcessed, processed)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if appErr, ok := asAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternalError
}

// IsCode reports whether any AppError in err's chain carries code
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// GetUserMessage extracts a user-friendly message from an error
func GetUserMessage(err error) string {
	if appErr, ok := asAppError(err); ok && appErr.UserMessage != "" {
		return appErr.UserMessage
	}
	return "Internal server error"
}

// MessagesProcessed returns the partial progress carried by an ingestion error, or 0
func MessagesProcessed(err error) int {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return 0
		}
		if n, ok := appErr.Context[ContextKeyMessagesProcessed].(int); ok {
			return n
		}
		err = appErr.Cause
	}
	return 0
}

func asAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
