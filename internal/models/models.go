package models

import "time"

// Message represents a chat message as exposed by the search API
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// SearchResult is one page of ranked matches plus the size of the whole matching set
type SearchResult struct {
	Total int       `json:"total"`
	Items []Message `json:"items"`
}

// MessagePage is a single page returned by the upstream message source
type MessagePage struct {
	Items []Message `json:"items"`
	Total int       `json:"total"`
}

// Ingestion run states recorded in IngestionStatus.Status
const (
	StatusNeverRun = "never_run"
	StatusRunning  = "running"
	StatusSuccess  = "success"
	StatusFailure  = "failure"
)

// IngestionStatus tracks the status of ingestion runs
type IngestionStatus struct {
	RunID             string    `json:"run_id,omitempty" bson:"run_id"`
	LastSuccessfulRun time.Time `json:"last_successful_run" bson:"last_successful_run"`
	LastAttempt       time.Time `json:"last_attempt" bson:"last_attempt"`
	Status            string    `json:"status" bson:"status"`
	ErrorMessage      string    `json:"error_message,omitempty" bson:"error_message,omitempty"`
	RecordsIngested   int       `json:"records_ingested" bson:"records_ingested"`
}
