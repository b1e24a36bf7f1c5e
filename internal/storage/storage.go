package storage

import (
	"context"
	"fmt"

	"github.com/cyderes/message-search-service/internal/config"
	"github.com/cyderes/message-search-service/internal/models"
)

// SearchQuery is a validated, paginated full-text query
type SearchQuery struct {
	Text   string
	Offset int
	Limit  int
}

// Storage interface defines the contract for the message store.
//
// Every implementation derives search_terms from the message body on each
// insert or update, ranks matches by relevance with ties broken by ascending id,
// and returns the page and the total match count from a single query.
type Storage interface {
	UpsertMessages(ctx context.Context, messages []models.Message) error
	SearchMessages(ctx context.Context, query SearchQuery) (*models.SearchResult, error)
	GetMessageByID(ctx context.Context, id string) (*models.Message, error)
	CountMessages(ctx context.Context) (int64, error)
	UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error
	GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error)
	Ping(ctx context.Context) error
	Close() error
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case config.StoragePostgreSQL:
		return NewPostgreSQLStorage(ctx, cfg)
	case config.StorageSQLite:
		return NewSQLiteStorage(ctx, cfg)
	case config.StorageMongoDB:
		return NewMongoDBStorage(ctx, cfg)
	case config.StorageDynamoDB:
		return NewDynamoDBStorage(ctx, cfg)
	case config.StorageMemory:
		return NewMemoryStorage(cfg.TextSearchConfig)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// dedupeLastWins keeps the last occurrence of each id, preserving first-seen order.
// A bulk upsert may not touch the same row twice (Postgres rejects it), and the
// upstream source gives no uniqueness guarantee within a page.
func dedupeLastWins(messages []models.Message) []models.Message {
	index := make(map[string]int, len(messages))
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if i, ok := index[m.ID]; ok {
			out[i] = m
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}

func neverRunStatus() *models.IngestionStatus {
	return &models.IngestionStatus{Status: models.StatusNeverRun}
}
