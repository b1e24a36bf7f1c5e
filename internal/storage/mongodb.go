package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/cyderes/message-search-service/internal/config"
	"github.com/cyderes/message-search-service/internal/models"
	"github.com/cyderes/message-search-service/internal/textsearch"
)

const (
	messagesCollection = "messages"
	statusCollection   = "ingestion_status"
	settingsCollection = "search_settings"

	reindexBatchSize = 500
)

// MongoDBStorage implements Storage using MongoDB. Each document carries the
// analyzed search_terms array, covered by a text index with default_language
// "none" so MongoDB matches the terms exactly as the analyzer produced them.
type MongoDBStorage struct {
	client       *mongo.Client
	db           *mongo.Database
	analyzer     *textsearch.Analyzer
	queryTimeout time.Duration
}

type mongoMessage struct {
	ID          string    `bson:"_id"`
	UserID      string    `bson:"user_id"`
	UserName    string    `bson:"user_name"`
	Timestamp   time.Time `bson:"timestamp"`
	Message     string    `bson:"message"`
	SearchTerms []string  `bson:"search_terms"`
}

func (m mongoMessage) toModel() models.Message {
	return models.Message{
		ID:        m.ID,
		UserID:    m.UserID,
		UserName:  m.UserName,
		Timestamp: m.Timestamp.UTC(),
		Message:   m.Message,
	}
}

// NewMongoDBStorage connects to cfg.MongoDBURI and prepares indexes
func NewMongoDBStorage(ctx context.Context, cfg config.StorageConfig) (*MongoDBStorage, error) {
	analyzer, err := textsearch.NewAnalyzer(cfg.TextSearchConfig)
	if err != nil {
		return nil, err
	}

	opts := options.Client().
		ApplyURI(cfg.MongoDBURI).
		SetMaxPoolSize(uint64(cfg.MaxConns)).
		SetMinPoolSize(uint64(cfg.MinConns)).
		SetConnectTimeout(cfg.ConnectTimeout)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	s := &MongoDBStorage{
		client:       client,
		db:           client.Database(cfg.MongoDBDatabase),
		analyzer:     analyzer,
		queryTimeout: cfg.QueryTimeout,
	}

	if err := s.ensureIndexes(connectCtx); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	if err := s.ensureTextConfig(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to apply text search config: %w", err)
	}

	return s, nil
}

func (s *MongoDBStorage) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func (s *MongoDBStorage) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(messagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "search_terms", Value: "text"}},
		Options: options.Index().
			SetName("search_terms_text").
			SetDefaultLanguage("none"),
	})
	return err
}

// ensureTextConfig re-derives search_terms for every document when the
// configured analyzer differs from the one the collection was built with
func (s *MongoDBStorage) ensureTextConfig(ctx context.Context) error {
	settings := s.db.Collection(settingsCollection)

	var current struct {
		Value string `bson:"value"`
	}
	err := settings.FindOne(ctx, bson.M{"_id": "text_config"}).Decode(&current)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}
	if current.Value == s.analyzer.Config() {
		return nil
	}

	messages := s.db.Collection(messagesCollection)
	cursor, err := messages.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"message": 1}))
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	var batch []mongo.WriteModel
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := messages.BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(false))
		batch = batch[:0]
		return err
	}
	for cursor.Next(ctx) {
		var doc struct {
			ID      string `bson:"_id"`
			Message string `bson:"message"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		batch = append(batch, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetUpdate(bson.M{"$set": bson.M{"search_terms": s.searchTerms(doc.Message)}}))
		if len(batch) >= reindexBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	_, err = settings.UpdateOne(ctx,
		bson.M{"_id": "text_config"},
		bson.M{"$set": bson.M{"value": s.analyzer.Config()}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *MongoDBStorage) searchTerms(text string) []string {
	terms := s.analyzer.Terms(text)
	if terms == nil {
		return []string{}
	}
	return terms
}

// UpsertMessages replaces each document by id in one unordered bulk write
func (s *MongoDBStorage) UpsertMessages(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	writes := make([]mongo.WriteModel, 0, len(messages))
	for _, m := range dedupeLastWins(messages) {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": m.ID}).
			SetReplacement(mongoMessage{
				ID:          m.ID,
				UserID:      m.UserID,
				UserName:    m.UserName,
				Timestamp:   m.Timestamp.UTC(),
				Message:     m.Message,
				SearchTerms: s.searchTerms(m.Message),
			}).
			SetUpsert(true))
	}

	if _, err := s.db.Collection(messagesCollection).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to upsert messages: %w", err)
	}
	return nil
}

// SearchMessages runs one aggregation whose $facet yields both the page and the total
func (s *MongoDBStorage) SearchMessages(ctx context.Context, query SearchQuery) (*models.SearchResult, error) {
	result := &models.SearchResult{Items: []models.Message{}}
	terms := s.analyzer.QueryTerms(query.Text)
	if len(terms) == 0 {
		return result, nil
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	page := bson.A{
		bson.M{"$sort": bson.D{{Key: "score", Value: -1}, {Key: "_id", Value: 1}}},
		bson.M{"$skip": query.Offset},
	}
	if query.Limit > 0 {
		page = append(page, bson.M{"$limit": query.Limit})
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"$text":        bson.M{"$search": strings.Join(terms, " "), "$language": "none"},
			"search_terms": bson.M{"$all": terms},
		}}},
		{{Key: "$addFields", Value: bson.M{"score": bson.M{"$meta": "textScore"}}}},
		{{Key: "$facet", Value: bson.M{
			"total": bson.A{bson.M{"$count": "n"}},
			"items": page,
		}}},
	}

	cursor, err := s.db.Collection(messagesCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer cursor.Close(ctx)

	var facets []struct {
		Total []struct {
			N int `bson:"n"`
		} `bson:"total"`
		Items []mongoMessage `bson:"items"`
	}
	if err := cursor.All(ctx, &facets); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}
	if len(facets) == 0 {
		return result, nil
	}

	if len(facets[0].Total) > 0 {
		result.Total = facets[0].Total[0].N
	}
	for _, m := range facets[0].Items {
		result.Items = append(result.Items, m.toModel())
	}
	return result, nil
}

// GetMessageByID retrieves a specific message by ID
func (s *MongoDBStorage) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var doc mongoMessage
	err := s.db.Collection(messagesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	msg := doc.toModel()
	return &msg, nil
}

// CountMessages returns the number of stored messages
func (s *MongoDBStorage) CountMessages(ctx context.Context) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.db.Collection(messagesCollection).CountDocuments(ctx, bson.M{})
}

// UpdateIngestionStatus updates the ingestion status
func (s *MongoDBStorage) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.Collection(statusCollection).ReplaceOne(ctx,
		bson.M{"_id": statusKey},
		status,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to update ingestion status: %w", err)
	}
	return nil
}

// GetIngestionStatus retrieves the current ingestion status
func (s *MongoDBStorage) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var status models.IngestionStatus
	err := s.db.Collection(statusCollection).FindOne(ctx, bson.M{"_id": statusKey}).Decode(&status)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return neverRunStatus(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion status: %w", err)
	}
	status.LastAttempt = status.LastAttempt.UTC()
	status.LastSuccessfulRun = status.LastSuccessfulRun.UTC()
	return &status, nil
}

// Ping checks the primary is reachable
func (s *MongoDBStorage) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client and its pool
func (s *MongoDBStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
