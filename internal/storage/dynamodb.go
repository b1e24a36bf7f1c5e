package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/cyderes/message-search-service/internal/config"
	"github.com/cyderes/message-search-service/internal/models"
	"github.com/cyderes/message-search-service/internal/textsearch"
)

// batchWriteLimit is the DynamoDB maximum number of requests per BatchWriteItem
const batchWriteLimit = 25

const (
	statusKey   = "ingestion_status"
	settingsKey = "search_settings"
)

// DynamoDBStorage implements Storage interface using AWS DynamoDB.
// DynamoDB has no text index, so each item carries its analyzed term
// frequencies and search scans the table and ranks with BM25 in process.
type DynamoDBStorage struct {
	client      *dynamodb.DynamoDB
	tableName   string
	statusTable string
	analyzer    *textsearch.Analyzer
}

// dynamoMessage is the stored item layout
type dynamoMessage struct {
	ID          string         `dynamodbav:"id"`
	UserID      string         `dynamodbav:"user_id"`
	UserName    string         `dynamodbav:"user_name"`
	Timestamp   string         `dynamodbav:"timestamp"`
	Message     string         `dynamodbav:"message"`
	SearchTerms map[string]int `dynamodbav:"search_terms,omitempty"`
	TermCount   int            `dynamodbav:"term_count"`
}

func (d dynamoMessage) toModel() (models.Message, error) {
	ts, err := time.Parse(time.RFC3339Nano, d.Timestamp)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to parse timestamp of message %s: %w", d.ID, err)
	}
	return models.Message{
		ID:        d.ID,
		UserID:    d.UserID,
		UserName:  d.UserName,
		Timestamp: ts,
		Message:   d.Message,
	}, nil
}

// NewDynamoDBStorage creates a new DynamoDB storage instance
func NewDynamoDBStorage(ctx context.Context, cfg config.StorageConfig) (*DynamoDBStorage, error) {
	analyzer, err := textsearch.NewAnalyzer(cfg.TextSearchConfig)
	if err != nil {
		return nil, err
	}

	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	storage := &DynamoDBStorage{
		client:      dynamodb.New(sess),
		tableName:   cfg.TableName,
		statusTable: cfg.TableName + "_status",
		analyzer:    analyzer,
	}

	connectCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	for _, table := range []string{storage.tableName, storage.statusTable} {
		if err := storage.ensureTable(connectCtx, table); err != nil {
			return nil, fmt.Errorf("failed to ensure table %s exists: %w", table, err)
		}
	}

	if err := storage.ensureTextConfig(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply text search config: %w", err)
	}

	return storage, nil
}

// ensureTextConfig rewrites every item's search_terms when the configured
// analyzer differs from the one recorded in the status table
func (d *DynamoDBStorage) ensureTextConfig(ctx context.Context) error {
	out, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.statusTable),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(settingsKey)},
		},
	})
	if err != nil {
		return err
	}
	if v, ok := out.Item["text_config"]; ok && aws.StringValue(v.S) == d.analyzer.Config() {
		return nil
	}

	items, err := d.scanMessages(ctx)
	if err != nil {
		return err
	}
	messages := make([]models.Message, 0, len(items))
	for _, item := range items {
		msg, err := item.toModel()
		if err != nil {
			return err
		}
		messages = append(messages, msg)
	}
	if err := d.UpsertMessages(ctx, messages); err != nil {
		return err
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.statusTable),
		Item: map[string]*dynamodb.AttributeValue{
			"id":          {S: aws.String(settingsKey)},
			"text_config": {S: aws.String(d.analyzer.Config())},
		},
	})
	return err
}

// ensureTable creates a table keyed by a string id if it doesn't exist
func (d *DynamoDBStorage) ensureTable(ctx context.Context, table string) error {
	_, err := d.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err == nil {
		return nil
	}

	_, err = d.client.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("id"),
				KeyType:       aws.String(dynamodb.KeyTypeHash),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("id"),
				AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
			},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExistsWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
}

// UpsertMessages writes messages with BatchWriteItem, 25 per request
func (d *DynamoDBStorage) UpsertMessages(ctx context.Context, messages []models.Message) error {
	messages = dedupeLastWins(messages)

	for start := 0; start < len(messages); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(messages) {
			end = len(messages)
		}

		requests := make([]*dynamodb.WriteRequest, 0, end-start)
		for _, msg := range messages[start:end] {
			freqs, length := d.analyzer.TermFrequencies(msg.Message)
			item, err := dynamodbattribute.MarshalMap(dynamoMessage{
				ID:          msg.ID,
				UserID:      msg.UserID,
				UserName:    msg.UserName,
				Timestamp:   msg.Timestamp.UTC().Format(time.RFC3339Nano),
				Message:     msg.Message,
				SearchTerms: freqs,
				TermCount:   length,
			})
			if err != nil {
				return fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
			}
			requests = append(requests, &dynamodb.WriteRequest{
				PutRequest: &dynamodb.PutRequest{Item: item},
			})
		}

		if err := d.batchWrite(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

// batchWrite submits requests and resubmits whatever DynamoDB reports as unprocessed
func (d *DynamoDBStorage) batchWrite(ctx context.Context, requests []*dynamodb.WriteRequest) error {
	pending := map[string][]*dynamodb.WriteRequest{d.tableName: requests}
	for len(pending[d.tableName]) > 0 {
		out, err := d.client.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: pending,
		})
		if err != nil {
			return fmt.Errorf("failed to write messages: %w", err)
		}
		pending = out.UnprocessedItems
	}
	return nil
}

// scanMessages reads every message item
func (d *DynamoDBStorage) scanMessages(ctx context.Context) ([]dynamoMessage, error) {
	var items []dynamoMessage
	var decodeErr error
	err := d.client.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName: aws.String(d.tableName),
	}, func(page *dynamodb.ScanOutput, _ bool) bool {
		var batch []dynamoMessage
		if decodeErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &batch); decodeErr != nil {
			return false
		}
		items = append(items, batch...)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan messages: %w", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", decodeErr)
	}
	return items, nil
}

// SearchMessages scans the table once and computes the ranked page and total from that read
func (d *DynamoDBStorage) SearchMessages(ctx context.Context, query SearchQuery) (*models.SearchResult, error) {
	result := &models.SearchResult{Items: []models.Message{}}
	terms := d.analyzer.QueryTerms(query.Text)
	if len(terms) == 0 {
		return result, nil
	}

	items, err := d.scanMessages(ctx)
	if err != nil {
		return nil, err
	}

	stats := textsearch.CorpusStats{
		Documents: len(items),
		DocFreq:   make(map[string]int, len(terms)),
	}
	byID := make(map[string]dynamoMessage)
	var candidates []textsearch.Document
	for _, item := range items {
		doc := textsearch.Document{ID: item.ID, TermFreqs: item.SearchTerms, Length: item.TermCount}
		stats.TotalLength += doc.Length
		for _, t := range terms {
			if doc.TermFreqs[t] > 0 {
				stats.DocFreq[t]++
			}
		}
		if textsearch.MatchesAll(doc, terms) {
			candidates = append(candidates, doc)
			byID[item.ID] = item
		}
	}

	hits := make([]textsearch.Hit, 0, len(candidates))
	for _, doc := range candidates {
		hits = append(hits, textsearch.Hit{ID: doc.ID, Score: textsearch.Score(doc, terms, stats)})
	}
	textsearch.SortHits(hits)

	result.Total = len(hits)
	start, end := textsearch.PageBounds(len(hits), query.Offset, query.Limit)
	for _, h := range hits[start:end] {
		msg, err := byID[h.ID].toModel()
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, msg)
	}
	return result, nil
}

// GetMessageByID retrieves a specific message by ID
func (d *DynamoDBStorage) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(id)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var item dynamoMessage
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	msg, err := item.toModel()
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// CountMessages counts items with a COUNT scan
func (d *DynamoDBStorage) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	err := d.client.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName: aws.String(d.tableName),
		Select:    aws.String(dynamodb.SelectCount),
	}, func(page *dynamodb.ScanOutput, _ bool) bool {
		n += aws.Int64Value(page.Count)
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// UpdateIngestionStatus updates the ingestion status
func (d *DynamoDBStorage) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	item, err := dynamodbattribute.MarshalMap(status)
	if err != nil {
		return fmt.Errorf("failed to marshal ingestion status: %w", err)
	}

	// Add a fixed key for the status record
	item["id"] = &dynamodb.AttributeValue{S: aws.String(statusKey)}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.statusTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to update ingestion status: %w", err)
	}
	return nil
}

// GetIngestionStatus retrieves the current ingestion status
func (d *DynamoDBStorage) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.statusTable),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(statusKey)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion status: %w", err)
	}

	if result.Item == nil {
		return neverRunStatus(), nil
	}

	var status models.IngestionStatus
	if err := dynamodbattribute.UnmarshalMap(result.Item, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ingestion status: %w", err)
	}
	return &status, nil
}

// Ping describes the messages table
func (d *DynamoDBStorage) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	return err
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
