package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cyderes/message-search-service/internal/config"
	"github.com/cyderes/message-search-service/internal/models"
	"github.com/cyderes/message-search-service/internal/textsearch"
)

// PostgreSQLStorage implements Storage using PostgreSQL full-text search.
//
// search_vector is a generated column, so it is recomputed by the database on
// every insert and update of message and can never be written directly. The
// same regconfig is used by the column and by plainto_tsquery at query time.
type PostgreSQLStorage struct {
	connPool
	textConfig string
}

// NewPostgreSQLStorage opens a bounded connection pool, verifies connectivity
// and ensures the schema exists
func NewPostgreSQLStorage(ctx context.Context, cfg config.StorageConfig) (*PostgreSQLStorage, error) {
	// Only whitelisted names reach the DDL below
	if _, err := textsearch.NewAnalyzer(cfg.TextSearchConfig); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &PostgreSQLStorage{
		connPool:   newConnPool(db, cfg),
		textConfig: cfg.TextSearchConfig,
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := s.warm(connectCtx, cfg.MinConns); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return s, nil
}

func (s *PostgreSQLStorage) searchVectorDDL() string {
	return fmt.Sprintf(`search_vector TSVECTOR GENERATED ALWAYS AS (to_tsvector('%s'::regconfig, message)) STORED`, s.textConfig)
}

// ensureSchema creates the tables and indexes, and rebuilds search_vector when
// the configured text search config differs from the one the column was built with
func (s *PostgreSQLStorage) ensureSchema(ctx context.Context) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS search_settings (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id        VARCHAR PRIMARY KEY,
				user_id   VARCHAR NOT NULL,
				user_name VARCHAR NOT NULL,
				timestamp TIMESTAMPTZ NOT NULL,
				message   TEXT NOT NULL,
				` + s.searchVectorDDL() + `
			)`,
			`CREATE TABLE IF NOT EXISTS ingestion_status (
				id                  SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
				run_id              TEXT,
				status              TEXT NOT NULL,
				last_attempt        TIMESTAMPTZ,
				last_successful_run TIMESTAMPTZ,
				records_ingested    INTEGER NOT NULL DEFAULT 0,
				error_message       TEXT
			)`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}

		var current string
		err := tx.QueryRowContext(ctx, `SELECT value FROM search_settings WHERE key = 'text_config'`).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if current != s.textConfig {
			// Unknown or different config: rebuild the derived column from message.
			// This also migrates tables created with a trigger-maintained column.
			rebuild := []string{
				`DROP TRIGGER IF EXISTS messages_search_vector_trigger ON messages`,
				`DROP INDEX IF EXISTS idx_search_vector`,
				`ALTER TABLE messages DROP COLUMN IF EXISTS search_vector`,
				`ALTER TABLE messages ADD COLUMN ` + s.searchVectorDDL(),
				`INSERT INTO search_settings (key, value) VALUES ('text_config', $1)
				 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			}
			for i, stmt := range rebuild {
				var args []interface{}
				if i == len(rebuild)-1 {
					args = append(args, s.textConfig)
				}
				if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
					return err
				}
			}
		}

		indexes := []string{
			`CREATE INDEX IF NOT EXISTS idx_search_vector ON messages USING GIN(search_vector)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_id ON messages(id)`,
		}
		for _, stmt := range indexes {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertMessages stores a page of messages in one statement. Existing rows get
// every field replaced; search_vector follows automatically.
func (s *PostgreSQLStorage) UpsertMessages(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	messages = dedupeLastWins(messages)

	ids := make([]string, len(messages))
	userIDs := make([]string, len(messages))
	userNames := make([]string, len(messages))
	timestamps := make([]string, len(messages))
	bodies := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
		userIDs[i] = m.UserID
		userNames[i] = m.UserName
		timestamps[i] = m.Timestamp.Format(time.RFC3339Nano)
		bodies[i] = m.Message
	}

	query := `
		INSERT INTO messages (id, user_id, user_name, timestamp, message)
		SELECT * FROM unnest($1::varchar[], $2::varchar[], $3::varchar[], $4::timestamptz[], $5::text[])
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			user_name = EXCLUDED.user_name,
			timestamp = EXCLUDED.timestamp,
			message = EXCLUDED.message`

	return s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, query,
			pq.Array(ids),
			pq.Array(userIDs),
			pq.Array(userNames),
			pq.Array(timestamps),
			pq.Array(bodies),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert %d messages: %w", len(messages), err)
		}
		return nil
	})
}

// SearchMessages ranks matches with ts_rank and returns the requested page
// together with the total match count. The LEFT JOIN keeps one row carrying the
// total even when the page is past the end.
func (s *PostgreSQLStorage) SearchMessages(ctx context.Context, query SearchQuery) (*models.SearchResult, error) {
	stmt := `
		WITH q AS (
			SELECT plainto_tsquery($1::regconfig, $2) AS query
		), matched AS (
			SELECT m.id, m.user_id, m.user_name, m.timestamp, m.message,
			       ts_rank(m.search_vector, q.query) AS rank
			FROM messages m, q
			WHERE m.search_vector @@ q.query
		), page AS (
			SELECT * FROM matched
			ORDER BY rank DESC, id ASC
			LIMIT $3 OFFSET $4
		)
		SELECT t.total, p.id, p.user_id, p.user_name, p.timestamp, p.message
		FROM (SELECT count(*) AS total FROM matched) t
		LEFT JOIN page p ON true
		ORDER BY p.rank DESC, p.id ASC`

	result := &models.SearchResult{Items: []models.Message{}}
	err := s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, stmt, s.textConfig, query.Text, query.Limit, query.Offset)
		if err != nil {
			return fmt.Errorf("failed to search messages: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id, userID, userName, body sql.NullString
				ts                         sql.NullTime
			)
			if err := rows.Scan(&result.Total, &id, &userID, &userName, &ts, &body); err != nil {
				return fmt.Errorf("failed to scan search row: %w", err)
			}
			if !id.Valid {
				continue
			}
			result.Items = append(result.Items, models.Message{
				ID:        id.String,
				UserID:    userID.String,
				UserName:  userName.String,
				Timestamp: ts.Time.UTC(),
				Message:   body.String,
			})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetMessageByID retrieves a specific message by ID
func (s *PostgreSQLStorage) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	var msg *models.Message
	err := s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var m models.Message
		err := conn.QueryRowContext(ctx,
			`SELECT id, user_id, user_name, timestamp, message FROM messages WHERE id = $1`, id,
		).Scan(&m.ID, &m.UserID, &m.UserName, &m.Timestamp, &m.Message)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get message %s: %w", id, err)
		}
		m.Timestamp = m.Timestamp.UTC()
		msg = &m
		return nil
	})
	return msg, err
}

// CountMessages returns the number of stored messages
func (s *PostgreSQLStorage) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	err := s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `SELECT count(*) FROM messages`).Scan(&n)
	})
	return n, err
}

// UpdateIngestionStatus upserts the single status row
func (s *PostgreSQLStorage) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	return s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO ingestion_status (id, run_id, status, last_attempt, last_successful_run, records_ingested, error_message)
			VALUES (1, $1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				run_id = EXCLUDED.run_id,
				status = EXCLUDED.status,
				last_attempt = EXCLUDED.last_attempt,
				last_successful_run = EXCLUDED.last_successful_run,
				records_ingested = EXCLUDED.records_ingested,
				error_message = EXCLUDED.error_message`,
			status.RunID,
			status.Status,
			nullTime(status.LastAttempt),
			nullTime(status.LastSuccessfulRun),
			status.RecordsIngested,
			status.ErrorMessage,
		)
		if err != nil {
			return fmt.Errorf("failed to update ingestion status: %w", err)
		}
		return nil
	})
}

// GetIngestionStatus retrieves the current ingestion status
func (s *PostgreSQLStorage) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	var status *models.IngestionStatus
	err := s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var (
			st                  models.IngestionStatus
			runID, errMsg       sql.NullString
			lastAttempt, lastOK sql.NullTime
		)
		err := conn.QueryRowContext(ctx, `
			SELECT run_id, status, last_attempt, last_successful_run, records_ingested, error_message
			FROM ingestion_status WHERE id = 1`,
		).Scan(&runID, &st.Status, &lastAttempt, &lastOK, &st.RecordsIngested, &errMsg)
		if errors.Is(err, sql.ErrNoRows) {
			status = neverRunStatus()
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get ingestion status: %w", err)
		}
		st.RunID = runID.String
		st.ErrorMessage = errMsg.String
		if lastAttempt.Valid {
			st.LastAttempt = lastAttempt.Time.UTC()
		}
		if lastOK.Valid {
			st.LastSuccessfulRun = lastOK.Time.UTC()
		}
		status = &st
		return nil
	})
	return status, err
}

// Ping executes a trivial round trip
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	return s.ping(ctx)
}
