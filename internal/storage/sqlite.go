package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cyderes/message-search-service/internal/config"
	"github.com/cyderes/message-search-service/internal/models"
	"github.com/cyderes/message-search-service/internal/textsearch"
)

// SQLiteStorage implements Storage using an SQLite database with an FTS5
// external-content index. Triggers keep messages_fts in step with every insert,
// update and delete on messages, so the index is never stale.
type SQLiteStorage struct {
	connPool
	textConfig string
	analyzer   *textsearch.Analyzer
}

var sqliteTokenizers = map[string]string{
	textsearch.ConfigEnglish: "porter unicode61",
	textsearch.ConfigSimple:  "unicode61",
}

// NewSQLiteStorage opens (creating if needed) the database file at cfg.SQLitePath
func NewSQLiteStorage(ctx context.Context, cfg config.StorageConfig) (*SQLiteStorage, error) {
	analyzer, err := textsearch.NewAnalyzer(cfg.TextSearchConfig)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", cfg.SQLitePath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStorage{
		connPool:   newConnPool(db, cfg),
		textConfig: cfg.TextSearchConfig,
		analyzer:   analyzer,
	}

	if err := s.warm(ctx, cfg.MinConns); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) ftsDDL() []string {
	return []string{
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
			message, content='messages', content_rowid='pk', tokenize='%s'
		)`, sqliteTokenizers[s.textConfig]),
		`CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(rowid, message) VALUES (new.pk, new.message);
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, message) VALUES ('delete', old.pk, old.message);
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, message) VALUES ('delete', old.pk, old.message);
			INSERT INTO messages_fts(rowid, message) VALUES (new.pk, new.message);
		END`,
	}
}

func (s *SQLiteStorage) ensureSchema(ctx context.Context) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS search_settings (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				pk        INTEGER PRIMARY KEY,
				id        TEXT NOT NULL UNIQUE,
				user_id   TEXT NOT NULL,
				user_name TEXT NOT NULL,
				timestamp TEXT NOT NULL,
				message   TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS ingestion_status (
				id                  INTEGER PRIMARY KEY CHECK (id = 1),
				run_id              TEXT,
				status              TEXT NOT NULL,
				last_attempt        TEXT,
				last_successful_run TEXT,
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

		rebuild := current != s.textConfig
		if rebuild {
			for _, stmt := range []string{
				`DROP TRIGGER IF EXISTS messages_ai`,
				`DROP TRIGGER IF EXISTS messages_ad`,
				`DROP TRIGGER IF EXISTS messages_au`,
				`DROP TABLE IF EXISTS messages_fts`,
			} {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
		}

		for _, stmt := range s.ftsDDL() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}

		if rebuild {
			if _, err := tx.ExecContext(ctx, `INSERT INTO messages_fts(messages_fts) VALUES ('rebuild')`); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO search_settings (key, value) VALUES ('text_config', ?)
				 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, s.textConfig,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertMessages stores a page of messages in one transaction
func (s *SQLiteStorage) UpsertMessages(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO messages (id, user_id, user_name, timestamp, message)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				user_id = excluded.user_id,
				user_name = excluded.user_name,
				timestamp = excluded.timestamp,
				message = excluded.message`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, m := range messages {
			if _, err := stmt.ExecContext(ctx, m.ID, m.UserID, m.UserName, m.Timestamp.UTC().Format(time.RFC3339Nano), m.Message); err != nil {
				return fmt.Errorf("failed to upsert message %s: %w", m.ID, err)
			}
		}
		return nil
	})
}

// ftsMatchExpression quotes every word so FTS5 treats them as plain terms joined by AND.
// Words are split the way the analyzer splits them; FTS5 then applies the table
// tokenizer (folding, stemming) to each quoted term. FTS5 has no stop-word list,
// so english stop words are dropped here.
func ftsMatchExpression(analyzer *textsearch.Analyzer, text string) string {
	var quoted []string
	for _, w := range analyzer.Words(text) {
		if analyzer.IsStopWord(w) {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// SearchMessages ranks matches with FTS5 bm25 (lower is better) and returns the
// requested page together with the total match count
func (s *SQLiteStorage) SearchMessages(ctx context.Context, query SearchQuery) (*models.SearchResult, error) {
	result := &models.SearchResult{Items: []models.Message{}}
	match := ftsMatchExpression(s.analyzer, query.Text)
	if match == "" {
		return result, nil
	}

	stmt := `
		WITH matched AS (
			SELECT m.id, m.user_id, m.user_name, m.timestamp, m.message,
			       bm25(messages_fts) AS rank
			FROM messages_fts
			JOIN messages m ON m.pk = messages_fts.rowid
			WHERE messages_fts MATCH ?
		), page AS (
			SELECT * FROM matched
			ORDER BY rank ASC, id ASC
			LIMIT ? OFFSET ?
		)
		SELECT t.total, p.id, p.user_id, p.user_name, p.timestamp, p.message
		FROM (SELECT count(*) AS total FROM matched) t
		LEFT JOIN page p ON 1 = 1
		ORDER BY p.rank ASC, p.id ASC`

	err := s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, stmt, match, query.Limit, query.Offset)
		if err != nil {
			return fmt.Errorf("failed to search messages: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id, userID, userName, ts, body sql.NullString
			if err := rows.Scan(&result.Total, &id, &userID, &userName, &ts, &body); err != nil {
				return fmt.Errorf("failed to scan search row: %w", err)
			}
			if !id.Valid {
				continue
			}
			parsed, err := time.Parse(time.RFC3339Nano, ts.String)
			if err != nil {
				return fmt.Errorf("failed to parse timestamp of message %s: %w", id.String, err)
			}
			result.Items = append(result.Items, models.Message{
				ID:        id.String,
				UserID:    userID.String,
				UserName:  userName.String,
				Timestamp: parsed,
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
func (s *SQLiteStorage) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	var msg *models.Message
	err := s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var (
			m  models.Message
			ts string
		)
		err := conn.QueryRowContext(ctx,
			`SELECT id, user_id, user_name, timestamp, message FROM messages WHERE id = ?`, id,
		).Scan(&m.ID, &m.UserID, &m.UserName, &ts, &m.Message)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get message %s: %w", id, err)
		}
		if m.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return fmt.Errorf("failed to parse timestamp of message %s: %w", id, err)
		}
		msg = &m
		return nil
	})
	return msg, err
}

// CountMessages returns the number of stored messages
func (s *SQLiteStorage) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	err := s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `SELECT count(*) FROM messages`).Scan(&n)
	})
	return n, err
}

// UpdateIngestionStatus upserts the single status row
func (s *SQLiteStorage) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	return s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO ingestion_status (id, run_id, status, last_attempt, last_successful_run, records_ingested, error_message)
			VALUES (1, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				run_id = excluded.run_id,
				status = excluded.status,
				last_attempt = excluded.last_attempt,
				last_successful_run = excluded.last_successful_run,
				records_ingested = excluded.records_ingested,
				error_message = excluded.error_message`,
			status.RunID,
			status.Status,
			formatOptionalTime(status.LastAttempt),
			formatOptionalTime(status.LastSuccessfulRun),
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
func (s *SQLiteStorage) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	var status *models.IngestionStatus
	err := s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var st models.IngestionStatus
		var runID, errMsg, lastAttempt, lastOK sql.NullString
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
		st.LastAttempt = parseOptionalTime(lastAttempt)
		st.LastSuccessfulRun = parseOptionalTime(lastOK)
		status = &st
		return nil
	})
	return status, err
}

// Ping executes a trivial round trip
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

func formatOptionalTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseOptionalTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
