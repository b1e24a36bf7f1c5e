package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cyderes/message-search-service/internal/config"
)

// connPool is the owned, bounded connection resource shared by the SQL backends.
// Callers check out one connection per operation through withConn.
type connPool struct {
	db           *sql.DB
	queryTimeout time.Duration
}

func newConnPool(db *sql.DB, cfg config.StorageConfig) connPool {
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return connPool{db: db, queryTimeout: cfg.QueryTimeout}
}

// warm opens n connections up front so the first requests do not pay for the handshake
func (p connPool) warm(ctx context.Context, n int) error {
	if n < 1 {
		return p.db.PingContext(ctx)
	}
	conns := make([]*sql.Conn, 0, n)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	for i := 0; i < n; i++ {
		c, err := p.db.Conn(ctx)
		if err != nil {
			return err
		}
		conns = append(conns, c)
		if err := c.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// withConn checks a connection out of the pool for the duration of fn and
// returns it on every exit path, including panics in fn
func (p connPool) withConn(ctx context.Context, fn func(ctx context.Context, conn *sql.Conn) error) error {
	if p.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.queryTimeout)
		defer cancel()
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	return fn(ctx, conn)
}

// withTx runs fn inside a transaction on a checked-out connection
func (p connPool) withTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return p.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if err := fn(ctx, tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ping executes a trivial round trip on a pooled connection
func (p connPool) ping(ctx context.Context) error {
	return p.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var one int
		return conn.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
	})
}

// Close closes every pooled connection
func (p connPool) Close() error {
	return p.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
