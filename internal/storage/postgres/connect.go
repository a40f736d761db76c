package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// PoolConfig bounds the connection pool opened against the destination store.
type PoolConfig struct {
	DSN            string
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdle    time.Duration
	ConnectTimeout time.Duration
}

// DefaultPoolConfig returns the documented defaults: 10 open connections,
// a 30s idle timeout, and a 2s connect timeout.
func DefaultPoolConfig(dsn string) PoolConfig {
	return PoolConfig{
		DSN:            dsn,
		MaxOpenConns:   10,
		MaxIdleConns:   10,
		ConnMaxIdle:    30 * time.Second,
		ConnectTimeout: 2 * time.Second,
	}
}

// Connect opens and pings a pooled connection to the destination Postgres
// database using the pgx stdlib driver.
func Connect(ctx context.Context, cfg PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open destination store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdle)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping destination store: %w", err)
	}
	return db, nil
}

// Disconnect closes the pool, releasing all idle connections.
func Disconnect(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
