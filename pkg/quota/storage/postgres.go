package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresBackendConfig configures the PostgreSQL backend.
type PostgresBackendConfig struct {
	// DSN is a lib/pq connection string or URL.
	DSN string

	// MaxOpenConns bounds the connection pool.
	// Default: 10
	MaxOpenConns int

	// ConnectTimeout bounds the initial ping.
	// Default: 5 seconds
	ConnectTimeout time.Duration
}

// NewPostgresBackend creates a PostgreSQL backend shared by every gateway
// instance. Update locks the record row with SELECT ... FOR UPDATE.
//
// Two instances creating the same record for the first time both see no row
// to lock. Only one insert succeeds; the other Update retries against the
// row that now exists, so neither increment is lost.
func NewPostgresBackend(cfg PostgresBackendConfig) (*SQLBackend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	backend, err := newSQLBackend(db, postgresDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return backend, nil
}
