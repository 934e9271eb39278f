package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a SQLite backend with default settings.
// SQLite suits single-instance deployments that need records to survive a
// restart.
func NewSQLiteBackend(dbPath string) (*SQLBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a SQLite backend with custom configuration.
//
// The database runs in WAL mode behind a single connection, which serializes
// every Update transaction in this process.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend, err := newSQLBackend(db, sqliteDialect)
	if err != nil {
		db.Close()
		return nil, err
	}

	done := make(chan struct{})
	go checkpointLoop(db, cfg.CheckpointInterval, done)

	backend.onClose = func(db *sql.DB) {
		close(done)
		_, _ = db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return backend, nil
}

// checkpointLoop runs periodic WAL checkpoints until done is closed.
func checkpointLoop(db *sql.DB, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-done:
			return
		}
	}
}
