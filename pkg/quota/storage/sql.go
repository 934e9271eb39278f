package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"mercator-hq/tollgate/pkg/quota"
)

// dialect captures the differences between the SQL databases SQLBackend
// supports.
type dialect struct {
	// name is used in error messages.
	name string

	// numbered placeholders ($1, $2) instead of question marks.
	numbered bool

	// lockSuffix is appended to the SELECT inside Update to lock the row.
	lockSuffix string
}

// maxInsertAttempts bounds retries of an Update that lost a first-insert race.
const maxInsertAttempts = 3

var (
	sqliteDialect   = dialect{name: "sqlite"}
	postgresDialect = dialect{name: "postgres", numbered: true, lockSuffix: " FOR UPDATE"}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS quota_records (
		namespace TEXT NOT NULL,
		identity TEXT NOT NULL,
		window_start BIGINT NOT NULL,
		used BIGINT NOT NULL,
		max_requests BIGINT NOT NULL,
		last_request BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (namespace, identity)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quota_records_window_start
		ON quota_records(namespace, window_start)`,
}

const (
	recordColumns = `namespace, identity, window_start, used, max_requests, last_request`

	saveQuery = `
		INSERT INTO quota_records (namespace, identity, window_start, used, max_requests, last_request, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, identity) DO UPDATE SET
			window_start = excluded.window_start,
			used = excluded.used,
			max_requests = excluded.max_requests,
			last_request = excluded.last_request,
			updated_at = excluded.updated_at`

	// insertQuery creates a record only if none exists. Update uses it for
	// first writes because a row lock cannot cover a row that is missing.
	insertQuery = `
		INSERT INTO quota_records (namespace, identity, window_start, used, max_requests, last_request, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, identity) DO NOTHING`

	loadQuery = `SELECT ` + recordColumns + ` FROM quota_records WHERE namespace = ? AND identity = ?`

	deleteQuery = `DELETE FROM quota_records WHERE namespace = ? AND identity = ?`

	listQuery = `SELECT ` + recordColumns + ` FROM quota_records WHERE namespace = ? ORDER BY identity`

	cleanupQuery = `DELETE FROM quota_records WHERE namespace = ? AND window_start < ?`
)

// SQLBackend implements quota.Store on a database/sql connection pool.
// Use NewSQLiteBackend or NewPostgresBackend to construct one.
//
// Every operation acquires a connection from the pool for its own duration
// only; Update holds it for the length of one transaction.
type SQLBackend struct {
	db        *sql.DB
	dialect   dialect
	closeOnce sync.Once

	// preparedStatements contains pre-compiled SQL statements for performance
	saveStmt    *sql.Stmt
	insertStmt  *sql.Stmt
	loadStmt    *sql.Stmt
	deleteStmt  *sql.Stmt
	listStmt    *sql.Stmt
	cleanupStmt *sql.Stmt

	// onClose runs before the pool is closed.
	onClose func(db *sql.DB)
}

// newSQLBackend initializes the schema and prepares statements.
func newSQLBackend(db *sql.DB, d dialect) (*SQLBackend, error) {
	backend := &SQLBackend{db: db, dialect: d}

	if err := backend.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s schema: %w", d.name, err)
	}
	if err := backend.prepareStatements(); err != nil {
		backend.closeStatements()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return backend, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLBackend) initSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLBackend) prepareStatements() error {
	var err error

	prepare := func(name, query string) *sql.Stmt {
		if err != nil {
			return nil
		}
		var stmt *sql.Stmt
		stmt, err = s.db.Prepare(s.dialect.rebind(query))
		if err != nil {
			err = fmt.Errorf("failed to prepare %s statement: %w", name, err)
		}
		return stmt
	}

	s.saveStmt = prepare("save", saveQuery)
	s.insertStmt = prepare("insert", insertQuery)
	s.loadStmt = prepare("load", loadQuery)
	s.deleteStmt = prepare("delete", deleteQuery)
	s.listStmt = prepare("list", listQuery)
	s.cleanupStmt = prepare("cleanup", cleanupQuery)

	return err
}

// Load retrieves the record for a namespace and key.
func (s *SQLBackend) Load(ctx context.Context, ns quota.Namespace, key string) (*quota.Record, error) {
	if err := checkKey(ns, key); err != nil {
		return nil, err
	}

	record, err := scanRecord(s.loadStmt.QueryRowContext(ctx, string(ns), key))
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	return record, nil
}

// Save creates or overwrites a record.
func (s *SQLBackend) Save(ctx context.Context, record *quota.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	if _, err := s.saveStmt.ExecContext(ctx, saveArgs(record)...); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Update runs fn inside a transaction holding the row (PostgreSQL) or the
// single writer connection (SQLite). When the record does not exist yet and
// a concurrent Update creates it first, the attempt is retried against the
// new row; after maxInsertAttempts the update fails with quota.ErrConflict.
func (s *SQLBackend) Update(ctx context.Context, ns quota.Namespace, key string, fn quota.UpdateFunc) (*quota.Record, error) {
	if err := checkKey(ns, key); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		record, lost, err := s.update(ctx, ns, key, fn)
		if err != nil {
			return nil, err
		}
		if !lost {
			return record, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", quota.ErrConflict, ns, key)
}

// update makes one transactional attempt. lost reports that another writer
// created the record between the read and the insert.
func (s *SQLBackend) update(ctx context.Context, ns quota.Namespace, key string, fn quota.UpdateFunc) (record *quota.Record, lost bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback() }()

	query := s.dialect.rebind(loadQuery + s.dialect.lockSuffix)
	current, err := scanRecord(tx.QueryRowContext(ctx, query, string(ns), key))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load record: %w", err)
	}

	next, err := fn(current.Clone())
	if err != nil {
		return nil, false, err
	}
	if next == nil {
		return current, false, tx.Commit()
	}
	if err := checkUpdated(next, ns, key); err != nil {
		return nil, false, err
	}

	if current == nil {
		res, err := tx.StmtContext(ctx, s.insertStmt).ExecContext(ctx, saveArgs(next)...)
		if err != nil {
			return nil, false, fmt.Errorf("failed to insert record: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, true, nil
		}
	} else if _, err := tx.StmtContext(ctx, s.saveStmt).ExecContext(ctx, saveArgs(next)...); err != nil {
		return nil, false, fmt.Errorf("failed to save record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return next.Clone(), false, nil
}

// Delete removes a record.
func (s *SQLBackend) Delete(ctx context.Context, ns quota.Namespace, key string) error {
	if err := checkKey(ns, key); err != nil {
		return err
	}

	if _, err := s.deleteStmt.ExecContext(ctx, string(ns), key); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// List returns all records in a namespace.
func (s *SQLBackend) List(ctx context.Context, ns quota.Namespace) ([]*quota.Record, error) {
	rows, err := s.listStmt.QueryContext(ctx, string(ns))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*quota.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// Cleanup removes records whose window started before the cutoff.
func (s *SQLBackend) Cleanup(ctx context.Context, ns quota.Namespace, before time.Time) (int, error) {
	result, err := s.cleanupStmt.ExecContext(ctx, string(ns), before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(deleted), nil
}

// Ping reports whether the database is reachable.
func (s *SQLBackend) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		s.closeStatements()
		if s.onClose != nil {
			s.onClose(s.db)
		}
		closeErr = s.db.Close()
	})

	return closeErr
}

func (s *SQLBackend) closeStatements() {
	for _, stmt := range []*sql.Stmt{s.saveStmt, s.insertStmt, s.loadStmt, s.deleteStmt, s.listStmt, s.cleanupStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one record. A missing row yields (nil, nil).
func scanRecord(row rowScanner) (*quota.Record, error) {
	var (
		ns          string
		key         string
		windowStart int64
		used        int64
		limit       int64
		lastRequest int64
	)

	err := row.Scan(&ns, &key, &windowStart, &used, &limit, &lastRequest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &quota.Record{
		Namespace:   quota.Namespace(ns),
		Key:         key,
		WindowStart: time.UnixMilli(windowStart),
		Used:        used,
		Limit:       limit,
		LastRequest: time.UnixMilli(lastRequest),
	}, nil
}

func saveArgs(r *quota.Record) []any {
	return []any{
		string(r.Namespace),
		r.Key,
		r.WindowStart.UnixMilli(),
		r.Used,
		r.Limit,
		r.LastRequest.UnixMilli(),
		time.Now().UnixMilli(),
	}
}
