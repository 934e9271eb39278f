package storage

import (
	"context"
	"os"
	"testing"

	"mercator-hq/tollgate/pkg/quota"
)

// TestPostgresBackend runs against a real database when
// TOLLGATE_TEST_POSTGRES_DSN is set.
func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("TOLLGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TOLLGATE_TEST_POSTGRES_DSN not set")
	}

	runStoreTests(t, func(t *testing.T) quota.Store {
		backend, err := NewPostgresBackend(PostgresBackendConfig{DSN: dsn})
		if err != nil {
			t.Fatalf("Failed to create backend: %v", err)
		}
		if _, err := backend.db.ExecContext(context.Background(), "DELETE FROM quota_records"); err != nil {
			t.Fatalf("Failed to reset table: %v", err)
		}
		t.Cleanup(func() { backend.Close() })
		return backend
	})
}

func TestPostgresBackend_EmptyDSN(t *testing.T) {
	if _, err := NewPostgresBackend(PostgresBackendConfig{}); err == nil {
		t.Error("Expected error for empty DSN")
	}
}

func TestDialect_Rebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect dialect
		query   string
		want    string
	}{
		{
			name:    "sqlite keeps question marks",
			dialect: sqliteDialect,
			query:   "SELECT * FROM t WHERE a = ? AND b = ?",
			want:    "SELECT * FROM t WHERE a = ? AND b = ?",
		},
		{
			name:    "postgres numbers placeholders",
			dialect: postgresDialect,
			query:   "SELECT * FROM t WHERE a = ? AND b = ?",
			want:    "SELECT * FROM t WHERE a = $1 AND b = $2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.rebind(tt.query); got != tt.want {
				t.Errorf("rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}
