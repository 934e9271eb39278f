package retention

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/tollgate/pkg/quota"
	"mercator-hq/tollgate/pkg/quota/storage"
)

var now = time.Unix(1_700_000_000, 0)

func newTestEngine(t *testing.T, store quota.Store) *quota.Engine {
	t.Helper()

	return quota.NewEngine(store, quota.EngineConfig{
		Limits: quota.Limits{Window: 24 * time.Hour, GuestMaxRequests: 5, UserMaxRequests: 50},
		Clock:  func() time.Time { return now },
	})
}

func seed(t *testing.T, store quota.Store, records ...*quota.Record) {
	t.Helper()
	for _, r := range records {
		if err := store.Save(context.Background(), r); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
}

func TestSweeper_Sweep(t *testing.T) {
	tests := []struct {
		name        string
		namespaces  []quota.Namespace
		multiplier  int
		wantDeleted map[quota.Namespace]int
		wantRemain  int
	}{
		{
			name:        "defaults sweep guests older than two windows",
			wantDeleted: map[quota.Namespace]int{quota.NamespaceGuest: 1},
			wantRemain:  3,
		},
		{
			name:        "both namespaces",
			namespaces:  quota.Namespaces,
			multiplier:  2,
			wantDeleted: map[quota.Namespace]int{quota.NamespaceGuest: 1, quota.NamespaceUser: 1},
			wantRemain:  2,
		},
		{
			name:        "larger multiplier keeps more",
			namespaces:  quota.Namespaces,
			multiplier:  4,
			wantDeleted: map[quota.Namespace]int{quota.NamespaceGuest: 0, quota.NamespaceUser: 0},
			wantRemain:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryBackend()
			defer store.Close()

			seed(t, store,
				quota.NewRecord(quota.Guest("old"), now.Add(-72*time.Hour), 5, 5),
				quota.NewRecord(quota.Guest("recent"), now.Add(-30*time.Hour), 2, 5),
				quota.NewRecord(quota.User("old"), now.Add(-72*time.Hour), 9, 50),
				quota.NewRecord(quota.User("recent"), now.Add(-time.Hour), 1, 50),
			)

			sweeper := NewSweeper(newTestEngine(t, store), &Config{
				Namespaces:    tt.namespaces,
				TTLMultiplier: tt.multiplier,
			}, nil)

			result, err := sweeper.Sweep(context.Background())
			if err != nil {
				t.Fatalf("Sweep failed: %v", err)
			}

			for ns, want := range tt.wantDeleted {
				if got := result.Deleted[ns]; got != want {
					t.Errorf("deleted[%s] = %d, want %d", ns, got, want)
				}
			}
			if store.Size() != tt.wantRemain {
				t.Errorf("remaining records = %d, want %d", store.Size(), tt.wantRemain)
			}
		})
	}
}

func TestSweeper_Cutoff(t *testing.T) {
	store := storage.NewMemoryBackend()
	defer store.Close()

	sweeper := NewSweeper(newTestEngine(t, store), nil, nil)

	result, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if want := now.Add(-48 * time.Hour); !result.Cutoff.Equal(want) {
		t.Errorf("Cutoff = %v, want %v", result.Cutoff, want)
	}
	if result.Total() != 0 {
		t.Errorf("Total = %d, want 0", result.Total())
	}
}

func TestSweeper_FollowsReloadedWindow(t *testing.T) {
	store := storage.NewMemoryBackend()
	defer store.Close()

	engine := newTestEngine(t, store)
	seed(t, store, quota.NewRecord(quota.Guest("fp"), now.Add(-3*time.Hour), 1, 5))

	sweeper := NewSweeper(engine, nil, nil)
	if result, _ := sweeper.Sweep(context.Background()); result.Total() != 0 {
		t.Fatalf("Expected nothing swept under 24h window, got %d", result.Total())
	}

	engine.SetLimits(quota.Limits{Window: time.Hour, GuestMaxRequests: 5, UserMaxRequests: 50})
	if result, _ := sweeper.Sweep(context.Background()); result.Total() != 1 {
		t.Errorf("Expected 1 record swept under 1h window, got %d", result.Total())
	}
}

// flakyStore fails Cleanup for one namespace.
type flakyStore struct {
	*storage.MemoryBackend
	failing quota.Namespace
}

func (f flakyStore) Cleanup(ctx context.Context, ns quota.Namespace, before time.Time) (int, error) {
	if ns == f.failing {
		return 0, errors.New("timeout")
	}
	return f.MemoryBackend.Cleanup(ctx, ns, before)
}

func TestSweeper_ContinuesAfterFailure(t *testing.T) {
	mem := storage.NewMemoryBackend()
	defer mem.Close()
	store := flakyStore{MemoryBackend: mem, failing: quota.NamespaceGuest}

	seed(t, store, quota.NewRecord(quota.User("old"), now.Add(-72*time.Hour), 9, 50))

	reg := prometheus.NewRegistry()
	sweeper := NewSweeper(newTestEngine(t, store), &Config{Namespaces: quota.Namespaces}, quota.NewMetrics(reg))

	result, err := sweeper.Sweep(context.Background())
	if err == nil || !strings.Contains(err.Error(), "sweep guest") {
		t.Errorf("Expected guest sweep error, got %v", err)
	}
	if result.Deleted[quota.NamespaceUser] != 1 {
		t.Errorf("Expected user namespace swept despite guest failure, got %+v", result.Deleted)
	}

	expected := `
# HELP tollgate_quota_swept_records_total Total number of expired records deleted by the sweeper
# TYPE tollgate_quota_swept_records_total counter
tollgate_quota_swept_records_total{namespace="user"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "tollgate_quota_swept_records_total"); err != nil {
		t.Error(err)
	}
}
