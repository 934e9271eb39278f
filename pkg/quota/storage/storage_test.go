package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/quota"
)

// runStoreTests exercises the quota.Store contract against a backend.
func runStoreTests(t *testing.T, newStore func(t *testing.T) quota.Store) {
	t.Run("SaveAndLoad", func(t *testing.T) { testSaveAndLoad(t, newStore(t)) })
	t.Run("LoadNonExistent", func(t *testing.T) { testLoadNonExistent(t, newStore(t)) })
	t.Run("NamespaceIsolation", func(t *testing.T) { testNamespaceIsolation(t, newStore(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("UpdateNoWrite", func(t *testing.T) { testUpdateNoWrite(t, newStore(t)) })
	t.Run("UpdateError", func(t *testing.T) { testUpdateError(t, newStore(t)) })
	t.Run("UpdateRejectsMovedRecord", func(t *testing.T) { testUpdateRejectsMovedRecord(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("Cleanup", func(t *testing.T) { testCleanup(t, newStore(t)) })
	t.Run("Validation", func(t *testing.T) { testValidation(t, newStore(t)) })
	t.Run("ConcurrentUpdate", func(t *testing.T) { testConcurrentUpdate(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { testPing(t, newStore(t)) })
}

// testNow is millisecond aligned so round trips through any backend compare
// equal.
func testNow() time.Time {
	return time.UnixMilli(time.Now().UnixMilli())
}

func testSaveAndLoad(t *testing.T, store quota.Store) {
	ctx := context.Background()
	now := testNow()

	record := &quota.Record{
		Namespace:   quota.NamespaceGuest,
		Key:         "fp-123",
		WindowStart: now.Add(-time.Hour),
		Used:        3,
		Limit:       5,
		LastRequest: now,
	}

	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, quota.NamespaceGuest, "fp-123")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Expected record, got nil")
	}
	assertRecord(t, loaded, record)
}

func testLoadNonExistent(t *testing.T, store quota.Store) {
	loaded, err := store.Load(context.Background(), quota.NamespaceUser, "user:missing")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != nil {
		t.Errorf("Expected nil for non-existent record, got %+v", loaded)
	}
}

func testNamespaceIsolation(t *testing.T, store quota.Store) {
	ctx := context.Background()
	now := testNow()

	guest := quota.NewRecord(quota.Guest("abc"), now, 4, 5)
	if err := store.Save(ctx, guest); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Same raw key in the other namespace.
	other := &quota.Record{Namespace: quota.NamespaceUser, Key: "abc", WindowStart: now, Used: 1, Limit: 50, LastRequest: now}
	if err := store.Save(ctx, other); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, quota.NamespaceGuest, "abc")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil || loaded.Used != 4 {
		t.Errorf("Expected guest record with used=4, got %+v", loaded)
	}

	loaded, err = store.Load(ctx, quota.NamespaceUser, "abc")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil || loaded.Used != 1 {
		t.Errorf("Expected user record with used=1, got %+v", loaded)
	}
}

func testUpdate(t *testing.T, store quota.Store) {
	ctx := context.Background()
	now := testNow()
	id := quota.User("42")

	created, err := store.Update(ctx, id.Namespace, id.Key(), func(current *quota.Record) (*quota.Record, error) {
		if current != nil {
			return nil, fmt.Errorf("expected absent record, got %+v", current)
		}
		return quota.NewRecord(id, now, 1, 50), nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if created == nil || created.Used != 1 {
		t.Fatalf("Expected created record with used=1, got %+v", created)
	}

	updated, err := store.Update(ctx, id.Namespace, id.Key(), func(current *quota.Record) (*quota.Record, error) {
		current.Used++
		current.LastRequest = now.Add(time.Minute)
		return current, nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Used != 2 {
		t.Errorf("Expected used 2, got %d", updated.Used)
	}

	loaded, err := store.Load(ctx, id.Namespace, id.Key())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Used != 2 {
		t.Errorf("Expected persisted used 2, got %d", loaded.Used)
	}
	if !loaded.WindowStart.Equal(now) {
		t.Errorf("Expected window start %v, got %v", now, loaded.WindowStart)
	}
	if !loaded.LastRequest.Equal(now.Add(time.Minute)) {
		t.Errorf("Expected last request %v, got %v", now.Add(time.Minute), loaded.LastRequest)
	}
}

func testUpdateNoWrite(t *testing.T, store quota.Store) {
	ctx := context.Background()
	now := testNow()

	result, err := store.Update(ctx, quota.NamespaceGuest, "fp-none", func(current *quota.Record) (*quota.Record, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if result != nil {
		t.Errorf("Expected nil result for absent record, got %+v", result)
	}

	record := quota.NewRecord(quota.Guest("fp-keep"), now, 2, 5)
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	result, err = store.Update(ctx, quota.NamespaceGuest, "fp-keep", func(current *quota.Record) (*quota.Record, error) {
		current.Used = 99 // discarded
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if result == nil || result.Used != 2 {
		t.Errorf("Expected unchanged record with used=2, got %+v", result)
	}

	loaded, _ := store.Load(ctx, quota.NamespaceGuest, "fp-keep")
	if loaded == nil || loaded.Used != 2 {
		t.Errorf("Expected stored used 2, got %+v", loaded)
	}
}

func testUpdateError(t *testing.T, store quota.Store) {
	ctx := context.Background()
	now := testNow()
	sentinel := errors.New("boom")

	record := quota.NewRecord(quota.Guest("fp-err"), now, 1, 5)
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	_, err := store.Update(ctx, quota.NamespaceGuest, "fp-err", func(current *quota.Record) (*quota.Record, error) {
		return nil, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Expected sentinel error, got %v", err)
	}

	loaded, _ := store.Load(ctx, quota.NamespaceGuest, "fp-err")
	if loaded == nil || loaded.Used != 1 {
		t.Errorf("Expected record untouched after failed update, got %+v", loaded)
	}
}

func testUpdateRejectsMovedRecord(t *testing.T, store quota.Store) {
	ctx := context.Background()
	now := testNow()

	_, err := store.Update(ctx, quota.NamespaceGuest, "fp-a", func(current *quota.Record) (*quota.Record, error) {
		return quota.NewRecord(quota.Guest("fp-b"), now, 1, 5), nil
	})
	if !errors.Is(err, quota.ErrInvalidRecord) {
		t.Errorf("Expected ErrInvalidRecord, got %v", err)
	}

	for _, key := range []string{"fp-a", "fp-b"} {
		loaded, _ := store.Load(ctx, quota.NamespaceGuest, key)
		if loaded != nil {
			t.Errorf("Expected no record for %s, got %+v", key, loaded)
		}
	}
}

func testDelete(t *testing.T, store quota.Store) {
	ctx := context.Background()

	record := quota.NewRecord(quota.User("7"), testNow(), 1, 50)
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Delete(ctx, quota.NamespaceUser, "user:7"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	loaded, err := store.Load(ctx, quota.NamespaceUser, "user:7")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != nil {
		t.Errorf("Expected nil after delete, got %+v", loaded)
	}

	// Deleting again is not an error.
	if err := store.Delete(ctx, quota.NamespaceUser, "user:7"); err != nil {
		t.Errorf("Delete of missing record failed: %v", err)
	}
}

func testList(t *testing.T, store quota.Store) {
	ctx := context.Background()
	now := testNow()

	for i := 0; i < 3; i++ {
		if err := store.Save(ctx, quota.NewRecord(quota.Guest(fmt.Sprintf("fp-%d", i)), now, 1, 5)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := store.Save(ctx, quota.NewRecord(quota.User("1"), now, 1, 50)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	guests, err := store.List(ctx, quota.NamespaceGuest)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(guests) != 3 {
		t.Errorf("Expected 3 guest records, got %d", len(guests))
	}
	for _, r := range guests {
		if r.Namespace != quota.NamespaceGuest {
			t.Errorf("Expected guest namespace, got %s", r.Namespace)
		}
	}

	users, err := store.List(ctx, quota.NamespaceUser)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("Expected 1 user record, got %d", len(users))
	}
}

func testCleanup(t *testing.T, store quota.Store) {
	ctx := context.Background()
	now := testNow()

	old := quota.NewRecord(quota.Guest("fp-old"), now.Add(-72*time.Hour), 5, 5)
	fresh := quota.NewRecord(quota.Guest("fp-fresh"), now.Add(-time.Hour), 2, 5)
	oldUser := quota.NewRecord(quota.User("9"), now.Add(-72*time.Hour), 5, 50)

	for _, r := range []*quota.Record{old, fresh, oldUser} {
		if err := store.Save(ctx, r); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	deleted, err := store.Cleanup(ctx, quota.NamespaceGuest, now.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted record, got %d", deleted)
	}

	if r, _ := store.Load(ctx, quota.NamespaceGuest, "fp-old"); r != nil {
		t.Error("Expected old guest record to be deleted")
	}
	if r, _ := store.Load(ctx, quota.NamespaceGuest, "fp-fresh"); r == nil {
		t.Error("Expected fresh guest record to remain")
	}
	if r, _ := store.Load(ctx, quota.NamespaceUser, "user:9"); r == nil {
		t.Error("Expected user record to be untouched by guest cleanup")
	}
}

func testValidation(t *testing.T, store quota.Store) {
	ctx := context.Background()
	now := testNow()

	tests := []struct {
		name   string
		record *quota.Record
	}{
		{name: "nil record", record: nil},
		{name: "empty key", record: &quota.Record{Namespace: quota.NamespaceGuest, WindowStart: now}},
		{name: "unknown namespace", record: &quota.Record{Namespace: "admin", Key: "x", WindowStart: now}},
		{name: "negative used", record: &quota.Record{Namespace: quota.NamespaceGuest, Key: "x", Used: -1, WindowStart: now}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Save(ctx, tt.record)
			if !errors.Is(err, quota.ErrInvalidRecord) {
				t.Errorf("Expected ErrInvalidRecord, got %v", err)
			}
		})
	}

	if _, err := store.Load(ctx, quota.NamespaceGuest, ""); !errors.Is(err, quota.ErrInvalidRecord) {
		t.Errorf("Expected ErrInvalidRecord for empty key, got %v", err)
	}
}

func testConcurrentUpdate(t *testing.T, store quota.Store) {
	ctx := context.Background()
	now := testNow()
	id := quota.Guest("fp-concurrent")

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int64
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, id.Namespace, id.Key(), func(current *quota.Record) (*quota.Record, error) {
				if current == nil {
					return quota.NewRecord(id, now, 1, 5), nil
				}
				current.Used++
				return current, nil
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, quota.ErrConflict) {
				t.Errorf("Update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	loaded, err := store.Load(ctx, id.Namespace, id.Key())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Expected record after concurrent updates")
	}
	if loaded.Used != succeeded {
		t.Errorf("Expected used %d (one per successful update), got %d", succeeded, loaded.Used)
	}
}

func testPing(t *testing.T, store quota.Store) {
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func assertRecord(t *testing.T, got, want *quota.Record) {
	t.Helper()

	if got.Namespace != want.Namespace || got.Key != want.Key {
		t.Errorf("Expected key %s:%s, got %s:%s", want.Namespace, want.Key, got.Namespace, got.Key)
	}
	if got.Used != want.Used {
		t.Errorf("Expected used %d, got %d", want.Used, got.Used)
	}
	if got.Limit != want.Limit {
		t.Errorf("Expected limit %d, got %d", want.Limit, got.Limit)
	}
	if !got.WindowStart.Equal(want.WindowStart) {
		t.Errorf("Expected window start %v, got %v", want.WindowStart, got.WindowStart)
	}
	if !got.LastRequest.Equal(want.LastRequest) {
		t.Errorf("Expected last request %v, got %v", want.LastRequest, got.LastRequest)
	}
}
