package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Committer records consumed units. It trusts that gating already happened
// and never re-checks Used against Limit before incrementing.
type Committer struct {
	store  Store
	logger *slog.Logger
}

// NewCommitter creates a Committer over the given store.
func NewCommitter(store Store, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{
		store:  store,
		logger: logger.With("component", "quota.committer"),
	}
}

// Commit persists exactly one increment for id and returns the stored record.
// An absent or expired record is replaced by a fresh window starting at now
// with Used=1.
func (c *Committer) Commit(ctx context.Context, id Identity, limits Limits, now time.Time) (*Record, error) {
	configured := limits.For(id.Namespace)
	now = storageTime(now)

	record, err := c.store.Update(ctx, id.Namespace, id.Key(), func(current *Record) (*Record, error) {
		if current == nil || !Classify(current, now, limits.Window).Active() {
			return NewRecord(id, now, 1, configured), nil
		}

		Reconcile(current, configured)
		current.Used++
		current.LastRequest = now
		return current, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: commit %s: %v", ErrStoreUnavailable, id, err)
	}

	c.logger.Debug("quota usage committed",
		"identity", id.String(),
		"used", record.Used,
		"limit", record.Limit,
	)
	return record, nil
}

// Reservation is a unit taken by Reserve that has not been confirmed yet.
type Reservation struct {
	Identity Identity

	// WindowStart identifies the window the unit was taken from. Release
	// only gives the unit back to that same window.
	WindowStart time.Time
}

// Reserve atomically increments Used if and only if Used < Limit. It is the
// strict alternative to Evaluate followed by Commit. The returned Decision
// describes the state before the reservation; Allowed reports whether a unit
// was taken. The Reservation is nil when nothing was reserved.
func (c *Committer) Reserve(ctx context.Context, id Identity, limits Limits, now time.Time) (*Reservation, Decision, error) {
	configured := limits.For(id.Namespace)
	now = storageTime(now)

	var decision Decision
	record, err := c.store.Update(ctx, id.Namespace, id.Key(), func(current *Record) (*Record, error) {
		// fn may run more than once when a backend retries its transaction.
		if current == nil || !Classify(current, now, limits.Window).Active() {
			decision = Decision{
				Allowed:   true,
				Used:      0,
				Limit:     configured,
				ResetTime: now.Add(limits.Window),
			}
			return NewRecord(id, now, 1, configured), nil
		}

		changed := Reconcile(current, configured)
		decision = Decision{
			Allowed:   current.Used < current.Limit,
			Used:      current.Used,
			Limit:     current.Limit,
			ResetTime: current.WindowStart.Add(limits.Window),
		}
		if !decision.Allowed {
			if changed {
				return current, nil
			}
			return nil, nil
		}

		current.Used++
		current.LastRequest = now
		return current, nil
	})
	if err != nil {
		fresh := Decision{
			Allowed:   true,
			Limit:     configured,
			ResetTime: now.Add(limits.Window),
		}
		return nil, fresh, fmt.Errorf("%w: reserve %s: %v", ErrStoreUnavailable, id, err)
	}
	if !decision.Allowed || record == nil {
		return nil, decision, nil
	}

	return &Reservation{Identity: id, WindowStart: record.WindowStart}, decision, nil
}

// Release gives back a unit taken by Reserve. It is a no-op when the window
// the unit came from has since been replaced.
func (c *Committer) Release(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}
	id := res.Identity

	_, err := c.store.Update(ctx, id.Namespace, id.Key(), func(current *Record) (*Record, error) {
		if current == nil || current.WindowStart.UnixMilli() != res.WindowStart.UnixMilli() {
			return nil, nil
		}
		if current.Used <= 0 {
			return nil, nil
		}
		current.Used--
		return current, nil
	})
	if err != nil {
		return fmt.Errorf("%w: release %s: %v", ErrStoreUnavailable, id, err)
	}
	return nil
}

// storageTime truncates to the millisecond precision every backend persists.
func storageTime(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}
