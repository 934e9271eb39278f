package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Evaluator answers whether an identity may proceed. It never increments
// usage; the only write it performs is the courtesy reconciliation of a record
// whose limit is stale.
type Evaluator struct {
	store  Store
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator over the given store.
func NewEvaluator(store Store, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		store:  store,
		logger: logger.With("component", "quota.evaluator"),
	}
}

// Evaluate returns the decision for id at time now under the given limits.
//
// An unseen identity and an identity whose window has expired are always
// admitted with Used=0 and a fresh window starting at now; nothing is written
// for them. An error is returned only when the record could not be loaded; a
// failed courtesy write is logged and the in-memory reconciliation is used.
func (e *Evaluator) Evaluate(ctx context.Context, id Identity, limits Limits, now time.Time) (Decision, error) {
	configured := limits.For(id.Namespace)
	fresh := Decision{
		Allowed:   true,
		Used:      0,
		Limit:     configured,
		ResetTime: now.Add(limits.Window),
	}

	record, err := e.store.Load(ctx, id.Namespace, id.Key())
	if err != nil {
		return fresh, fmt.Errorf("%w: load %s: %v", ErrStoreUnavailable, id, err)
	}
	if record == nil {
		return fresh, nil
	}

	window := Classify(record, now, limits.Window)
	if !window.Active() {
		return fresh, nil
	}

	if Reconcile(record, configured) {
		record = e.persistReconciled(ctx, id, record, limits, now)
		window = Classify(record, now, limits.Window)
	}

	return Decision{
		Allowed:   record.Used < record.Limit,
		Used:      record.Used,
		Limit:     record.Limit,
		ResetTime: window.ResetTime,
	}, nil
}

// persistReconciled writes the reconciliation through Store.Update so that a
// concurrent increment is never overwritten with the stale count.
func (e *Evaluator) persistReconciled(ctx context.Context, id Identity, local *Record, limits Limits, now time.Time) *Record {
	configured := limits.For(id.Namespace)

	stored, err := e.store.Update(ctx, id.Namespace, id.Key(), func(current *Record) (*Record, error) {
		if current == nil || !Classify(current, now, limits.Window).Active() {
			return nil, nil
		}
		if !Reconcile(current, configured) {
			return nil, nil
		}
		return current, nil
	})
	if err != nil {
		e.logger.Warn("failed to persist reconciled quota record",
			"identity", id.String(),
			"limit", configured,
			"error", err,
		)
		return local
	}
	if stored == nil || !Classify(stored, now, limits.Window).Active() {
		return local
	}

	// Another writer may have persisted under a different limit between the
	// load and the update; the decision always reflects the configured one.
	Reconcile(stored, configured)
	return stored
}
