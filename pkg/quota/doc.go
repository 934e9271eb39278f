// Package quota decides whether an identity may consume one unit of the paid
// analysis resource and records consumption once the unit was used.
//
// # Overview
//
// Every identity (an anonymous guest fingerprint or an authenticated user) owns
// at most one Record. A record counts the units used in a fixed-duration window
// that starts at the first request and closes WindowStart+Window later. After
// that instant the record is logically empty, even if it has not been deleted.
//
// The package is split along the request lifecycle:
//
//   - Evaluate: read-only "may this identity proceed right now"
//   - Commit: increment by exactly one after the protected operation succeeded
//   - Reserve/Release: strict-mode conditional increment with compensation
//   - Classify: the single window policy shared by all of the above
//   - Reconcile: lazy migration of a record to the currently configured limit
//
// # Usage
//
//	engine := quota.NewEngine(store, quota.EngineConfig{Limits: limits})
//
//	decision := engine.CheckQuota(ctx, quota.Guest(fingerprint))
//	if !decision.Allowed {
//	    return fmt.Errorf("try again in %s", quota.FormatWait(decision.RetryAfter(time.Now())))
//	}
//
//	if err := analyze(ctx); err == nil {
//	    engine.RecordUsage(ctx, quota.Guest(fingerprint))
//	}
//
// # Failure Policy
//
// Store failures never block or fail a request. A failed read admits the
// request and logs a warning; a failed write drops the increment and logs an
// error. Both are counted in tollgate_quota_store_errors_total.
//
// # Concurrency
//
// The Engine holds no per-identity state; all coordination happens in the
// Store. Single-record updates are atomic at the storage layer, but in the
// default optimistic mode the check and the later increment are not, so N
// concurrent requests for one identity may overshoot the limit by up to N-1.
// ModeStrict closes that gap with Reserve/Release.
package quota
