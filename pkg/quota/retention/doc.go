// Package retention deletes quota records whose window closed long ago.
//
// Sweeping is housekeeping only. The window policy already treats a stale
// record as empty, so a sweeper that never runs costs storage, not
// correctness.
//
// # Basic Usage
//
//	sweeper := retention.NewSweeper(engine, &retention.Config{
//	    Namespaces:    []quota.Namespace{quota.NamespaceGuest},
//	    TTLMultiplier: 2,
//	    Schedule:      "@every 1h",
//	}, metrics)
//
//	if err := sweeper.Start(ctx); err != nil {
//	    return err
//	}
//	defer sweeper.Stop()
//
// A record is removed once its window started more than TTLMultiplier
// windows ago. With the default 24h window and multiplier 2, a guest who has
// not returned for two days is forgotten.
package retention
