// Package metrics owns the Prometheus registry for a tollgate process.
//
// The Collector registers HTTP and upstream metrics; the quota engine
// registers its own collectors on the same registry through Registry():
//
//	collector := metrics.NewCollector(nil)
//	engineMetrics := quota.NewMetrics(collector.Registry())
//	router.Handle("/metrics", collector.Handler())
//
// Route labels are chi route patterns, never raw paths, and no metric is
// labelled with an identity.
package metrics
