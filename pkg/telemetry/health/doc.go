// Package health provides liveness and readiness probes.
//
// Checks are registered as critical or advisory. A failing critical check
// makes the gateway unready (503). A failing advisory check only marks it
// degraded: the quota store is advisory because the gate keeps admitting
// traffic while the store is down.
package health
