// Tollgate is a usage-gating proxy for a paid content-analysis service.
//
// Every call to the protected operation is counted against the caller's
// identity: a verified account, or an anonymous browser fingerprint. Once an
// identity has used its allowance for the current window, further calls are
// refused with 429 until the window closes.
//
// Usage:
//
//	# Start the gateway
//	tollgate run --config tollgate.yaml
//
//	# Inspect or reset one identity
//	tollgate usage --guest 3f9a0c --config tollgate.yaml
//	tollgate usage --user 42 --reset
//
//	# Delete expired guest records now
//	tollgate sweep --namespace guest
//
//	# Check a configuration file
//	tollgate validate --config tollgate.yaml
package main

import "os"

func main() {
	os.Exit(Execute())
}
