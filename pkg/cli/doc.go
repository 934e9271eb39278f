// Package cli holds helpers shared by the tollgate commands: exit-code
// mapping for command errors, text and JSON result formatting, and the
// signal-driven shutdown context used by tollgate run.
package cli
