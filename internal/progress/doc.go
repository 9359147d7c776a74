// Package progress carries task lifecycle events from the orchestrator to
// pluggable sinks. Emit never blocks the request path; a background goroutine
// batches events and fans them out.
package progress
