// Package progress carries crawl lifecycle events from the orchestrator to
// pluggable sinks. Emitters never block: events are buffered and flushed in
// batches on a background goroutine, and sink failures are only logged, so a
// slow or broken destination cannot stall a crawl.
package progress
