// Package sinks implements progress consumers: Prometheus crawl metrics,
// structured log lines, and operator notices forwarded to notification
// destinations.
package sinks
