// Command soldcrawler crawls sold-property listings into per-day CSV artifacts.
//
// Architecture overview:
//   - CLI: cobra subcommands (crawl, collate, counts, serve) share one internal/app container built in
//     PersistentPreRunE from viper configuration (YAML via --config, .env, SOLDCRAWLER_* env vars).
//   - Crawl: localities are queued in order and fanned out to a fixed worker pool. Each worker owns one chromedp
//     session at a time, walks result pages newest first, and rotates the session every crawl.rotate_every pages.
//     A locality stops when a page's earliest sold date is before the cutoff or the page cap is reached.
//   - Fetch pipeline: a page is rendered up to crawl.max_attempts times until it shows the expected card count; the
//     best render is accepted. Pages that never render are quarantined with a header-only marker.
//   - Persistence: every page is written atomically under <output_dir>/<day>/. The day is locked for the length of
//     a run, and a completion marker is written only when every locality was attempted.
//   - Collate & export: collate merges a day's pages into one file, then optionally uploads it to GCS and upserts
//     rows into Postgres.
//   - Observability: zap logs; progress events are batched by the hub into the log, Prometheus and notification
//     sinks. Notices reach the log, Telegram and Pub/Sub as configured. serve (or server.enabled during a crawl)
//     exposes /healthz, /readyz, /metrics and /v1/runs.
//
// Quick checklist:
//   - Run locally: go run ./cmd/soldcrawler crawl manly-nsw-2095 --pages 5 --cutoff 2024-01-01
//   - Collate: go run ./cmd/soldcrawler collate --day 20240301
//   - SIGINT/SIGTERM cancels between pages; the day is left incomplete and can be crawled again.
package main
