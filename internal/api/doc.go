// Package api hosts the read-only status server. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs lists the days present in the artifact store.
//   - GET /v1/runs/{day} reports a day's page, quarantine, lock and
//     completion state.
package api
