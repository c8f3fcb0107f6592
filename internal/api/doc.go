// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for Kubernetes probes. Readiness requires a
//     reachable store and a connected browser.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/workers and /v1/workers/{key} for per-target worker state.
//
// Prices themselves are served by a separate read-only layer over the store.
package api
