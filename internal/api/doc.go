// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/resources and /v1/resources/{id}/image for catalog inspection.
//   - POST /v1/scans, GET /v1/scans/latest and POST /v1/scans/latest/cancel
//     for bulk health scans.
package api
