// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/jobs?relevance= to list stored jobs.
//   - POST /v1/runs to trigger a pipeline run and GET /v1/runs/latest for
//     the most recent report.
package api
