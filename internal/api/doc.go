// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/run and /v1/run/{pause,resume,stop,reset} drive the pipeline.
//   - GET /v1/proxies, /v1/stats and PUT /v1/filter read and shape results.
//   - GET /v1/export streams an export; POST /v1/export uploads one.
//   - GET /v1/events upgrades to a websocket carrying progress batches.
package api
