// Package api hosts the HTTP server, middleware, and REST handlers that let
// operators trigger harvesting runs. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/works to harvest the compositions of named composers.
//   - POST /v1/composers to harvest the list of composers.
package api
