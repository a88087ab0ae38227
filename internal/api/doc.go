// Package api hosts the read-only HTTP interface over the aggregated tables.
// Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/municipalities/... for rankings, the daily pick, item lists and
//     sales copy.
//   - GET /v1/subsidies for raw subsidy listings.
//   - GET /v1/admin/... for source and digest health.
//
// When an API key is configured every /v1 route requires it in the X-API-Key
// header or the api_key query parameter.
package api
