// Package api hosts the HTTP server, middleware, and REST handlers of the
// link capture service. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/links/preview and POST /v1/links for previewing and saving links.
//   - GET /v1/links/screenshot and POST /v1/links/suggest-tags as helpers for
//     the save form.
//   - POST and DELETE /v1/links/auth for the session cookie.
//   - GET /v1/links/{slug} for reading back a published link.
package api
