// Package main hosts the linkcapture service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, auth and the /v1/links endpoints. Write routes require
//     the shared API key as a bearer token or session cookie; every fetch and create route is metered by a
//     fixed-window quota keyed by API key prefix or client IP.
//   - Fetch pipeline: each submitted URL passes the urlsafety validator, then a bounded fetcher reads at most the
//     configured byte cap under a per-request timeout, re-validating every redirect hop and pacing requests per host.
//     Pages that look like script shells are optionally re-extracted from a headless Chromedp render.
//   - Save pipeline: a submission becomes a Markdown record with YAML front matter plus an optional image, and both
//     are published as one commit to the content repository through the Git data API (blobs, tree, commit, ref).
//   - Side effects: fetched pages may be archived to a BlobStore (memory/local/GCS), published links are recorded in
//     a Postgres ledger, and a Pub/Sub notification carrying the trace context is sent per commit. Failures here are
//     logged and counted, never returned to the caller.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler; OpenTelemetry spans cover each request
//     and each publish step.
//
// Quick checklist:
//   - Configure env vars: LINKCAPTURE_AUTH_API_KEY, LINKCAPTURE_STORE_BACKEND=github with LINKCAPTURE_STORE_REPOSITORY
//     and LINKCAPTURE_STORE_TOKEN, LINKCAPTURE_HEADLESS_ENABLED, LINKCAPTURE_TAGS_API_KEY, and the archive, ledger and
//     notify sections when those side effects are wanted.
//   - Run locally: go run ./cmd/linkcapture -config config.yaml (or rely solely on env overrides).
//   - The process reacts to SIGTERM by draining the HTTP server and closing every backend.
package main
