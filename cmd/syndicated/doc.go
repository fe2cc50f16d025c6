// Package main hosts the syndicate service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, publishing, upload, and feed endpoints behind chi.
//     Publishing routes sit behind a JWT guard; POST /api/multiple/post fans a post out to every requested platform
//     and POST /api/{platform}/post targets one.
//   - Broadcast engine: internal/broadcast validates the request once, runs one goroutine per target platform, and
//     never cancels siblings on a first failure. Per-platform outcomes are folded into a composite response whose
//     status is 200 only when every platform accepted the post.
//   - Platform clients: internal/platform wraps go-mastodon, the indigo xrpc client for Bluesky, gotwi for Twitter,
//     and a local gorilla/feeds RSS generator. Platforms without credentials register a disabled stand-in so
//     targeting them still yields exactly one result.
//   - Attachments: uploads are content-addressed into the configured blob store (memory/local/GCS) with metadata in
//     the document store; GET /files/{uuid} serves them back with optional resize-on-demand through an external
//     ImageMagick-compatible command.
//   - Persistence & fanout: the document store (memory/sqlite/postgres) holds feed entries, upload metadata, OAuth
//     state, and the stored Twitter token. A completion summary is published to Pub/Sub when a topic is configured.
//     Delivery events are buffered by the hub and flushed to the log and Prometheus sinks.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler; an optional x/time/rate limiter gates
//     outbound platform calls.
//
// Operational notes:
//   - Concurrency model: one goroutine per targeted platform per broadcast; link-preview headless renders have their
//     own semaphore inside the chromedp renderer. Shutdown is coordinated via context cancellation from main through
//     the HTTP server to the event hub.
//   - Credentials: Mastodon wants a server URL and access token, Bluesky a handle and app password, Twitter either
//     OAuth1 user-context keys or an OAuth2 app completed through /api/twitter/login. Secrets should arrive through
//     SYNDICATE_* env vars rather than files in production.
//   - Observability: zap logs carry request and broadcast IDs at key transitions; Prometheus counters/histograms
//     track HTTP activity, uploads, resizes, previews, publishes, and per-platform delivery outcomes.
//   - Cloud Run: the HTTP server listens on the configured port. Health endpoints (/healthz, /readyz) remain
//     lightweight; the process reacts to SIGTERM for graceful drain with in-flight broadcasts bounded by the request
//     timeout.
//
// Quick checklist:
//   - Configure env vars: SYNDICATE_SERVER_PORT, SYNDICATE_AUTH_JWT_SECRET (32+ chars), per-platform credentials
//     (SYNDICATE_PLATFORMS_*), storage (SYNDICATE_BLOB_*, SYNDICATE_DOCSTORE_*), and pubsub project/topic when
//     completion publishing is required.
//   - Run locally: go run ./cmd/syndicated -config config.yaml (or rely solely on env overrides).
//   - Cloud Run: container listens on the configured port, remains stateless across requests when backed by postgres
//     and GCS, and shuts down cleanly on SIGTERM.
package main
