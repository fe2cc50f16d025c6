// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /api/multiple/post and /api/{platform}/post for publishing.
//   - POST /api/files/upload and GET /files/{uuid} for attachments.
//   - GET /rss, /rss/target/{target}, /rss/{uuid} for the local feed.
//   - POST /api/login plus GET /api/twitter/login and /callback for auth.
//   - GET /healthz, /readyz, /metrics for probes and Prometheus scraping.
package api
