// Package api hosts the HTTP server, middleware, and handlers for the public
// fetch and download endpoints. Notable routes:
//   - GET /healthz and /readyz for liveness and pool readiness.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/fetch-instagram and /api/fetch-instagram-post to resolve a
//     reel or post into a downloadable media URL.
//   - GET /download to stream media from the Instagram CDN as an attachment.
//   - GET /api/downloads/{id}/progress to follow a running download.
package api
