// Package api hosts the status server run alongside loop mode. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/posts/{tweet_id} for the stored status of one post.
//   - GET /v1/cycle for the summary of the last finished monitor cycle.
package api
