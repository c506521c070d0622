// Package api serves the per-ticker trade summaries over HTTP.
//
// Routes:
//
//	GET /healthz                 liveness
//	GET /readyz                  database reachability
//	GET /metrics                 Prometheus exposition
//	GET /v1/trades?date=         summaries for every ticker
//	GET /v1/trades/{ticker}?date= summary for one ticker
//
// The optional date parameter (YYYY-MM-DD) restricts the summaries to
// sessions on or after that date.
package api
