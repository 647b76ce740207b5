// Package api implements the JSON REST endpoints for livefeed-server.
//
// New(store, refresher, sessions) returns an http.Handler that serves:
//
//	GET /api/v1/snapshot   current snapshot (version, fetched_at, placeholder, data)
//	GET /api/v1/health     refresher status, session count, diagnostics;
//	                       503 when the refresher is not running
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for non-GET methods
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
