package api

import (
	"encoding/json"

	"github.com/livefeed/livefeed/server/internal/refresher"
)

// SnapshotResponse is the payload for GET /api/v1/snapshot.
type SnapshotResponse struct {
	Version     uint64          `json:"version"`
	FetchedAt   string          `json:"fetched_at,omitempty"` // RFC3339, empty for the placeholder
	Placeholder bool            `json:"placeholder"`
	Data        json.RawMessage `json:"data"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State           string           `json:"state"` // ok | degraded | stopped
	Refresher       refresher.Status `json:"refresher"`
	Interval        string           `json:"interval"`
	ActiveSessions  int              `json:"active_sessions"`
	SnapshotVersion uint64           `json:"snapshot_version"`
	Diagnostics     []DiagnosticHint `json:"diagnostics"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
