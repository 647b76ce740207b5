package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/livefeed/livefeed/server/internal/refresher"
	"github.com/livefeed/livefeed/server/internal/store"
)

// RefresherStatus reports the background refresher's state.
type RefresherStatus interface {
	Status() refresher.Status
	Interval() time.Duration
}

// SessionCounter reports the number of connected streaming clients.
type SessionCounter interface {
	Count() int
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store     *store.Store
	refresher RefresherStatus
	sessions  SessionCounter
	now       func() time.Time
	mux       *http.ServeMux
}

// New creates a Handler wired to the store, refresher and session manager and
// registers all routes.
func New(st *store.Store, ref RefresherStatus, sessions SessionCounter) http.Handler {
	h := &Handler{
		store:     st,
		refresher: ref,
		sessions:  sessions,
		now:       time.Now,
		mux:       http.NewServeMux(),
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// snapshot returns GET /api/v1/snapshot: the current snapshot.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap := h.store.Read()
	resp := SnapshotResponse{
		Version:     snap.Version(),
		Placeholder: snap.IsPlaceholder(),
		Data:        json.RawMessage(snap.Payload()),
	}
	if !snap.FetchedAt().IsZero() {
		resp.FetchedAt = snap.FetchedAt().UTC().Format(time.RFC3339)
	}
	jsonResp(w, http.StatusOK, resp)
}

// health returns GET /api/v1/health: refresher status and diagnostics.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	st := h.refresher.Status()
	interval := h.refresher.Interval()
	snap := h.store.Read()
	hints := computeDiagnostics(st, snap, interval, h.now())

	resp := HealthResponse{
		State:           stateFromHints(st.Running, hints),
		Refresher:       st,
		Interval:        interval.String(),
		ActiveSessions:  h.sessions.Count(),
		SnapshotVersion: snap.Version(),
		Diagnostics:     hints,
	}

	code := http.StatusOK
	if !st.Running {
		code = http.StatusServiceUnavailable
	}
	jsonResp(w, code, resp)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
