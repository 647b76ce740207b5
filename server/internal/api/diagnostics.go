package api

import (
	"fmt"
	"time"

	"github.com/livefeed/livefeed/pkg/types"
	"github.com/livefeed/livefeed/server/internal/refresher"
)

// staleAfter is how many refresh intervals may pass without a successful
// fetch before the snapshot is reported stale.
const staleAfter = 3

// failingAfter is the consecutive failure count that turns a warning into a
// critical hint.
const failingAfter = 3

// DiagnosticHint is one human-readable insight about the feed's health.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label (five words at most).
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional number associated with this hint (e.g. failures).
	Value *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives hints from the refresher status and the current
// snapshot. Hints are ordered: critical first, then warnings, then info.
func computeDiagnostics(st refresher.Status, snap *types.Snapshot, interval time.Duration, now time.Time) []DiagnosticHint {
	if !st.Running {
		return []DiagnosticHint{{
			Key:   "refresher_stopped",
			Level: "critical",
			Title: "Refresher stopped",
			Detail: "The background refresher is not running, so the snapshot will not change. " +
				"Connected clients keep the last value they received.",
		}}
	}

	var critical, warnings, info []DiagnosticHint

	if n := st.ConsecutiveFailures; n > 0 {
		v := float64(n)
		h := DiagnosticHint{
			Key:   "fetch_failing",
			Value: &v,
			Detail: fmt.Sprintf(
				"The last %d refresh(es) failed with: %q. "+
					"Clients keep receiving the last good snapshot until the upstream recovers.",
				n, st.LastError),
		}
		if n >= failingAfter {
			h.Level, h.Title = "critical", "Upstream failing"
			critical = append(critical, h)
		} else {
			h.Level, h.Title = "warning", "Refresh failed"
			warnings = append(warnings, h)
		}
	}

	if snap.IsPlaceholder() {
		info = append(info, DiagnosticHint{
			Key:   "warming_up",
			Level: "info",
			Title: "Warming up",
			Detail: "No fetch has succeeded yet. Clients see the placeholder value " +
				"until the first snapshot is published.",
		})
	} else if st.LastSuccess.IsZero() {
		info = append(info, DiagnosticHint{
			Key:   "restored",
			Level: "info",
			Title: "Restored, first fetch pending",
			Detail: fmt.Sprintf("Clients see the snapshot fetched at %s, restored from the mirror. "+
				"It is replaced once the first fetch since startup succeeds.", snap.FetchedAt().UTC().Format(time.RFC3339)),
		})
	} else if age := now.Sub(st.LastSuccess); age > staleAfter*interval {
		v := age.Seconds()
		warnings = append(warnings, DiagnosticHint{
			Key:    "stale",
			Level:  "warning",
			Title:  "Snapshot is stale",
			Value:  &v,
			Detail: fmt.Sprintf("The last successful fetch was %s ago; refreshes are expected every %s.", age.Round(time.Second), interval),
		})
	}

	hints := append(append(critical, warnings...), info...)
	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "live",
			Level:  "ok",
			Title:  "Live",
			Detail: "The snapshot is refreshing on schedule.",
		})
	}
	return hints
}

// stateFromHints maps the worst hint level to an overall state.
func stateFromHints(running bool, hints []DiagnosticHint) string {
	if !running {
		return "stopped"
	}
	for _, h := range hints {
		if h.Level == "critical" || h.Level == "warning" {
			return "degraded"
		}
	}
	return "ok"
}
