package state

import (
	"time"

	"github.com/danielpatrickdp/photophys-triage/internal/gate"
)

// #region history-entry
// HistoryEntry is one row of the append-only readiness history.
type HistoryEntry struct {
	EventID   string         `json:"event_id"`
	Key       string         `json:"key"`
	Kind      gate.EventKind `json:"kind"`
	Actor     string         `json:"actor,omitempty"`
	Version   int            `json:"version"`
	Event     gate.Event     `json:"event"`
	Ready     bool           `json:"ready"`
	CreatedAt time.Time      `json:"created_at"`
}

// #endregion history-entry

// #region run
// Run records one batch invocation so verdict rows can point back at the
// thresholds they were routed with.
type Run struct {
	RunID          string    `json:"run_id"`
	SnapshotID     string    `json:"snapshot_id"`
	ThresholdsJSON string    `json:"thresholds_json"`
	Anchors        int       `json:"anchors"`
	Molecules      int       `json:"molecules"`
	CreatedAt      time.Time `json:"created_at"`
}

// #endregion run
