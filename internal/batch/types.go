// Package batch runs one triage batch: calibrate once against a frozen anchor
// index, then score and route every query in parallel.
package batch

import (
	"github.com/danielpatrickdp/photophys-triage/internal/calibrate"
	"github.com/danielpatrickdp/photophys-triage/internal/graph"
	"github.com/danielpatrickdp/photophys-triage/internal/retrieval"
	"github.com/danielpatrickdp/photophys-triage/internal/router"
	"github.com/danielpatrickdp/photophys-triage/internal/score"
	"github.com/danielpatrickdp/photophys-triage/internal/state"
)

// #region config
// Config bundles the component configurations for a batch.
type Config struct {
	Retrieval retrieval.Config
	Score     score.Config
	Calibrate calibrate.Config
	Workers   int // parallel query scoring; <= 0 means 1
}

// DefaultConfig returns the defaults of every component.
func DefaultConfig() Config {
	cc := calibrate.DefaultConfig()
	return Config{
		Retrieval: retrieval.DefaultConfig(),
		Score:     score.DefaultConfig(),
		Calibrate: cc,
		Workers:   cc.Workers,
	}
}

// Sinks receive batch output after scoring completes. Nil sinks are skipped.
type Sinks struct {
	Store *state.Store      // batch_runs + verdict_log
	Graph *graph.GraphStore // SIMILAR_TO edges
}

// #endregion config

// #region result
// Result is the triage outcome for one query.
type Result struct {
	Key       string               `json:"key"`
	Bundle    score.Bundle         `json:"bundle"`
	Decision  router.Decision      `json:"decision"`
	Neighbors []retrieval.Neighbor `json:"neighbors"`
}

// Report is the outcome of one batch, results in query order.
type Report struct {
	RunID      string                 `json:"run_id"`
	SnapshotID string                 `json:"snapshot_id"`
	Anchors    int                    `json:"anchors"`
	Thresholds calibrate.ThresholdSet `json:"thresholds"`
	Results    []Result               `json:"results"`
	Counts     map[string]int         `json:"counts"`
	Graph      graph.ExportStats      `json:"graph"`
}

// #endregion result
