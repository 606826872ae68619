package logging

import "time"

// #region verdict-entry
// VerdictEntry is a single row in the verdict_log table.
type VerdictEntry struct {
	RunID      string
	Key        string
	Verdict    string
	Rule       int
	Reason     string
	ScoresJSON string
	Neighbors  string // comma separated anchor keys, best first
	CreatedAt  time.Time
}

// #endregion verdict-entry

// #region verdict-record
// VerdictRecord captures every input the router saw for one molecule.
// Serialized as JSON into verdict_log.scores_json so a verdict can be
// re-derived from the log alone.
type VerdictRecord struct {
	Key string `json:"key"`

	// Scores as routed
	Coverage          float64  `json:"coverage"`
	StructuralCov     float64  `json:"structural_coverage"`
	MetadataCov       *float64 `json:"metadata_completeness,omitempty"`
	NoveltyRaw        float64  `json:"novelty_raw"`
	Novelty           float64  `json:"novelty"`
	Entropy           *float64 `json:"entropy,omitempty"`
	SimilarityEntropy *float64 `json:"similarity_entropy,omitempty"`
	KActual           int      `json:"k_actual"`
	Degraded          bool     `json:"degraded"`

	// Thresholds active at decision time
	Thresholds VerdictThresholds `json:"thresholds"`

	// Router output
	Verdict   string   `json:"verdict"`
	Rule      int      `json:"rule"`
	Reason    string   `json:"reason"`
	NextSteps []string `json:"next_steps"`
}

// VerdictThresholds is the threshold set a verdict was routed with.
type VerdictThresholds struct {
	SnapshotID   string  `json:"snapshot_id"`
	CoverageLow  float64 `json:"coverage_low"`
	CoverageHigh float64 `json:"coverage_high"`
	NoveltyHigh  float64 `json:"novelty_high"`
	EntropyHigh  float64 `json:"entropy_high"`
}

// #endregion verdict-record
