// Package score derives coverage, novelty and ambiguity signals from a
// molecule's retrieved anchor neighborhood.
package score

// #region config
// Config holds the weights and label policy for score computation.
type Config struct {
	StructWeight   float64  // coverage weight of structural coverage
	MetaWeight     float64  // coverage weight of metadata completeness
	Beta           float64  // softmax temperature for label votes
	ExcludedLabels []string // labels that never vote (compared case-folded)
	// CriticalFields restricts metadata completeness to these fields; a listed
	// field absent from the record counts as missing. Empty uses the record's own fields.
	CriticalFields []string
}

// DefaultConfig returns the 0.7/0.3 coverage blend and beta=10.
func DefaultConfig() Config {
	return Config{
		StructWeight:   0.7,
		MetaWeight:     0.3,
		Beta:           10,
		ExcludedLabels: []string{"", "unknown", "unlabeled", "none", "nan"},
	}
}

// #endregion config

// #region label-entropy
// LabelEntropy is the similarity-weighted disagreement among neighbor labels.
type LabelEntropy struct {
	Value        float64            `json:"value"`
	Computable   bool               `json:"computable"` // false when every neighbor label is excluded
	MEff         int                `json:"m_eff"`
	TopLabel     string             `json:"top_label,omitempty"`
	TopProb      float64            `json:"top_prob"`
	Voters       int                `json:"voters"`
	Distribution map[string]float64 `json:"distribution,omitempty"`
}

// #endregion label-entropy

// #region bundle
// Bundle is the per-molecule score record. For an unresolvable structure only
// Key and Resolvable are meaningful.
type Bundle struct {
	Key        string `json:"key"`
	Resolvable bool   `json:"resolvable"`
	SnapshotID string `json:"snapshot_id"` // anchor population the bundle was scored against

	StructuralCoverage   float64  `json:"structural_coverage"`
	MetadataCompleteness *float64 `json:"metadata_completeness,omitempty"` // nil for structure-only queries
	Coverage             float64  `json:"coverage"`

	Top1Similarity float64 `json:"top1_similarity"`
	NoveltyRaw     float64 `json:"novelty_raw"`
	Novelty        float64 `json:"novelty"`        // population-relative, set by calibration
	NoveltyRanked  bool    `json:"novelty_ranked"` // Novelty has been ranked against a threshold set

	// SimilarityEntropy is diagnostic only; nil when fewer than two neighbors.
	SimilarityEntropy *float64     `json:"similarity_entropy,omitempty"`
	Label             LabelEntropy `json:"label_entropy"`

	KRequested int  `json:"k_requested"`
	KActual    int  `json:"k_actual"`
	Degraded   bool `json:"degraded"`
}

// Entropy returns the label entropy and whether it is computable.
func (b Bundle) Entropy() (float64, bool) {
	if !b.Resolvable || !b.Label.Computable {
		return 0, false
	}
	return b.Label.Value, true
}

// #endregion bundle
