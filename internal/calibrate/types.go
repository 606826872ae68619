// Package calibrate derives population-relative routing thresholds from the
// anchor population, once per batch.
package calibrate

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyPopulation is returned when there are no anchors to calibrate on.
var ErrEmptyPopulation = errors.New("calibrate: anchor population is empty")

// #region config
// Config holds the percentile levels (0-100) for each threshold.
type Config struct {
	CoverageLowPct  float64
	CoverageHighPct float64
	NoveltyHighPct  float64
	EntropyHighPct  float64
	Workers         int // parallel anchor scoring; <= 0 means 1
}

// DefaultConfig returns the 20/80/80/80 percentile levels.
func DefaultConfig() Config {
	return Config{
		CoverageLowPct:  20,
		CoverageHighPct: 80,
		NoveltyHighPct:  80,
		EntropyHighPct:  80,
		Workers:         4,
	}
}

// Validate checks the percentile levels are ordered and in range.
func (c Config) Validate() error {
	for name, p := range map[string]float64{
		"coverage_low": c.CoverageLowPct, "coverage_high": c.CoverageHighPct,
		"novelty_high": c.NoveltyHighPct, "entropy_high": c.EntropyHighPct,
	} {
		if p < 0 || p > 100 {
			return fmt.Errorf("calibrate: %s percentile %.2f outside [0,100]", name, p)
		}
	}
	if c.CoverageLowPct > c.CoverageHighPct {
		return fmt.Errorf("calibrate: coverage_low percentile %.2f above coverage_high %.2f",
			c.CoverageLowPct, c.CoverageHighPct)
	}
	return nil
}

// #endregion config

// #region threshold-set
// ThresholdSet is the frozen set of cut points for one batch. It is bound to
// the anchor snapshot it was computed from.
type ThresholdSet struct {
	SnapshotID       string    `json:"snapshot_id"`
	CoverageLow      float64   `json:"coverage_low"`
	CoverageHigh     float64   `json:"coverage_high"`
	NoveltyHigh      float64   `json:"novelty_high"`
	EntropyHigh      float64   `json:"entropy_high"`
	EntropyAvailable bool      `json:"entropy_available"` // false when no anchor had computable entropy
	AnchorCount      int       `json:"anchor_count"`
	EntropyCount     int       `json:"entropy_count"`
	CalibratedAt     time.Time `json:"calibrated_at"`

	noveltyRaw []float64 // sorted anchor novelty_raw values
}

// Fixed builds a threshold set from explicit values, e.g. to reproduce a
// recorded decision. noveltyRaw is the anchor novelty_raw distribution used
// for ranking; it is copied and sorted.
func Fixed(snapshotID string, covLow, covHigh, novHigh, entHigh float64, entropyAvailable bool, noveltyRaw []float64) ThresholdSet {
	return ThresholdSet{
		SnapshotID:       snapshotID,
		CoverageLow:      covLow,
		CoverageHigh:     covHigh,
		NoveltyHigh:      novHigh,
		EntropyHigh:      entHigh,
		EntropyAvailable: entropyAvailable,
		AnchorCount:      len(noveltyRaw),
		noveltyRaw:       sortedCopy(noveltyRaw),
	}
}

// #endregion threshold-set

// #region stale
// StaleThresholdError reports a threshold set used against a different anchor
// population than the one it was calibrated on.
type StaleThresholdError struct {
	Calibrated string
	Current    string
}

func (e *StaleThresholdError) Error() string {
	return fmt.Sprintf("stale thresholds: calibrated on snapshot %s, index is %s",
		short(e.Calibrated), short(e.Current))
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// #endregion stale
