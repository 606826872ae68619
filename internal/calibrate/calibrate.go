package calibrate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/photophys-triage/internal/anchor"
	"github.com/danielpatrickdp/photophys-triage/internal/logging"
	"github.com/danielpatrickdp/photophys-triage/internal/score"
)

// #region calibrator
// Calibrator scores the anchor population against itself and derives the
// batch thresholds.
type Calibrator struct {
	computer *score.Computer
	config   Config
	logger   *slog.Logger
}

// NewCalibrator creates a Calibrator. logger may be nil.
func NewCalibrator(computer *score.Computer, config Config, logger *slog.Logger) *Calibrator {
	return &Calibrator{computer: computer, config: config, logger: logging.OrDiscard(logger)}
}

// #endregion calibrator

// #region calibrate
// Calibrate reads the anchor snapshot once, scores every anchor with itself
// excluded from its own neighborhood, and returns the threshold set along with
// the anchors' bundles (novelty already ranked).
func (c *Calibrator) Calibrate(ctx context.Context) (ThresholdSet, []score.Bundle, error) {
	if err := c.config.Validate(); err != nil {
		return ThresholdSet{}, nil, err
	}
	idx := c.computer.Retriever().Index()
	n := idx.Len()
	if n == 0 {
		return ThresholdSet{}, nil, ErrEmptyPopulation
	}

	bundles := make([]score.Bundle, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, c.config.Workers))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, _, err := c.computer.Score(idx.At(i))
			if err != nil {
				return fmt.Errorf("calibrate anchor %s: %w", idx.At(i).Key, err)
			}
			bundles[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ThresholdSet{}, nil, err
	}

	th := fromBundles(idx, bundles, c.config)
	for i := range bundles {
		if err := th.Rank(&bundles[i]); err != nil {
			return ThresholdSet{}, nil, err
		}
	}
	c.logger.Info("thresholds calibrated",
		"snapshot", short(th.SnapshotID),
		"anchors", th.AnchorCount,
		"coverage_low", th.CoverageLow,
		"coverage_high", th.CoverageHigh,
		"novelty_high", th.NoveltyHigh,
		"entropy_high", th.EntropyHigh,
		"entropy_available", th.EntropyAvailable,
	)
	return th, bundles, nil
}

// fromBundles computes the four cut points from scored anchors.
func fromBundles(idx *anchor.Index, bundles []score.Bundle, cfg Config) ThresholdSet {
	var coverage, noveltyRaw, entropy []float64
	for _, b := range bundles {
		if !b.Resolvable {
			continue
		}
		coverage = append(coverage, b.Coverage)
		noveltyRaw = append(noveltyRaw, b.NoveltyRaw)
		if h, ok := b.Entropy(); ok {
			entropy = append(entropy, h)
		}
	}

	th := ThresholdSet{
		SnapshotID:   idx.SnapshotID(),
		CoverageLow:  Percentile(coverage, cfg.CoverageLowPct),
		CoverageHigh: Percentile(coverage, cfg.CoverageHighPct),
		AnchorCount:  len(coverage),
		EntropyCount: len(entropy),
		CalibratedAt: time.Now().UTC(),
		noveltyRaw:   sortedCopy(noveltyRaw),
	}

	ranked := make([]float64, len(noveltyRaw))
	for i, v := range noveltyRaw {
		ranked[i] = PercentileRank(th.noveltyRaw, v)
	}
	th.NoveltyHigh = Percentile(ranked, cfg.NoveltyHighPct)

	if len(entropy) > 0 {
		th.EntropyAvailable = true
		th.EntropyHigh = Percentile(entropy, cfg.EntropyHighPct)
	}
	return th
}

// #endregion calibrate

// #region threshold-methods
// Rank sets b.Novelty to the percentile rank of its novelty_raw within the
// anchor distribution. A bundle scored against another population is refused
// with a *StaleThresholdError. Unresolvable bundles are left untouched.
func (t ThresholdSet) Rank(b *score.Bundle) error {
	if err := t.CheckBundle(*b); err != nil {
		return err
	}
	if !b.Resolvable {
		return nil
	}
	b.Novelty = PercentileRank(t.noveltyRaw, b.NoveltyRaw)
	b.NoveltyRanked = true
	return nil
}

// CheckBundle fails when b was not scored against the population t was
// calibrated on.
func (t ThresholdSet) CheckBundle(b score.Bundle) error {
	if b.SnapshotID != t.SnapshotID {
		return &StaleThresholdError{Calibrated: t.SnapshotID, Current: b.SnapshotID}
	}
	return nil
}

// CheckFresh fails when idx is not the population t was calibrated on.
func (t ThresholdSet) CheckFresh(idx *anchor.Index) error {
	if t.SnapshotID != idx.SnapshotID() {
		return &StaleThresholdError{Calibrated: t.SnapshotID, Current: idx.SnapshotID()}
	}
	return nil
}

// NoveltyDistribution returns a copy of the sorted anchor novelty_raw values.
func (t ThresholdSet) NoveltyDistribution() []float64 {
	return slices.Clone(t.noveltyRaw)
}

// #endregion threshold-methods

// #region percentile
// Percentile returns the p-th percentile (0-100) of values using linear
// interpolation between closest ranks. Empty input returns 0.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := sortedCopy(values)
	if len(s) == 1 {
		return s[0]
	}
	p = math.Min(100, math.Max(0, p))
	pos := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return s[lo]
	}
	frac := pos - float64(lo)
	return s[lo] + frac*(s[hi]-s[lo])
}

// PercentileRank returns the fraction of sorted values that are <= x, in [0,1].
// An empty distribution ranks everything at 1 (maximally novel).
func PercentileRank(sorted []float64, x float64) float64 {
	if len(sorted) == 0 {
		return 1
	}
	n := sort.Search(len(sorted), func(i int) bool { return sorted[i] > x })
	return float64(n) / float64(len(sorted))
}

func sortedCopy(values []float64) []float64 {
	s := slices.Clone(values)
	slices.Sort(s)
	return s
}

// #endregion percentile
