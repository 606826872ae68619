package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/photophys-triage/internal/anchor"
	"github.com/danielpatrickdp/photophys-triage/internal/calibrate"
	"github.com/danielpatrickdp/photophys-triage/internal/fingerprint"
	"github.com/danielpatrickdp/photophys-triage/internal/logging"
	"github.com/danielpatrickdp/photophys-triage/internal/retrieval"
	"github.com/danielpatrickdp/photophys-triage/internal/router"
	"github.com/danielpatrickdp/photophys-triage/internal/score"
	"github.com/danielpatrickdp/photophys-triage/internal/state"
)

// #region runner
// Runner scores batches of queries. It holds no per-batch state, so one
// Runner can serve many batches.
type Runner struct {
	config Config
	sinks  Sinks
	logger *slog.Logger
}

// NewRunner creates a Runner. logger may be nil.
func NewRunner(config Config, sinks Sinks, logger *slog.Logger) *Runner {
	return &Runner{config: config, sinks: sinks, logger: logging.OrDiscard(logger)}
}

// #endregion runner

// #region run
// Run calibrates thresholds on idx and then scores queries against it. The
// calibration happens once and completes before any query is scored.
func (r *Runner) Run(ctx context.Context, idx *anchor.Index, queries []anchor.Molecule) (Report, error) {
	computer, err := r.computer(idx)
	if err != nil {
		return Report{}, err
	}
	th, _, err := calibrate.NewCalibrator(computer, r.config.Calibrate, r.logger).Calibrate(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("calibrate: %w", err)
	}
	return r.score(ctx, computer, th, queries)
}

// ScoreWith scores queries with a previously calibrated threshold set. The
// set must belong to idx.
func (r *Runner) ScoreWith(ctx context.Context, idx *anchor.Index, th calibrate.ThresholdSet, queries []anchor.Molecule) (Report, error) {
	if err := th.CheckFresh(idx); err != nil {
		return Report{}, err
	}
	computer, err := r.computer(idx)
	if err != nil {
		return Report{}, err
	}
	return r.score(ctx, computer, th, queries)
}

func (r *Runner) computer(idx *anchor.Index) (*score.Computer, error) {
	ret, err := retrieval.NewRetriever(idx, r.config.Retrieval)
	if err != nil {
		return nil, fmt.Errorf("retriever: %w", err)
	}
	return score.NewComputer(ret, r.config.Score), nil
}

// #endregion run

// #region score
func (r *Runner) score(ctx context.Context, computer *score.Computer, th calibrate.ThresholdSet, queries []anchor.Molecule) (Report, error) {
	idx := computer.Retriever().Index()
	if err := validate(idx, queries); err != nil {
		return Report{}, err
	}

	runID := uuid.New().String()
	log := r.logger.With("run_id", runID)
	log.Info("batch started", "queries", len(queries), "anchors", idx.Len())

	results := make([]Result, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.config.Workers))
	for i := range queries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := scoreOne(computer, th, queries[i])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	rep := Report{
		RunID:      runID,
		SnapshotID: th.SnapshotID,
		Anchors:    idx.Len(),
		Thresholds: th,
		Results:    results,
		Counts:     make(map[string]int),
	}
	for _, res := range results {
		rep.Counts[res.Decision.Verdict.String()]++
	}

	if err := r.flush(&rep); err != nil {
		return rep, err
	}
	log.Info("batch finished",
		"evidence_insufficient", rep.Counts[router.EvidenceInsufficient.String()],
		"novelty_candidate", rep.Counts[router.NoveltyCandidate.String()],
		"in_domain_ambiguous", rep.Counts[router.InDomainAmbiguous.String()],
		"known_stable", rep.Counts[router.KnownStable.String()],
	)
	return rep, nil
}

func scoreOne(computer *score.Computer, th calibrate.ThresholdSet, m anchor.Molecule) (Result, error) {
	b, res, err := computer.Score(m)
	if err != nil {
		return Result{}, err
	}
	if err := th.Rank(&b); err != nil {
		return Result{}, fmt.Errorf("query %s: %w", m.Key, err)
	}
	d, err := router.RouteBundle(b, th)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Key:       m.Key,
		Bundle:    b,
		Decision:  d,
		Neighbors: res.Neighbors,
	}, nil
}

// validate rejects malformed queries before any scoring starts.
func validate(idx *anchor.Index, queries []anchor.Molecule) error {
	seen := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		if q.Key == "" {
			return errors.New("query without key")
		}
		if _, dup := seen[q.Key]; dup {
			return fmt.Errorf("query %s: duplicate key", q.Key)
		}
		seen[q.Key] = struct{}{}
		if err := q.Descriptors.Validate(); err != nil {
			return fmt.Errorf("query %s: %w", q.Key, err)
		}
		if q.Fingerprint != nil && idx.Len() > 0 && q.Fingerprint.Len() != idx.FingerprintLen() {
			return fmt.Errorf("query %s: %w", q.Key,
				&fingerprint.LengthMismatchError{Expected: idx.FingerprintLen(), Actual: q.Fingerprint.Len()})
		}
	}
	return nil
}

// #endregion score

// #region sinks
func (r *Runner) flush(rep *Report) error {
	if r.sinks.Store != nil {
		thJSON, err := json.Marshal(rep.Thresholds)
		if err != nil {
			return fmt.Errorf("marshal thresholds: %w", err)
		}
		run := state.Run{
			RunID:          rep.RunID,
			SnapshotID:     rep.SnapshotID,
			ThresholdsJSON: string(thJSON),
			Anchors:        rep.Anchors,
			Molecules:      len(rep.Results),
		}
		err = r.sinks.Store.RecordRunWith(run, func(tx *sql.Tx) error {
			for _, res := range rep.Results {
				entry, err := logging.EntryFromRecord(rep.RunID, VerdictRecord(res, rep.Thresholds), neighborKeys(res.Neighbors))
				if err != nil {
					return err
				}
				if err := logging.LogVerdict(tx, entry); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if r.sinks.Graph != nil {
		for _, res := range rep.Results {
			if !res.Bundle.Resolvable {
				continue
			}
			st, err := r.sinks.Graph.ExportNeighbors(res.Key, res.Neighbors)
			if err != nil {
				return fmt.Errorf("export %s: %w", res.Key, err)
			}
			rep.Graph.Kept += st.Kept
			rep.Graph.DroppedSelf += st.DroppedSelf
			rep.Graph.DroppedWeight += st.DroppedWeight
			rep.Graph.DroppedKey += st.DroppedKey
		}
	}
	return nil
}

// VerdictRecord flattens a result into its provenance record.
func VerdictRecord(res Result, th calibrate.ThresholdSet) logging.VerdictRecord {
	b := res.Bundle
	rec := logging.VerdictRecord{
		Key:               res.Key,
		Coverage:          b.Coverage,
		StructuralCov:     b.StructuralCoverage,
		MetadataCov:       b.MetadataCompleteness,
		NoveltyRaw:        b.NoveltyRaw,
		Novelty:           b.Novelty,
		SimilarityEntropy: b.SimilarityEntropy,
		KActual:           b.KActual,
		Degraded:          b.Degraded,
		Thresholds: logging.VerdictThresholds{
			SnapshotID:   th.SnapshotID,
			CoverageLow:  th.CoverageLow,
			CoverageHigh: th.CoverageHigh,
			NoveltyHigh:  th.NoveltyHigh,
			EntropyHigh:  th.EntropyHigh,
		},
		Verdict:   res.Decision.Verdict.String(),
		Rule:      res.Decision.Rule,
		Reason:    res.Decision.Reason,
		NextSteps: res.Decision.NextSteps,
	}
	if h, ok := b.Entropy(); ok {
		rec.Entropy = &h
	}
	return rec
}

func neighborKeys(ns []retrieval.Neighbor) []string {
	keys := make([]string, len(ns))
	for i, n := range ns {
		keys[i] = n.AnchorKey
	}
	return keys
}

// #endregion sinks
