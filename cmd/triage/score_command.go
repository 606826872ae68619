package main

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/photophys-triage/internal/batch"
	"github.com/danielpatrickdp/photophys-triage/internal/calibrate"
	"github.com/danielpatrickdp/photophys-triage/internal/config"
	"github.com/danielpatrickdp/photophys-triage/internal/graph"
	"github.com/danielpatrickdp/photophys-triage/internal/retrieval"
	"github.com/danielpatrickdp/photophys-triage/internal/state"
)

// #region score

type verdictMismatch struct {
	Key      string `json:"key"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

type scoreOutput struct {
	batch.Report
	Mismatches []verdictMismatch `json:"mismatches,omitempty"`
}

func newScoreCommand(ctx *commandContext) *cobra.Command {
	var keys []string
	var dryRun bool
	var check bool

	cmd := &cobra.Command{
		Use:   "score <dataset.json>",
		Short: "Calibrate on the dataset anchors and route every query to a verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			format, err := ctx.outputFormat(cmd)
			if err != nil {
				return err
			}
			pop, err := loadPopulation(cfg, args[0])
			if err != nil {
				return err
			}
			queries, err := pop.queries(cmd.Context(), cfg, keys)
			if err != nil {
				return err
			}
			if len(queries) == 0 {
				return errors.New("nothing to score: dataset has no queries and no --query given")
			}

			var rep batch.Report
			run := func(sinks batch.Sinks) error {
				rep, err = batch.NewRunner(batchConfig(cfg), sinks, ctx.logger).Run(cmd.Context(), pop.index, queries)
				return err
			}
			if dryRun || (!cfg.Batch.LogVerdicts && !cfg.Batch.ExportGraph) {
				err = run(batch.Sinks{})
			} else {
				err = ctx.withWriter(func(cfg *config.Config, store *state.Store) error {
					sinks, err := batchSinks(cfg, store)
					if err != nil {
						return err
					}
					return run(sinks)
				})
			}
			if err != nil {
				return err
			}

			out := scoreOutput{Report: rep, Mismatches: mismatches(pop, rep)}
			if format == "json" {
				if err := writeJSON(cmd, out); err != nil {
					return err
				}
			} else {
				printScoreTable(cmd, out)
			}
			if check && len(out.Mismatches) > 0 {
				return fmt.Errorf("%d verdicts differ from the dataset expectations", len(out.Mismatches))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&keys, "query", "q", nil, "Score these structure keys instead of the dataset queries")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Do not write runs, verdicts or graph edges")
	cmd.Flags().BoolVar(&check, "check", false, "Fail when a verdict differs from the dataset's expected verdicts")
	return cmd
}

func batchSinks(cfg *config.Config, store *state.Store) (batch.Sinks, error) {
	var sinks batch.Sinks
	if cfg.Batch.LogVerdicts {
		sinks.Store = store
	}
	if cfg.Batch.ExportGraph {
		gs, err := graph.NewGraphStore(store.DB())
		if err != nil {
			return sinks, err
		}
		sinks.Graph = gs
	}
	return sinks, nil
}

func mismatches(pop *population, rep batch.Report) []verdictMismatch {
	if len(pop.dataset.Expected) == 0 {
		return nil
	}
	actual := make(map[string]string, len(rep.Results))
	for _, r := range rep.Results {
		actual[r.Key] = r.Decision.Verdict.String()
	}
	var out []verdictMismatch
	for _, e := range pop.dataset.Expected {
		got, ok := actual[e.Key]
		if !ok || got == e.Verdict {
			continue
		}
		out = append(out, verdictMismatch{Key: e.Key, Expected: e.Verdict, Actual: got})
	}
	return out
}

func printScoreTable(cmd *cobra.Command, out scoreOutput) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "run %s  snapshot %s  anchors %d\n", out.RunID, shortID(out.SnapshotID), out.Anchors)
	printThresholds(cmd, out.Thresholds)

	rows := make([][]string, 0, len(out.Results))
	for _, r := range out.Results {
		ent := "-"
		if v, ok := r.Bundle.Entropy(); ok {
			ent = formatScore(v)
		}
		rows = append(rows, []string{
			r.Key,
			r.Decision.Verdict.String(),
			strconv.Itoa(r.Decision.Rule),
			formatScore(r.Bundle.Coverage),
			formatScore(r.Bundle.Novelty),
			ent,
			fmt.Sprintf("%d/%d", r.Bundle.KActual, r.Bundle.KRequested),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Key", "Verdict", "Rule", "Coverage", "Novelty", "Entropy", "K"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))

	var counts []string
	for _, v := range slices.Sorted(maps.Keys(out.Counts)) {
		counts = append(counts, fmt.Sprintf("%s=%d", v, out.Counts[v]))
	}
	fmt.Fprintln(w, strings.Join(counts, "  "))
	if out.Graph.Kept > 0 {
		fmt.Fprintf(w, "graph: %d edges exported\n", out.Graph.Kept)
	}
	for _, m := range out.Mismatches {
		fmt.Fprintf(w, "mismatch %s: expected %s, got %s\n", m.Key, m.Expected, m.Actual)
	}
}

// #endregion score

// #region calibrate

func newCalibrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "calibrate <dataset.json>",
		Short: "Derive the population-relative thresholds from the dataset anchors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			format, err := ctx.outputFormat(cmd)
			if err != nil {
				return err
			}
			pop, err := loadPopulation(cfg, args[0])
			if err != nil {
				return err
			}
			computer, err := newComputer(cfg, pop.index)
			if err != nil {
				return err
			}
			th, _, err := calibrate.NewCalibrator(computer, cfg.CalibrateConfig(), ctx.logger).Calibrate(cmd.Context())
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(cmd, th)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s  anchors %d  excluded %d\n",
				shortID(th.SnapshotID), th.AnchorCount, pop.index.Excluded())
			printThresholds(cmd, th)
			return nil
		},
	}
}

func printThresholds(cmd *cobra.Command, th calibrate.ThresholdSet) {
	entropy := formatScore(th.EntropyHigh)
	if !th.EntropyAvailable {
		entropy = "unavailable"
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Coverage low", "Coverage high", "Novelty high", "Entropy high", "Entropy anchors"},
		[][]string{{
			formatScore(th.CoverageLow),
			formatScore(th.CoverageHigh),
			formatScore(th.NoveltyHigh),
			entropy,
			strconv.Itoa(th.EntropyCount),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
	))
}

// #endregion calibrate

// #region neighbors

func newNeighborsCommand(ctx *commandContext) *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "neighbors <dataset.json> <key>",
		Short: "Show the two-stage anchor neighbors of one molecule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			format, err := ctx.outputFormat(cmd)
			if err != nil {
				return err
			}
			pop, err := loadPopulation(cfg, args[0])
			if err != nil {
				return err
			}
			m, ok, err := pop.find(args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is not in the dataset", args[1])
			}
			rcfg := cfg.RetrievalConfig()
			if k > 0 {
				rcfg.K = k
			}
			r, err := retrieval.NewRetriever(pop.index, rcfg)
			if err != nil {
				return err
			}
			res, err := r.Retrieve(retrieval.QueryFor(m))
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(cmd, res.Neighbors)
			}
			rows := make([][]string, 0, len(res.Neighbors))
			for _, n := range res.Neighbors {
				rows = append(rows, []string{
					strconv.Itoa(n.Rank),
					n.AnchorKey,
					n.Label,
					formatScore(n.Structural),
					formatOptional(n.Physical),
					formatScore(n.Fused),
					strconv.Itoa(n.Stage1Rank),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Reason)
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Rank", "Anchor", "Label", "Structural", "Physical", "Fused", "Stage 1"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "Neighbors to return (default from config)")
	return cmd
}

// #endregion neighbors

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
