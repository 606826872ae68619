package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/photophys-triage/internal/config"
	"github.com/danielpatrickdp/photophys-triage/internal/logging"
	"github.com/danielpatrickdp/photophys-triage/internal/state"
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect recorded batch runs and verdicts",
	}
	cmd.AddCommand(newInspectRunsCommand(ctx))
	cmd.AddCommand(newInspectVerdictsCommand(ctx))
	return cmd
}

// #region runs

func newInspectRunsCommand(ctx *commandContext) *cobra.Command {
	var last int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List batch runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.outputFormat(cmd)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *state.Store) error {
				runs, err := store.ListRuns(last)
				if err != nil {
					return err
				}
				if format == "json" {
					return writeJSON(cmd, runs)
				}
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						r.RunID,
						r.CreatedAt.Format(time.RFC3339),
						shortID(r.SnapshotID),
						strconv.Itoa(r.Anchors),
						strconv.Itoa(r.Molecules),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Run", "Created", "Snapshot", "Anchors", "Molecules"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&last, "last", 20, "Show N most recent runs")
	return cmd
}

// #endregion runs

// #region verdicts

type verdictRow struct {
	RunID     string                 `json:"run_id"`
	Key       string                 `json:"key"`
	Verdict   string                 `json:"verdict"`
	Rule      int                    `json:"rule"`
	Reason    string                 `json:"reason"`
	Neighbors string                 `json:"neighbors,omitempty"`
	Record    *logging.VerdictRecord `json:"record,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func newInspectVerdictsCommand(ctx *commandContext) *cobra.Command {
	var runID, key string
	var last int

	cmd := &cobra.Command{
		Use:   "verdicts",
		Short: "List logged verdicts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.outputFormat(cmd)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *state.Store) error {
				entries, err := logging.ListVerdicts(store.DB(), runID, key, last)
				if err != nil {
					return err
				}
				if format == "json" {
					out := make([]verdictRow, 0, len(entries))
					for _, e := range entries {
						row := verdictRow{
							RunID: e.RunID, Key: e.Key, Verdict: e.Verdict, Rule: e.Rule,
							Reason: e.Reason, Neighbors: e.Neighbors, CreatedAt: e.CreatedAt,
						}
						if e.ScoresJSON != "" {
							var rec logging.VerdictRecord
							if err := json.Unmarshal([]byte(e.ScoresJSON), &rec); err != nil {
								return fmt.Errorf("verdict %s/%s: %w", e.RunID, e.Key, err)
							}
							row.Record = &rec
						}
						out = append(out, row)
					}
					return writeJSON(cmd, out)
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						shortID(e.RunID),
						e.Key,
						e.Verdict,
						strconv.Itoa(e.Rule),
						e.Reason,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Run", "Key", "Verdict", "Rule", "Reason"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Only verdicts from this run")
	cmd.Flags().StringVar(&key, "key", "", "Only verdicts for this structure key")
	cmd.Flags().IntVar(&last, "last", 50, "Show N most recent verdicts")
	return cmd
}

// #endregion verdicts
