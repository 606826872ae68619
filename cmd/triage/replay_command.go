package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/photophys-triage/internal/config"
	"github.com/danielpatrickdp/photophys-triage/internal/gate"
	"github.com/danielpatrickdp/photophys-triage/internal/replay"
	"github.com/danielpatrickdp/photophys-triage/internal/state"
)

func newReplayCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run readiness events through the gate",
	}
	cmd.AddCommand(newReplayFixtureCommand(ctx))
	cmd.AddCommand(newReplayDBCommand(ctx))
	cmd.AddCommand(newReplayExportCommand(ctx))
	return cmd
}

type replayOutput struct {
	Key         string              `json:"key"`
	Results     []replay.Result     `json:"results"`
	Divergences []replay.Divergence `json:"divergences,omitempty"`
	Ready       bool                `json:"ready"`
	Version     int                 `json:"version"`
}

func printReplay(cmd *cobra.Command, out replayOutput) {
	rows := make([][]string, 0, len(out.Results))
	for _, r := range out.Results {
		rows = append(rows, []string{r.StepID, r.Action, yesNo(r.Ready), strconv.Itoa(r.Version), string(r.NextAction)})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Step", "Action", "Ready", "Version", "Next"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	for _, d := range out.Divergences {
		fmt.Fprintf(cmd.OutOrStdout(), "DIFF %s %s: expected %s, replayed %s\n", d.StepID, d.Field, d.Expected, d.Replayed)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Summary: %d steps, %d diverge\n", len(out.Results), len(out.Divergences))
}

func emitReplay(ctx *commandContext, cmd *cobra.Command, out replayOutput) error {
	format, err := ctx.outputFormat(cmd)
	if err != nil {
		return err
	}
	if format == "json" {
		err = writeJSON(cmd, out)
	} else {
		printReplay(cmd, out)
	}
	if err != nil {
		return err
	}
	if len(out.Divergences) > 0 {
		return fmt.Errorf("%d replayed outcomes diverge", len(out.Divergences))
	}
	return nil
}

// #region fixture-mode

func newReplayFixtureCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fixture <fixture.json>",
		Short: "Replay a fixture and compare against its expected results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := replay.LoadFixture(args[0])
			if err != nil {
				return err
			}
			results, final := replay.Replay(gate.NewState(f.Key), f.ToSteps(), f.Config.ToGateConfig())
			return emitReplay(ctx, cmd, replayOutput{
				Key:         f.Key,
				Results:     results,
				Divergences: replay.Compare(results, f.ExpectedResults),
				Ready:       final.Ready,
				Version:     final.Version,
			})
		},
	}
}

// #endregion fixture-mode

// #region db-mode

func historySteps(entries []state.HistoryEntry) []replay.Step {
	steps := make([]replay.Step, len(entries))
	for i, e := range entries {
		steps[i] = replay.Step{StepID: e.EventID, Event: e.Event}
	}
	return steps
}

func newReplayDBCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "db <key>",
		Short: "Rebuild a molecule's readiness from its stored history and check it matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *state.Store) error {
				stored, known, err := store.Get(args[0])
				if err != nil {
					return err
				}
				if !known {
					return fmt.Errorf("%s has no recorded readiness", args[0])
				}
				entries, err := store.History(args[0], 0)
				if err != nil {
					return err
				}
				results, final := replay.Replay(gate.NewState(args[0]), historySteps(entries), cfg.GateConfig())

				var div []replay.Divergence
				for i, r := range results {
					if r.Action != "applied" {
						div = append(div, replay.Divergence{StepID: r.StepID, Field: "action", Expected: "applied", Replayed: r.Action})
					}
					if r.Ready != entries[i].Ready {
						div = append(div, replay.Divergence{StepID: r.StepID, Field: "ready",
							Expected: yesNo(entries[i].Ready), Replayed: yesNo(r.Ready)})
					}
				}
				if final.Version != stored.Version {
					div = append(div, replay.Divergence{StepID: "final", Field: "version",
						Expected: strconv.Itoa(stored.Version), Replayed: strconv.Itoa(final.Version)})
				}
				return emitReplay(ctx, cmd, replayOutput{
					Key:         args[0],
					Results:     results,
					Divergences: div,
					Ready:       final.Ready,
					Version:     final.Version,
				})
			})
		},
	}
}

// #endregion db-mode

// #region export

func newReplayExportCommand(ctx *commandContext) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "export <key> <fixture.json>",
		Short: "Write a molecule's stored history as a replay fixture",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *state.Store) error {
				entries, err := store.History(args[0], 0)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					return errors.New("no readiness events recorded for " + args[0])
				}
				if description == "" {
					description = fmt.Sprintf("exported history of %s", args[0])
				}
				f := replay.Export(description, args[0], historySteps(entries), cfg.GateConfig())
				if err := replay.SaveFixture(args[1], f); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d steps to %s\n", len(f.Steps), args[1])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Fixture description")
	return cmd
}

// #endregion export
