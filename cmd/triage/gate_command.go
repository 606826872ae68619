package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/photophys-triage/internal/config"
	"github.com/danielpatrickdp/photophys-triage/internal/gate"
	"github.com/danielpatrickdp/photophys-triage/internal/state"
)

func newGateCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Track per-molecule evidence readiness",
	}
	cmd.AddCommand(newGateShowCommand(ctx))
	cmd.AddCommand(newGateApplyCommand(ctx))
	cmd.AddCommand(newGateHistoryCommand(ctx))
	cmd.AddCommand(newGateListCommand(ctx))
	return cmd
}

// gateView is a readiness state with its evaluation.
type gateView struct {
	State           gate.State    `json:"state"`
	Known           bool          `json:"known"`
	ActionPlan      []gate.Action `json:"action_plan"`
	Inconsistencies []string      `json:"inconsistencies,omitempty"`
}

func viewOf(s gate.State, known bool, cfg gate.Config) gateView {
	eval := gate.Evaluate(s, cfg)
	s.Ready = eval.Ready
	s.Justification = eval.Reason
	return gateView{
		State:           s,
		Known:           known,
		ActionPlan:      eval.ActionPlan,
		Inconsistencies: gate.Inconsistencies(s),
	}
}

func printGateView(cmd *cobra.Command, v gateView) {
	s := v.State
	rows := [][]string{
		{"Key", s.Key},
		{"Ready", yesNo(s.Ready)},
		{"Reason", s.Justification},
		{"Physical", fmt.Sprintf("%s (request %s)", s.Physical.Status, s.Physical.Request)},
		{"Fields", dash(strings.Join(s.Physical.Fields, ", "))},
		{"Literature", string(s.Literature)},
		{"Experiment", string(s.Experiment.Status)},
		{"Observables", dash(observableList(s.Experiment.Observables))},
		{"Version", strconv.Itoa(s.Version)},
	}
	plan := make([]string, len(v.ActionPlan))
	for i, a := range v.ActionPlan {
		plan[i] = string(a)
	}
	rows = append(rows, []string{"Next", dash(strings.Join(plan, " > "))})
	for _, msg := range v.Inconsistencies {
		rows = append(rows, []string{"Warning", msg})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
}

func observableList(o gate.Observables) string {
	var out []string
	for _, obs := range gate.ObservableCostOrder {
		if o.Has(obs) {
			out = append(out, string(obs))
		}
	}
	return strings.Join(out, ", ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// #region show

func newGateShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Show the readiness state and next actions of a molecule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.outputFormat(cmd)
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *state.Store) error {
				s, known, err := store.Get(args[0])
				if err != nil {
					return err
				}
				v := viewOf(s, known, cfg.GateConfig())
				if format == "json" {
					return writeJSON(cmd, v)
				}
				printGateView(cmd, v)
				return nil
			})
		},
	}
}

// #endregion show

// #region apply

type applyFlags struct {
	kind        string
	at          string
	actor       string
	physical    string
	fields      []string
	literature  string
	experiment  string
	observables []string
	note        string
}

func (f applyFlags) event(now time.Time) (gate.Event, error) {
	if f.kind == "" {
		return gate.Event{}, errors.New("--kind is required")
	}
	ev := gate.Event{
		Kind:       gate.EventKind(f.kind),
		At:         now,
		Actor:      f.actor,
		Physical:   gate.PhysicalStatus(f.physical),
		Fields:     f.fields,
		Literature: gate.LiteratureStatus(f.literature),
		Experiment: gate.ExperimentStatus(f.experiment),
		Note:       f.note,
	}
	if f.at != "" {
		at, err := time.Parse(time.RFC3339Nano, f.at)
		if err != nil {
			return gate.Event{}, fmt.Errorf("--at: %w", err)
		}
		ev.At = at
	}
	for _, o := range f.observables {
		ev.Observables = append(ev.Observables, gate.Observable(o))
	}
	return ev, nil
}

func newGateApplyCommand(ctx *commandContext) *cobra.Command {
	var flags applyFlags

	cmd := &cobra.Command{
		Use:   "apply <key>",
		Short: "Record one readiness event for a molecule",
		Long: `Record one readiness event. Kinds: computation_cached, computation_requested,
computation_result, literature_started, literature_result, experiment_requested,
experiment_received.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.outputFormat(cmd)
			if err != nil {
				return err
			}
			ev, err := flags.event(time.Now().UTC())
			if err != nil {
				return err
			}
			return ctx.withWriter(func(cfg *config.Config, store *state.Store) error {
				s, entry, err := store.Apply(args[0], ev, cfg.GateConfig())
				if err != nil {
					var te *gate.TransitionError
					if errors.As(err, &te) || errors.Is(err, gate.ErrStaleEvent) {
						return fmt.Errorf("%s rejected: %w", ev.Kind, err)
					}
					return err
				}
				ctx.logger.Info("readiness event applied",
					"key", s.Key, "kind", string(ev.Kind), "event_id", entry.EventID,
					"version", s.Version, "ready", s.Ready)
				v := viewOf(s, true, cfg.GateConfig())
				if format == "json" {
					return writeJSON(cmd, v)
				}
				printGateView(cmd, v)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&flags.kind, "kind", "", "Event kind")
	cmd.Flags().StringVar(&flags.at, "at", "", "Event time, RFC 3339 (default now)")
	cmd.Flags().StringVar(&flags.actor, "actor", "", "Who recorded the event")
	cmd.Flags().StringVar(&flags.physical, "physical", "", "Computation outcome: success, failed or partial")
	cmd.Flags().StringSliceVar(&flags.fields, "fields", nil, "Descriptor fields the computation produced")
	cmd.Flags().StringVar(&flags.literature, "literature", "", "Literature outcome: found or not_found")
	cmd.Flags().StringVar(&flags.experiment, "experiment", "", "Experiment receipt: received_partial or received_full")
	cmd.Flags().StringSliceVar(&flags.observables, "observables", nil, "Observables received")
	cmd.Flags().StringVar(&flags.note, "note", "", "Free-form note")
	return cmd
}

// #endregion apply

// #region history

func newGateHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <key>",
		Short: "List the recorded readiness events of a molecule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.outputFormat(cmd)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *state.Store) error {
				entries, err := store.History(args[0], limit)
				if err != nil {
					return err
				}
				if format == "json" {
					return writeJSON(cmd, entries)
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						strconv.Itoa(e.Version),
						e.CreatedAt.Format(time.RFC3339),
						string(e.Kind),
						dash(e.Actor),
						yesNo(e.Ready),
						dash(e.Event.Note),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Version", "At", "Kind", "Actor", "Ready", "Note"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "last", 0, "Show only the first N events (0 for all)")
	return cmd
}

// #endregion history

// #region list

func newGateListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked molecules, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.outputFormat(cmd)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *state.Store) error {
				states, err := store.List(limit)
				if err != nil {
					return err
				}
				if format == "json" {
					return writeJSON(cmd, states)
				}
				rows := make([][]string, 0, len(states))
				for _, s := range states {
					rows = append(rows, []string{
						s.Key,
						yesNo(s.Ready),
						string(s.Physical.Status),
						string(s.Literature),
						string(s.Experiment.Status),
						strconv.Itoa(s.Version),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Key", "Ready", "Physical", "Literature", "Experiment", "Version"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "last", 20, "Show N molecules")
	return cmd
}

// #endregion list
