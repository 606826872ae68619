package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/photophys-triage/internal/config"
	"github.com/danielpatrickdp/photophys-triage/internal/graph"
	"github.com/danielpatrickdp/photophys-triage/internal/retrieval"
	"github.com/danielpatrickdp/photophys-triage/internal/state"
)

func newGraphCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Query exported SIMILAR_TO edges",
	}
	cmd.AddCommand(newGraphBootstrapCommand(ctx))
	cmd.AddCommand(newGraphNeighborsCommand(ctx))
	cmd.AddCommand(newGraphWalkCommand(ctx))
	return cmd
}

func newGraphBootstrapCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap <dataset.json>",
		Short: "Export SIMILAR_TO edges between every anchor and its neighbors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWriter(func(cfg *config.Config, store *state.Store) error {
				pop, err := loadPopulation(cfg, args[0])
				if err != nil {
					return err
				}
				r, err := retrieval.NewRetriever(pop.index, cfg.RetrievalConfig())
				if err != nil {
					return err
				}
				gs, err := graph.NewGraphStore(store.DB())
				if err != nil {
					return err
				}
				var total graph.ExportStats
				for i := 0; i < pop.index.Len(); i++ {
					if err := cmd.Context().Err(); err != nil {
						return err
					}
					a := pop.index.At(i)
					res, err := r.Retrieve(retrieval.QueryFor(a))
					if err != nil {
						return fmt.Errorf("anchor %s: %w", a.Key, err)
					}
					st, err := gs.ExportNeighbors(a.Key, res.Neighbors)
					if err != nil {
						return fmt.Errorf("anchor %s: %w", a.Key, err)
					}
					total.Kept += st.Kept
					total.DroppedSelf += st.DroppedSelf
					total.DroppedWeight += st.DroppedWeight
					total.DroppedKey += st.DroppedKey
				}
				ctx.logger.Info("anchor graph bootstrapped",
					slog.Int("anchors", pop.index.Len()), slog.Int("edges", total.Kept))
				format, err := ctx.outputFormat(cmd)
				if err != nil {
					return err
				}
				if format == "json" {
					return writeJSON(cmd, total)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d anchors, %d edges exported\n", pop.index.Len(), total.Kept)
				return nil
			})
		},
	}
}

func withGraph(ctx *commandContext, fn func(*graph.GraphStore) error) error {
	return ctx.withStore(func(_ *config.Config, store *state.Store) error {
		gs, err := graph.NewGraphStore(store.DB())
		if err != nil {
			return err
		}
		return fn(gs)
	})
}

func newGraphNeighborsCommand(ctx *commandContext) *cobra.Command {
	var minWeight float64

	cmd := &cobra.Command{
		Use:   "neighbors <key>",
		Short: "List the exported neighbors of a molecule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.outputFormat(cmd)
			if err != nil {
				return err
			}
			return withGraph(ctx, func(gs *graph.GraphStore) error {
				edges, err := gs.GetNeighbors(args[0], minWeight)
				if err != nil {
					return err
				}
				if format == "json" {
					return writeJSON(cmd, edges)
				}
				rows := make([][]string, 0, len(edges))
				for _, e := range edges {
					rows = append(rows, []string{e.TargetID, formatScore(e.Weight), strconv.Itoa(e.Rank), e.Metric})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Anchor", "Weight", "Rank", "Metric"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&minWeight, "min-weight", 0, "Skip edges lighter than this")
	return cmd
}

func newGraphWalkCommand(ctx *commandContext) *cobra.Command {
	var depth, maxNodes int
	var minWeight float64

	cmd := &cobra.Command{
		Use:   "walk <key>",
		Short: "Walk SIMILAR_TO edges outward from a molecule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.outputFormat(cmd)
			if err != nil {
				return err
			}
			return withGraph(ctx, func(gs *graph.GraphStore) error {
				steps, err := gs.Walk(args[0], depth, minWeight, maxNodes)
				if err != nil {
					return err
				}
				if format == "json" {
					return writeJSON(cmd, steps)
				}
				rows := make([][]string, 0, len(steps))
				for _, st := range steps {
					rows = append(rows, []string{strconv.Itoa(st.Depth), st.Key, dash(st.Via), formatScore(st.Score)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Hops", "Key", "Via", "Score"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 2, "Maximum hops")
	cmd.Flags().Float64Var(&minWeight, "min-weight", 0, "Skip edges lighter than this")
	cmd.Flags().IntVar(&maxNodes, "max-nodes", 50, "Stop after visiting N nodes")
	return cmd
}
