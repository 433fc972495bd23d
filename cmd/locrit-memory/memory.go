package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/poqudrof/Locrits-sub000/src/config"
	"github.com/poqudrof/Locrits-sub000/src/memory/decision"
	"github.com/poqudrof/Locrits-sub000/src/memory/orchestrator"
)

type hintFlags struct {
	role        string
	contentType string
	important   bool
}

func (h *hintFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&h.role, "role", "user", "role of the message author")
	cmd.Flags().StringVar(&h.contentType, "content-type", "", "content hint: fact, experience or opinion")
	cmd.Flags().BoolVar(&h.important, "important", false, "mark the content as important")
}

func (h *hintFlags) context() decision.Context {
	return decision.Context{
		Role:        strings.ToLower(strings.TrimSpace(h.role)),
		ContentType: strings.ToLower(strings.TrimSpace(h.contentType)),
		Important:   h.important,
	}
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	hints := &hintFlags{}
	cmd := &cobra.Command{
		Use:   "analyze <content>",
		Short: "Show the storage decision for some content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withMemory(cmd, func(_ context.Context, _ *config.Config, mem *orchestrator.Orchestrator) error {
				content := strings.Join(args, " ")
				d := mem.Analyzer().Analyze(content, hints.context())
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"decision":        d,
					"search_strategy": orchestrator.ResolveStrategy(content, decision.StrategyAuto),
					"available":       mem.Available(),
				})
			})
		},
	}
	hints.register(cmd)
	return cmd
}

func newStoreCmd(root *rootOptions) *cobra.Command {
	hints := &hintFlags{}
	var importance float64
	cmd := &cobra.Command{
		Use:   "store <content>",
		Short: "Store content where the decision engine routes it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withMemory(cmd, func(ctx context.Context, _ *config.Config, mem *orchestrator.Orchestrator) error {
				var imp *float64
				if cmd.Flags().Changed("importance") {
					imp = &importance
				}
				ids, err := mem.StoreIntelligently(ctx, strings.Join(args, " "), hints.context(), imp)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"ids": ids})
			})
		},
	}
	hints.register(cmd)
	cmd.Flags().Float64Var(&importance, "importance", 0, "importance in [0,1], overrides the computed value")
	return cmd
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var (
		strategy string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search both memories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := decision.ParseStrategy(strategy)
			if err != nil {
				return err
			}
			return root.withMemory(cmd, func(ctx context.Context, _ *config.Config, mem *orchestrator.Orchestrator) error {
				query := strings.Join(args, " ")
				results, err := mem.Search(ctx, query, s, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"query":    query,
					"strategy": orchestrator.ResolveStrategy(query, s),
					"count":    len(results),
					"results":  results,
				})
			})
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", string(decision.StrategyAuto), "auto, graph_first, vector_first or parallel")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results")
	return cmd
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service statistics and scheduler state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withMemory(cmd, func(ctx context.Context, _ *config.Config, mem *orchestrator.Orchestrator) error {
				st, err := mem.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func newCleanupCmd(root *rootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove memories past their retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withMemory(cmd, func(ctx context.Context, _ *config.Config, mem *orchestrator.Orchestrator) error {
				var retention *int
				if cmd.Flags().Changed("days") {
					retention = &days
				}
				report, err := mem.Cleanup(ctx, retention)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days, defaults to retention.default_retention_days")
	return cmd
}

func newDrainCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Flush pending conversation writes now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withMemory(cmd, func(ctx context.Context, _ *config.Config, mem *orchestrator.Orchestrator) error {
				report, err := mem.ForceUpdate(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}
