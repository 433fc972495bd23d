package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/poqudrof/Locrits-sub000/src/config"
	"github.com/poqudrof/Locrits-sub000/src/memory/orchestrator"
	"github.com/poqudrof/Locrits-sub000/src/memory/tools"
)

func newToolsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List or call the memory tools",
	}
	cmd.AddCommand(newToolsListCmd(root), newToolsCallCmd(root))
	return cmd
}

func newToolsListCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the memory tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withMemory(cmd, func(_ context.Context, _ *config.Config, mem *orchestrator.Orchestrator) error {
				catalog := tools.NewCatalog(mem)
				if asJSON {
					return printJSON(cmd.OutOrStdout(), catalog.Specs())
				}
				for _, spec := range catalog.Specs() {
					fmt.Fprintf(cmd.OutOrStdout(), "%-28s %s\n", spec.Name, spec.Description)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full tool specifications")
	return cmd
}

func newToolsCallCmd(root *rootOptions) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "call <name> [json arguments]",
		Short: "Invoke a memory tool",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments := map[string]any{}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &arguments); err != nil {
					return fmt.Errorf("decode arguments: %w", err)
				}
			}
			return root.withMemory(cmd, func(ctx context.Context, _ *config.Config, mem *orchestrator.Orchestrator) error {
				tool, spec, ok := tools.NewCatalog(mem).Lookup(args[0])
				if !ok {
					return fmt.Errorf("unknown tool %q", args[0])
				}
				resp, err := tool.Invoke(ctx, tools.ToolRequest{SessionID: sessionID, Arguments: arguments})
				if err != nil {
					return err
				}
				res, err := tools.DecodeResult(resp)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("%s failed: %s", spec.Name, res.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "cli", "session id passed to the tool")
	return cmd
}
