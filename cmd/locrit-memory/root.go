package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/poqudrof/Locrits-sub000/src/config"
	"github.com/poqudrof/Locrits-sub000/src/memory/orchestrator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultConfigPath = "~/.locrit/config.yaml"

type rootOptions struct {
	configPath string
	agentID    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "locrit-memory",
		Short:        "Inspect and drive the hybrid memory of a Locrit",
		Long:         longRoot,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "configuration file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&opts.agentID, "agent", "", "agent id, overrides agent.id from the configuration")

	root.AddCommand(
		newAnalyzeCmd(opts),
		newStoreCmd(opts),
		newSearchCmd(opts),
		newStatusCmd(opts),
		newCleanupCmd(opts),
		newDrainCmd(opts),
		newToolsCmd(opts),
		newValidateCmd(opts),
		newChatCmd(opts),
	)
	return root
}

// loadConfig reads the configuration and applies the --agent override.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if id := strings.TrimSpace(o.agentID); id != "" {
		cfg.Agent.ID = id
	}
	return cfg, nil
}

// openMemory loads a valid configuration and opens the orchestrator over it.
func (o *rootOptions) openMemory(ctx context.Context) (*config.Config, *orchestrator.Orchestrator, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if issues := cfg.Validate(); len(issues) > 0 {
		return nil, nil, fmt.Errorf("invalid configuration: %s (run validate for details)", issues[0])
	}
	mem, err := orchestrator.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, mem, nil
}

// withMemory runs fn against an opened orchestrator and closes it afterwards.
func (o *rootOptions) withMemory(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, mem *orchestrator.Orchestrator) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, mem, err := o.openMemory(ctx)
	if err != nil {
		return err
	}
	runErr := fn(ctx, cfg, mem)
	if err := mem.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

var longRoot = `
locrit-memory operates the graph and vector memories of one Locrit agent.

Examples:
  # Show how a message would be stored.
  locrit-memory analyze "Alice works at Acme"

  # Store and recall.
  locrit-memory store "Alice works at Acme"
  locrit-memory search "what do we know about Acme"

  # Call a memory tool with JSON arguments.
  locrit-memory tools call search_all_memory '{"query":"Acme","limit":5}'
`
