package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			issues := cfg.Validate()
			if len(issues) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "configuration for %s is valid\n", cfg.Namespace())
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintln(cmd.OutOrStdout(), issue.String())
			}
			return fmt.Errorf("%d configuration issue(s)", len(issues))
		},
	}
}
