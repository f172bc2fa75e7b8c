package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long:  "Loads the configuration with defaults and environment overrides applied.\nExits with status 78 when the configuration is invalid.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ %s is valid\n", opts.configPath)
			fmt.Fprintf(out, "   %s\n", cfg.Summary())
			return nil
		},
	}
}
