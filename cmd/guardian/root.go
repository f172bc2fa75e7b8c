package main

import (
	"github.com/spf13/cobra"

	"github.com/ducminhle1904/futures-guardian/internal/config"
	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
)

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "guardian",
		Short:         "Real-time risk control and circuit breaker for futures trading",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnv(opts.envFile)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file (YAML)")
	root.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "Environment file path")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newStatusCmd(),
		newStressCmd(opts),
		newVaRCmd(),
		newVerifyAuditCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads --config. Without one, offline commands get the defaults
// and the rest fail with a configuration error.
func (o *rootOptions) loadConfig(required bool) (*config.GuardianConfig, error) {
	if o.configPath != "" {
		return config.LoadGuardianConfig(o.configPath)
	}
	if required {
		return nil, guarderrors.NewConfigurationError("cli", "load_config", "--config is required")
	}
	return config.DefaultGuardianConfig(), nil
}

func (o *rootOptions) newLogger(cfg *config.GuardianConfig) (*logger.Logger, error) {
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	return logger.NewLogger(logger.Options{
		Level:     logger.LogLevel(level),
		Dir:       cfg.LogDir,
		Component: "guardian",
	})
}
