package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/ducminhle1904/futures-guardian/internal/api"
	"github.com/ducminhle1904/futures-guardian/internal/orchestrator"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var noAPI bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the guardian service",
		Long: "Starts the evaluation loop, risk monitor and admin API. The guardian starts in INIT\n" +
			"and moves to RUNNING after the first snapshot is evaluated. SIGINT/SIGTERM shut it down\n" +
			"after in-flight checks complete.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(true)
			if err != nil {
				return err
			}
			log, err := opts.newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Close()

			log.Info("🚀 Guardian starting: %s", cfg.Summary())

			svc, err := orchestrator.NewService(log, cfg, orchestrator.Options{ConfigPath: opts.configPath})
			if err != nil {
				log.LogError("Service init", err)
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
			p.Go(func(ctx context.Context) error { return svc.Run(ctx) })
			if !noAPI {
				server := api.NewServer(log, svc, cfg.Server)
				p.Go(func(ctx context.Context) error { return server.Run(ctx) })
			}

			err = p.Wait()
			log.Info("👋 Guardian stopped in mode %s", svc.Machine().ModeName())
			return err
		},
	}
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "Do not start the admin HTTP API")
	return cmd
}
