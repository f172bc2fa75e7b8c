package main

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/ducminhle1904/futures-guardian/internal/risk"
	"github.com/ducminhle1904/futures-guardian/pkg/reporting"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

type modeView struct {
	Mode            types.Mode `json:"mode"`
	Overridden      bool       `json:"overridden"`
	SnapshotVersion uint64     `json:"snapshot_version"`
	Triggers        []string   `json:"triggers"`
}

type healthView struct {
	SnapshotAge string `json:"snapshot_age"`
}

func newStatusCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running guardian",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := resty.New().SetBaseURL(addr).SetTimeout(timeout)

			var mode modeView
			resp, err := client.R().SetContext(cmd.Context()).SetResult(&mode).Get("/api/mode")
			if err != nil {
				return fmt.Errorf("query %s: %w", addr, err)
			}
			if resp.IsError() {
				return fmt.Errorf("query %s: %s", addr, resp.Status())
			}

			status := reporting.Status{
				Mode:            mode.Mode,
				Overridden:      mode.Overridden,
				SnapshotVersion: mode.SnapshotVersion,
				Triggers:        mode.Triggers,
			}

			// healthz answers 503 when degraded but still carries the body
			var health healthView
			if _, err := client.R().SetContext(cmd.Context()).SetResult(&health).SetError(&health).Get("/healthz"); err == nil {
				status.SnapshotAge, _ = time.ParseDuration(health.SnapshotAge)
			}

			var report risk.Report
			resp, err = client.R().SetContext(cmd.Context()).SetResult(&report).Get("/api/risk")
			if err == nil && resp.IsSuccess() {
				status.Equity = report.Equity
				if report.Equity > 0 {
					status.MarginRatio = report.Exposures.TotalMargin() / report.Equity
				}
			}

			reporting.NewDefaultConsoleReporter(cmd.OutOrStdout()).PrintStatus(status)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Guardian API base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}
