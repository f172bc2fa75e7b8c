package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
	"github.com/ducminhle1904/futures-guardian/internal/risk"
	"github.com/ducminhle1904/futures-guardian/pkg/reporting"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

func newStressCmd(opts *rootOptions) *cobra.Command {
	var positionsFile, xlsxOut, csvOut string

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run stress scenarios against a positions file",
		Long: "Loads a snapshot JSON (quotes plus account) and runs every configured scenario.\n" +
			"Without --config the built-in scenario set is used. Exits 2 when any scenario fails.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(false)
			if err != nil {
				return err
			}
			snap, err := loadSnapshot(positionsFile)
			if err != nil {
				return err
			}

			tester, err := risk.NewStressTester(cfg.Risk.AllScenarios())
			if err != nil {
				return err
			}
			exposures := risk.NewAggregator().Aggregate(snap.Account, snap.Quotes)
			summary, err := tester.RunAllScenarios(exposures, snap.Account.Equity, snap.Account.UsedMargin)
			if err != nil {
				return err
			}

			reporting.NewDefaultConsoleReporter(cmd.OutOrStdout()).PrintStressSummary(summary)

			if csvOut != "" {
				if err := reporting.NewDefaultCSVReporter().WriteStressCSV(summary, csvOut); err != nil {
					return fmt.Errorf("write csv: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "📄 Stress results written to %s\n", csvOut)
			}
			if xlsxOut != "" {
				wb := reporting.RiskWorkbook{
					GeneratedAt: time.Now(),
					Equity:      snap.Account.Equity,
					Exposures:   exposures,
					Stress:      &summary,
				}
				if err := reporting.WriteRiskWorkbook(wb, xlsxOut); err != nil {
					return fmt.Errorf("write workbook: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "📊 Workbook written to %s\n", xlsxOut)
			}

			if summary.Failed > 0 {
				return &exitError{code: 2, msg: fmt.Sprintf("%d of %d scenarios failed", summary.Failed, summary.TotalScenarios)}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&positionsFile, "positions", "p", "", "Snapshot JSON with quotes and account positions (required)")
	cmd.Flags().StringVar(&xlsxOut, "xlsx", "", "Write an Excel workbook to this path")
	cmd.Flags().StringVar(&csvOut, "csv", "", "Write scenario results as CSV to this path")
	cmd.MarkFlagRequired("positions")
	return cmd
}

func loadSnapshot(path string) (*types.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, guarderrors.WrapError(err, guarderrors.ErrorCategoryInput, "cli", "read_positions")
	}
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, guarderrors.NewInputError("cli", "parse_positions", err.Error())
	}
	return &snap, nil
}
