package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
	"github.com/ducminhle1904/futures-guardian/internal/risk"
	"github.com/ducminhle1904/futures-guardian/pkg/reporting"
)

func newVaRCmd() *cobra.Command {
	var (
		returnsFile string
		column      int
		confidence  float64
		simulations int
		horizon     float64
		seed        uint64
		equity      float64
		xlsxOut     string
	)

	cmd := &cobra.Command{
		Use:   "var",
		Short: "Estimate Value at Risk from a return series",
		Long: "Reads returns from a CSV file (one per row, non-numeric rows such as headers are skipped)\n" +
			"and prints historical, parametric and Monte Carlo VaR with expected shortfall.",
		RunE: func(cmd *cobra.Command, args []string) error {
			returns, err := readReturns(returnsFile, column)
			if err != nil {
				return err
			}

			estimator := risk.NewEstimator(simulations, horizon, seed)
			var results []risk.VaRResult
			for _, method := range []risk.VaRMethod{risk.MethodHistorical, risk.MethodParametric, risk.MethodMonteCarlo} {
				res, err := estimator.Estimate(returns, method, confidence)
				if err != nil {
					return fmt.Errorf("%s VaR: %w", method, err)
				}
				results = append(results, res)
			}

			reporting.NewDefaultConsoleReporter(cmd.OutOrStdout()).PrintVaR(results, equity)
			if xlsxOut != "" {
				if err := reporting.WriteRiskWorkbook(reporting.RiskWorkbook{Equity: equity, VaR: results}, xlsxOut); err != nil {
					return fmt.Errorf("write workbook: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "📊 Workbook written to %s\n", xlsxOut)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&returnsFile, "returns", "r", "", "CSV file of fractional returns (required)")
	cmd.Flags().IntVar(&column, "column", 0, "Zero-based CSV column holding the returns")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.99, "Confidence level in (0, 1)")
	cmd.Flags().IntVar(&simulations, "simulations", 10000, "Monte Carlo paths")
	cmd.Flags().Float64Var(&horizon, "horizon", 1, "Horizon in days")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "Monte Carlo seed")
	cmd.Flags().Float64Var(&equity, "equity", 0, "Portfolio value used to express VaR in currency")
	cmd.Flags().StringVar(&xlsxOut, "xlsx", "", "Write an Excel workbook to this path")
	cmd.MarkFlagRequired("returns")
	return cmd
}

func readReturns(path string, column int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, guarderrors.WrapError(err, guarderrors.ErrorCategoryInput, "cli", "read_returns")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var returns []float64
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, guarderrors.NewInputError("cli", "parse_returns", err.Error())
		}
		if column >= len(row) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[column]), 64)
		if err != nil {
			continue
		}
		returns = append(returns, v)
	}
	if len(returns) == 0 {
		return nil, guarderrors.NewInputError("cli", "parse_returns", fmt.Sprintf("no numeric returns in column %d of %s", column, path))
	}
	return returns, nil
}
