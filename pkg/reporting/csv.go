package reporting

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/ducminhle1904/futures-guardian/internal/risk"
)

// DefaultCSVReporter implements CSV output functionality
type DefaultCSVReporter struct{}

// NewDefaultCSVReporter creates a new CSV reporter
func NewDefaultCSVReporter() *DefaultCSVReporter {
	return &DefaultCSVReporter{}
}

// WriteStressCSV writes one row per scenario. An .xlsx path is written as a workbook instead.
func (r *DefaultCSVReporter) WriteStressCSV(summary risk.StressSummary, path string) error {
	if err := NewDefaultPathManager().EnsureDirectoryExists(path); err != nil {
		return err
	}

	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return WriteRiskWorkbook(RiskWorkbook{Stress: &summary}, path)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"Scenario",
		"Type",
		"Price_Shock",
		"PnL",
		"PnL_Pct",
		"Impact",
		"Margin_Call",
		"Positions_Affected",
		"Recommended_Action",
		"Status",
	}); err != nil {
		return err
	}

	for _, res := range summary.Results {
		if err := w.Write([]string{
			res.Scenario.Name,
			string(res.Scenario.Type),
			formatFloat(res.Scenario.PriceShock),
			formatFloat(res.PnL),
			formatFloat(res.PnLPct),
			string(res.ImpactLevel),
			formatFloat(res.MarginCallAmount),
			strconv.Itoa(res.PositionsAffected),
			string(res.RecommendedAction),
			string(res.Status()),
		}); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
