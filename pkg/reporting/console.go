package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/futures-guardian/internal/risk"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// DefaultConsoleReporter implements console output with go-pretty tables
type DefaultConsoleReporter struct {
	out io.Writer
}

// NewDefaultConsoleReporter creates a console reporter writing to out, or stdout when nil
func NewDefaultConsoleReporter(out io.Writer) *DefaultConsoleReporter {
	if out == nil {
		out = os.Stdout
	}
	return &DefaultConsoleReporter{out: out}
}

func (r *DefaultConsoleReporter) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

// PrintStressSummary prints one row per scenario followed by the totals
func (r *DefaultConsoleReporter) PrintStressSummary(summary risk.StressSummary) {
	t := r.newTable("STRESS TEST RESULTS")
	t.AppendHeader(table.Row{"Scenario", "Type", "Shock", "PnL", "PnL %", "Impact", "Margin Call", "Positions", "Action", "Status"})

	for _, res := range summary.Results {
		t.AppendRow(table.Row{
			res.Scenario.Name,
			string(res.Scenario.Type),
			fmt.Sprintf("%+.1f%%", res.Scenario.PriceShock*100),
			fmt.Sprintf("$%.2f", res.PnL),
			fmt.Sprintf("%+.2f%%", res.PnLPct*100),
			string(res.ImpactLevel),
			fmt.Sprintf("$%.2f", res.MarginCallAmount),
			res.PositionsAffected,
			string(res.RecommendedAction),
			statusLabel(res.Status()),
		})
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("%d scenarios", summary.TotalScenarios), "", "",
		fmt.Sprintf("worst $%.2f", summary.WorstPnL), "", summary.WorstScenario,
		fmt.Sprintf("$%.2f", summary.TotalMarginCall), "", "",
		fmt.Sprintf("%d/%d/%d", summary.Passed, summary.Warning, summary.Failed),
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	t.Render()
	fmt.Fprintln(r.out)
}

// PrintVaR prints each method's VaR, as a return and in currency when equity is known
func (r *DefaultConsoleReporter) PrintVaR(results []risk.VaRResult, equity float64) {
	t := r.newTable("VALUE AT RISK")
	t.AppendHeader(table.Row{"Method", "Confidence", "VaR", "VaR $", "Expected Shortfall", "Samples"})

	for _, res := range results {
		amount := "-"
		if equity > 0 {
			amount = fmt.Sprintf("$%.2f", res.ValueAtRisk*equity)
		}
		t.AppendRow(table.Row{
			string(res.Method),
			fmt.Sprintf("%.1f%%", res.ConfidenceLevel*100),
			fmt.Sprintf("%.4f%%", res.ValueAtRisk*100),
			amount,
			fmt.Sprintf("%.4f%%", res.ExpectedShortfall*100),
			res.SampleSize,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	t.Render()
	fmt.Fprintln(r.out)
}

// PrintStatus prints the current guardian state
func (r *DefaultConsoleReporter) PrintStatus(status Status) {
	t := r.newTable("GUARDIAN STATUS")

	mode := modeLabel(status.Mode)
	if status.Overridden {
		mode += " (manual override)"
	}
	triggers := strings.Join(status.Triggers, ", ")
	if triggers == "" {
		triggers = "none"
	}

	t.AppendRows([]table.Row{
		{"Mode", mode},
		{"Snapshot", fmt.Sprintf("v%d, %s old", status.SnapshotVersion, status.SnapshotAge.Round(time.Millisecond))},
		{"Triggers", triggers},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Equity", fmt.Sprintf("$%.2f", status.Equity)},
		{"Margin Ratio", fmt.Sprintf("%.2f%%", status.MarginRatio*100)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, WidthMax: 15, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, WidthMax: 60, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Fprintln(r.out)
}

func statusLabel(s risk.ScenarioStatus) string {
	switch s {
	case risk.StatusFail:
		return text.FgRed.Sprint("FAIL")
	case risk.StatusWarning:
		return text.FgYellow.Sprint("WARN")
	default:
		return text.FgGreen.Sprint("PASS")
	}
}

func modeLabel(m types.Mode) string {
	switch m {
	case types.ModeRunning:
		return text.FgGreen.Sprint(m.String())
	case types.ModeReduceOnly:
		return text.FgYellow.Sprint(m.String())
	default:
		return text.FgRed.Sprint(m.String())
	}
}
