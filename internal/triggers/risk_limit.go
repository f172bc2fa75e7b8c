package triggers

import (
	"fmt"
	"time"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// RiskLimit consumes the asynchronously published risk report
type RiskLimit struct {
	MaxVaRFraction         float64
	HaltOnStressMarginCall bool
	MaxReportAge           time.Duration
}

func (t *RiskLimit) ID() string { return "risk_limit" }

func (t *RiskLimit) Evaluate(in Input) Result {
	report := in.Risk
	if report == nil || in.Snapshot == nil || len(in.Snapshot.Account.HeldSymbols()) == 0 {
		return quiet(t.ID())
	}

	if t.MaxReportAge > 0 {
		if age := in.now().Sub(report.Timestamp); age > t.MaxReportAge {
			return fired(t.ID(), types.ModeReduceOnly,
				fmt.Sprintf("risk report is %s old (max %s)", age.Round(time.Second), t.MaxReportAge),
				map[string]interface{}{"report_age_ms": age.Milliseconds()})
		}
	}

	if report.Stress.MarginCallEvents > 0 {
		ceiling := types.ModeReduceOnly
		if t.HaltOnStressMarginCall {
			ceiling = types.ModeHalted
		}
		return fired(t.ID(), ceiling,
			fmt.Sprintf("%d stress scenarios end in a margin call (total %.2f)",
				report.Stress.MarginCallEvents, report.Stress.TotalMarginCall),
			map[string]interface{}{"margin_call_events": report.Stress.MarginCallEvents, "worst_scenario": report.Stress.WorstScenario})
	}

	if t.MaxVaRFraction > 0 && report.VaR != nil && report.VaR.ValueAtRisk > t.MaxVaRFraction {
		return fired(t.ID(), types.ModeReduceOnly,
			fmt.Sprintf("%s VaR %.2f%% exceeds limit %.2f%%", report.VaR.Method, report.VaR.ValueAtRisk*100, t.MaxVaRFraction*100),
			map[string]interface{}{"var": report.VaR.ValueAtRisk, "confidence": report.VaR.ConfidenceLevel})
	}
	return quiet(t.ID())
}
