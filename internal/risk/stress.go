package risk

import (
	"fmt"
	"math"
	"strings"

	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
)

// AllProducts is the affected-products sentinel that matches every position
const AllProducts = "ALL"

// ScenarioType classifies where a scenario comes from
type ScenarioType string

const (
	ScenarioHistorical   ScenarioType = "historical"
	ScenarioHypothetical ScenarioType = "hypothetical"
	ScenarioMarketCrash  ScenarioType = "market_crash"
	ScenarioLiquidity    ScenarioType = "liquidity_crisis"
	ScenarioVolatility   ScenarioType = "volatility_spike"
	ScenarioLimitMove    ScenarioType = "limit_move"
)

// StressScenario is an immutable price-shock definition
type StressScenario struct {
	Name             string       `json:"name" yaml:"name"`
	Type             ScenarioType `json:"scenario_type" yaml:"scenario_type"`
	PriceShock       float64      `json:"price_shock" yaml:"price_shock"` // fractional, -0.10 = 10% drop
	DurationDays     int          `json:"duration_days" yaml:"duration_days"`
	AffectedProducts []string     `json:"affected_products" yaml:"affected_products"`
	Probability      float64      `json:"probability" yaml:"probability"`
}

// Validate checks the scenario definition
func (s StressScenario) Validate() error {
	switch {
	case strings.TrimSpace(s.Name) == "":
		return guarderrors.NewConfigurationError("stress", "validate", "scenario name is required")
	case isBad(s.PriceShock) || s.PriceShock <= -1:
		return guarderrors.NewConfigurationError("stress", "validate",
			fmt.Sprintf("scenario %s: price_shock %v must be greater than -1", s.Name, s.PriceShock))
	case s.DurationDays < 0:
		return guarderrors.NewConfigurationError("stress", "validate",
			fmt.Sprintf("scenario %s: duration_days must not be negative", s.Name))
	case s.Probability < 0 || s.Probability > 1 || isBad(s.Probability):
		return guarderrors.NewConfigurationError("stress", "validate",
			fmt.Sprintf("scenario %s: probability %v outside [0, 1]", s.Name, s.Probability))
	case len(s.AffectedProducts) == 0:
		return guarderrors.NewConfigurationError("stress", "validate",
			fmt.Sprintf("scenario %s: affected_products is empty (use %q for every product)", s.Name, AllProducts))
	}
	return nil
}

// Affects reports whether the scenario shocks the given product
func (s StressScenario) Affects(product string) bool {
	for _, p := range s.AffectedProducts {
		if p == AllProducts || strings.EqualFold(p, product) {
			return true
		}
	}
	return false
}

// DefaultScenarios is the built-in scenario set
func DefaultScenarios() []StressScenario {
	return []StressScenario{
		{Name: "market_crash_10", Type: ScenarioMarketCrash, PriceShock: -0.10, DurationDays: 1, AffectedProducts: []string{AllProducts}, Probability: 0.05},
		{Name: "market_crash_20", Type: ScenarioMarketCrash, PriceShock: -0.20, DurationDays: 3, AffectedProducts: []string{AllProducts}, Probability: 0.01},
		{Name: "rally_10", Type: ScenarioHypothetical, PriceShock: 0.10, DurationDays: 1, AffectedProducts: []string{AllProducts}, Probability: 0.05},
		{Name: "volatility_spike", Type: ScenarioVolatility, PriceShock: -0.05, DurationDays: 1, AffectedProducts: []string{AllProducts}, Probability: 0.10},
		{Name: "limit_down_2d", Type: ScenarioLimitMove, PriceShock: -0.14, DurationDays: 2, AffectedProducts: []string{AllProducts}, Probability: 0.02},
		{Name: "liquidity_crisis", Type: ScenarioLiquidity, PriceShock: -0.15, DurationDays: 5, AffectedProducts: []string{AllProducts}, Probability: 0.02},
	}
}

// ImpactLevel grades a scenario loss
type ImpactLevel string

const (
	ImpactNegligible  ImpactLevel = "negligible"
	ImpactMinor       ImpactLevel = "minor"
	ImpactModerate    ImpactLevel = "moderate"
	ImpactSignificant ImpactLevel = "significant"
	ImpactSevere      ImpactLevel = "severe"
)

// RecommendedAction is what the desk should do about a scenario outcome
type RecommendedAction string

const (
	ActionNone    RecommendedAction = "none"
	ActionMonitor RecommendedAction = "monitor"
	ActionReduce  RecommendedAction = "reduce"
	ActionHedge   RecommendedAction = "hedge"
	ActionClose   RecommendedAction = "close"
)

// ScenarioStatus buckets a result for the run summary
type ScenarioStatus string

const (
	StatusPass    ScenarioStatus = "pass"
	StatusWarning ScenarioStatus = "warning"
	StatusFail    ScenarioStatus = "fail"
)

// impactBands is walked top-down; the first band whose loss threshold is met wins
var impactBands = []struct {
	loss  float64
	level ImpactLevel
}{
	{0.20, ImpactSevere},
	{0.10, ImpactSignificant},
	{0.05, ImpactModerate},
	{0.02, ImpactMinor},
}

var impactActions = map[ImpactLevel]RecommendedAction{
	ImpactNegligible:  ActionNone,
	ImpactMinor:       ActionMonitor,
	ImpactModerate:    ActionReduce,
	ImpactSignificant: ActionHedge,
	ImpactSevere:      ActionClose,
}

// ClassifyImpact maps a pnl fraction of portfolio value to an impact level.
// Gains are negligible.
func ClassifyImpact(pnlPct float64) ImpactLevel {
	loss := -pnlPct
	for _, band := range impactBands {
		if loss >= band.loss {
			return band.level
		}
	}
	return ImpactNegligible
}

// RecommendAction derives the action; a margin call always means close
func RecommendAction(level ImpactLevel, marginCall bool) RecommendedAction {
	if marginCall {
		return ActionClose
	}
	if a, ok := impactActions[level]; ok {
		return a
	}
	return ActionNone
}

// StressTestResult is the outcome of one scenario run
type StressTestResult struct {
	Scenario          StressScenario     `json:"scenario"`
	PnL               float64            `json:"pnl"`
	PnLPct            float64            `json:"pnl_pct"`
	ImpactLevel       ImpactLevel        `json:"impact_level"`
	MarginCallAmount  float64            `json:"margin_call_amount"`
	PositionsAffected int                `json:"positions_affected"`
	RecommendedAction RecommendedAction  `json:"recommended_action"`
	RiskMetrics       map[string]float64 `json:"risk_metrics"`
}

// Status buckets the result: negligible/minor pass, moderate warns,
// significant/severe or any margin call fails.
func (r StressTestResult) Status() ScenarioStatus {
	if r.MarginCallAmount > 0 {
		return StatusFail
	}
	switch r.ImpactLevel {
	case ImpactNegligible, ImpactMinor:
		return StatusPass
	case ImpactModerate:
		return StatusWarning
	default:
		return StatusFail
	}
}

// StressSummary aggregates a full scenario run
type StressSummary struct {
	TotalScenarios   int                `json:"total_scenarios"`
	Passed           int                `json:"passed"`
	Warning          int                `json:"warning"`
	Failed           int                `json:"failed"`
	WorstPnL         float64            `json:"worst_pnl"`
	WorstScenario    string             `json:"worst_scenario"`
	TotalMarginCall  float64            `json:"total_margin_call"`
	MarginCallEvents int                `json:"margin_call_events"`
	Results          []StressTestResult `json:"results"`
}

// StressTester runs scenarios against position exposures
type StressTester struct {
	scenarios []StressScenario
}

// NewStressTester validates and stores the scenario set
func NewStressTester(scenarios []StressScenario) (*StressTester, error) {
	seen := make(map[string]bool, len(scenarios))
	for _, s := range scenarios {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, guarderrors.NewConfigurationError("stress", "validate",
				fmt.Sprintf("duplicate scenario name %q", s.Name))
		}
		seen[s.Name] = true
	}
	return &StressTester{scenarios: append([]StressScenario(nil), scenarios...)}, nil
}

// Scenarios returns a copy of the configured scenarios
func (t *StressTester) Scenarios() []StressScenario {
	return append([]StressScenario(nil), t.scenarios...)
}

// RunScenario shocks every affected position. Each position contributes
// direction x |notional| x shock, so shorts gain when prices fall.
func (t *StressTester) RunScenario(scenario StressScenario, positions Exposures, portfolioValue, marginUsed float64) StressTestResult {
	var (
		pnl              float64
		affected         int
		affectedNotional float64
		affectedMargin   float64
	)
	for _, p := range positions {
		if p.SignedPosition == 0 || !scenario.Affects(p.Product) {
			continue
		}
		pnl += p.Direction() * p.NotionalValue * scenario.PriceShock
		affected++
		affectedNotional += p.NotionalValue
		affectedMargin += p.MarginUsed
	}

	pnlPct := 0.0
	if portfolioValue > 0 {
		pnlPct = pnl / portfolioValue
	}

	// Margin scales with the shocked price of the affected positions. When the
	// exposures carry no per-position margin, allocate the account margin by notional.
	if affectedMargin == 0 && marginUsed > 0 {
		if gross := positions.GrossNotional(); gross > 0 {
			affectedMargin = marginUsed * affectedNotional / gross
		}
	}
	marginAfter := math.Max(0, marginUsed+affectedMargin*scenario.PriceShock)
	equityAfter := portfolioValue + pnl
	marginCall := math.Max(0, marginAfter-equityAfter)

	marginRatioAfter := 0.0
	if equityAfter > 0 {
		marginRatioAfter = marginAfter / equityAfter
	}

	level := ClassifyImpact(pnlPct)
	return StressTestResult{
		Scenario:          scenario,
		PnL:               pnl,
		PnLPct:            pnlPct,
		ImpactLevel:       level,
		MarginCallAmount:  marginCall,
		PositionsAffected: affected,
		RecommendedAction: RecommendAction(level, marginCall > 0),
		RiskMetrics: map[string]float64{
			"equity_after":       equityAfter,
			"margin_used_after":  marginAfter,
			"margin_ratio_after": marginRatioAfter,
			"affected_notional":  affectedNotional,
			"expected_loss":      math.Max(0, -pnl) * scenario.Probability,
		},
	}
}

// RunAllScenarios runs the configured scenarios plus any hypothetical extras.
// Hypothetical scenarios are validated first; an invalid one fails the whole run.
func (t *StressTester) RunAllScenarios(positions Exposures, portfolioValue, marginUsed float64, hypothetical ...StressScenario) (StressSummary, error) {
	for _, s := range hypothetical {
		if err := s.Validate(); err != nil {
			return StressSummary{}, err
		}
	}
	all := make([]StressScenario, 0, len(t.scenarios)+len(hypothetical))
	all = append(all, t.scenarios...)
	all = append(all, hypothetical...)

	summary := StressSummary{Results: make([]StressTestResult, 0, len(all))}
	for i, s := range all {
		r := t.RunScenario(s, positions, portfolioValue, marginUsed)
		summary.Results = append(summary.Results, r)
		summary.TotalScenarios++

		switch r.Status() {
		case StatusPass:
			summary.Passed++
		case StatusWarning:
			summary.Warning++
		default:
			summary.Failed++
		}
		if r.MarginCallAmount > 0 {
			summary.TotalMarginCall += r.MarginCallAmount
			summary.MarginCallEvents++
		}
		if i == 0 || r.PnL < summary.WorstPnL {
			summary.WorstPnL = r.PnL
			summary.WorstScenario = s.Name
		}
	}
	return summary, nil
}
