package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
)

func allScenario(name string, shock float64) StressScenario {
	return StressScenario{Name: name, Type: ScenarioHypothetical, PriceShock: shock, DurationDays: 1, AffectedProducts: []string{AllProducts}, Probability: 0.1}
}

func newTester(t *testing.T, scenarios ...StressScenario) *StressTester {
	t.Helper()
	tester, err := NewStressTester(scenarios)
	require.NoError(t, err)
	return tester
}

func TestRunScenario_PositionSign(t *testing.T) {
	tests := []struct {
		name     string
		position float64
		shock    float64
		wantPnL  float64
	}{
		{"short gains on drop", -10, -0.10, 100000},
		{"short loses on rally", -10, 0.10, -100000},
		{"long loses on drop", 10, -0.10, -100000},
		{"long gains on rally", 10, 0.10, 100000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tester := newTester(t)
			positions := Exposures{{Symbol: "rb2405", Product: "rb", SignedPosition: tt.position, NotionalValue: 1000000}}

			result := tester.RunScenario(allScenario("shock", tt.shock), positions, 5000000, 0)
			assert.InDelta(t, tt.wantPnL, result.PnL, 1e-6)
			assert.Equal(t, 1, result.PositionsAffected)
		})
	}
}

func TestRunScenario_MarginAndImpact(t *testing.T) {
	tester := newTester(t)
	positions := Exposures{{Symbol: "rb2405", Product: "rb", SignedPosition: 10, NotionalValue: 1000000}}

	result := tester.RunScenario(allScenario("drop", -0.10), positions, 2000000, 200000)
	assert.InDelta(t, -100000, result.PnL, 1e-6)
	assert.InDelta(t, -0.05, result.PnLPct, 1e-12)
	assert.Equal(t, ImpactModerate, result.ImpactLevel)
	assert.Equal(t, ActionReduce, result.RecommendedAction)
	assert.Zero(t, result.MarginCallAmount)
	assert.InDelta(t, 180000, result.RiskMetrics["margin_used_after"], 1e-6)
	assert.InDelta(t, 1900000, result.RiskMetrics["equity_after"], 1e-6)
	assert.Equal(t, StatusWarning, result.Status())
}

func TestRunScenario_MarginCallForcesClose(t *testing.T) {
	tester := newTester(t)
	positions := Exposures{{Symbol: "BTCUSDT", Product: "BTC", SignedPosition: -1, NotionalValue: 100000}}

	result := tester.RunScenario(allScenario("squeeze", 0.03), positions, 100000, 99000)
	assert.InDelta(t, -3000, result.PnL, 1e-9)
	assert.Equal(t, ImpactMinor, result.ImpactLevel)
	assert.InDelta(t, 4970, result.MarginCallAmount, 1e-6)
	assert.Equal(t, ActionClose, result.RecommendedAction)
	assert.Equal(t, StatusFail, result.Status())
}

func TestRunScenario_AffectedProducts(t *testing.T) {
	tester := newTester(t)
	positions := Exposures{
		{Symbol: "BTCUSDT", Product: "BTC", SignedPosition: 1, NotionalValue: 60000},
		{Symbol: "rb2405", Product: "rb", SignedPosition: 5, NotionalValue: 175000},
	}
	scenario := StressScenario{Name: "rebar", PriceShock: -0.1, AffectedProducts: []string{"RB"}}

	result := tester.RunScenario(scenario, positions, 1000000, 0)
	assert.Equal(t, 1, result.PositionsAffected)
	assert.InDelta(t, -17500, result.PnL, 1e-9)
}

func TestRunScenario_DegenerateInputs(t *testing.T) {
	tester := newTester(t)

	empty := tester.RunScenario(allScenario("drop", -0.2), nil, 1000000, 0)
	assert.Zero(t, empty.PnL)
	assert.Equal(t, ImpactNegligible, empty.ImpactLevel)
	assert.Equal(t, ActionNone, empty.RecommendedAction)

	positions := Exposures{{Symbol: "X", Product: "X", SignedPosition: 1, NotionalValue: 100}}
	zeroEquity := tester.RunScenario(allScenario("drop", -0.2), positions, 0, 0)
	assert.Zero(t, zeroEquity.PnLPct)
	assert.InDelta(t, -20, zeroEquity.PnL, 1e-9)
}

func TestClassifyImpact_Boundaries(t *testing.T) {
	tests := []struct {
		pnlPct float64
		want   ImpactLevel
	}{
		{-0.50, ImpactSevere},
		{-0.20, ImpactSevere},
		{-0.1999, ImpactSignificant},
		{-0.10, ImpactSignificant},
		{-0.0999, ImpactModerate},
		{-0.05, ImpactModerate},
		{-0.0499, ImpactMinor},
		{-0.02, ImpactMinor},
		{-0.0199, ImpactNegligible},
		{0, ImpactNegligible},
		{0.30, ImpactNegligible},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyImpact(tt.pnlPct), "pnl_pct=%v", tt.pnlPct)
	}
}

func TestRecommendAction(t *testing.T) {
	assert.Equal(t, ActionNone, RecommendAction(ImpactNegligible, false))
	assert.Equal(t, ActionMonitor, RecommendAction(ImpactMinor, false))
	assert.Equal(t, ActionReduce, RecommendAction(ImpactModerate, false))
	assert.Equal(t, ActionHedge, RecommendAction(ImpactSignificant, false))
	assert.Equal(t, ActionClose, RecommendAction(ImpactSevere, false))
	assert.Equal(t, ActionClose, RecommendAction(ImpactNegligible, true))
}

func TestRunAllScenarios_CountsSumToTotal(t *testing.T) {
	tester := newTester(t, DefaultScenarios()...)
	portfolios := []struct {
		name      string
		positions Exposures
		equity    float64
		margin    float64
	}{
		{"flat", nil, 1000000, 0},
		{"small long", Exposures{{Symbol: "BTCUSDT", Product: "BTC", SignedPosition: 1, NotionalValue: 60000}}, 1000000, 6000},
		{"levered short", Exposures{{Symbol: "rb2405", Product: "rb", SignedPosition: -10, NotionalValue: 1000000}}, 200000, 150000},
		{"zero equity", Exposures{{Symbol: "rb2405", Product: "rb", SignedPosition: 1, NotionalValue: 10}}, 0, 0},
	}
	for _, p := range portfolios {
		t.Run(p.name, func(t *testing.T) {
			summary, err := tester.RunAllScenarios(p.positions, p.equity, p.margin, allScenario("extra", -0.3))
			require.NoError(t, err)
			assert.Equal(t, len(DefaultScenarios())+1, summary.TotalScenarios)
			assert.Equal(t, summary.TotalScenarios, summary.Passed+summary.Warning+summary.Failed)
			assert.Len(t, summary.Results, summary.TotalScenarios)
		})
	}
}

func TestRunAllScenarios_WorstCase(t *testing.T) {
	tester := newTester(t, allScenario("down5", -0.05), allScenario("down20", -0.2), allScenario("up10", 0.1))
	positions := Exposures{{Symbol: "BTCUSDT", Product: "BTC", SignedPosition: 2, NotionalValue: 100000}}

	summary, err := tester.RunAllScenarios(positions, 1000000, 0)
	require.NoError(t, err)
	assert.Equal(t, "down20", summary.WorstScenario)
	assert.InDelta(t, -20000, summary.WorstPnL, 1e-9)
	assert.Equal(t, 3, summary.Passed)

	_, err = tester.RunAllScenarios(positions, 1000000, 0, StressScenario{Name: "bad"})
	assert.Error(t, err)
}

func TestNewStressTester_Validation(t *testing.T) {
	tests := []struct {
		name      string
		scenarios []StressScenario
	}{
		{"missing name", []StressScenario{{PriceShock: -0.1, AffectedProducts: []string{AllProducts}}}},
		{"shock wipes price", []StressScenario{{Name: "x", PriceShock: -1, AffectedProducts: []string{AllProducts}}}},
		{"no products", []StressScenario{{Name: "x", PriceShock: -0.1}}},
		{"bad probability", []StressScenario{{Name: "x", PriceShock: -0.1, AffectedProducts: []string{AllProducts}, Probability: 2}}},
		{"duplicate", []StressScenario{allScenario("x", -0.1), allScenario("x", -0.2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStressTester(tt.scenarios)
			require.Error(t, err)
			assert.True(t, guarderrors.IsFatal(err))
		})
	}
}
