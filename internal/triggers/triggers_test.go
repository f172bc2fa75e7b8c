package triggers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
	"github.com/ducminhle1904/futures-guardian/internal/marketdata"
	"github.com/ducminhle1904/futures-guardian/internal/risk"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

var now = time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC) // Wednesday

func baseSnapshot() *types.Snapshot {
	return &types.Snapshot{
		Version:   1,
		Timestamp: now,
		Quotes: map[string]types.Quote{
			"rb2407": {
				Symbol: "rb2407", Product: "rb", LastPrice: 3500, LastQuoteTime: now.Add(-time.Second),
				Band: types.PriceBand{LimitUp: 3850, LimitDown: 3150}, Session: types.SessionContinuous,
				Expiry: time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC),
			},
		},
		Account: types.Account{
			Equity:        1000000,
			UsedMargin:    100000,
			DayOpenEquity: 1000000,
			Positions:     []types.Position{{Symbol: "rb2407", Product: "rb", Quantity: 10, Notional: 350000}},
		},
	}
}

func flatSnapshot() *types.Snapshot {
	snap := baseSnapshot()
	snap.Account.Positions = nil
	return snap
}

func input(snap *types.Snapshot) Input {
	return Input{Snapshot: snap, Now: now}
}

func allTriggers(t *testing.T) []Trigger {
	t.Helper()
	set, err := Build(DefaultConfig())
	require.NoError(t, err)
	return set
}

func TestBuild_DefaultSet(t *testing.T) {
	var ids []string
	for _, tr := range allTriggers(t) {
		ids = append(ids, tr.ID())
	}
	assert.Equal(t, []string{"stale_quote", "price_limit", "margin", "delivery", "drawdown", "risk_limit"}, ids)
}

func TestHealthySnapshot_NothingFires(t *testing.T) {
	for _, tr := range allTriggers(t) {
		res := SafeEvaluate(tr, input(baseSnapshot()), types.ModeReduceOnly)
		assert.False(t, res.Fired, "%s: %s", tr.ID(), res.Reason)
		assert.Equal(t, types.ModeRunning, res.Ceiling)
	}
}

func TestNoPositions_PositionTriggersStayQuiet(t *testing.T) {
	snaps := map[string]*types.Snapshot{
		"flat":        flatSnapshot(),
		"zero equity": func() *types.Snapshot {
			s := flatSnapshot()
			s.Account.Equity = 0
			s.Account.UsedMargin = 0
			s.Account.DayOpenEquity = 0
			return s
		}(),
		"at limit": func() *types.Snapshot {
			s := flatSnapshot()
			q := s.Quotes["rb2407"]
			q.LastPrice = 3850
			s.Quotes["rb2407"] = q
			return s
		}(),
		"expiring": func() *types.Snapshot {
			s := flatSnapshot()
			q := s.Quotes["rb2407"]
			q.Expiry = now
			s.Quotes["rb2407"] = q
			return s
		}(),
	}
	report := &risk.Report{Timestamp: now, VaR: &risk.VaRResult{ValueAtRisk: 0.9}, Stress: risk.StressSummary{MarginCallEvents: 3}}

	for name, snap := range snaps {
		t.Run(name, func(t *testing.T) {
			for _, tr := range allTriggers(t) {
				res := SafeEvaluate(tr, Input{Snapshot: snap, Risk: report, Now: now}, types.ModeReduceOnly)
				assert.False(t, res.Fired, "%s fired: %s", tr.ID(), res.Reason)
			}
		})
	}
}

func TestStaleQuote(t *testing.T) {
	tr := &StaleQuote{MaxAge: 5 * time.Second, Watchlist: []string{"BTCUSDT"}}

	tests := []struct {
		name   string
		mutate func(s *types.Snapshot)
		fire   bool
	}{
		{"fresh", func(s *types.Snapshot) {
			s.Quotes["BTCUSDT"] = types.Quote{Symbol: "BTCUSDT", LastQuoteTime: now, Session: types.SessionContinuous}
		}, false},
		{"no snapshot timestamp", func(s *types.Snapshot) { s.Timestamp = time.Time{} }, true},
		{"feed error", func(s *types.Snapshot) { s.FeedError = "timeout" }, true},
		{"old snapshot", func(s *types.Snapshot) { s.Timestamp = now.Add(-time.Minute) }, true},
		{"watchlist missing quote", func(s *types.Snapshot) {}, true},
		{"held quote old", func(s *types.Snapshot) {
			s.Quotes["BTCUSDT"] = types.Quote{Symbol: "BTCUSDT", LastQuoteTime: now}
			q := s.Quotes["rb2407"]
			q.LastQuoteTime = now.Add(-6 * time.Second)
			s.Quotes["rb2407"] = q
		}, true},
		{"held quote missing time", func(s *types.Snapshot) {
			s.Quotes["BTCUSDT"] = types.Quote{Symbol: "BTCUSDT", LastQuoteTime: now}
			q := s.Quotes["rb2407"]
			q.LastQuoteTime = time.Time{}
			s.Quotes["rb2407"] = q
		}, true},
		{"old quote in closed session", func(s *types.Snapshot) {
			s.Quotes["BTCUSDT"] = types.Quote{Symbol: "BTCUSDT", LastQuoteTime: now}
			q := s.Quotes["rb2407"]
			q.LastQuoteTime = now.Add(-time.Hour)
			q.Session = types.SessionBreak
			s.Quotes["rb2407"] = q
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := baseSnapshot()
			tt.mutate(snap)
			res := tr.Evaluate(input(snap))
			assert.Equal(t, tt.fire, res.Fired, res.Reason)
			if tt.fire {
				assert.Equal(t, types.ModeReduceOnly, res.Ceiling)
				assert.NotEmpty(t, res.Reason)
			}
		})
	}
}

func TestStaleQuote_NilSnapshotFailsClosed(t *testing.T) {
	res := SafeEvaluate(&StaleQuote{MaxAge: time.Second}, Input{Now: now}, types.ModeReduceOnly)
	assert.True(t, res.Fired)
	assert.Equal(t, types.ModeReduceOnly, res.Ceiling)
}

func TestPriceLimit(t *testing.T) {
	tr := &PriceLimit{Distance: 0.01}
	tests := []struct {
		name    string
		price   float64
		band    types.PriceBand
		fire    bool
		ceiling types.Mode
	}{
		{"mid band", 3500, types.PriceBand{LimitUp: 3850, LimitDown: 3150}, false, types.ModeRunning},
		{"near limit-up", 3820, types.PriceBand{LimitUp: 3850, LimitDown: 3150}, true, types.ModeReduceOnly},
		{"near limit-down", 3170, types.PriceBand{LimitUp: 3850, LimitDown: 3150}, true, types.ModeReduceOnly},
		{"at limit-up", 3850, types.PriceBand{LimitUp: 3850, LimitDown: 3150}, true, types.ModeHalted},
		{"beyond limit-down", 3100, types.PriceBand{LimitUp: 3850, LimitDown: 3150}, true, types.ModeHalted},
		{"no band", 3849, types.PriceBand{}, false, types.ModeRunning},
		{"bad price", 0, types.PriceBand{LimitUp: 3850, LimitDown: 3150}, true, types.ModeReduceOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := baseSnapshot()
			q := snap.Quotes["rb2407"]
			q.LastPrice = tt.price
			q.Band = tt.band
			snap.Quotes["rb2407"] = q

			res := SafeEvaluate(tr, input(snap), types.ModeReduceOnly)
			assert.Equal(t, tt.fire, res.Fired, res.Reason)
			assert.Equal(t, tt.ceiling, res.Ceiling)
		})
	}
}

func TestMargin_Bands(t *testing.T) {
	tr := &Margin{Warning: 0.6, Danger: 0.8, Critical: 1.0}
	tests := []struct {
		name    string
		equity  float64
		used    float64
		fire    bool
		ceiling types.Mode
	}{
		{"safe", 1000, 599, false, types.ModeRunning},
		{"warning boundary", 1000, 600, true, types.ModeReduceOnly},
		{"danger", 1000, 850, true, types.ModeReduceOnly},
		{"critical boundary", 1000, 1000, true, types.ModeHalted},
		{"zero equity", 0, 10, true, types.ModeHalted},
		{"negative equity", -50, 0, true, types.ModeHalted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := baseSnapshot()
			snap.Account.Equity = tt.equity
			snap.Account.UsedMargin = tt.used

			res := SafeEvaluate(tr, input(snap), types.ModeReduceOnly)
			assert.Equal(t, tt.fire, res.Fired, res.Reason)
			assert.Equal(t, tt.ceiling, res.Ceiling)
		})
	}
}

func TestDelivery(t *testing.T) {
	cal, err := marketdata.NewCalendar([]string{"2025-06-06"})
	require.NoError(t, err)
	tr := &Delivery{Days: 2, Calendar: cal}

	tests := []struct {
		name   string
		expiry time.Time
		fire   bool
	}{
		{"far", time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC), false},
		{"two trading days across holiday", time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC), true},
		{"three trading days", time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), false},
		{"already expired", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), true},
		{"perpetual", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := baseSnapshot()
			q := snap.Quotes["rb2407"]
			q.Expiry = tt.expiry
			snap.Quotes["rb2407"] = q

			res := tr.Evaluate(input(snap))
			assert.Equal(t, tt.fire, res.Fired, res.Reason)
			if tt.fire {
				assert.Equal(t, types.ModeReduceOnly, res.Ceiling)
			}
		})
	}
}

func TestDrawdown_KillSwitch(t *testing.T) {
	tr := &Drawdown{MaxFraction: 0.05}

	snap := baseSnapshot()
	snap.Account.Equity = 960000
	assert.False(t, tr.Evaluate(input(snap)).Fired)

	snap.Account.Equity = 950000
	res := tr.Evaluate(input(snap))
	assert.True(t, res.Fired)
	assert.Equal(t, types.ModeHalted, res.Ceiling)
	assert.Equal(t, ActionFlattenAndCancel, res.Action)

	snap.Account.DayOpenEquity = 0
	assert.False(t, tr.Evaluate(input(snap)).Fired, "unknown day open")
}

func TestRiskLimit(t *testing.T) {
	tr := &RiskLimit{MaxVaRFraction: 0.05, HaltOnStressMarginCall: true, MaxReportAge: time.Minute}

	tests := []struct {
		name    string
		report  *risk.Report
		fire    bool
		ceiling types.Mode
	}{
		{"no report", nil, false, types.ModeRunning},
		{"within limit", &risk.Report{Timestamp: now, VaR: &risk.VaRResult{ValueAtRisk: 0.04}}, false, types.ModeRunning},
		{"var breach", &risk.Report{Timestamp: now, VaR: &risk.VaRResult{ValueAtRisk: 0.06, Method: risk.MethodHistorical}}, true, types.ModeReduceOnly},
		{"margin call", &risk.Report{Timestamp: now, Stress: risk.StressSummary{MarginCallEvents: 1}}, true, types.ModeHalted},
		{"stale report", &risk.Report{Timestamp: now.Add(-2 * time.Minute)}, true, types.ModeReduceOnly},
		{"no var yet", &risk.Report{Timestamp: now}, false, types.ModeRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tr.Evaluate(Input{Snapshot: baseSnapshot(), Risk: tt.report, Now: now})
			assert.Equal(t, tt.fire, res.Fired, res.Reason)
			assert.Equal(t, tt.ceiling, res.Ceiling)
		})
	}
}

type panicky struct{}

func (panicky) ID() string { return "panicky" }
func (panicky) Evaluate(Input) Result { panic("nil map") }

type sloppy struct{}

func (sloppy) ID() string { return "sloppy" }
func (sloppy) Evaluate(Input) Result {
	return Result{Fired: true, Ceiling: types.ModeRunning, Reason: "fired without ceiling"}
}

func TestSafeEvaluate_FailsClosed(t *testing.T) {
	res := SafeEvaluate(panicky{}, input(baseSnapshot()), types.ModeReduceOnly)
	assert.True(t, res.Fired)
	assert.Equal(t, "panicky", res.TriggerID)
	assert.Equal(t, types.ModeReduceOnly, res.Ceiling)
	assert.Contains(t, res.Reason, "nil map")

	res = SafeEvaluate(sloppy{}, input(baseSnapshot()), types.ModeHalted)
	assert.Equal(t, types.ModeHalted, res.Ceiling)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"failure ceiling running", func(c *Config) { c.FailureCeiling = types.ModeRunning }},
		{"stale age", func(c *Config) { c.Stale.MaxAge = 0 }},
		{"margin order", func(c *Config) { c.Margin.Warning = 0.9 }},
		{"drawdown range", func(c *Config) { c.Drawdown.MaxFraction = 1.5 }},
		{"holiday format", func(c *Config) { c.Delivery.Holidays = []string{"tomorrow"} }},
		{"distance", func(c *Config) { c.PriceLimit.Distance = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			_, err := Build(c)
			require.Error(t, err)
			assert.True(t, guarderrors.IsFatal(err))
		})
	}
}
