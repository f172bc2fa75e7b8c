package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/internal/risk"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

const sampleYAML = `
environment: production
evaluation:
  interval: 500ms
  fetch_timeout: 1s
recovery:
  clean_cycles: 3
triggers:
  failure_ceiling: HALTED
  stale:
    max_age: 5s
    watchlist: [rb2410]
  margin:
    warning: 0.5
    danger: 0.7
    critical: 0.95
  drawdown:
    max_fraction: 0.03
gates:
  margin:
    max_ratio: 0.7
    default_margin_rate: 0.12
  throttle:
    window: 2s
    max_orders: 5
bands:
  default: 0.04
  products:
    rb: 0.06
risk:
  monitor:
    method: monte_carlo
    confidence: 0.95
  default_scenarios: false
  scenarios:
    - name: rebar_crash
      scenario_type: historical
      price_shock: -0.12
      affected_products: [rb]
exchange:
  source: file
  snapshot_file: snapshot.json
`

func TestParseGuardianConfig(t *testing.T) {
	cfg, err := ParseGuardianConfig([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 500*time.Millisecond, cfg.Evaluation.Interval)
	assert.Equal(t, 3, cfg.Recovery.CleanCycles)
	assert.Equal(t, types.ModeHalted, cfg.Triggers.FailureCeiling)
	assert.Equal(t, 5*time.Second, cfg.Triggers.Stale.MaxAge)
	assert.Equal(t, 0.95, cfg.Triggers.Margin.Critical)
	assert.Equal(t, 0.03, cfg.Triggers.Drawdown.MaxFraction)
	assert.True(t, cfg.Triggers.Delivery.Enabled, "untouched sections keep defaults")
	assert.Equal(t, 2*time.Second, cfg.Gates.Throttle.Window)
	assert.Equal(t, 20, cfg.Gates.Throttle.MaxCancels)
	assert.Equal(t, 0.06, cfg.Bands.LimitPct("rb"))
	assert.Equal(t, 0.04, cfg.Bands.LimitPct("cu"))
	assert.Equal(t, risk.MethodMonteCarlo, cfg.Risk.Monitor.Method)
	require.Len(t, cfg.Risk.AllScenarios(), 1)
	assert.Equal(t, "rebar_crash", cfg.Risk.AllScenarios()[0].Name)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.MaxSnapshotAge)
}

func TestParseGuardianConfig_EnvOverrides(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "key")
	t.Setenv("BYBIT_API_SECRET", "secret")
	t.Setenv("GUARDIAN_POSTGRES_DSN", "postgres://localhost/guardian")

	yml := strings.Replace(sampleYAML, "source: file", "source: bybit", 1)
	cfg, err := ParseGuardianConfig([]byte(yml))
	require.NoError(t, err)
	assert.Equal(t, SourceBybit, cfg.Exchange.Source)
	assert.Equal(t, "key", cfg.Exchange.APIKey)
	assert.Equal(t, "postgres://localhost/guardian", cfg.Audit.PostgresDSN)
	assert.Contains(t, cfg.Summary(), "postgres")
}

func TestParseGuardianConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"margin bands out of order", "exchange: {snapshot_file: s.json}\ntriggers: {margin: {warning: 0.9, danger: 0.8, critical: 1.0}}", "margin bands"},
		{"bad scenario", "exchange: {snapshot_file: s.json}\nrisk: {scenarios: [{name: x, price_shock: -1.5, affected_products: [ALL]}]}", "price_shock"},
		{"fetch timeout beyond stale age", "exchange: {snapshot_file: s.json}\nevaluation: {fetch_timeout: 30s}", "fetch_timeout"},
		{"unknown source", "exchange: {source: ftx}", "exchange.source"},
		{"missing bybit secrets", "exchange: {source: bybit}", "api_key"},
		{"bad method", "exchange: {snapshot_file: s.json}\nrisk: {monitor: {method: guess}}", "risk.monitor.method"},
		{"unknown field", "exchange: {snapshot_file: s.json}\nbogus: 1", "bogus"},
		{"bad failure ceiling", "exchange: {snapshot_file: s.json}\ntriggers: {failure_ceiling: SIDEWAYS}", "SIDEWAYS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGuardianConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, guarderrors.IsFatal(err), "configuration errors are fatal")
		})
	}
}

func TestDefaultGuardianConfig_NeedsOnlyASource(t *testing.T) {
	cfg := DefaultGuardianConfig()
	assert.Error(t, cfg.Validate())
	cfg.Exchange.SnapshotFile = "snapshot.json"
	assert.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Risk.AllScenarios(), len(risk.DefaultScenarios()))
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("GUARDIAN_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("GUARDIAN_TEST_VALUE", "")
	os.Unsetenv("GUARDIAN_TEST_VALUE")

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("GUARDIAN_TEST_VALUE"))
	assert.NoError(t, LoadEnv(filepath.Join(dir, "nothing.env")))
}

func TestWatcher_ReloadsValidAndRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guardian.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	var applied atomic.Int32
	var lastDrawdown atomic.Value
	w, err := NewWatcher(logger.NewNop(), path, func(cfg *GuardianConfig) error {
		applied.Add(1)
		lastDrawdown.Store(cfg.Triggers.Drawdown.MaxFraction)
		return nil
	})
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(replaceDrawdown(sampleYAML, "0.04")), 0o600))
	assert.Eventually(t, func() bool { return applied.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.04, lastDrawdown.Load())

	require.NoError(t, os.WriteFile(path, []byte(replaceDrawdown(sampleYAML, "1.5")), 0o600))
	assert.Eventually(t, func() bool {
		_, failures := w.Stats()
		return failures >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), applied.Load())
}

func replaceDrawdown(yml, value string) string {
	return strings.Replace(yml, "max_fraction: 0.03", "max_fraction: "+value, 1)
}

func TestSetDefaults_RequireDepthFollowsSource(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		explicit *bool
		want     bool
	}{
		{"file source", SourceFile, nil, false},
		{"live source", SourceBybit, nil, true},
		{"live source opted out", SourceBybit, new(bool), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := baseConfig()
			c.Exchange.Source = tt.source
			c.Gates.Liquidity.RequireDepth = tt.explicit
			c.setDefaults()
			require.NotNil(t, c.Gates.Liquidity.RequireDepth)
			assert.Equal(t, tt.want, *c.Gates.Liquidity.RequireDepth)
		})
	}

	cfg, err := ParseGuardianConfig([]byte("exchange:\n  source: file\n  snapshot_file: s.json\ngates:\n  liquidity:\n    require_depth: true\n"))
	require.NoError(t, err)
	assert.True(t, *cfg.Gates.Liquidity.RequireDepth)
}
