package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
	"github.com/ducminhle1904/futures-guardian/internal/marketdata"
	"github.com/ducminhle1904/futures-guardian/internal/risk"
	"github.com/ducminhle1904/futures-guardian/internal/safety"
	"github.com/ducminhle1904/futures-guardian/internal/triggers"
)

// Exchange source kinds
const (
	SourceBybit = "bybit"
	SourceFile  = "file"
)

// GuardianConfig is the complete service configuration
type GuardianConfig struct {
	Environment string `json:"environment" yaml:"environment"`
	LogLevel    string `json:"log_level" yaml:"log_level"`
	LogDir      string `json:"log_dir" yaml:"log_dir"`

	Evaluation EvaluationConfig `json:"evaluation" yaml:"evaluation"`
	Recovery   struct {
		CleanCycles int `json:"clean_cycles" yaml:"clean_cycles"`
	} `json:"recovery" yaml:"recovery"`

	Triggers triggers.Config      `json:"triggers" yaml:"triggers"`
	Gates    safety.Config        `json:"gates" yaml:"gates"`
	Bands    marketdata.BandTable `json:"bands" yaml:"bands"`
	Risk     RiskConfig           `json:"risk" yaml:"risk"`

	Exchange      ExchangeConfig     `json:"exchange" yaml:"exchange"`
	Server        ServerConfig       `json:"server" yaml:"server"`
	Audit         AuditConfig        `json:"audit" yaml:"audit"`
	State         StateConfig        `json:"state" yaml:"state"`
	Notifications NotificationConfig `json:"notifications" yaml:"notifications"`
}

// EvaluationConfig drives the trigger evaluation loop
type EvaluationConfig struct {
	Interval     time.Duration `json:"interval" yaml:"interval"`
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
	// DryRun logs emergency flatten actions instead of sending them
	DryRun bool `json:"dry_run" yaml:"dry_run"`
}

// RiskConfig configures the slow-cadence VaR and stress monitor
type RiskConfig struct {
	Monitor          risk.MonitorConfig    `json:"monitor" yaml:"monitor"`
	Simulations      int                   `json:"simulations" yaml:"simulations"`
	Horizon          float64               `json:"horizon" yaml:"horizon"`
	Seed             uint64                `json:"seed" yaml:"seed"`
	DefaultScenarios bool                  `json:"default_scenarios" yaml:"default_scenarios"`
	Scenarios        []risk.StressScenario `json:"scenarios" yaml:"scenarios"`
}

// AllScenarios returns the configured scenarios, with the built-in set first when enabled
func (r RiskConfig) AllScenarios() []risk.StressScenario {
	var out []risk.StressScenario
	if r.DefaultScenarios {
		out = append(out, risk.DefaultScenarios()...)
	}
	return append(out, r.Scenarios...)
}

// ExchangeConfig selects and configures the snapshot source
type ExchangeConfig struct {
	Source       string                      `json:"source" yaml:"source"`
	SnapshotFile string                      `json:"snapshot_file" yaml:"snapshot_file"`
	Testnet      bool                        `json:"testnet" yaml:"testnet"`
	Category     string                      `json:"category" yaml:"category"`
	Symbols      []string                    `json:"symbols" yaml:"symbols"`
	SettleCoin   string                      `json:"settle_coin" yaml:"settle_coin"`
	APIKey       string                      `json:"-" yaml:"api_key"`
	APISecret    string                      `json:"-" yaml:"api_secret"`
	Breaker      safety.CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
}

// ServerConfig configures the admin HTTP API
type ServerConfig struct {
	Addr           string        `json:"addr" yaml:"addr"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	MaxSnapshotAge time.Duration `json:"max_snapshot_age" yaml:"max_snapshot_age"`
}

// AuditConfig selects audit sinks. Every configured sink receives every record.
type AuditConfig struct {
	JSONLPath    string        `json:"jsonl_path" yaml:"jsonl_path"`
	PostgresDSN  string        `json:"-" yaml:"postgres_dsn"`
	DBTimeout    time.Duration `json:"db_timeout" yaml:"db_timeout"`
	StreamBuffer int           `json:"stream_buffer" yaml:"stream_buffer"`
	MemoryLimit  int           `json:"memory_limit" yaml:"memory_limit"`
}

// StateConfig configures restart persistence
type StateConfig struct {
	Dir      string `json:"dir" yaml:"dir"`
	Timezone string `json:"timezone" yaml:"timezone"`
}

// NotificationConfig holds notification settings
type NotificationConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	TelegramToken  string  `json:"-" yaml:"telegram_token"`
	TelegramChatID string  `json:"-" yaml:"telegram_chat_id"`
	PerMinute      float64 `json:"per_minute" yaml:"per_minute"`
	Burst          int     `json:"burst" yaml:"burst"`
}

// DefaultGuardianConfig returns a configuration with every default applied
func DefaultGuardianConfig() *GuardianConfig {
	c := baseConfig()
	c.setDefaults()
	return c
}

func baseConfig() *GuardianConfig {
	c := &GuardianConfig{
		Triggers: triggers.DefaultConfig(),
		Gates:    safety.DefaultConfig(),
	}
	c.Risk.Monitor = risk.DefaultMonitorConfig()
	c.Risk.DefaultScenarios = true
	return c
}

// LoadGuardianConfig reads a YAML file, applies defaults and environment
// overrides, and validates the result.
func LoadGuardianConfig(path string) (*GuardianConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, guarderrors.WrapError(err, guarderrors.ErrorCategoryConfiguration, "config", "read")
	}
	return ParseGuardianConfig(data)
}

// ParseGuardianConfig decodes YAML on top of the defaults
func ParseGuardianConfig(data []byte) (*GuardianConfig, error) {
	c := baseConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, guarderrors.NewConfigurationError("config", "parse", err.Error())
	}

	c.setDefaults()
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// setDefaults sets default values for missing configuration
func (c *GuardianConfig) setDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Evaluation.Interval == 0 {
		c.Evaluation.Interval = time.Second
	}
	if c.Evaluation.FetchTimeout == 0 {
		c.Evaluation.FetchTimeout = 2 * time.Second
	}
	if c.Bands.Default == 0 {
		c.Bands.Default = 0.05
	}
	if c.Risk.Simulations == 0 {
		c.Risk.Simulations = 10000
	}
	if c.Risk.Horizon == 0 {
		c.Risk.Horizon = 1
	}
	if c.Risk.Seed == 0 {
		c.Risk.Seed = 42
	}
	if c.Exchange.Source == "" {
		c.Exchange.Source = SourceFile
	}
	if c.Gates.Liquidity.RequireDepth == nil {
		live := c.Exchange.Source == SourceBybit
		c.Gates.Liquidity.RequireDepth = &live
	}
	if c.Exchange.Category == "" {
		c.Exchange.Category = "linear"
	}
	if c.Exchange.SettleCoin == "" {
		c.Exchange.SettleCoin = "USDT"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.MaxSnapshotAge == 0 {
		c.Server.MaxSnapshotAge = c.Triggers.Stale.MaxAge
	}
	if c.Audit.DBTimeout == 0 {
		c.Audit.DBTimeout = 5 * time.Second
	}
	if c.Audit.StreamBuffer == 0 {
		c.Audit.StreamBuffer = 256
	}
	if c.Audit.MemoryLimit == 0 {
		c.Audit.MemoryLimit = 1000
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.State.Timezone == "" {
		c.State.Timezone = "UTC"
	}
	if c.Notifications.PerMinute == 0 {
		c.Notifications.PerMinute = 6
	}
	if c.Notifications.Burst == 0 {
		c.Notifications.Burst = 3
	}
}

// Validate checks the whole configuration. Any error is a CONFIG error: the
// service must not initialize.
func (c *GuardianConfig) Validate() error {
	errs := guarderrors.ConfigErrors{Component: "config"}

	if err := c.Triggers.Validate(); err != nil {
		errs.Add("%v", err)
	}
	if err := c.Gates.Validate(); err != nil {
		errs.Add("%v", err)
	}
	if c.Evaluation.Interval <= 0 {
		errs.Add("evaluation.interval must be positive")
	}
	if c.Evaluation.FetchTimeout <= 0 || c.Evaluation.FetchTimeout > c.Triggers.Stale.MaxAge {
		errs.Add("evaluation.fetch_timeout %s must be positive and not above triggers.stale.max_age %s",
			c.Evaluation.FetchTimeout, c.Triggers.Stale.MaxAge)
	}
	if c.Recovery.CleanCycles < 0 {
		errs.Add("recovery.clean_cycles must not be negative")
	}
	if c.Bands.Default < 0 || c.Bands.Default >= 1 {
		errs.Add("bands.default %v must be in [0, 1)", c.Bands.Default)
	}
	for product, pct := range c.Bands.Products {
		if pct <= 0 || pct >= 1 {
			errs.Add("bands.products.%s %v must be in (0, 1)", product, pct)
		}
	}

	m := c.Risk.Monitor
	if m.Interval <= 0 {
		errs.Add("risk.monitor.interval must be positive")
	}
	if m.Confidence <= 0 || m.Confidence >= 1 {
		errs.Add("risk.monitor.confidence %v must be in (0, 1)", m.Confidence)
	}
	if _, err := risk.ParseVaRMethod(string(m.Method)); err != nil {
		errs.Add("risk.monitor.method: %v", err)
	}
	if m.WindowSize < 2 || m.MinSamples < 1 || m.MinSamples > m.WindowSize {
		errs.Add("risk.monitor needs window_size >= 2 and 1 <= min_samples <= window_size")
	}
	if c.Risk.Simulations <= 0 {
		errs.Add("risk.simulations must be positive")
	}
	if c.Risk.Horizon <= 0 {
		errs.Add("risk.horizon must be positive")
	}
	if _, err := risk.NewStressTester(c.Risk.AllScenarios()); err != nil {
		errs.Add("risk.scenarios: %v", err)
	}

	switch c.Exchange.Source {
	case SourceFile:
		if c.Exchange.SnapshotFile == "" {
			errs.Add("exchange.snapshot_file is required for the file source")
		}
	case SourceBybit:
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			errs.Add("exchange api_key and api_secret are required for bybit (BYBIT_API_KEY / BYBIT_API_SECRET)")
		}
	default:
		errs.Add("exchange.source %q must be %q or %q", c.Exchange.Source, SourceBybit, SourceFile)
	}

	if _, err := time.LoadLocation(c.State.Timezone); err != nil {
		errs.Add("state.timezone: %v", err)
	}
	if c.Notifications.Enabled && (c.Notifications.TelegramToken == "" || c.Notifications.TelegramChatID == "") {
		errs.Add("notifications enabled but TELEGRAM_TOKEN / TELEGRAM_CHAT_ID missing")
	}
	return errs.Err()
}

// Summary returns a one-line description for startup logs
func (c *GuardianConfig) Summary() string {
	sinks := []string{"memory"}
	if c.Audit.JSONLPath != "" {
		sinks = append(sinks, "jsonl")
	}
	if c.Audit.PostgresDSN != "" {
		sinks = append(sinks, "postgres")
	}
	return fmt.Sprintf("env=%s source=%s interval=%s risk=%s/%.2f audit=%s recovery=%d",
		c.Environment, c.Exchange.Source, c.Evaluation.Interval,
		c.Risk.Monitor.Method, c.Risk.Monitor.Confidence, strings.Join(sinks, "+"), c.Recovery.CleanCycles)
}
