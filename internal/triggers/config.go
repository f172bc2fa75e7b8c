package triggers

import (
	"time"

	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
	"github.com/ducminhle1904/futures-guardian/internal/marketdata"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// Config holds the thresholds for every built-in trigger
type Config struct {
	FailureCeiling types.Mode `json:"failure_ceiling" yaml:"failure_ceiling"`

	Stale struct {
		MaxAge    time.Duration `json:"max_age" yaml:"max_age"`
		Watchlist []string      `json:"watchlist" yaml:"watchlist"`
	} `json:"stale" yaml:"stale"`

	PriceLimit struct {
		Enabled  bool    `json:"enabled" yaml:"enabled"`
		Distance float64 `json:"distance" yaml:"distance"`
	} `json:"price_limit" yaml:"price_limit"`

	Margin struct {
		Warning  float64 `json:"warning" yaml:"warning"`
		Danger   float64 `json:"danger" yaml:"danger"`
		Critical float64 `json:"critical" yaml:"critical"`
	} `json:"margin" yaml:"margin"`

	Delivery struct {
		Enabled  bool     `json:"enabled" yaml:"enabled"`
		Days     int      `json:"days" yaml:"days"`
		Holidays []string `json:"holidays" yaml:"holidays"`
	} `json:"delivery" yaml:"delivery"`

	Drawdown struct {
		MaxFraction float64 `json:"max_fraction" yaml:"max_fraction"`
	} `json:"drawdown" yaml:"drawdown"`

	RiskLimit struct {
		Enabled                bool          `json:"enabled" yaml:"enabled"`
		MaxVaRFraction         float64       `json:"max_var_fraction" yaml:"max_var_fraction"`
		HaltOnStressMarginCall bool          `json:"halt_on_stress_margin_call" yaml:"halt_on_stress_margin_call"`
		MaxReportAge           time.Duration `json:"max_report_age" yaml:"max_report_age"`
	} `json:"risk_limit" yaml:"risk_limit"`
}

// DefaultConfig returns default trigger thresholds
func DefaultConfig() Config {
	var c Config
	c.FailureCeiling = types.ModeReduceOnly
	c.Stale.MaxAge = 10 * time.Second
	c.PriceLimit.Enabled = true
	c.PriceLimit.Distance = 0.01
	c.Margin.Warning = 0.6
	c.Margin.Danger = 0.8
	c.Margin.Critical = 1.0
	c.Delivery.Enabled = true
	c.Delivery.Days = 3
	c.Drawdown.MaxFraction = 0.05
	c.RiskLimit.Enabled = true
	c.RiskLimit.MaxVaRFraction = 0.1
	c.RiskLimit.MaxReportAge = 5 * time.Minute
	return c
}

// Validate reports every malformed threshold at once
func (c Config) Validate() error {
	errs := guarderrors.ConfigErrors{Component: "triggers"}

	if c.FailureCeiling != types.ModeReduceOnly && c.FailureCeiling != types.ModeHalted {
		errs.Add("failure_ceiling must be REDUCE_ONLY or HALTED, got %s", c.FailureCeiling)
	}
	if c.Stale.MaxAge <= 0 {
		errs.Add("stale.max_age must be positive")
	}
	if c.PriceLimit.Enabled && (c.PriceLimit.Distance < 0 || c.PriceLimit.Distance >= 1) {
		errs.Add("price_limit.distance %v must be in [0, 1)", c.PriceLimit.Distance)
	}
	m := c.Margin
	if !(m.Warning > 0 && m.Warning < m.Danger && m.Danger < m.Critical) {
		errs.Add("margin bands must satisfy 0 < warning < danger < critical (got %v, %v, %v)", m.Warning, m.Danger, m.Critical)
	}
	if c.Delivery.Enabled && c.Delivery.Days < 0 {
		errs.Add("delivery.days must not be negative")
	}
	if c.Delivery.Enabled {
		if _, err := marketdata.NewCalendar(c.Delivery.Holidays); err != nil {
			errs.Add("delivery.holidays: %v", err)
		}
	}
	if c.Drawdown.MaxFraction <= 0 || c.Drawdown.MaxFraction >= 1 {
		errs.Add("drawdown.max_fraction %v must be in (0, 1)", c.Drawdown.MaxFraction)
	}
	if c.RiskLimit.Enabled {
		if c.RiskLimit.MaxVaRFraction < 0 {
			errs.Add("risk_limit.max_var_fraction must not be negative")
		}
		if c.RiskLimit.MaxReportAge < 0 {
			errs.Add("risk_limit.max_report_age must not be negative")
		}
	}
	return errs.Err()
}

// Build validates the config and returns the trigger set in evaluation order
func Build(c Config) ([]Trigger, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	set := []Trigger{
		&StaleQuote{MaxAge: c.Stale.MaxAge, Watchlist: append([]string(nil), c.Stale.Watchlist...)},
	}
	if c.PriceLimit.Enabled {
		set = append(set, &PriceLimit{Distance: c.PriceLimit.Distance})
	}
	set = append(set, &Margin{Warning: c.Margin.Warning, Danger: c.Margin.Danger, Critical: c.Margin.Critical})
	if c.Delivery.Enabled {
		cal, _ := marketdata.NewCalendar(c.Delivery.Holidays)
		set = append(set, &Delivery{Days: c.Delivery.Days, Calendar: cal})
	}
	set = append(set, &Drawdown{MaxFraction: c.Drawdown.MaxFraction})
	if c.RiskLimit.Enabled {
		set = append(set, &RiskLimit{
			MaxVaRFraction:         c.RiskLimit.MaxVaRFraction,
			HaltOnStressMarginCall: c.RiskLimit.HaltOnStressMarginCall,
			MaxReportAge:           c.RiskLimit.MaxReportAge,
		})
	}
	return set, nil
}
