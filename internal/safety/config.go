package safety

import (
	"time"

	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
)

// Config holds the gate thresholds. Gates are built once at startup.
type Config struct {
	Margin struct {
		MaxRatio          float64 `json:"max_ratio" yaml:"max_ratio"`
		DefaultMarginRate float64 `json:"default_margin_rate" yaml:"default_margin_rate"`
	} `json:"margin" yaml:"margin"`

	Throttle struct {
		Window     time.Duration `json:"window" yaml:"window"`
		MaxOrders  int           `json:"max_orders" yaml:"max_orders"`
		MaxCancels int           `json:"max_cancels" yaml:"max_cancels"`
	} `json:"throttle" yaml:"throttle"`

	FatFinger FatFingerConfig `json:"fat_finger" yaml:"fat_finger"`

	Liquidity struct {
		MaxDepthFraction float64 `json:"max_depth_fraction" yaml:"max_depth_fraction"`
		MaxParticipation float64 `json:"max_participation" yaml:"max_participation"`
		// RequireDepth is left unset to follow the snapshot source: live books require depth
		RequireDepth *bool `json:"require_depth,omitempty" yaml:"require_depth"`
	} `json:"liquidity" yaml:"liquidity"`
}

// DefaultConfig returns default gate thresholds
func DefaultConfig() Config {
	var c Config
	c.Margin.MaxRatio = 0.8
	c.Margin.DefaultMarginRate = 0.1
	c.Throttle.Window = time.Second
	c.Throttle.MaxOrders = 10
	c.Throttle.MaxCancels = 20
	c.FatFinger = FatFingerConfig{SizeMultiple: 10, MaxPriceDeviation: 0.05, MinHistory: 5, HistoryLen: 50}
	c.Liquidity.MaxDepthFraction = 0.5
	c.Liquidity.MaxParticipation = 0.1
	return c
}

// Validate reports every malformed threshold at once
func (c Config) Validate() error {
	errs := guarderrors.ConfigErrors{Component: "gates"}

	if c.Margin.MaxRatio <= 0 {
		errs.Add("margin.max_ratio must be positive")
	}
	if c.Margin.DefaultMarginRate <= 0 || c.Margin.DefaultMarginRate > 1 {
		errs.Add("margin.default_margin_rate %v must be in (0, 1]", c.Margin.DefaultMarginRate)
	}
	if c.Throttle.Window <= 0 {
		errs.Add("throttle.window must be positive")
	}
	if c.Throttle.MaxOrders < 0 || c.Throttle.MaxCancels < 0 {
		errs.Add("throttle limits must not be negative")
	}
	if c.FatFinger.SizeMultiple != 0 && c.FatFinger.SizeMultiple <= 1 {
		errs.Add("fat_finger.size_multiple %v must be above 1 (or 0 to disable)", c.FatFinger.SizeMultiple)
	}
	if c.FatFinger.MaxPriceDeviation < 0 {
		errs.Add("fat_finger.max_price_deviation must not be negative")
	}
	if c.FatFinger.MaxNotional < 0 {
		errs.Add("fat_finger.max_notional must not be negative")
	}
	if c.Liquidity.MaxDepthFraction < 0 {
		errs.Add("liquidity.max_depth_fraction must not be negative")
	}
	if c.Liquidity.MaxParticipation < 0 || c.Liquidity.MaxParticipation > 1 {
		errs.Add("liquidity.max_participation %v must be in [0, 1]", c.Liquidity.MaxParticipation)
	}
	return errs.Err()
}

// Build validates the config and returns the five gates in chain order:
// price limit, margin, throttle, fat finger, liquidity.
func Build(c Config) ([]Gate, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return []Gate{
		PriceLimitGate{},
		MarginGate{MaxRatio: c.Margin.MaxRatio, DefaultMarginRate: c.Margin.DefaultMarginRate},
		NewThrottleGate(c.Throttle.Window, c.Throttle.MaxOrders, c.Throttle.MaxCancels),
		NewFatFingerGate(c.FatFinger),
		LiquidityGate{
			MaxDepthFraction: c.Liquidity.MaxDepthFraction,
			MaxParticipation: c.Liquidity.MaxParticipation,
			RequireDepth:     c.Liquidity.RequireDepth != nil && *c.Liquidity.RequireDepth,
		},
	}, nil
}
