package marketdata

import (
	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// ComputeBand derives the daily price band from the previous settlement price.
// Limit-up is rounded down and limit-down rounded up to the tick size, so both
// limits are always tradable prices inside the exchange band.
func ComputeBand(prevSettle, limitPct, tick float64) types.PriceBand {
	if prevSettle <= 0 || limitPct <= 0 {
		return types.PriceBand{}
	}
	settle := decimal.NewFromFloat(prevSettle)
	pct := decimal.NewFromFloat(limitPct)

	up := settle.Mul(decimal.NewFromInt(1).Add(pct))
	down := settle.Mul(decimal.NewFromInt(1).Sub(pct))

	if tick > 0 {
		t := decimal.NewFromFloat(tick)
		up = up.Div(t).Floor().Mul(t)
		down = down.Div(t).Ceil().Mul(t)
	}
	if down.IsNegative() {
		down = decimal.Zero
	}
	return types.PriceBand{
		LimitUp:   up.InexactFloat64(),
		LimitDown: down.InexactFloat64(),
	}
}

// BandTable holds per-product daily limit percentages
type BandTable struct {
	Default  float64            `json:"default" yaml:"default"`
	Products map[string]float64 `json:"products" yaml:"products"`
}

// LimitPct returns the limit percentage for a product
func (b BandTable) LimitPct(product string) float64 {
	if pct, ok := b.Products[product]; ok {
		return pct
	}
	return b.Default
}

// Apply computes bands for quotes that carry a reference price but no band
func (b BandTable) Apply(snap *types.Snapshot) {
	for sym, q := range snap.Quotes {
		if q.Band.IsSet() || q.PrevSettle <= 0 {
			continue
		}
		q.Band = ComputeBand(q.PrevSettle, b.LimitPct(q.Product), q.TickSize)
		snap.Quotes[sym] = q
	}
}
