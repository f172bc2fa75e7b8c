package risk

import (
	"math"
	"sort"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// PositionExposure is the normalized net exposure of one symbol
type PositionExposure struct {
	Symbol         string  `json:"symbol"`
	Product        string  `json:"product"`
	SignedPosition float64 `json:"signed_position"`
	NotionalValue  float64 `json:"notional_value"` // absolute
	MarginUsed     float64 `json:"margin_used"`
	Delta          float64 `json:"delta"` // signed notional
}

// Direction returns +1 for long, -1 for short and 0 for flat
func (e PositionExposure) Direction() float64 {
	switch {
	case e.SignedPosition > 0:
		return 1
	case e.SignedPosition < 0:
		return -1
	}
	return 0
}

// Exposures is a set of per-symbol exposures, ordered by symbol
type Exposures []PositionExposure

// Lookup returns the exposure for symbol. A missing symbol is zero exposure.
func (es Exposures) Lookup(symbol string) PositionExposure {
	for _, e := range es {
		if e.Symbol == symbol {
			return e
		}
	}
	return PositionExposure{Symbol: symbol, Product: types.ProductOf(symbol)}
}

// GrossNotional is the sum of absolute notionals
func (es Exposures) GrossNotional() float64 {
	var total float64
	for _, e := range es {
		total += e.NotionalValue
	}
	return total
}

// NetDelta is the sum of signed notionals
func (es Exposures) NetDelta() float64 {
	var total float64
	for _, e := range es {
		total += e.Delta
	}
	return total
}

// TotalMargin is the sum of margin used across exposures
func (es Exposures) TotalMargin() float64 {
	var total float64
	for _, e := range es {
		total += e.MarginUsed
	}
	return total
}

// Aggregator converts raw positions into per-symbol exposures.
// It is stateless; exposures are recomputed from the account on every call.
type Aggregator struct{}

// NewAggregator creates a new aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Aggregate nets positions per symbol. Notional falls back to |qty| x price x multiplier
// when the account collaborator did not report one. Flat symbols are dropped.
func (a *Aggregator) Aggregate(account types.Account, quotes map[string]types.Quote) Exposures {
	type acc struct {
		product  string
		qty      float64
		notional float64 // signed
		margin   float64
	}
	bySymbol := make(map[string]*acc)

	for _, p := range account.Positions {
		if p.Symbol == "" || isBad(p.Quantity) {
			continue
		}
		entry, ok := bySymbol[p.Symbol]
		if !ok {
			entry = &acc{product: p.Product}
			bySymbol[p.Symbol] = entry
		}
		q, hasQuote := quotes[p.Symbol]
		if entry.product == "" {
			if hasQuote && q.Product != "" {
				entry.product = q.Product
			} else {
				entry.product = types.ProductOf(p.Symbol)
			}
		}

		notional := math.Abs(p.Notional)
		if notional == 0 || isBad(notional) {
			notional = 0
			if hasQuote {
				notional = math.Abs(p.Quantity) * q.LastPrice * q.ContractMultiplier()
			}
		}
		sign := 1.0
		if p.Quantity < 0 {
			sign = -1
		}
		entry.qty += p.Quantity
		entry.notional += sign * notional
		if !isBad(p.Margin) {
			entry.margin += p.Margin
		}
	}

	out := make(Exposures, 0, len(bySymbol))
	for sym, e := range bySymbol {
		if e.qty == 0 {
			continue
		}
		out = append(out, PositionExposure{
			Symbol:         sym,
			Product:        e.product,
			SignedPosition: e.qty,
			NotionalValue:  math.Abs(e.notional),
			MarginUsed:     e.margin,
			Delta:          e.notional,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func isBad(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
