package types

// Position is one signed holding reported by the account collaborator
type Position struct {
	Symbol   string  `json:"symbol"`
	Product  string  `json:"product,omitempty"`
	Quantity float64 `json:"quantity"` // signed: negative for short
	Notional float64 `json:"notional"` // absolute notional value
	Margin   float64 `json:"margin,omitempty"`
}

// Account is the equity / margin view of the trading account
type Account struct {
	Equity        float64    `json:"equity"`
	UsedMargin    float64    `json:"used_margin"`
	DayOpenEquity float64    `json:"day_open_equity,omitempty"`
	Positions     []Position `json:"positions"`
}

// MarginRatio returns used margin over equity.
// ok is false when the ratio is undefined (non-positive equity).
func (a Account) MarginRatio() (ratio float64, ok bool) {
	if a.Equity <= 0 {
		return 0, false
	}
	return a.UsedMargin / a.Equity, true
}

// HeldSymbols returns symbols with a non-zero net position
func (a Account) HeldSymbols() []string {
	net := make(map[string]float64, len(a.Positions))
	order := make([]string, 0, len(a.Positions))
	for _, p := range a.Positions {
		if _, seen := net[p.Symbol]; !seen {
			order = append(order, p.Symbol)
		}
		net[p.Symbol] += p.Quantity
	}
	held := make([]string, 0, len(order))
	for _, s := range order {
		if net[s] != 0 {
			held = append(held, s)
		}
	}
	return held
}

// NetQuantity returns the signed net quantity held in symbol; missing symbols are flat
func (a Account) NetQuantity(symbol string) float64 {
	var qty float64
	for _, p := range a.Positions {
		if p.Symbol == symbol {
			qty += p.Quantity
		}
	}
	return qty
}
