package types

import "time"

// OrderSide is the direction of a candidate order
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Sign returns +1 for buys and -1 for sells
func (s OrderSide) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Order is a candidate order proposed for transmission
type Order struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"` // zero for market orders
	CreatedAt time.Time `json:"created_at"`
	// Emergency marks kill-switch closing orders. Never decoded from requests.
	Emergency bool `json:"-"`
}

// IsMarket reports whether the order carries no limit price
func (o Order) IsMarket() bool {
	return o.Price == 0
}

// SignedQuantity returns quantity signed by side
func (o Order) SignedQuantity() float64 {
	return o.Side.Sign() * o.Quantity
}

// TargetPosition is a desired signed holding produced by the strategy layer
type TargetPosition struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
}
