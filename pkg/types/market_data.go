package types

import (
	"strings"
	"time"
)

// Session classifies the trading session a symbol is currently in
type Session string

const (
	SessionContinuous Session = "CONTINUOUS"
	SessionAuction    Session = "AUCTION"
	SessionBreak      Session = "BREAK"
	SessionClosed     Session = "CLOSED"
	SessionUnknown    Session = ""
)

// IsActive reports whether quotes are expected to keep flowing in this session
func (s Session) IsActive() bool {
	return s == SessionContinuous || s == SessionAuction
}

// PriceBand is the limit-up / limit-down band of an instrument for the current trading day.
// A zero band means the instrument has no exchange price limits.
type PriceBand struct {
	LimitUp   float64 `json:"limit_up" yaml:"limit_up"`
	LimitDown float64 `json:"limit_down" yaml:"limit_down"`
}

// IsSet reports whether the band carries usable limits
func (b PriceBand) IsSet() bool {
	return b.LimitUp > 0 && b.LimitDown > 0 && b.LimitUp > b.LimitDown
}

// Contains reports whether price lies strictly inside the band
func (b PriceBand) Contains(price float64) bool {
	return price > b.LimitDown && price < b.LimitUp
}

// Quote is the per-symbol market state at snapshot time
type Quote struct {
	Symbol        string    `json:"symbol"`
	Product       string    `json:"product,omitempty"`
	LastPrice     float64   `json:"last_price"`
	LastQuoteTime time.Time `json:"last_quote_time"`
	Band          PriceBand `json:"band"`
	Session       Session   `json:"session"`
	PrevSettle    float64   `json:"prev_settle,omitempty"` // reference price for computing Band

	BidPrice float64 `json:"bid_price,omitempty"`
	AskPrice float64 `json:"ask_price,omitempty"`
	BidSize  float64 `json:"bid_size,omitempty"`
	AskSize  float64 `json:"ask_size,omitempty"`
	Volume   float64 `json:"volume,omitempty"` // traded quantity over the participation window

	Expiry     time.Time `json:"expiry,omitempty"` // zero for perpetual / spot instruments
	TickSize   float64   `json:"tick_size,omitempty"`
	Multiplier float64   `json:"multiplier,omitempty"`
	MarginRate float64   `json:"margin_rate,omitempty"`
}

// ContractMultiplier returns the multiplier, defaulting to 1
func (q Quote) ContractMultiplier() float64 {
	if q.Multiplier <= 0 {
		return 1
	}
	return q.Multiplier
}

// Snapshot is an immutable point-in-time view of market and account state.
// Every reader of one cycle (triggers, gates, aggregator) must use the same Snapshot value.
type Snapshot struct {
	Version   uint64           `json:"version"`
	Timestamp time.Time        `json:"timestamp"`
	Quotes    map[string]Quote `json:"quotes"`
	Account   Account          `json:"account"`

	// FeedError is set when the latest fetch failed or timed out; quotes are then the last known ones.
	FeedError string `json:"feed_error,omitempty"`
}

// Quote returns the quote for symbol and whether it exists
func (s *Snapshot) Quote(symbol string) (Quote, bool) {
	if s == nil || s.Quotes == nil {
		return Quote{}, false
	}
	q, ok := s.Quotes[symbol]
	return q, ok
}

// HasTimestamp reports whether the snapshot carries a usable capture time
func (s *Snapshot) HasTimestamp() bool {
	return s != nil && !s.Timestamp.IsZero()
}

// ProductOf derives a product code from a symbol when none is supplied:
// trailing contract-month digits are stripped ("rb2405" -> "rb") and
// quote currencies removed for crypto pairs ("BTCUSDT" -> "BTC").
func ProductOf(symbol string) string {
	s := strings.TrimRight(symbol, "0123456789")
	for _, quote := range []string{"USDT", "USDC", "USD", "PERP"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return strings.TrimSuffix(s, quote)
		}
	}
	if s == "" {
		return symbol
	}
	return s
}
