package safety

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// FatFingerGate rejects orders whose size is far above the recent typical size
// for the symbol, or whose limit price is far from the last traded price.
// Kill-switch closing orders are sized from the position and skip these checks.
type FatFingerGate struct {
	sizeMultiple      float64
	maxPriceDeviation float64
	minHistory        int
	historyLen        int
	maxNotional       float64

	mutex sync.RWMutex
	sizes map[string][]float64
}

// FatFingerConfig configures a FatFingerGate
type FatFingerConfig struct {
	SizeMultiple      float64 `json:"size_multiple" yaml:"size_multiple"`
	MaxPriceDeviation float64 `json:"max_price_deviation" yaml:"max_price_deviation"`
	MinHistory        int     `json:"min_history" yaml:"min_history"`
	HistoryLen        int     `json:"history_len" yaml:"history_len"`
	MaxNotional       float64 `json:"max_notional" yaml:"max_notional"`
}

// NewFatFingerGate creates a gate with an empty size history
func NewFatFingerGate(cfg FatFingerConfig) *FatFingerGate {
	if cfg.HistoryLen <= 0 {
		cfg.HistoryLen = 50
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = 5
	}
	return &FatFingerGate{
		sizeMultiple:      cfg.SizeMultiple,
		maxPriceDeviation: cfg.MaxPriceDeviation,
		minHistory:        cfg.MinHistory,
		historyLen:        cfg.HistoryLen,
		maxNotional:       cfg.MaxNotional,
		sizes:             make(map[string][]float64),
	}
}

func (f *FatFingerGate) Name() string { return "fat_finger" }

func (f *FatFingerGate) Check(order types.Order, view View) GateVerdict {
	if emergencyReduce(order, view) {
		return pass(f.Name(), "emergency reduce")
	}
	q, hasQuote := view.Snapshot.Quote(order.Symbol)

	if f.sizeMultiple > 0 {
		if typical, ok := f.typicalSize(order.Symbol); ok && !(order.Quantity <= f.sizeMultiple*typical) {
			return reject(f.Name(), "quantity %g is more than %gx the typical %g for %s",
				order.Quantity, f.sizeMultiple, typical, order.Symbol)
		}
	}

	if !order.IsMarket() && f.maxPriceDeviation > 0 {
		if !hasQuote || !finite(q.LastPrice) || !(q.LastPrice > 0) {
			return reject(f.Name(), "no last price to compare limit price on %s", order.Symbol)
		}
		dev := math.Abs(order.Price-q.LastPrice) / q.LastPrice
		if !(dev <= f.maxPriceDeviation) {
			return reject(f.Name(), "limit price %g deviates %.2f%% from last %g (max %.2f%%)",
				order.Price, dev*100, q.LastPrice, f.maxPriceDeviation*100)
		}
	}

	if f.maxNotional > 0 {
		if !hasQuote {
			return reject(f.Name(), "no quote to value order on %s", order.Symbol)
		}
		notional := order.Quantity * referencePrice(order, q) * q.ContractMultiplier()
		if !(notional <= f.maxNotional) {
			return reject(f.Name(), "order notional %.2f exceeds %.2f", notional, f.maxNotional)
		}
	}
	return pass(f.Name(), "")
}

// RecordAccepted adds the order size to the symbol's history
func (f *FatFingerGate) RecordAccepted(order types.Order, _ time.Time) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	h := append(f.sizes[order.Symbol], order.Quantity)
	if len(h) > f.historyLen {
		h = h[len(h)-f.historyLen:]
	}
	f.sizes[order.Symbol] = h
}

// ReleaseAccepted drops the most recent matching size for an order that was not sent
func (f *FatFingerGate) ReleaseAccepted(order types.Order, _ time.Time) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	h := f.sizes[order.Symbol]
	for i := len(h) - 1; i >= 0; i-- {
		if h[i] == order.Quantity {
			f.sizes[order.Symbol] = append(h[:i:i], h[i+1:]...)
			return
		}
	}
}

// Seed loads size history, e.g. from recent fills at startup
func (f *FatFingerGate) Seed(symbol string, sizes []float64) {
	for _, s := range sizes {
		f.RecordAccepted(types.Order{Symbol: symbol, Quantity: s}, time.Time{})
	}
}

// typicalSize is the median of the recorded sizes
func (f *FatFingerGate) typicalSize(symbol string) (float64, bool) {
	f.mutex.RLock()
	h := append([]float64(nil), f.sizes[symbol]...)
	f.mutex.RUnlock()

	if len(h) < f.minHistory {
		return 0, false
	}
	sort.Float64s(h)
	mid := len(h) / 2
	if len(h)%2 == 0 {
		return (h[mid-1] + h[mid]) / 2, true
	}
	return h[mid], true
}
