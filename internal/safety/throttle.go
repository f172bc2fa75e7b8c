package safety

import (
	"sync"
	"time"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// ThrottleGate limits how many orders and cancels one account may send in a
// rolling window. Counts only move through RecordAccepted, ReleaseAccepted
// and RecordCancel. Kill-switch closing orders are counted but never held back.
type ThrottleGate struct {
	window     time.Duration
	maxOrders  int
	maxCancels int

	mutex   sync.Mutex
	orders  map[string][]time.Time
	cancels map[string][]time.Time
}

// ThrottleStats holds the rolling counts of one account
type ThrottleStats struct {
	Account    string
	Window     time.Duration
	Orders     int
	MaxOrders  int
	Cancels    int
	MaxCancels int
}

// NewThrottleGate creates a throttle with a rolling window. A zero max disables that limit.
func NewThrottleGate(window time.Duration, maxOrders, maxCancels int) *ThrottleGate {
	if window <= 0 {
		window = time.Second
	}
	return &ThrottleGate{
		window:     window,
		maxOrders:  maxOrders,
		maxCancels: maxCancels,
		orders:     make(map[string][]time.Time),
		cancels:    make(map[string][]time.Time),
	}
}

func (t *ThrottleGate) Name() string { return "throttle" }

// Check rejects when one more order, or the cancels already sent, would break the window limits
func (t *ThrottleGate) Check(order types.Order, view View) GateVerdict {
	now := view.now()

	t.mutex.Lock()
	orders := countSince(t.orders[order.Account], now.Add(-t.window))
	cancels := countSince(t.cancels[order.Account], now.Add(-t.window))
	t.mutex.Unlock()

	if emergencyReduce(order, view) {
		return pass(t.Name(), "emergency reduce")
	}
	if t.maxOrders > 0 && orders+1 > t.maxOrders {
		return reject(t.Name(), "account %q sent %d orders in the last %s (limit %d)", order.Account, orders, t.window, t.maxOrders)
	}
	if t.maxCancels > 0 && cancels >= t.maxCancels {
		return reject(t.Name(), "account %q sent %d cancels in the last %s (limit %d)", order.Account, cancels, t.window, t.maxCancels)
	}
	return pass(t.Name(), "")
}

// RecordAccepted counts an order that passed the chain
func (t *ThrottleGate) RecordAccepted(order types.Order, at time.Time) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.orders[order.Account] = t.prune(append(t.orders[order.Account], at), at)
}

// ReleaseAccepted removes the slot recorded at for an order that was not sent
func (t *ThrottleGate) ReleaseAccepted(order types.Order, at time.Time) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	events := t.orders[order.Account]
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Equal(at) {
			t.orders[order.Account] = append(events[:i:i], events[i+1:]...)
			return
		}
	}
}

// RecordCancel counts a cancel request for account
func (t *ThrottleGate) RecordCancel(account string, at time.Time) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.cancels[account] = t.prune(append(t.cancels[account], at), at)
}

// GetStats returns the current rolling counts for account
func (t *ThrottleGate) GetStats(account string, now time.Time) ThrottleStats {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	since := now.Add(-t.window)
	return ThrottleStats{
		Account:    account,
		Window:     t.window,
		Orders:     countSince(t.orders[account], since),
		MaxOrders:  t.maxOrders,
		Cancels:    countSince(t.cancels[account], since),
		MaxCancels: t.maxCancels,
	}
}

// prune drops events that fell out of the window ending at now
func (t *ThrottleGate) prune(events []time.Time, now time.Time) []time.Time {
	since := now.Add(-t.window)
	i := 0
	for i < len(events) && !events[i].After(since) {
		i++
	}
	return events[i:]
}

func countSince(events []time.Time, since time.Time) int {
	n := 0
	for _, e := range events {
		if e.After(since) {
			n++
		}
	}
	return n
}
