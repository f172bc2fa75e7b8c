// Package safety holds the per-order protection gates. Every candidate order
// passes the chain before transmission, whatever the current mode.
package safety

import (
	"fmt"
	"math"
	"time"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// GateVerdict is one gate's accept/reject decision for one order
type GateVerdict struct {
	GateName string `json:"gate_name"`
	Passed   bool   `json:"passed"`
	Reason   string `json:"reason"`
}

// View is the state a gate may read: one immutable snapshot plus the committed mode
type View struct {
	Snapshot *types.Snapshot
	Mode     types.Mode
	Now      time.Time
}

func (v View) now() time.Time {
	if v.Now.IsZero() {
		return time.Now()
	}
	return v.Now
}

// Gate is a single per-order check. Check must not modify market, account or
// gate state; stateful gates learn through Recorder once the chain accepts.
type Gate interface {
	Name() string
	Check(order types.Order, view View) GateVerdict
}

// Recorder is implemented by gates that keep history of accepted orders
type Recorder interface {
	RecordAccepted(order types.Order, at time.Time)
}

// Releaser undoes a RecordAccepted for an order that never reached the venue
type Releaser interface {
	ReleaseAccepted(order types.Order, at time.Time)
}

func pass(gate, reason string) GateVerdict {
	return GateVerdict{GateName: gate, Passed: true, Reason: reason}
}

func reject(gate, format string, args ...interface{}) GateVerdict {
	return GateVerdict{GateName: gate, Passed: false, Reason: fmt.Sprintf(format, args...)}
}

// referencePrice is the limit price, or the last traded price for market orders
func referencePrice(order types.Order, q types.Quote) float64 {
	if !order.IsMarket() {
		return order.Price
	}
	return q.LastPrice
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// emergencyReduce reports a kill-switch order that strictly shrinks the current position
func emergencyReduce(order types.Order, view View) bool {
	if !order.Emergency || view.Snapshot == nil {
		return false
	}
	return reduces(view.Snapshot.Account.NetQuantity(order.Symbol), order.SignedQuantity())
}
