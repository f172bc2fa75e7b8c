package safety

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ducminhle1904/futures-guardian/internal/audit"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/internal/monitoring"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// CancelRecorder is implemented by gates that count cancel requests
type CancelRecorder interface {
	RecordCancel(account string, at time.Time)
}

// Decision is the chain outcome for one order
type Decision struct {
	OrderID         string        `json:"order_id"`
	Symbol          string        `json:"symbol"`
	Accepted        bool          `json:"accepted"`
	FailedGate      string        `json:"failed_gate,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Mode            types.Mode    `json:"mode"`
	SnapshotVersion uint64        `json:"snapshot_version"`
	Verdicts        []GateVerdict `json:"verdicts"`
}

type verdictRecord struct {
	OrderID         string     `json:"order_id"`
	Account         string     `json:"account"`
	Symbol          string     `json:"symbol"`
	Side            string     `json:"side"`
	Quantity        float64    `json:"quantity"`
	Price           float64    `json:"price"`
	Gate            string     `json:"gate"`
	Passed          bool       `json:"passed"`
	Reason          string     `json:"reason,omitempty"`
	Mode            types.Mode `json:"mode"`
	SnapshotVersion uint64     `json:"snapshot_version"`
	Emergency       bool       `json:"emergency,omitempty"`
}

// Chain applies gates in order and stops at the first rejection. Order
// validation and the mode check always run first.
type Chain struct {
	logger *logger.Logger
	sink   audit.Sink
	gates  []Gate
}

// NewChain creates a chain running validation, the mode gate, then gates in the given order
func NewChain(log *logger.Logger, sink audit.Sink, gates ...Gate) *Chain {
	all := make([]Gate, 0, len(gates)+2)
	all = append(all, NewValidator(), ModeGate{})
	all = append(all, gates...)
	return &Chain{logger: log.Named("safety"), sink: sink, gates: all}
}

// GateNames returns the gate names in evaluation order
func (c *Chain) GateNames() []string {
	names := make([]string, len(c.gates))
	for i, g := range c.gates {
		names[i] = g.Name()
	}
	return names
}

// Check runs the chain against one order. Every verdict is written to the audit sink.
func (c *Chain) Check(order types.Order, view View) Decision {
	if view.Now.IsZero() {
		view.Now = time.Now()
	}
	d := Decision{OrderID: order.ID, Symbol: order.Symbol, Accepted: true, Mode: view.Mode}
	if view.Snapshot != nil {
		d.SnapshotVersion = view.Snapshot.Version
	}

	for _, g := range c.gates {
		v := safeCheck(g, order, view)
		d.Verdicts = append(d.Verdicts, v)
		c.record(order, v, d, view.Now)
		if !v.Passed {
			d.Accepted = false
			d.FailedGate = v.GateName
			d.Reason = v.Reason
			break
		}
	}

	if !d.Accepted {
		c.logger.Zap().Warn("order rejected",
			zap.String("order_id", order.ID),
			zap.String("symbol", order.Symbol),
			zap.String("gate", d.FailedGate),
			zap.String("reason", d.Reason))
	}
	return d
}

// RecordAccepted feeds an accepted order to the stateful gates
func (c *Chain) RecordAccepted(order types.Order, at time.Time) {
	for _, g := range c.gates {
		if r, ok := g.(Recorder); ok {
			r.RecordAccepted(order, at)
		}
	}
}

// ReleaseAccepted returns the budget RecordAccepted took for an order that never went out
func (c *Chain) ReleaseAccepted(order types.Order, at time.Time) {
	for _, g := range c.gates {
		if r, ok := g.(Releaser); ok {
			r.ReleaseAccepted(order, at)
		}
	}
}

// RecordCancel feeds a cancel request to the gates that count them
func (c *Chain) RecordCancel(account string, at time.Time) {
	for _, g := range c.gates {
		if r, ok := g.(CancelRecorder); ok {
			r.RecordCancel(account, at)
		}
	}
}

func (c *Chain) record(order types.Order, v GateVerdict, d Decision, at time.Time) {
	monitoring.RecordGateVerdict(v.GateName, v.Passed)
	err := audit.Emit(c.sink, audit.KindGateVerdict, at, verdictRecord{
		OrderID:         order.ID,
		Account:         order.Account,
		Symbol:          order.Symbol,
		Side:            string(order.Side),
		Quantity:        order.Quantity,
		Price:           order.Price,
		Gate:            v.GateName,
		Passed:          v.Passed,
		Reason:          v.Reason,
		Mode:            d.Mode,
		SnapshotVersion: d.SnapshotVersion,
		Emergency:       order.Emergency,
	})
	if err != nil {
		c.logger.LogError("Audit gate verdict", err)
		monitoring.RecordError("audit")
	}
}

// safeCheck converts a panicking gate into a rejection
func safeCheck(g Gate, order types.Order, view View) (v GateVerdict) {
	name := g.Name()
	defer func() {
		if r := recover(); r != nil {
			v = GateVerdict{GateName: name, Passed: false, Reason: fmt.Sprintf("gate failed: %v", r)}
		}
	}()
	v = g.Check(order, view)
	v.GateName = name
	return v
}
