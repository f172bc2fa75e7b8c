package safety

import (
	"math"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// MarginGate projects post-trade margin usage and rejects orders that would
// push it past MaxRatio. Orders that only shrink a position are always allowed.
type MarginGate struct {
	MaxRatio float64
	// DefaultMarginRate is used when the quote carries no margin rate
	DefaultMarginRate float64
}

func (MarginGate) Name() string { return "margin" }

func (g MarginGate) Check(order types.Order, view View) GateVerdict {
	if view.Snapshot == nil {
		return reject(g.Name(), "no account snapshot")
	}
	acct := view.Snapshot.Account
	cur := acct.NetQuantity(order.Symbol)
	if reduces(cur, order.SignedQuantity()) {
		return pass(g.Name(), "reduces position")
	}
	if !finite(acct.Equity) || !finite(acct.UsedMargin) {
		return reject(g.Name(), "account equity %g or used margin %g is not a number", acct.Equity, acct.UsedMargin)
	}
	if !(acct.Equity > 0) {
		return reject(g.Name(), "equity %g leaves no margin headroom", acct.Equity)
	}

	q, ok := view.Snapshot.Quote(order.Symbol)
	if !ok {
		return reject(g.Name(), "no quote for %s", order.Symbol)
	}
	price := referencePrice(order, q)
	if !finite(price) || !(price > 0) {
		return reject(g.Name(), "no reference price for %s", order.Symbol)
	}
	rate := q.MarginRate
	if !finite(rate) || rate <= 0 {
		rate = g.DefaultMarginRate
	}

	added := (math.Abs(cur+order.SignedQuantity()) - math.Abs(cur)) * price * q.ContractMultiplier() * rate
	projected := (acct.UsedMargin + added) / acct.Equity
	if !(projected <= g.MaxRatio) {
		return reject(g.Name(), "projected margin ratio %.4f exceeds %.4f", projected, g.MaxRatio)
	}
	return pass(g.Name(), "")
}
