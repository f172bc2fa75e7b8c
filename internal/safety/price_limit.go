package safety

import "github.com/ducminhle1904/futures-guardian/pkg/types"

// PriceLimitGate rejects orders priced outside the instrument's limit band.
// Orders exactly at a limit are accepted, as exchanges do.
type PriceLimitGate struct{}

func (PriceLimitGate) Name() string { return "price_limit" }

func (g PriceLimitGate) Check(order types.Order, view View) GateVerdict {
	q, ok := view.Snapshot.Quote(order.Symbol)
	if !ok {
		return reject(g.Name(), "no quote for %s", order.Symbol)
	}
	if !finite(q.Band.LimitUp) || !finite(q.Band.LimitDown) {
		return reject(g.Name(), "%s price limits %g/%g are not numbers", order.Symbol, q.Band.LimitDown, q.Band.LimitUp)
	}
	if !q.Band.IsSet() {
		return pass(g.Name(), "instrument has no price limits")
	}

	price := referencePrice(order, q)
	if !finite(price) || !(price > 0) {
		return reject(g.Name(), "no reference price for %s", order.Symbol)
	}
	if !(price <= q.Band.LimitUp) {
		return reject(g.Name(), "%s price %g above limit-up %g", order.Symbol, price, q.Band.LimitUp)
	}
	if !(price >= q.Band.LimitDown) {
		return reject(g.Name(), "%s price %g below limit-down %g", order.Symbol, price, q.Band.LimitDown)
	}
	return pass(g.Name(), "")
}
