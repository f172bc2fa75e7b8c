package safety

import "github.com/ducminhle1904/futures-guardian/pkg/types"

// LiquidityGate rejects orders that are large against the visible book or
// against recent traded volume. Kill-switch closing orders only need sane book data.
type LiquidityGate struct {
	// MaxDepthFraction caps order quantity as a fraction of same-side top-of-book size
	MaxDepthFraction float64
	// MaxParticipation caps order quantity as a fraction of Quote.Volume. Zero disables.
	MaxParticipation float64
	// RequireDepth rejects when the book side is empty or unknown
	RequireDepth bool
}

func (LiquidityGate) Name() string { return "liquidity" }

func (g LiquidityGate) Check(order types.Order, view View) GateVerdict {
	q, ok := view.Snapshot.Quote(order.Symbol)
	if !ok {
		return reject(g.Name(), "no quote for %s", order.Symbol)
	}

	// a buy takes the offers, a sell hits the bids
	depth := q.AskSize
	if order.Side == types.SideSell {
		depth = q.BidSize
	}
	if !finite(depth) || !finite(q.Volume) {
		return reject(g.Name(), "book data for %s is not a number", order.Symbol)
	}
	if emergencyReduce(order, view) {
		return pass(g.Name(), "emergency reduce")
	}
	switch {
	case depth <= 0 && g.RequireDepth:
		return reject(g.Name(), "no visible depth on %s %s side", order.Symbol, order.Side)
	case depth > 0 && g.MaxDepthFraction > 0 && order.Quantity > g.MaxDepthFraction*depth:
		return reject(g.Name(), "quantity %g exceeds %.0f%% of book depth %g",
			order.Quantity, g.MaxDepthFraction*100, depth)
	}

	if g.MaxParticipation > 0 && q.Volume > 0 && order.Quantity > g.MaxParticipation*q.Volume {
		return reject(g.Name(), "quantity %g exceeds participation cap %.1f%% of volume %g",
			order.Quantity, g.MaxParticipation*100, q.Volume)
	}
	return pass(g.Name(), "")
}
