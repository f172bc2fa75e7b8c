package safety

import (
	"math"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// ModeGate enforces the committed guardian mode on a single order.
// RUNNING allows everything and REDUCE_ONLY allows orders that shrink a
// position without flipping it. Other modes only let kill-switch closing
// orders through.
type ModeGate struct{}

func (ModeGate) Name() string { return "mode" }

func (g ModeGate) Check(order types.Order, view View) GateVerdict {
	switch view.Mode {
	case types.ModeRunning:
		return pass(g.Name(), "")
	case types.ModeReduceOnly:
		var cur float64
		if view.Snapshot != nil {
			cur = view.Snapshot.Account.NetQuantity(order.Symbol)
		}
		if reduces(cur, order.SignedQuantity()) {
			return pass(g.Name(), "reduces position")
		}
		return reject(g.Name(), "mode REDUCE_ONLY: order would open or grow %s (position %g, order %g)",
			order.Symbol, cur, order.SignedQuantity())
	default:
		if emergencyReduce(order, view) {
			return pass(g.Name(), "emergency reduce")
		}
		return reject(g.Name(), "mode %s: no new orders", view.Mode)
	}
}

// reduces reports whether applying delta to cur shrinks the position without crossing zero
func reduces(cur, delta float64) bool {
	if cur == 0 || delta == 0 {
		return false
	}
	after := cur + delta
	if cur > 0 && after < 0 || cur < 0 && after > 0 {
		return false
	}
	return math.Abs(after) < math.Abs(cur)
}
