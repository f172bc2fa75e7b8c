package triggers

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// PriceLimit fires when a held symbol trades near its daily limit band.
// Distance is a fraction of the last price; at or beyond a limit escalates to HALTED.
type PriceLimit struct {
	Distance float64
}

func (t *PriceLimit) ID() string { return "price_limit" }

func (t *PriceLimit) Evaluate(in Input) Result {
	snap := in.Snapshot
	if snap == nil {
		return fired(t.ID(), types.ModeReduceOnly, "no snapshot", nil)
	}

	finding := newFinding()
	for _, sym := range snap.Account.HeldSymbols() {
		q, ok := snap.Quote(sym)
		if !ok || !q.Band.IsSet() {
			continue
		}
		price := q.LastPrice
		if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
			finding.add(sym, types.ModeReduceOnly, "has no valid last price")
			continue
		}

		switch {
		case price >= q.Band.LimitUp:
			finding.add(sym, types.ModeHalted, fmt.Sprintf("at limit-up %.6g (last %.6g)", q.Band.LimitUp, price))
		case price <= q.Band.LimitDown:
			finding.add(sym, types.ModeHalted, fmt.Sprintf("at limit-down %.6g (last %.6g)", q.Band.LimitDown, price))
		default:
			toUp := (q.Band.LimitUp - price) / price
			toDown := (price - q.Band.LimitDown) / price
			if toUp <= t.Distance {
				finding.add(sym, types.ModeReduceOnly, fmt.Sprintf("%.2f%% from limit-up %.6g", toUp*100, q.Band.LimitUp))
			} else if toDown <= t.Distance {
				finding.add(sym, types.ModeReduceOnly, fmt.Sprintf("%.2f%% from limit-down %.6g", toDown*100, q.Band.LimitDown))
			}
		}
	}
	if finding.empty() {
		return quiet(t.ID())
	}
	return fired(t.ID(), finding.ceiling, "price limit proximity: "+finding.summary(), finding.evidence())
}
