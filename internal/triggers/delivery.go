package triggers

import (
	"fmt"

	"github.com/ducminhle1904/futures-guardian/internal/marketdata"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// Delivery fires when a held dated contract is within Days trading days of expiry
type Delivery struct {
	Days     int
	Calendar *marketdata.Calendar
}

func (t *Delivery) ID() string { return "delivery" }

func (t *Delivery) Evaluate(in Input) Result {
	snap := in.Snapshot
	if snap == nil {
		return quiet(t.ID())
	}
	now := in.now()

	finding := newFinding()
	for _, sym := range snap.Account.HeldSymbols() {
		q, ok := snap.Quote(sym)
		if !ok || q.Expiry.IsZero() {
			continue
		}
		days := t.Calendar.TradingDaysBetween(now, q.Expiry)
		if days <= t.Days {
			finding.add(sym, types.ModeReduceOnly,
				fmt.Sprintf("%d trading days to expiry %s", days, q.Expiry.Format("2006-01-02")))
		}
	}
	if finding.empty() {
		return quiet(t.ID())
	}
	return fired(t.ID(), finding.ceiling, "delivery approaching: "+finding.summary(), finding.evidence())
}
