package triggers

import (
	"fmt"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// Drawdown is the kill switch: intraday loss from the day's opening equity
// at or beyond MaxFraction halts trading and requests flatten-and-cancel.
type Drawdown struct {
	MaxFraction float64
}

func (t *Drawdown) ID() string { return "drawdown" }

func (t *Drawdown) Evaluate(in Input) Result {
	snap := in.Snapshot
	if snap == nil {
		return quiet(t.ID())
	}
	open := snap.Account.DayOpenEquity
	if open <= 0 {
		return quiet(t.ID())
	}

	dd := (open - snap.Account.Equity) / open
	if dd < t.MaxFraction {
		return quiet(t.ID())
	}
	res := fired(t.ID(), types.ModeHalted,
		fmt.Sprintf("intraday drawdown %.2f%% reached kill switch %.2f%%", dd*100, t.MaxFraction*100),
		map[string]interface{}{"drawdown": dd, "day_open_equity": open, "equity": snap.Account.Equity})
	res.Action = ActionFlattenAndCancel
	return res
}
