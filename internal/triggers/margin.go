package triggers

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// Margin fires on used-margin / equity crossing the configured bands
type Margin struct {
	Warning  float64
	Danger   float64
	Critical float64
}

func (t *Margin) ID() string { return "margin" }

// bands is walked top-down; the first threshold met decides the ceiling
func (t *Margin) bands() []struct {
	name    string
	ratio   float64
	ceiling types.Mode
} {
	return []struct {
		name    string
		ratio   float64
		ceiling types.Mode
	}{
		{"critical", t.Critical, types.ModeHalted},
		{"danger", t.Danger, types.ModeReduceOnly},
		{"warning", t.Warning, types.ModeReduceOnly},
	}
}

func (t *Margin) Evaluate(in Input) Result {
	snap := in.Snapshot
	if snap == nil {
		return fired(t.ID(), types.ModeReduceOnly, "no snapshot", nil)
	}
	acct := snap.Account
	if len(acct.HeldSymbols()) == 0 {
		return quiet(t.ID())
	}
	if math.IsNaN(acct.Equity) || math.IsNaN(acct.UsedMargin) {
		return fired(t.ID(), types.ModeReduceOnly, "account equity or margin is not a number", nil)
	}

	ratio, ok := acct.MarginRatio()
	if !ok {
		return fired(t.ID(), types.ModeHalted,
			fmt.Sprintf("equity %.2f cannot cover positions", acct.Equity),
			map[string]interface{}{"equity": acct.Equity, "used_margin": acct.UsedMargin})
	}

	for _, band := range t.bands() {
		if band.ratio > 0 && ratio >= band.ratio {
			return fired(t.ID(), band.ceiling,
				fmt.Sprintf("margin ratio %.2f%% at %s band (%.2f%%)", ratio*100, band.name, band.ratio*100),
				map[string]interface{}{"ratio": ratio, "band": band.name, "equity": acct.Equity, "used_margin": acct.UsedMargin})
		}
	}
	return quiet(t.ID())
}
