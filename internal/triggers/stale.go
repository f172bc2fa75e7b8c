package triggers

import (
	"fmt"
	"time"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// StaleQuote fires when the feed has failed, the snapshot carries no timestamp,
// or an actively traded symbol has not quoted within MaxAge.
type StaleQuote struct {
	MaxAge    time.Duration
	Watchlist []string // traded symbols checked even when flat
}

func (t *StaleQuote) ID() string { return "stale_quote" }

func (t *StaleQuote) Evaluate(in Input) Result {
	snap := in.Snapshot
	if !snap.HasTimestamp() {
		return fired(t.ID(), types.ModeReduceOnly, "snapshot has no timestamp", nil)
	}
	if snap.FeedError != "" {
		return fired(t.ID(), types.ModeReduceOnly, "market data feed error: "+snap.FeedError,
			map[string]interface{}{"feed_error": snap.FeedError})
	}

	now := in.now()
	if age := now.Sub(snap.Timestamp); age > t.MaxAge {
		return fired(t.ID(), types.ModeReduceOnly,
			fmt.Sprintf("snapshot is %s old (max %s)", age.Round(time.Millisecond), t.MaxAge),
			map[string]interface{}{"snapshot_age_ms": age.Milliseconds()})
	}

	finding := newFinding()
	for _, sym := range t.activeSymbols(snap) {
		q, ok := snap.Quote(sym)
		if !ok {
			finding.add(sym, types.ModeReduceOnly, "has no quote")
			continue
		}
		if q.Session != types.SessionUnknown && !q.Session.IsActive() {
			continue
		}
		if q.LastQuoteTime.IsZero() {
			finding.add(sym, types.ModeReduceOnly, "quote has no timestamp")
			continue
		}
		if age := now.Sub(q.LastQuoteTime); age > t.MaxAge {
			finding.add(sym, types.ModeReduceOnly, fmt.Sprintf("last quote %s ago", age.Round(time.Millisecond)))
		}
	}
	if finding.empty() {
		return quiet(t.ID())
	}
	return fired(t.ID(), finding.ceiling, "stale quotes: "+finding.summary(), finding.evidence())
}

func (t *StaleQuote) activeSymbols(snap *types.Snapshot) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(snap.Account.HeldSymbols(), t.Watchlist...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
