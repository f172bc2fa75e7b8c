package guardian

import (
	"fmt"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// Replay walks a persisted history and returns the mode it ends in.
// It fails if the chain is broken: sequence gaps, a first entry not leaving
// INIT, or an entry whose previous mode differs from the prior entry's new mode.
func Replay(records []TransitionRecord) (types.Mode, error) {
	mode := types.ModeInit
	for i, rec := range records {
		if rec.Seq != i+1 {
			return mode, fmt.Errorf("record %d: expected seq %d, got %d", i, i+1, rec.Seq)
		}
		if rec.PreviousMode != mode {
			return mode, fmt.Errorf("record %d (%s): previous mode %s does not match %s",
				rec.Seq, rec.ID, rec.PreviousMode, mode)
		}
		if rec.Timestamp.IsZero() {
			return mode, fmt.Errorf("record %d (%s): missing timestamp", rec.Seq, rec.ID)
		}
		if i > 0 && rec.Timestamp.Before(records[i-1].Timestamp) {
			return mode, fmt.Errorf("record %d (%s): timestamp goes backwards", rec.Seq, rec.ID)
		}
		mode = rec.NewMode
	}
	return mode, nil
}
