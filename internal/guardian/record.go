package guardian

import (
	"time"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// Cause says which path produced a transition
type Cause string

const (
	CauseInitialize Cause = "initialize"
	CauseTrigger    Cause = "trigger"
	CauseManual     Cause = "manual"
	CauseRelease    Cause = "release"
	CauseRecovery   Cause = "recovery"
	CauseRestart    Cause = "restart"
)

// TransitionRecord is one entry of the append-only mode history.
// Records are never mutated after append.
type TransitionRecord struct {
	Seq          int        `json:"seq"`
	ID           string     `json:"id"`
	PreviousMode types.Mode `json:"previous_mode"`
	NewMode      types.Mode `json:"new_mode"`
	Timestamp    time.Time  `json:"timestamp"`
	Cause        Cause      `json:"cause"`
	Reason       string     `json:"reason"`
	Override     bool       `json:"override"`
	Triggers     []string   `json:"triggers,omitempty"`
}

// HistoryStore persists transition records as they are appended
type HistoryStore interface {
	Append(rec TransitionRecord) error
}

// Subscriber is notified synchronously after a transition is committed
type Subscriber func(rec TransitionRecord)
