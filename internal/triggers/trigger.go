// Package triggers holds the stateless conditions that can demand a more
// restrictive guardian mode. Every evaluator is total: it returns a Result for
// any snapshot, failing closed when required data is missing.
package triggers

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ducminhle1904/futures-guardian/internal/risk"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// Action is an out-of-band action requested alongside a ceiling
type Action string

const (
	ActionNone             Action = ""
	ActionFlattenAndCancel Action = "flatten_and_cancel"
)

// Input is everything a trigger may read during one cycle
type Input struct {
	Snapshot *types.Snapshot
	Risk     *risk.Report // latest report from the previous risk run, may be nil
	Now      time.Time
}

func (in Input) now() time.Time {
	if in.Now.IsZero() {
		return time.Now()
	}
	return in.Now
}

// Result is one trigger's verdict for one cycle
type Result struct {
	TriggerID string                 `json:"trigger_id"`
	Fired     bool                   `json:"fired"`
	Ceiling   types.Mode             `json:"ceiling_mode"`
	Reason    string                 `json:"reason"`
	Evidence  map[string]interface{} `json:"evidence,omitempty"`
	Action    Action                 `json:"action,omitempty"`
}

// Trigger is a single condition check
type Trigger interface {
	ID() string
	Evaluate(in Input) Result
}

func quiet(id string) Result {
	return Result{TriggerID: id, Ceiling: types.ModeRunning}
}

func fired(id string, ceiling types.Mode, reason string, evidence map[string]interface{}) Result {
	return Result{TriggerID: id, Fired: true, Ceiling: ceiling, Reason: reason, Evidence: evidence}
}

// SafeEvaluate runs t and converts a panic into a fired result at failureCeiling
func SafeEvaluate(t Trigger, in Input, failureCeiling types.Mode) (res Result) {
	id := t.ID()
	defer func() {
		if r := recover(); r != nil {
			res = fired(id, failureCeiling, fmt.Sprintf("evaluator failed: %v", r), nil)
		}
	}()

	res = t.Evaluate(in)
	res.TriggerID = id
	if !res.Fired {
		res.Ceiling = types.ModeRunning
		return res
	}
	if !res.Ceiling.IsCeiling() || res.Ceiling == types.ModeRunning {
		// a fired result must restrict something
		res.Ceiling = types.MostRestrictive(res.Ceiling, failureCeiling)
		if !res.Ceiling.IsCeiling() {
			res.Ceiling = types.ModeHalted
		}
	}
	return res
}

// symbolFinding collects per-symbol hits so results list them deterministically
type symbolFinding struct {
	ceiling types.Mode
	details map[string]string
}

func newFinding() *symbolFinding {
	return &symbolFinding{ceiling: types.ModeRunning, details: map[string]string{}}
}

func (f *symbolFinding) add(symbol string, ceiling types.Mode, detail string) {
	f.ceiling = types.MostRestrictive(f.ceiling, ceiling)
	f.details[symbol] = detail
}

func (f *symbolFinding) empty() bool {
	return len(f.details) == 0
}

func (f *symbolFinding) symbols() []string {
	out := make([]string, 0, len(f.details))
	for s := range f.details {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (f *symbolFinding) summary() string {
	syms := f.symbols()
	parts := make([]string, 0, len(syms))
	for _, s := range syms {
		parts = append(parts, s+" "+f.details[s])
	}
	return strings.Join(parts, "; ")
}

func (f *symbolFinding) evidence() map[string]interface{} {
	ev := make(map[string]interface{}, len(f.details)+1)
	for s, d := range f.details {
		ev[s] = d
	}
	ev["symbols"] = f.symbols()
	return ev
}
