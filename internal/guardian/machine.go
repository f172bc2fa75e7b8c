// Package guardian owns the process-wide trading mode. A single StateMachine
// is the only writer; every other component reads the committed mode through it.
package guardian

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/ducminhle1904/futures-guardian/internal/audit"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/internal/monitoring"
	"github.com/ducminhle1904/futures-guardian/internal/triggers"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// EmergencyHandler runs the kill-switch action outside the mode system
type EmergencyHandler func(result triggers.Result, snap *types.Snapshot) error

// Options configures a StateMachine
type Options struct {
	// FailureCeiling is applied to a trigger that panics
	FailureCeiling types.Mode
	// RecoveryCleanCycles steps the mode down one level after that many
	// consecutive cycles whose ceiling is below the current mode. Zero disables.
	RecoveryCleanCycles int
	Sink                audit.Sink
	Store               HistoryStore
	Clock               func() time.Time
}

// CheckResult describes one evaluation cycle
type CheckResult struct {
	SnapshotVersion uint64            `json:"snapshot_version"`
	PreviousMode    types.Mode        `json:"previous_mode"`
	Mode            types.Mode        `json:"mode"`
	Ceiling         types.Mode        `json:"ceiling"`
	Results         []triggers.Result `json:"results"`
	Transition      *TransitionRecord `json:"transition,omitempty"`
	// Suppressed is set when the ceiling would have escalated but the mode is
	// held by a manual override or by INIT.
	Suppressed bool          `json:"suppressed"`
	Duration   time.Duration `json:"duration"`
}

// Fired returns the results that fired
func (c CheckResult) Fired() []triggers.Result {
	var out []triggers.Result
	for _, r := range c.Results {
		if r.Fired {
			out = append(out, r)
		}
	}
	return out
}

// StateMachine is the guardian finite-state controller
type StateMachine struct {
	logger *logger.Logger
	opts   Options

	mode       atomic.Int32
	overridden atomic.Bool

	mu          sync.Mutex // single writer
	history     []TransitionRecord
	historyMu   sync.RWMutex
	killSwitch  bool
	cleanCycles int

	triggersMu sync.RWMutex
	triggers   []triggers.Trigger

	subsMu      sync.RWMutex
	subscribers []Subscriber
	emergency   []EmergencyHandler
}

// NewStateMachine creates a machine in INIT
func NewStateMachine(log *logger.Logger, opts Options) *StateMachine {
	if opts.FailureCeiling != types.ModeHalted {
		opts.FailureCeiling = types.ModeReduceOnly
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	sm := &StateMachine{logger: log.Named("guardian"), opts: opts}
	sm.mode.Store(int32(types.ModeInit))
	monitoring.SetMode(int32(types.ModeInit))
	return sm
}

// Mode returns the latest committed mode without blocking writers
func (sm *StateMachine) Mode() types.Mode {
	return types.Mode(sm.mode.Load())
}

// ModeName returns the current mode as a string
func (sm *StateMachine) ModeName() string {
	return sm.Mode().String()
}

// Overridden reports whether a manual override currently holds the mode
func (sm *StateMachine) Overridden() bool {
	return sm.overridden.Load()
}

// Register adds a trigger to the evaluation set. Ids must be unique.
func (sm *StateMachine) Register(t triggers.Trigger) error {
	sm.triggersMu.Lock()
	defer sm.triggersMu.Unlock()

	for _, existing := range sm.triggers {
		if existing.ID() == t.ID() {
			return fmt.Errorf("trigger %q already registered", t.ID())
		}
	}
	sm.triggers = append(sm.triggers, t)
	sm.logger.Info("Registered trigger %s", t.ID())
	return nil
}

// ReplaceTriggers swaps the whole trigger set, e.g. after a config reload.
// A cycle already running keeps the set it started with.
func (sm *StateMachine) ReplaceTriggers(set []triggers.Trigger) error {
	seen := make(map[string]bool, len(set))
	ids := make([]string, 0, len(set))
	for _, t := range set {
		if seen[t.ID()] {
			return fmt.Errorf("trigger %q listed twice", t.ID())
		}
		seen[t.ID()] = true
		ids = append(ids, t.ID())
	}

	sm.triggersMu.Lock()
	sm.triggers = append([]triggers.Trigger(nil), set...)
	sm.triggersMu.Unlock()

	sm.logger.Info("Trigger set replaced: %s", strings.Join(ids, ", "))
	return nil
}

// TriggerIDs returns the registered trigger ids in evaluation order
func (sm *StateMachine) TriggerIDs() []string {
	sm.triggersMu.RLock()
	defer sm.triggersMu.RUnlock()
	ids := make([]string, len(sm.triggers))
	for i, t := range sm.triggers {
		ids[i] = t.ID()
	}
	return ids
}

// Subscribe registers a transition callback
func (sm *StateMachine) Subscribe(fn Subscriber) {
	sm.subsMu.Lock()
	defer sm.subsMu.Unlock()
	sm.subscribers = append(sm.subscribers, fn)
}

// OnEmergency registers a kill-switch handler
func (sm *StateMachine) OnEmergency(fn EmergencyHandler) {
	sm.subsMu.Lock()
	defer sm.subsMu.Unlock()
	sm.emergency = append(sm.emergency, fn)
}

// History returns a copy of the transition log
func (sm *StateMachine) History() []TransitionRecord {
	sm.historyMu.RLock()
	defer sm.historyMu.RUnlock()
	out := make([]TransitionRecord, len(sm.history))
	copy(out, sm.history)
	return out
}

// Restore loads a persisted history after a restart. The chain is verified and
// a restart record back to INIT is appended, so Initialize is required again.
func (sm *StateMachine) Restore(records []TransitionRecord) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.Mode() != types.ModeInit || len(sm.history) > 0 {
		return fmt.Errorf("restore requires a fresh machine")
	}
	last, err := Replay(records)
	if err != nil {
		return fmt.Errorf("history replay failed: %w", err)
	}

	sm.historyMu.Lock()
	sm.history = append([]TransitionRecord(nil), records...)
	sm.historyMu.Unlock()

	if len(records) == 0 {
		return nil
	}
	rec := sm.appendLocked(last, types.ModeInit, CauseRestart, fmt.Sprintf("process restarted in %s", last), false, nil)
	sm.logger.Info("Restored %d transitions, last mode %s", len(records), last)
	sm.notify(rec)
	return nil
}

// Initialize moves INIT to RUNNING. It refuses, returning false, in any other mode.
func (sm *StateMachine) Initialize() bool {
	sm.mu.Lock()
	if sm.Mode() != types.ModeInit {
		sm.mu.Unlock()
		sm.logger.Warning("Initialize refused: mode is %s", sm.Mode())
		return false
	}
	rec := sm.appendLocked(types.ModeInit, types.ModeRunning, CauseInitialize, "guardian initialized", false, nil)
	sm.mu.Unlock()

	sm.notify(rec)
	return true
}

// Check evaluates every trigger against one input and escalates to the most
// restrictive fired ceiling. All triggers finish before the ceiling is chosen.
func (sm *StateMachine) Check(in triggers.Input) CheckResult {
	start := sm.opts.Clock()
	if in.Now.IsZero() {
		in.Now = start
	}

	sm.mu.Lock()

	results := sm.evaluate(in)
	current := sm.Mode()
	res := CheckResult{
		PreviousMode: current,
		Mode:         current,
		Ceiling:      types.ModeRunning,
		Results:      results,
	}
	if in.Snapshot != nil {
		res.SnapshotVersion = in.Snapshot.Version
	}

	var firedIDs []string
	var reasons []string
	var kill *triggers.Result
	for i := range results {
		r := results[i]
		if !r.Fired {
			continue
		}
		monitoring.RecordTriggerFired(r.TriggerID, r.Ceiling.String())
		res.Ceiling = types.MostRestrictive(res.Ceiling, r.Ceiling)
		firedIDs = append(firedIDs, r.TriggerID)
		reasons = append(reasons, r.TriggerID+": "+r.Reason)
		if r.Action == triggers.ActionFlattenAndCancel && kill == nil {
			kill = &results[i]
		}
	}

	var committed *TransitionRecord
	runKill := false
	switch {
	case current == types.ModeInit:
		res.Suppressed = res.Ceiling != types.ModeRunning
	case sm.overridden.Load():
		res.Suppressed = res.Ceiling.MoreRestrictiveThan(current)
		if res.Suppressed {
			sm.logger.Zap().Warn("escalation suppressed by manual override",
				zap.String("mode", current.String()),
				zap.String("ceiling", res.Ceiling.String()),
				zap.Strings("triggers", firedIDs))
		}
	case res.Ceiling.MoreRestrictiveThan(current):
		rec := sm.appendLocked(current, res.Ceiling, CauseTrigger, strings.Join(reasons, "; "), false, firedIDs)
		committed = &rec
		sm.cleanCycles = 0
	default:
		if rec, ok := sm.recoverLocked(current, res.Ceiling); ok {
			committed = &rec
		}
	}
	if kill != nil && !sm.overridden.Load() && sm.Mode() == types.ModeHalted && !sm.killSwitch {
		sm.killSwitch = true
		runKill = true
	}

	res.Mode = sm.Mode()
	res.Transition = committed
	res.Duration = sm.opts.Clock().Sub(start)
	sm.emit(audit.KindTriggerEvaluation, in.Now, res)

	sm.mu.Unlock()

	monitoring.ObserveEvaluation(res.Duration.Seconds())
	if committed != nil {
		sm.notify(*committed)
	}
	if runKill {
		sm.runEmergency(*kill, in.Snapshot)
	}
	return res
}

// ManualSetMode forces a mode, bypassing automatic escalation. The override is
// sticky: Check keeps evaluating but does not transition until ReleaseOverride
// or another ManualSetMode.
func (sm *StateMachine) ManualSetMode(mode types.Mode, reason string) (TransitionRecord, error) {
	if strings.TrimSpace(reason) == "" {
		return TransitionRecord{}, fmt.Errorf("manual mode change requires a reason")
	}
	if mode < types.ModeInit || mode > types.ModeManualOverride {
		return TransitionRecord{}, fmt.Errorf("unknown mode %d", mode)
	}

	sm.mu.Lock()
	current := sm.Mode()
	sm.overridden.Store(true)
	if mode != types.ModeHalted {
		sm.killSwitch = false
	}
	sm.cleanCycles = 0

	var rec TransitionRecord
	changed := mode != current
	if changed {
		rec = sm.appendLocked(current, mode, CauseManual, reason, true, nil)
	} else {
		rec = TransitionRecord{
			ID: uuid.NewString(), PreviousMode: current, NewMode: mode,
			Timestamp: sm.opts.Clock(), Cause: CauseManual, Reason: reason, Override: true,
		}
	}
	sm.emit(audit.KindManualOverride, rec.Timestamp, map[string]interface{}{
		"action":  "set",
		"from":    current,
		"to":      mode,
		"reason":  reason,
		"changed": changed,
	})
	sm.mu.Unlock()

	sm.logger.Zap().Warn("manual override",
		zap.Bool("override", true),
		zap.String("from", current.String()),
		zap.String("to", mode.String()),
		zap.String("reason", reason))
	if changed {
		sm.notify(rec)
	}
	return rec, nil
}

// ReleaseOverride hands control back to the triggers. If the operator parked
// the machine in MANUAL_OVERRIDE it moves to HALTED, the safest automatic mode.
// Returns false when no override is active.
func (sm *StateMachine) ReleaseOverride(reason string) bool {
	sm.mu.Lock()
	if !sm.overridden.Load() {
		sm.mu.Unlock()
		return false
	}
	sm.overridden.Store(false)
	sm.cleanCycles = 0

	current := sm.Mode()
	var committed *TransitionRecord
	if current == types.ModeManualOverride {
		rec := sm.appendLocked(current, types.ModeHalted, CauseRelease, "override released: "+reason, true, nil)
		committed = &rec
	}
	sm.emit(audit.KindManualOverride, sm.opts.Clock(), map[string]interface{}{
		"action": "release",
		"mode":   sm.Mode(),
		"reason": reason,
	})
	sm.mu.Unlock()

	sm.logger.Zap().Warn("manual override released",
		zap.Bool("override", false),
		zap.String("mode", sm.Mode().String()),
		zap.String("reason", reason))
	if committed != nil {
		sm.notify(*committed)
	}
	return true
}

// evaluate runs every trigger in parallel and waits for all of them
func (sm *StateMachine) evaluate(in triggers.Input) []triggers.Result {
	sm.triggersMu.RLock()
	set := append([]triggers.Trigger(nil), sm.triggers...)
	sm.triggersMu.RUnlock()

	results := make([]triggers.Result, len(set))
	var wg conc.WaitGroup
	for i, t := range set {
		wg.Go(func() {
			results[i] = triggers.SafeEvaluate(t, in, sm.opts.FailureCeiling)
		})
	}
	wg.Wait()
	return results
}

// recoverLocked steps down one level after enough clean cycles. A kill-switch
// HALTED never recovers automatically.
func (sm *StateMachine) recoverLocked(current, ceiling types.Mode) (TransitionRecord, bool) {
	n := sm.opts.RecoveryCleanCycles
	if n <= 0 || sm.killSwitch || !current.MoreRestrictiveThan(ceiling) {
		sm.cleanCycles = 0
		return TransitionRecord{}, false
	}

	var next types.Mode
	switch current {
	case types.ModeHalted:
		next = types.ModeReduceOnly
	case types.ModeReduceOnly:
		next = types.ModeRunning
	default:
		sm.cleanCycles = 0
		return TransitionRecord{}, false
	}

	sm.cleanCycles++
	if sm.cleanCycles < n {
		return TransitionRecord{}, false
	}
	sm.cleanCycles = 0
	reason := fmt.Sprintf("%d consecutive cycles below %s", n, current)
	return sm.appendLocked(current, next, CauseRecovery, reason, false, nil), true
}

// appendLocked commits a transition. Caller holds sm.mu.
func (sm *StateMachine) appendLocked(from, to types.Mode, cause Cause, reason string, override bool, ids []string) TransitionRecord {
	sm.historyMu.Lock()
	rec := TransitionRecord{
		Seq:          len(sm.history) + 1,
		ID:           uuid.NewString(),
		PreviousMode: from,
		NewMode:      to,
		Timestamp:    sm.opts.Clock(),
		Cause:        cause,
		Reason:       reason,
		Override:     override,
		Triggers:     sortedCopy(ids),
	}
	if n := len(sm.history); n > 0 && rec.Timestamp.Before(sm.history[n-1].Timestamp) {
		rec.Timestamp = sm.history[n-1].Timestamp
	}
	sm.history = append(sm.history, rec)
	sm.historyMu.Unlock()

	sm.mode.Store(int32(to))
	if to != types.ModeHalted {
		sm.killSwitch = false
	}

	monitoring.SetMode(int32(to))
	monitoring.RecordTransition(from.String(), to.String(), string(cause))

	if sm.opts.Store != nil {
		if err := sm.opts.Store.Append(rec); err != nil {
			sm.logger.LogError("Persist transition", err)
			monitoring.RecordError("history_store")
		}
	}
	sm.emit(audit.KindModeTransition, rec.Timestamp, rec)

	fields := []zap.Field{
		zap.Int("seq", rec.Seq),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("cause", string(cause)),
		zap.Bool("override", override),
		zap.Strings("triggers", rec.Triggers),
		zap.String("reason", reason),
	}
	if to.MoreRestrictiveThan(from) {
		sm.logger.Zap().Warn("mode transition", fields...)
	} else {
		sm.logger.Zap().Info("mode transition", fields...)
	}
	return rec
}

// notify calls subscribers in registration order; a panicking subscriber is logged and skipped
func (sm *StateMachine) notify(rec TransitionRecord) {
	sm.subsMu.RLock()
	subs := append([]Subscriber(nil), sm.subscribers...)
	sm.subsMu.RUnlock()

	for i, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					sm.logger.LogError("Transition subscriber", fmt.Errorf("subscriber %d panicked: %v", i, r))
					monitoring.RecordError("subscriber")
				}
			}()
			fn(rec)
		}()
	}
}

func (sm *StateMachine) runEmergency(result triggers.Result, snap *types.Snapshot) {
	sm.subsMu.RLock()
	handlers := append([]EmergencyHandler(nil), sm.emergency...)
	sm.subsMu.RUnlock()

	sm.logger.Zap().Error("kill switch engaged",
		zap.String("trigger", result.TriggerID),
		zap.String("action", string(result.Action)),
		zap.String("reason", result.Reason))

	for i, fn := range handlers {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("handler %d panicked: %v", i, r)
				}
			}()
			err = fn(result, snap)
		}()
		if err != nil {
			sm.logger.LogError("Emergency action", err)
			monitoring.RecordError("emergency")
		}
		sm.emit(audit.KindEmergencyAction, sm.opts.Clock(), map[string]interface{}{
			"trigger": result.TriggerID,
			"action":  result.Action,
			"handler": i,
			"success": err == nil,
			"error":   errString(err),
		})
	}
}

func (sm *StateMachine) emit(kind audit.Kind, ts time.Time, payload interface{}) {
	if err := audit.Emit(sm.opts.Sink, kind, ts, payload); err != nil {
		sm.logger.LogError("Audit "+string(kind), err)
		monitoring.RecordError("audit")
	}
}

func sortedCopy(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
