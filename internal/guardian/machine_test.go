package guardian

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/futures-guardian/internal/audit"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/internal/triggers"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

type stubTrigger struct {
	id      string
	ceiling types.Mode
	action  triggers.Action
	fire    atomic.Bool
	calls   atomic.Int32
	delay   time.Duration
}

func newStub(id string, ceiling types.Mode, fire bool) *stubTrigger {
	s := &stubTrigger{id: id, ceiling: ceiling}
	s.fire.Store(fire)
	return s
}

func (s *stubTrigger) ID() string { return s.id }

func (s *stubTrigger) Evaluate(in triggers.Input) triggers.Result {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if !s.fire.Load() {
		return triggers.Result{TriggerID: s.id, Ceiling: types.ModeRunning}
	}
	return triggers.Result{TriggerID: s.id, Fired: true, Ceiling: s.ceiling, Reason: s.id + " fired", Action: s.action}
}

type panicTrigger struct{}

func (panicTrigger) ID() string { return "broken" }
func (panicTrigger) Evaluate(triggers.Input) triggers.Result {
	var m map[string]int
	m["x"] = 1
	return triggers.Result{}
}

type memoryStore struct {
	mu      sync.Mutex
	records []TransitionRecord
}

func (m *memoryStore) Append(rec TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func testClock() func() time.Time {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	var n atomic.Int64
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Millisecond)
	}
}

func newMachine(t *testing.T, opts Options, set ...triggers.Trigger) *StateMachine {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = testClock()
	}
	sm := NewStateMachine(logger.NewNop(), opts)
	for _, tr := range set {
		require.NoError(t, sm.Register(tr))
	}
	return sm
}

func snapshotInput() triggers.Input {
	return triggers.Input{Snapshot: &types.Snapshot{Version: 7, Timestamp: time.Now()}}
}

func assertChain(t *testing.T, history []TransitionRecord) {
	t.Helper()
	for i := range history {
		assert.Equal(t, i+1, history[i].Seq)
		if i > 0 {
			assert.Equal(t, history[i-1].NewMode, history[i].PreviousMode, "entry %d", i)
		}
	}
}

func TestInitialize_RefusesOutsideInit(t *testing.T) {
	sm := newMachine(t, Options{})
	assert.Equal(t, types.ModeInit, sm.Mode())

	assert.True(t, sm.Initialize())
	assert.Equal(t, types.ModeRunning, sm.Mode())

	assert.False(t, sm.Initialize())
	assert.Len(t, sm.History(), 1)

	_, err := sm.ManualSetMode(types.ModeHalted, "desk")
	require.NoError(t, err)
	assert.False(t, sm.Initialize())
	assert.Equal(t, types.ModeHalted, sm.Mode())
}

func TestCheck_InInitNeverTransitions(t *testing.T) {
	sm := newMachine(t, Options{}, newStub("halt", types.ModeHalted, true))
	res := sm.Check(snapshotInput())

	assert.Equal(t, types.ModeInit, res.Mode)
	assert.Equal(t, types.ModeHalted, res.Ceiling)
	assert.True(t, res.Suppressed)
	assert.Nil(t, res.Transition)
	assert.Empty(t, sm.History())
}

func TestCheck_MostRestrictiveCeilingForEveryCombination(t *testing.T) {
	ceilings := []types.Mode{types.ModeReduceOnly, types.ModeHalted, types.ModeReduceOnly, types.ModeHalted}

	for mask := 0; mask < 1<<len(ceilings); mask++ {
		t.Run(fmt.Sprintf("mask_%04b", mask), func(t *testing.T) {
			var set []triggers.Trigger
			var firedCeilings []types.Mode
			for i, c := range ceilings {
				fire := mask&(1<<i) != 0
				set = append(set, newStub(fmt.Sprintf("t%d", i), c, fire))
				if fire {
					firedCeilings = append(firedCeilings, c)
				}
			}
			sm := newMachine(t, Options{}, set...)
			require.True(t, sm.Initialize())

			res := sm.Check(snapshotInput())
			want := types.MostRestrictive(firedCeilings...)
			assert.Equal(t, want, res.Ceiling)
			assert.Equal(t, want, sm.Mode())
			assert.Len(t, res.Fired(), len(firedCeilings))
			if want == types.ModeRunning {
				assert.Nil(t, res.Transition)
			} else {
				require.NotNil(t, res.Transition)
				assert.Equal(t, CauseTrigger, res.Transition.Cause)
				assert.Len(t, res.Transition.Triggers, len(firedCeilings))
			}
		})
	}
}

func TestCheck_NeverDeescalatesWithoutRecovery(t *testing.T) {
	halt := newStub("halt", types.ModeHalted, true)
	reduce := newStub("reduce", types.ModeReduceOnly, false)
	sm := newMachine(t, Options{}, halt, reduce)
	sm.Initialize()

	sm.Check(snapshotInput())
	assert.Equal(t, types.ModeHalted, sm.Mode())

	halt.fire.Store(false)
	reduce.fire.Store(true)
	res := sm.Check(snapshotInput())
	assert.Equal(t, types.ModeHalted, res.Mode)
	assert.Nil(t, res.Transition)

	reduce.fire.Store(false)
	sm.Check(snapshotInput())
	assert.Equal(t, types.ModeHalted, sm.Mode())
}

func TestCheck_BarrierCollectsAllResults(t *testing.T) {
	var set []triggers.Trigger
	var stubs []*stubTrigger
	for i := 0; i < 8; i++ {
		s := newStub(fmt.Sprintf("slow%d", i), types.ModeReduceOnly, i == 7)
		s.delay = 20 * time.Millisecond
		stubs = append(stubs, s)
		set = append(set, s)
	}
	sm := newMachine(t, Options{}, set...)
	sm.Initialize()

	start := time.Now()
	res := sm.Check(snapshotInput())
	elapsed := time.Since(start)

	require.Len(t, res.Results, 8)
	for i, r := range res.Results {
		assert.Equal(t, fmt.Sprintf("slow%d", i), r.TriggerID)
		assert.Equal(t, int32(1), stubs[i].calls.Load())
	}
	assert.Equal(t, types.ModeReduceOnly, sm.Mode())
	assert.Less(t, elapsed, 150*time.Millisecond, "triggers run in parallel")
}

func TestCheck_BrokenTriggerFailsClosed(t *testing.T) {
	sm := newMachine(t, Options{}, panicTrigger{}, newStub("ok", types.ModeHalted, false))
	sm.Initialize()

	res := sm.Check(snapshotInput())
	assert.Equal(t, types.ModeReduceOnly, sm.Mode())
	require.Len(t, res.Results, 2)
	assert.True(t, res.Results[0].Fired)
	assert.Contains(t, res.Results[0].Reason, "evaluator failed")
	assert.False(t, res.Results[1].Fired, "other triggers still evaluated")

	halting := newMachine(t, Options{FailureCeiling: types.ModeHalted}, panicTrigger{})
	halting.Initialize()
	halting.Check(snapshotInput())
	assert.Equal(t, types.ModeHalted, halting.Mode())
}

func TestManualOverride_IsSticky(t *testing.T) {
	halt := newStub("margin", types.ModeHalted, false)
	sm := newMachine(t, Options{}, halt)
	sm.Initialize()

	rec, err := sm.ManualSetMode(types.ModeRunning, "desk accepts the risk")
	require.NoError(t, err)
	assert.True(t, rec.Override)
	assert.True(t, sm.Overridden())

	halt.fire.Store(true)
	for i := 0; i < 3; i++ {
		res := sm.Check(snapshotInput())
		assert.Equal(t, types.ModeRunning, res.Mode)
		assert.True(t, res.Suppressed)
		assert.Nil(t, res.Transition)
	}

	assert.True(t, sm.ReleaseOverride("desk done"))
	assert.False(t, sm.ReleaseOverride("again"))
	assert.Equal(t, types.ModeRunning, sm.Mode(), "release alone does not transition")

	res := sm.Check(snapshotInput())
	assert.Equal(t, types.ModeHalted, res.Mode)
	require.NotNil(t, res.Transition)
	assert.Equal(t, CauseTrigger, res.Transition.Cause)
}

func TestManualOverride_CanBeLessRestrictiveAndIsDistinguished(t *testing.T) {
	sm := newMachine(t, Options{}, newStub("halt", types.ModeHalted, true))
	sm.Initialize()
	sm.Check(snapshotInput())
	require.Equal(t, types.ModeHalted, sm.Mode())

	_, err := sm.ManualSetMode(types.ModeReduceOnly, "unwind manually")
	require.NoError(t, err)

	history := sm.History()
	last := history[len(history)-1]
	assert.Equal(t, CauseManual, last.Cause)
	assert.True(t, last.Override)
	assert.Equal(t, types.ModeHalted, last.PreviousMode)
	assert.Equal(t, types.ModeReduceOnly, last.NewMode)

	for _, h := range history[:len(history)-1] {
		assert.False(t, h.Override)
	}
}

func TestManualSetMode_Validation(t *testing.T) {
	sm := newMachine(t, Options{})
	_, err := sm.ManualSetMode(types.ModeHalted, " ")
	assert.Error(t, err)
	_, err = sm.ManualSetMode(types.Mode(42), "x")
	assert.Error(t, err)
	assert.False(t, sm.Overridden())
}

func TestManualSetMode_SameModeAddsNoHistory(t *testing.T) {
	sink := audit.NewMemorySink(0)
	sm := newMachine(t, Options{Sink: sink})
	sm.Initialize()

	_, err := sm.ManualSetMode(types.ModeRunning, "pin running")
	require.NoError(t, err)
	assert.Len(t, sm.History(), 1)
	assert.True(t, sm.Overridden())
	assert.Len(t, sink.Records(audit.KindManualOverride), 1)
}

func TestReleaseOverride_FromManualOverrideModeHalts(t *testing.T) {
	sm := newMachine(t, Options{})
	sm.Initialize()
	_, err := sm.ManualSetMode(types.ModeManualOverride, "operator takes control")
	require.NoError(t, err)

	require.True(t, sm.ReleaseOverride("handing back"))
	assert.Equal(t, types.ModeHalted, sm.Mode())
	history := sm.History()
	assert.Equal(t, CauseRelease, history[len(history)-1].Cause)
}

func TestHistory_AppendOnlyChain(t *testing.T) {
	reduce := newStub("reduce", types.ModeReduceOnly, false)
	halt := newStub("halt", types.ModeHalted, false)
	store := &memoryStore{}
	sm := newMachine(t, Options{Store: store}, reduce, halt)

	steps := []func(){
		func() { sm.Initialize() },
		func() { reduce.fire.Store(true); sm.Check(snapshotInput()) },
		func() { halt.fire.Store(true); sm.Check(snapshotInput()) },
		func() { sm.ManualSetMode(types.ModeRunning, "manual") },
		func() { sm.ReleaseOverride("release") },
		func() { sm.Check(snapshotInput()) },
		func() { sm.ManualSetMode(types.ModeManualOverride, "take control") },
		func() { sm.ReleaseOverride("back") },
	}
	wantLen := []int{1, 2, 3, 4, 4, 5, 6, 7}

	var snapshot []TransitionRecord
	for i, step := range steps {
		step()
		history := sm.History()
		require.Len(t, history, wantLen[i], "after step %d", i)
		assertChain(t, history)
		// earlier entries are unchanged
		for j := range snapshot {
			assert.Equal(t, snapshot[j], history[j])
		}
		snapshot = history
	}

	mode, err := Replay(snapshot)
	require.NoError(t, err)
	assert.Equal(t, sm.Mode(), mode)
	assert.Equal(t, snapshot, store.records)
}

func TestHistory_CopyIsIsolated(t *testing.T) {
	sm := newMachine(t, Options{})
	sm.Initialize()
	h := sm.History()
	h[0].NewMode = types.ModeHalted
	assert.Equal(t, types.ModeRunning, sm.History()[0].NewMode)
}

func TestSubscribers_PanicIsIsolated(t *testing.T) {
	sm := newMachine(t, Options{}, newStub("halt", types.ModeHalted, true))

	var seen []TransitionRecord
	sm.Subscribe(func(TransitionRecord) { panic("alerting down") })
	sm.Subscribe(func(rec TransitionRecord) {
		assert.Equal(t, rec.NewMode, sm.Mode(), "called after commit")
		seen = append(seen, rec)
	})

	sm.Initialize()
	sm.Check(snapshotInput())

	require.Len(t, seen, 2)
	assert.Equal(t, types.ModeHalted, seen[1].NewMode)
	assert.Len(t, sm.History(), 2)
}

func TestKillSwitch_RunsOncePerEscalation(t *testing.T) {
	dd := newStub("drawdown", types.ModeHalted, true)
	dd.action = triggers.ActionFlattenAndCancel
	sm := newMachine(t, Options{RecoveryCleanCycles: 1}, dd)

	var calls atomic.Int32
	sm.OnEmergency(func(res triggers.Result, snap *types.Snapshot) error {
		calls.Add(1)
		assert.Equal(t, "drawdown", res.TriggerID)
		assert.Equal(t, uint64(7), snap.Version)
		return nil
	})
	sm.OnEmergency(func(triggers.Result, *types.Snapshot) error { return fmt.Errorf("exchange down") })

	sm.Initialize()
	sm.Check(snapshotInput())
	sm.Check(snapshotInput())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, types.ModeHalted, sm.Mode())

	// kill-switch HALTED does not recover on its own
	dd.fire.Store(false)
	sm.Check(snapshotInput())
	sm.Check(snapshotInput())
	assert.Equal(t, types.ModeHalted, sm.Mode())

	// operator resumes, the kill switch can fire again
	_, err := sm.ManualSetMode(types.ModeRunning, "resume")
	require.NoError(t, err)
	sm.ReleaseOverride("resume")
	dd.fire.Store(true)
	sm.Check(snapshotInput())
	assert.Equal(t, int32(2), calls.Load())
}

func TestRecovery_StepsDownOneLevel(t *testing.T) {
	halt := newStub("margin", types.ModeHalted, true)
	sm := newMachine(t, Options{RecoveryCleanCycles: 2}, halt)
	sm.Initialize()
	sm.Check(snapshotInput())
	require.Equal(t, types.ModeHalted, sm.Mode())

	halt.fire.Store(false)
	sm.Check(snapshotInput())
	assert.Equal(t, types.ModeHalted, sm.Mode())
	res := sm.Check(snapshotInput())
	assert.Equal(t, types.ModeReduceOnly, sm.Mode())
	require.NotNil(t, res.Transition)
	assert.Equal(t, CauseRecovery, res.Transition.Cause)

	// a fire in between resets the count
	halt.fire.Store(true)
	sm.Check(snapshotInput())
	assert.Equal(t, types.ModeHalted, sm.Mode())
	halt.fire.Store(false)
	for i := 0; i < 4; i++ {
		sm.Check(snapshotInput())
	}
	assert.Equal(t, types.ModeRunning, sm.Mode())
	assertChain(t, sm.History())
}

func TestRestore_AppendsRestartRecord(t *testing.T) {
	first := newMachine(t, Options{}, newStub("halt", types.ModeHalted, true))
	first.Initialize()
	first.Check(snapshotInput())
	persisted := first.History()

	store := &memoryStore{}
	second := newMachine(t, Options{Store: store})
	require.NoError(t, second.Restore(persisted))
	assert.Equal(t, types.ModeInit, second.Mode())

	history := second.History()
	require.Len(t, history, len(persisted)+1)
	last := history[len(history)-1]
	assert.Equal(t, CauseRestart, last.Cause)
	assert.Equal(t, types.ModeHalted, last.PreviousMode)
	assert.Equal(t, types.ModeInit, last.NewMode)
	assertChain(t, history)
	assert.Len(t, store.records, 1)

	assert.True(t, second.Initialize())
	assert.Error(t, second.Restore(persisted), "only a fresh machine restores")
}

func TestRestore_RejectsBrokenChain(t *testing.T) {
	now := time.Now()
	broken := []TransitionRecord{
		{Seq: 1, PreviousMode: types.ModeInit, NewMode: types.ModeRunning, Timestamp: now},
		{Seq: 2, PreviousMode: types.ModeReduceOnly, NewMode: types.ModeHalted, Timestamp: now},
	}
	sm := newMachine(t, Options{})
	assert.Error(t, sm.Restore(broken))
	assert.Empty(t, sm.History())
}

func TestReplay(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		records []TransitionRecord
		want    types.Mode
		wantErr bool
	}{
		{"empty", nil, types.ModeInit, false},
		{"valid", []TransitionRecord{
			{Seq: 1, PreviousMode: types.ModeInit, NewMode: types.ModeRunning, Timestamp: now},
			{Seq: 2, PreviousMode: types.ModeRunning, NewMode: types.ModeHalted, Timestamp: now.Add(time.Second)},
		}, types.ModeHalted, false},
		{"seq gap", []TransitionRecord{
			{Seq: 2, PreviousMode: types.ModeInit, NewMode: types.ModeRunning, Timestamp: now},
		}, types.ModeInit, true},
		{"time backwards", []TransitionRecord{
			{Seq: 1, PreviousMode: types.ModeInit, NewMode: types.ModeRunning, Timestamp: now},
			{Seq: 2, PreviousMode: types.ModeRunning, NewMode: types.ModeHalted, Timestamp: now.Add(-time.Second)},
		}, types.ModeRunning, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Replay(tt.records)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegister_RejectsDuplicates(t *testing.T) {
	sm := newMachine(t, Options{}, newStub("margin", types.ModeHalted, false))
	assert.Error(t, sm.Register(newStub("margin", types.ModeReduceOnly, false)))

	require.NoError(t, sm.ReplaceTriggers([]triggers.Trigger{newStub("a", types.ModeHalted, false), newStub("b", types.ModeHalted, false)}))
	assert.Equal(t, []string{"a", "b"}, sm.TriggerIDs())
	assert.Error(t, sm.ReplaceTriggers([]triggers.Trigger{newStub("a", types.ModeHalted, false), newStub("a", types.ModeHalted, false)}))
	assert.Equal(t, []string{"a", "b"}, sm.TriggerIDs())
}

func TestAuditStream(t *testing.T) {
	sink := audit.NewMemorySink(0)
	sm := newMachine(t, Options{Sink: sink}, newStub("halt", types.ModeHalted, true))
	sm.Initialize()
	sm.Check(snapshotInput())
	sm.ManualSetMode(types.ModeReduceOnly, "operator")

	assert.Len(t, sink.Records(audit.KindTriggerEvaluation), 1)
	assert.Len(t, sink.Records(audit.KindModeTransition), 3)
	assert.Len(t, sink.Records(audit.KindManualOverride), 1)

	var eval CheckResult
	require.NoError(t, sink.Records(audit.KindTriggerEvaluation)[0].Decode(&eval))
	assert.Equal(t, uint64(7), eval.SnapshotVersion)
	assert.Equal(t, types.ModeHalted, eval.Mode)
}

func TestMode_ConcurrentReadersDuringChecks(t *testing.T) {
	reduce := newStub("reduce", types.ModeReduceOnly, true)
	sm := newMachine(t, Options{RecoveryCleanCycles: 1}, reduce)
	sm.Initialize()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					m := sm.Mode()
					assert.True(t, m == types.ModeRunning || m == types.ModeReduceOnly)
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		reduce.fire.Store(i%2 == 0)
		sm.Check(snapshotInput())
	}
	close(stop)
	wg.Wait()
	assertChain(t, sm.History())
}
