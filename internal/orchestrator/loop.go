package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
	"github.com/ducminhle1904/futures-guardian/internal/guardian"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/internal/marketdata"
	"github.com/ducminhle1904/futures-guardian/internal/monitoring"
	"github.com/ducminhle1904/futures-guardian/internal/risk"
	"github.com/ducminhle1904/futures-guardian/internal/state"
	"github.com/ducminhle1904/futures-guardian/internal/triggers"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// RiskReader returns the latest asynchronously computed risk report
type RiskReader interface {
	Latest() *risk.Report
}

// LoopConfig configures the evaluation loop
type LoopConfig struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	Bands        marketdata.BandTable
}

// EvaluationLoop refreshes the snapshot and runs one trigger check per tick
type EvaluationLoop struct {
	logger  *logger.Logger
	config  LoopConfig
	source  marketdata.Source
	store   *marketdata.Store
	machine *guardian.StateMachine
	days    *state.DayTracker
	risk    RiskReader
	now     func() time.Time

	cycles   atomic.Int64
	failures atomic.Int64
}

// NewEvaluationLoop creates a loop publishing into store and checking machine
func NewEvaluationLoop(log *logger.Logger, cfg LoopConfig, source marketdata.Source, store *marketdata.Store, machine *guardian.StateMachine) *EvaluationLoop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Second
	}
	return &EvaluationLoop{
		logger:  log.Named("loop"),
		config:  cfg,
		source:  source,
		store:   store,
		machine: machine,
		now:     time.Now,
	}
}

// SetDayTracker fills DayOpenEquity on every snapshot
func (l *EvaluationLoop) SetDayTracker(d *state.DayTracker) {
	l.days = d
}

// SetRiskReader feeds the latest risk report to the triggers
func (l *EvaluationLoop) SetRiskReader(r RiskReader) {
	l.risk = r
}

// Run evaluates immediately and then on every interval until ctx is done
func (l *EvaluationLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	l.logger.Info("Evaluation loop started (interval %s, fetch timeout %s, source %s)",
		l.config.Interval, l.config.FetchTimeout, l.source.Name())

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Evaluation loop stopped after %d cycles", l.cycles.Load())
			return
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}

// RunOnce refreshes the snapshot and runs one check against it
func (l *EvaluationLoop) RunOnce(ctx context.Context) guardian.CheckResult {
	snap := l.refresh(ctx)

	in := triggers.Input{Snapshot: snap, Now: l.now()}
	if l.risk != nil {
		in.Risk = l.risk.Latest()
	}
	res := l.machine.Check(in)
	l.cycles.Add(1)

	if fired := res.Fired(); len(fired) > 0 {
		ids := make([]string, len(fired))
		for i, r := range fired {
			ids[i] = r.TriggerID
		}
		l.logger.Zap().Debug("triggers fired",
			zap.Uint64("snapshot", res.SnapshotVersion),
			zap.Strings("triggers", ids),
			zap.String("ceiling", res.Ceiling.String()),
			zap.String("mode", res.Mode.String()))
	}
	return res
}

// Stats returns completed cycles and failed fetches
func (l *EvaluationLoop) Stats() (cycles, failures int64) {
	return l.cycles.Load(), l.failures.Load()
}

type fetchResult struct {
	snap *types.Snapshot
	err  error
}

// refresh fetches within the configured timeout and publishes the result.
// A failed or late fetch publishes the last quotes flagged with the feed error.
func (l *EvaluationLoop) refresh(ctx context.Context) *types.Snapshot {
	// shutdown must not turn a fetch in progress into a feed error
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.FetchTimeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("source panicked: %v", r)}
			}
		}()
		snap, err := l.source.Fetch(fetchCtx)
		done <- fetchResult{snap: snap, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-fetchCtx.Done():
		res.err = fmt.Errorf("fetch exceeded %s: %w", l.config.FetchTimeout, fetchCtx.Err())
	}
	if res.err == nil && res.snap == nil {
		res.err = errors.New("source returned no snapshot")
	}

	if res.err != nil {
		l.failures.Add(1)
		monitoring.RecordError("snapshot_fetch")
		ge := guarderrors.WrapExternal(res.err, l.source.Name(), "fetch")
		l.logger.LogError("Snapshot fetch", ge)
		return l.store.PublishFailure(ge.Error())
	}

	snap := res.snap
	if l.days != nil && snap.Account.Equity > 0 {
		open, _ := l.days.Observe(l.now(), snap.Account.Equity)
		if snap.Account.DayOpenEquity == 0 {
			snap.Account.DayOpenEquity = open
		}
	}
	l.config.Bands.Apply(snap)
	if ratio, ok := snap.Account.MarginRatio(); ok {
		monitoring.UpdateMarginRatio(ratio)
	}
	return l.store.Publish(snap)
}
