package notifications

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/ducminhle1904/futures-guardian/internal/guardian"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

type alert struct {
	level   string
	message string
}

// AlertSubscriber turns mode transitions into notifier alerts. It is meant to
// be registered with StateMachine.Subscribe: OnTransition only enqueues, so a
// slow or failing notifier never holds up the evaluation loop. Escalations into
// HALTED bypass the rate limit.
type AlertSubscriber struct {
	notifier Notifier
	logger   *logger.Logger
	limiter  *rate.Limiter
	queue    chan alert

	sent       atomic.Int64
	suppressed atomic.Int64
}

// NewAlertSubscriber allows perMinute alerts with the given burst
func NewAlertSubscriber(log *logger.Logger, notifier Notifier, perMinute float64, burst int) *AlertSubscriber {
	if perMinute <= 0 {
		perMinute = 6
	}
	if burst <= 0 {
		burst = 3
	}
	return &AlertSubscriber{
		notifier: notifier,
		logger:   log.Named("alerts"),
		limiter:  rate.NewLimiter(rate.Limit(perMinute/60), burst),
		queue:    make(chan alert, 64),
	}
}

// OnTransition is a guardian.Subscriber
func (a *AlertSubscriber) OnTransition(rec guardian.TransitionRecord) {
	halting := rec.NewMode == types.ModeHalted && rec.NewMode.MoreRestrictiveThan(rec.PreviousMode)
	if !halting && !a.limiter.Allow() {
		a.suppressed.Add(1)
		return
	}
	a.enqueue(alert{level: transitionLevel(rec), message: FormatTransition(rec)})
}

// Notify enqueues a free-form alert, subject to the rate limit
func (a *AlertSubscriber) Notify(level, message string) {
	if level != LevelCritical && !a.limiter.Allow() {
		a.suppressed.Add(1)
		return
	}
	a.enqueue(alert{level: level, message: message})
}

func (a *AlertSubscriber) enqueue(al alert) {
	select {
	case a.queue <- al:
	default:
		a.suppressed.Add(1)
		a.logger.Warning("Alert queue full, dropping: %s", al.message)
	}
}

// Run delivers queued alerts until ctx is cancelled, then drains what is left
func (a *AlertSubscriber) Run(ctx context.Context) {
	for {
		select {
		case al := <-a.queue:
			a.deliver(al)
		case <-ctx.Done():
			for {
				select {
				case al := <-a.queue:
					a.deliver(al)
				default:
					return
				}
			}
		}
	}
}

func (a *AlertSubscriber) deliver(al alert) {
	if err := a.notifier.SendAlert(al.level, al.message); err != nil {
		a.logger.LogError("Send alert", err)
		return
	}
	a.sent.Add(1)
}

// Sent returns how many alerts were delivered
func (a *AlertSubscriber) Sent() int64 { return a.sent.Load() }

// Suppressed returns how many alerts were dropped by the rate limit or a full queue
func (a *AlertSubscriber) Suppressed() int64 { return a.suppressed.Load() }

func transitionLevel(rec guardian.TransitionRecord) string {
	switch {
	case rec.NewMode == types.ModeHalted:
		return LevelCritical
	case rec.Override:
		return LevelWarning
	case rec.NewMode.MoreRestrictiveThan(rec.PreviousMode):
		return LevelWarning
	default:
		return LevelInfo
	}
}

// FormatTransition renders a transition as an alert body. Overrides are marked.
func FormatTransition(rec guardian.TransitionRecord) string {
	var b strings.Builder
	if rec.Override {
		b.WriteString("MANUAL OVERRIDE\n")
	}
	fmt.Fprintf(&b, "Mode %s -> %s (%s)\n", rec.PreviousMode, rec.NewMode, rec.Cause)
	if len(rec.Triggers) > 0 {
		fmt.Fprintf(&b, "Triggers: %s\n", strings.Join(rec.Triggers, ", "))
	}
	if rec.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", rec.Reason)
	}
	fmt.Fprintf(&b, "At: %s", rec.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}
