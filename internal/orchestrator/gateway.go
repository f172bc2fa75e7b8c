package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/internal/safety"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// ErrGatewayClosed is returned by Submit after Shutdown has started
var ErrGatewayClosed = errors.New("order gateway is shut down")

// Transmitter sends an accepted order to the venue
type Transmitter interface {
	Transmit(ctx context.Context, order types.Order) error
}

// SnapshotReader returns the latest published snapshot
type SnapshotReader interface {
	Latest() *types.Snapshot
}

// ModeReader returns the current guardian mode
type ModeReader interface {
	Mode() types.Mode
}

// OrderGateway is the single entry point for outgoing orders. Every order
// passes the safety chain against the snapshot and mode current at submission.
// Check and record run under a per-account lock so concurrent submissions
// cannot spend the same throttle slot.
type OrderGateway struct {
	logger      *logger.Logger
	chain       *safety.Chain
	snapshots   SnapshotReader
	modes       ModeReader
	transmitter Transmitter
	now         func() time.Time

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewOrderGateway creates a gateway. With a nil transmitter accepted orders
// are only recorded; the caller transmits them itself.
func NewOrderGateway(log *logger.Logger, chain *safety.Chain, snapshots SnapshotReader, modes ModeReader, transmitter Transmitter) *OrderGateway {
	return &OrderGateway{
		logger:      log.Named("gateway"),
		chain:       chain,
		snapshots:   snapshots,
		modes:       modes,
		transmitter: transmitter,
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
}

// Submit checks an order and, when accepted, transmits it. A rejected order
// returns a Decision and no error; an error means the order did not go out.
func (g *OrderGateway) Submit(ctx context.Context, order types.Order) (safety.Decision, error) {
	return g.SubmitVia(ctx, order, g.transmitter)
}

// SubmitVia is Submit with an explicit transmitter, used for kill-switch
// orders that go to the emergency venue.
func (g *OrderGateway) SubmitVia(ctx context.Context, order types.Order, tx Transmitter) (safety.Decision, error) {
	if !g.enter() {
		return safety.Decision{OrderID: order.ID, Symbol: order.Symbol}, ErrGatewayClosed
	}
	defer g.inflight.Done()

	if err := ctx.Err(); err != nil {
		return safety.Decision{OrderID: order.ID, Symbol: order.Symbol}, err
	}

	now := g.now()
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}

	lock := g.accountLock(order.Account)
	lock.Lock()
	view := safety.View{Snapshot: g.snapshots.Latest(), Mode: g.modes.Mode(), Now: now}
	decision := g.chain.Check(order, view)
	if decision.Accepted {
		g.chain.RecordAccepted(order, now)
	}
	lock.Unlock()
	if !decision.Accepted {
		return decision, nil
	}

	if tx != nil {
		if err := tx.Transmit(ctx, order); err != nil {
			g.chain.ReleaseAccepted(order, now)
			g.logger.LogError("Transmit "+order.ID, err)
			return decision, fmt.Errorf("transmit order %s: %w", order.ID, err)
		}
	}
	return decision, nil
}

func (g *OrderGateway) accountLock(account string) *sync.Mutex {
	g.locksMu.Lock()
	defer g.locksMu.Unlock()
	m, ok := g.locks[account]
	if !ok {
		m = &sync.Mutex{}
		g.locks[account] = m
	}
	return m
}

// RecordCancel counts a cancel request against the account's throttle window
func (g *OrderGateway) RecordCancel(account string) {
	g.chain.RecordCancel(account, g.now())
}

// Shutdown stops accepting submissions and waits for in-flight ones
func (g *OrderGateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *OrderGateway) enter() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return false
	}
	g.inflight.Add(1)
	return true
}
