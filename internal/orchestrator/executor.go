package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/futures-guardian/internal/guardian"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/internal/triggers"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// Executor performs the kill-switch action against the trading venue
type Executor interface {
	CancelAll(ctx context.Context, symbols []string) error
	Flatten(ctx context.Context, positions []types.Position) error
}

// Venue is where kill-switch actions land: cancel resting orders and send
// reduce-only closing orders
type Venue interface {
	CancelAll(ctx context.Context, symbols []string) error
	Transmitter
}

// GatedExecutor flattens through the order gateway, so closing orders pass
// the safety chain and are audited like any other order
type GatedExecutor struct {
	venue   Venue
	gateway *OrderGateway
	logger  *logger.Logger
}

// NewGatedExecutor creates the kill-switch executor for venue
func NewGatedExecutor(log *logger.Logger, venue Venue, gateway *OrderGateway) *GatedExecutor {
	return &GatedExecutor{venue: venue, gateway: gateway, logger: log.Named("kill-switch")}
}

// CancelAll cancels resting orders on the venue
func (e *GatedExecutor) CancelAll(ctx context.Context, symbols []string) error {
	return e.venue.CancelAll(ctx, symbols)
}

// Flatten submits one closing order per position. Every position is
// attempted; rejections and transmit failures are joined into the error.
func (e *GatedExecutor) Flatten(ctx context.Context, positions []types.Position) error {
	var errs []error
	for _, order := range ClosingOrders(positions) {
		d, err := e.gateway.SubmitVia(ctx, order, e.venue)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", order.Symbol, err))
			continue
		}
		if !d.Accepted {
			e.logger.Error("Closing order for %s rejected by %s gate: %s", order.Symbol, d.FailedGate, d.Reason)
			errs = append(errs, fmt.Errorf("%s: rejected by %s gate: %s", order.Symbol, d.FailedGate, d.Reason))
		}
	}
	return errors.Join(errs...)
}

// ClosingOrders returns one emergency market order per open position,
// sized to bring it flat
func ClosingOrders(positions []types.Position) []types.Order {
	net := make(map[string]float64)
	var symbols []string
	for _, p := range positions {
		if p.Quantity == 0 || math.IsNaN(p.Quantity) || math.IsInf(p.Quantity, 0) {
			continue
		}
		if _, seen := net[p.Symbol]; !seen {
			symbols = append(symbols, p.Symbol)
		}
		net[p.Symbol] += p.Quantity
	}

	orders := make([]types.Order, 0, len(symbols))
	for _, sym := range symbols {
		qty := net[sym]
		if qty == 0 {
			continue
		}
		side := types.SideSell
		if qty < 0 {
			side = types.SideBuy
		}
		orders = append(orders, types.Order{
			ID:        "kill-" + uuid.NewString(),
			Symbol:    sym,
			Side:      side,
			Quantity:  math.Abs(qty),
			Emergency: true,
		})
	}
	return orders
}

// LoggingVenue only logs what it would do. Used for dry runs.
type LoggingVenue struct {
	logger *logger.Logger
}

// NewLoggingVenue creates a dry-run venue
func NewLoggingVenue(log *logger.Logger) *LoggingVenue {
	return &LoggingVenue{logger: log.Named("dry-run")}
}

// CancelAll logs the cancel request
func (v *LoggingVenue) CancelAll(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		v.logger.Warning("[DRY RUN] would cancel all open orders")
		return nil
	}
	v.logger.Warning("[DRY RUN] would cancel open orders for %v", symbols)
	return nil
}

// Transmit logs the closing order
func (v *LoggingVenue) Transmit(ctx context.Context, order types.Order) error {
	v.logger.Warning("[DRY RUN] would send reduce-only %s %.6g %s", order.Side, order.Quantity, order.Symbol)
	return nil
}

// EmergencyHandler adapts an Executor to the state machine kill switch.
// Orders are cancelled before positions are flattened; both steps always run.
func EmergencyHandler(exec Executor, timeout time.Duration) guardian.EmergencyHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return func(result triggers.Result, snap *types.Snapshot) error {
		if result.Action != triggers.ActionFlattenAndCancel {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var positions []types.Position
		if snap != nil {
			positions = snap.Account.Positions
		}

		var errs []error
		if err := exec.CancelAll(ctx, nil); err != nil {
			errs = append(errs, fmt.Errorf("cancel all: %w", err))
		}
		if err := exec.Flatten(ctx, positions); err != nil {
			errs = append(errs, fmt.Errorf("flatten: %w", err))
		}
		return errors.Join(errs...)
	}
}
