package bybit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

type placeOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// PlaceReduceOnlyMarket sends a reduce-only market order and returns the exchange order id
func (c *Client) PlaceReduceOnlyMarket(ctx context.Context, category, symbol, side, qty, linkID string) (string, error) {
	params := map[string]interface{}{
		"category":    category,
		"symbol":      symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         qty,
		"reduceOnly":  true,
		"timeInForce": "IOC",
	}
	if linkID != "" {
		params["orderLinkId"] = linkID
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to place order: %w", err)
	}

	var parsed placeOrderResult
	if err := decodeResult(result, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse order response: %w", err)
	}
	return parsed.OrderID, nil
}

// CancelAllOrders cancels every open order for a symbol, or for the whole settle coin when symbol is empty
func (c *Client) CancelAllOrders(ctx context.Context, category, symbol, settleCoin string) error {
	params := map[string]interface{}{
		"category": category,
	}
	if symbol != "" {
		params["symbol"] = symbol
	} else {
		params["settleCoin"] = settleCoin
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).CancelAllOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel all orders: %w", err)
	}
	var ignored map[string]interface{}
	if err := decodeResult(result, &ignored); err != nil {
		return fmt.Errorf("failed to parse cancel response: %w", err)
	}
	return nil
}

// Flattener closes positions and cancels resting orders when the kill switch fires
type Flattener struct {
	client     *Client
	category   string
	settleCoin string
	log        *logger.Logger
}

// NewFlattener creates the kill-switch venue for one category
func NewFlattener(log *logger.Logger, client *Client, category, settleCoin string) *Flattener {
	if log == nil {
		log = logger.NewNop()
	}
	if category == "" {
		category = "linear"
	}
	if settleCoin == "" {
		settleCoin = "USDT"
	}
	return &Flattener{client: client, category: category, settleCoin: settleCoin, log: log.Named("flatten")}
}

// CancelAll cancels resting orders for symbols, or everything in the settle coin when symbols is empty
func (f *Flattener) CancelAll(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return f.client.CancelAllOrders(ctx, f.category, "", f.settleCoin)
	}
	var errs []error
	for _, sym := range symbols {
		if err := f.client.CancelAllOrders(ctx, f.category, sym, ""); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
		}
	}
	return errors.Join(errs...)
}

// Transmit sends a kill-switch closing order as a reduce-only market order.
// A position already closed on the exchange counts as done.
func (f *Flattener) Transmit(ctx context.Context, order types.Order) error {
	if !order.Emergency || !order.IsMarket() {
		return fmt.Errorf("flattener only sends kill-switch market orders, got %s %s", order.ID, order.Symbol)
	}
	if order.Quantity <= 0 || math.IsNaN(order.Quantity) || math.IsInf(order.Quantity, 0) {
		return fmt.Errorf("invalid closing quantity %g for %s", order.Quantity, order.Symbol)
	}
	side := "Sell"
	if order.Side == types.SideBuy {
		side = "Buy"
	}
	qty := decimal.NewFromFloat(order.Quantity).String()
	linkID := "gd" + strings.ReplaceAll(uuid.NewString(), "-", "")

	orderID, err := f.client.PlaceReduceOnlyMarket(ctx, f.category, order.Symbol, side, qty, linkID)
	if err != nil {
		if isAlreadyFlat(err) {
			return nil
		}
		return fmt.Errorf("%s: %w", order.Symbol, err)
	}
	f.log.Warning("Flatten %s %s %s sent (order %s)", side, qty, order.Symbol, orderID)
	return nil
}
