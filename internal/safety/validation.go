package safety

import (
	"fmt"
	"math"
	"strings"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

func invalid(code, format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Message: fmt.Sprintf(format, args...), Code: code}
}

// Validator rejects malformed orders before any gate sees them
type Validator struct {
	MaxQuantity float64
	MaxPrice    float64
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{MaxQuantity: 1e12, MaxPrice: 1e10}
}

// ValidatePrice validates a limit price. Zero means a market order.
func (v *Validator) ValidatePrice(price float64, symbol string) ValidationResult {
	if math.IsNaN(price) {
		return invalid("INVALID_PRICE_NAN", "invalid price for %s: price is NaN", symbol)
	}
	if math.IsInf(price, 0) {
		return invalid("INVALID_PRICE_INF", "invalid price for %s: price is infinite", symbol)
	}
	if price < 0 {
		return invalid("INVALID_PRICE_NEGATIVE", "invalid price %.8f for %s: price must not be negative", price, symbol)
	}
	if price > v.MaxPrice {
		return invalid("PRICE_OUT_OF_BOUNDS", "suspicious price %.8f for %s: exceeds reasonable bounds", price, symbol)
	}
	return ValidationResult{Valid: true}
}

// ValidateQuantity validates an order quantity
func (v *Validator) ValidateQuantity(quantity float64, symbol string) ValidationResult {
	if math.IsNaN(quantity) {
		return invalid("INVALID_QUANTITY_NAN", "invalid quantity for %s: quantity is NaN", symbol)
	}
	if math.IsInf(quantity, 0) {
		return invalid("INVALID_QUANTITY_INF", "invalid quantity for %s: quantity is infinite", symbol)
	}
	if quantity <= 0 {
		return invalid("INVALID_QUANTITY_NEGATIVE", "invalid quantity %.8f for %s: quantity must be positive", quantity, symbol)
	}
	if quantity > v.MaxQuantity {
		return invalid("QUANTITY_OUT_OF_BOUNDS", "suspicious quantity %.8f for %s: exceeds reasonable bounds", quantity, symbol)
	}
	return ValidationResult{Valid: true}
}

// ValidateSymbol validates a trading symbol format
func (v *Validator) ValidateSymbol(symbol string) ValidationResult {
	if strings.TrimSpace(symbol) == "" {
		return invalid("SYMBOL_EMPTY", "symbol cannot be empty")
	}
	if len(symbol) > 32 {
		return invalid("SYMBOL_TOO_LONG", "symbol '%s' too long: maximum 32 characters allowed", symbol)
	}
	for _, char := range symbol {
		ok := (char >= 'A' && char <= 'Z') || (char >= 'a' && char <= 'z') || (char >= '0' && char <= '9') ||
			char == '-' || char == '_' || char == '.'
		if !ok {
			return invalid("SYMBOL_INVALID_CHARS", "symbol '%s' contains invalid characters", symbol)
		}
	}
	return ValidationResult{Valid: true}
}

// ValidateSide validates the order side
func (v *Validator) ValidateSide(side types.OrderSide) ValidationResult {
	if side != types.SideBuy && side != types.SideSell {
		return invalid("INVALID_SIDE", "invalid side %q: must be BUY or SELL", side)
	}
	return ValidationResult{Valid: true}
}

// ValidateOrder runs every field check and stops at the first failure
func (v *Validator) ValidateOrder(order types.Order) ValidationResult {
	checks := []func() ValidationResult{
		func() ValidationResult { return v.ValidateSymbol(order.Symbol) },
		func() ValidationResult { return v.ValidateSide(order.Side) },
		func() ValidationResult { return v.ValidateQuantity(order.Quantity, order.Symbol) },
		func() ValidationResult { return v.ValidatePrice(order.Price, order.Symbol) },
	}
	for _, check := range checks {
		if res := check(); !res.Valid {
			return res
		}
	}
	return ValidationResult{Valid: true}
}

// Name implements Gate so validation shows up in the verdict stream like any other gate
func (v *Validator) Name() string { return "validation" }

// Check implements Gate
func (v *Validator) Check(order types.Order, _ View) GateVerdict {
	if res := v.ValidateOrder(order); !res.Valid {
		return reject(v.Name(), "%s: %s", res.Code, res.Message)
	}
	return pass(v.Name(), "")
}
