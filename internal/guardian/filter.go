package guardian

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// Adjustment explains why a permitted target differs from the desired one
type Adjustment struct {
	Symbol    string  `json:"symbol"`
	Desired   float64 `json:"desired"`
	Permitted float64 `json:"permitted"`
	Reason    string  `json:"reason"`
}

// FilterResult is the permitted target set plus the adjustments made
type FilterResult struct {
	Mode        types.Mode             `json:"mode"`
	Targets     []types.TargetPosition `json:"targets"`
	Adjustments []Adjustment           `json:"adjustments,omitempty"`
}

// PortfolioFilter constrains strategy targets to what the mode allows
type PortfolioFilter struct{}

// NewPortfolioFilter creates a new filter
func NewPortfolioFilter() *PortfolioFilter {
	return &PortfolioFilter{}
}

// Apply returns the permitted targets.
//   - RUNNING passes targets through.
//   - REDUCE_ONLY keeps each target between zero and the current position, so
//     it can shrink a position but never grow or flip it.
//   - HALTED, INIT and MANUAL_OVERRIDE freeze every target at the current position.
//
// Malformed targets (NaN or infinite) are frozen in every mode.
func (f *PortfolioFilter) Apply(mode types.Mode, desired []types.TargetPosition, current types.Account) FilterResult {
	result := FilterResult{Mode: mode, Targets: make([]types.TargetPosition, 0, len(desired))}

	for _, target := range desired {
		cur := current.NetQuantity(target.Symbol)
		permitted, reason := f.permit(mode, target.Quantity, cur)

		result.Targets = append(result.Targets, types.TargetPosition{Symbol: target.Symbol, Quantity: permitted})
		if permitted != target.Quantity {
			result.Adjustments = append(result.Adjustments, Adjustment{
				Symbol:    target.Symbol,
				Desired:   target.Quantity,
				Permitted: permitted,
				Reason:    reason,
			})
		}
	}
	return result
}

func (f *PortfolioFilter) permit(mode types.Mode, desired, cur float64) (float64, string) {
	if math.IsNaN(desired) || math.IsInf(desired, 0) {
		return cur, "malformed target"
	}

	switch mode {
	case types.ModeRunning:
		return desired, ""
	case types.ModeReduceOnly:
		lo, hi := math.Min(0, cur), math.Max(0, cur)
		permitted := math.Max(lo, math.Min(hi, desired))
		switch {
		case permitted == desired:
			return desired, ""
		case cur == 0:
			return permitted, "reduce-only: opening trade stripped"
		case (desired > 0) != (cur > 0) && desired != 0:
			return permitted, "reduce-only: position flip limited to flat"
		default:
			return permitted, "reduce-only: increase stripped"
		}
	default:
		return cur, fmt.Sprintf("%s: targets frozen", mode)
	}
}
