package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapExternal_Classifies(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"deadline", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"wrapped deadline", fmt.Errorf("tickers: %w", context.DeadlineExceeded), ErrorCategoryTimeout},
		{"timeout text", fmt.Errorf("i/o timeout"), ErrorCategoryTimeout},
		{"other", fmt.Errorf("connection refused"), ErrorCategoryExternalIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ge := WrapExternal(tt.err, "bybit", "fetch")
			assert.Equal(t, tt.want, ge.Category)
			assert.True(t, ge.FailsClosed())
			assert.ErrorIs(t, ge, tt.err)
		})
	}
	assert.Nil(t, WrapExternal(nil, "bybit", "fetch"))
}

func TestIsFatalAndFailsClosed(t *testing.T) {
	cfg := NewConfigurationError("config", "validate", "bad threshold")
	assert.True(t, IsFatal(cfg))
	assert.True(t, IsFatal(fmt.Errorf("startup: %w", cfg)))
	assert.False(t, IsFatal(NewInputError("trigger", "evaluate", "no timestamp")))
	assert.False(t, IsFatal(fmt.Errorf("plain")))

	assert.True(t, FailsClosed(NewInputError("trigger", "evaluate", "no timestamp")))
	assert.True(t, FailsClosed(fmt.Errorf("unknown")))
	assert.False(t, FailsClosed(NewComputationError("risk", "var", "empty series")))
	assert.False(t, FailsClosed(nil))
}

func TestConfigErrors(t *testing.T) {
	var ce ConfigErrors
	ce.Component = "config"
	assert.NoError(t, ce.Err())

	ce.Add("margin.warning %.2f must be below danger %.2f", 0.9, 0.8)
	ce.Add("stale.max_age must be positive")
	err := ce.Err()
	assert.Error(t, err)
	assert.Equal(t, ErrorCategoryConfiguration, CategoryOf(err))
	assert.Contains(t, err.Error(), "stale.max_age")
}
