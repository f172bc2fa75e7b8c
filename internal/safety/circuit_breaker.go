package safety

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold uint32        `json:"failure_threshold" yaml:"failure_threshold"` // consecutive failures before opening
	SuccessThreshold uint32        `json:"success_threshold" yaml:"success_threshold"` // successes to close from half-open
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`                     // time to wait before a trial call
}

// CircuitBreaker stops calling a failing collaborator for a while so that a
// dead data feed fails fast instead of eating the whole fetch timeout every cycle.
type CircuitBreaker struct {
	config        CircuitBreakerConfig
	state         CircuitBreakerState
	failures      uint32
	successes     uint32
	lastFailure   time.Time
	nextAttempt   time.Time
	mutex         sync.Mutex
	name          string
	now           func() time.Time
	onStateChange func(name string, from, to CircuitBreakerState)
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		name:   name,
		now:    time.Now,
	}
}

// SetStateChangeCallback sets a callback run synchronously, outside the lock, on state changes
func (cb *CircuitBreaker) SetStateChangeCallback(callback func(name string, from, to CircuitBreakerState)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = callback
}

// Execute runs fn with circuit breaker protection. A context error from fn
// counts as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mutex.Lock()
	var change func()
	defer func() {
		cb.mutex.Unlock()
		if change != nil {
			change()
		}
	}()

	if cb.state == StateOpen {
		if cb.now().Before(cb.nextAttempt) {
			return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
		}
		change = cb.setState(StateHalfOpen)
		cb.successes = 0
	}
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mutex.Lock()
	var change func()
	defer func() {
		cb.mutex.Unlock()
		if change != nil {
			change()
		}
	}()

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
			change = cb.open()
		}
		return
	}

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			change = cb.setState(StateClosed)
			cb.successes = 0
		}
	}
}

func (cb *CircuitBreaker) open() func() {
	cb.nextAttempt = cb.now().Add(cb.config.Timeout)
	cb.successes = 0
	return cb.setState(StateOpen)
}

// setState changes state and returns the callback invocation to run after unlock
func (cb *CircuitBreaker) setState(newState CircuitBreakerState) func() {
	oldState := cb.state
	cb.state = newState
	if cb.onStateChange == nil || oldState == newState {
		return nil
	}
	fn, name := cb.onStateChange, cb.name
	return func() { fn(name, oldState, newState) }
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// CircuitBreakerStats holds statistics about a circuit breaker
type CircuitBreakerStats struct {
	Name        string
	State       CircuitBreakerState
	Failures    uint32
	Successes   uint32
	LastFailure time.Time
	NextAttempt time.Time
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return CircuitBreakerStats{
		Name:        cb.name,
		State:       cb.state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
		NextAttempt: cb.nextAttempt,
	}
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	change := cb.setState(StateClosed)
	cb.failures = 0
	cb.successes = 0
	cb.mutex.Unlock()
	if change != nil {
		change()
	}
}
