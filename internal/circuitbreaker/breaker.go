// Package circuitbreaker isolates callers from a failing dependency.
//
// A breaker counts consecutive qualifying failures. Once FailureThreshold is
// reached it opens and rejects every call with an *OpenError without running
// it. The first call made after Timeout has elapsed since the last failure
// moves the breaker to half-open and is let through: success closes the
// breaker, failure opens it again and restarts the timeout.
//
// The breaker lock is held only while deciding whether a call may run and
// while recording its outcome, never while the call itself executes.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"token-broker/internal/common/logging"
)

// State represents the current state of the circuit breaker
type State int

const (
	// StateClosed means calls run normally
	StateClosed State = iota
	// StateOpen means calls are rejected without running
	StateOpen
	// StateHalfOpen means the breaker is probing whether the dependency recovered
	StateHalfOpen
)

func (s State) String() string {
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

// ErrOpen matches every rejection made by an open breaker
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned instead of running the call while the breaker is open
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is open, retry after %s", e.Name, e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrOpen) hold for OpenError
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Breaker is implemented by both engines
type Breaker interface {
	Call(ctx context.Context, fn func(ctx context.Context) error) error
	State() State
	Stats() Stats
	Reset()
}

// Config holds the configuration for a circuit breaker
type Config struct {
	// FailureThreshold is the number of consecutive qualifying failures that opens the breaker
	FailureThreshold int
	// Timeout is measured from the last failure before a half-open probe is allowed
	Timeout time.Duration
	// ExceptionFilter decides which errors count as failures. Nil counts all.
	ExceptionFilter func(error) bool
	// OnStateChange is called synchronously after each transition, outside the lock
	OnStateChange func(name string, from, to State)
	// Clock overrides time.Now in tests
	Clock func() time.Time
}

// DefaultConfig returns the defaults used for token endpoints
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive, got %d", c.FailureThreshold)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	return nil
}

// Stats is a snapshot of a breaker
type Stats struct {
	Name        string     `json:"name"`
	State       string     `json:"state"`
	Failures    int        `json:"failures"`
	Rejections  uint64     `json:"rejections"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
}

// CircuitBreaker is the native three-state breaker.
type CircuitBreaker struct {
	name   string
	config Config
	logger logging.Logger

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	rejections  uint64
}

// New creates a closed circuit breaker. An invalid config falls back to
// DefaultConfig, keeping any filter, hook and clock that were set.
func New(name string, config Config, logger logging.Logger) *CircuitBreaker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.String("breaker", name),
			logging.Err(err),
		)
		defaults := DefaultConfig()
		config.FailureThreshold = defaults.FailureThreshold
		config.Timeout = defaults.Timeout
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
	}
}

// Call runs fn unless the breaker is open.
//
// Errors from fn are returned unchanged. Rejections return *OpenError.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()

	if cb.state != StateOpen {
		cb.mu.Unlock()
		return nil
	}

	elapsed := cb.config.Clock().Sub(cb.lastFailure)
	if elapsed >= cb.config.Timeout {
		transition := cb.setState(StateHalfOpen)
		cb.mu.Unlock()
		cb.notify(transition)
		return nil
	}

	cb.rejections++
	cb.mu.Unlock()
	return &OpenError{Name: cb.name, RetryAfter: cb.config.Timeout - elapsed}
}

func (cb *CircuitBreaker) afterCall(err error) {
	if err != nil && cb.config.ExceptionFilter != nil && !cb.config.ExceptionFilter(err) {
		return
	}

	cb.mu.Lock()
	var transition *stateChange
	if err == nil {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			transition = cb.setState(StateClosed)
		}
	} else {
		cb.failures++
		cb.lastFailure = cb.config.Clock()
		switch cb.state {
		case StateHalfOpen:
			transition = cb.setState(StateOpen)
		case StateClosed:
			if cb.failures >= cb.config.FailureThreshold {
				transition = cb.setState(StateOpen)
			}
		}
	}
	cb.mu.Unlock()

	cb.notify(transition)
}

type stateChange struct {
	from, to State
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(to State) *stateChange {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	return &stateChange{from: from, to: to}
}

func (cb *CircuitBreaker) notify(change *stateChange) {
	if change == nil {
		return
	}

	if change.to == StateOpen {
		cb.logger.Warn("Circuit breaker opened",
			logging.String("breaker", cb.name),
			logging.String("from", change.from.String()),
			logging.Duration("timeout", cb.config.Timeout),
		)
	} else {
		cb.logger.Info("Circuit breaker state changed",
			logging.String("breaker", cb.name),
			logging.String("from", change.from.String()),
			logging.String("to", change.to.String()),
		)
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, change.from, change.to)
	}
}

// Reset forces the breaker closed with a zero failure count
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.failures = 0
	cb.lastFailure = time.Time{}
	transition := cb.setState(StateClosed)
	cb.mu.Unlock()

	cb.notify(transition)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns the current statistics
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := Stats{
		Name:       cb.name,
		State:      cb.state.String(),
		Failures:   cb.failures,
		Rejections: cb.rejections,
	}

	if !cb.lastFailure.IsZero() {
		last := cb.lastFailure
		stats.LastFailure = &last
	}

	return stats
}
