package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sony/gobreaker"

	"token-broker/internal/common/logging"
)

// GoBreakerAdapter runs the same contract on Sony's gobreaker.
//
// Differences from the native engine: gobreaker measures the open timeout from
// the moment it tripped rather than from the last failure, and an error the
// ExceptionFilter rejects is reported to gobreaker as a success, so it clears
// the consecutive failure count instead of leaving it untouched. NewEngine
// never selects this adapter for a config with an ExceptionFilter.
type GoBreakerAdapter struct {
	name     string
	settings gobreaker.Settings
	logger   logging.Logger

	mu         sync.RWMutex
	breaker    *gobreaker.CircuitBreaker
	rejections atomic.Uint64
}

// NewGoBreaker creates a circuit breaker using Sony's gobreaker implementation
func NewGoBreaker(name string, config Config, logger logging.Logger) *GoBreakerAdapter {
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

	threshold := uint32(config.FailureThreshold)
	filter := config.ExceptionFilter
	hook := config.OnStateChange

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.String("breaker", name),
				logging.String("from", fromGoBreaker(from).String()),
				logging.String("to", fromGoBreaker(to).String()),
			)
			if hook != nil {
				hook(name, fromGoBreaker(from), fromGoBreaker(to))
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return filter != nil && !filter(err)
		},
	}

	return &GoBreakerAdapter{
		name:     name,
		settings: settings,
		logger:   logger,
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

// Call runs fn within the circuit breaker
func (g *GoBreakerAdapter) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	g.mu.RLock()
	breaker := g.breaker
	g.mu.RUnlock()

	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.rejections.Add(1)
		return &OpenError{Name: g.name, RetryAfter: g.settings.Timeout}
	}
	return err
}

// State returns the current state of the circuit breaker
func (g *GoBreakerAdapter) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fromGoBreaker(g.breaker.State())
}

// Stats returns current statistics
func (g *GoBreakerAdapter) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	counts := g.breaker.Counts()
	return Stats{
		Name:       g.name,
		State:      fromGoBreaker(g.breaker.State()).String(),
		Failures:   int(counts.ConsecutiveFailures),
		Rejections: g.rejections.Load(),
	}
}

// Reset replaces the breaker with a fresh closed one.
// gobreaker has no reset of its own.
func (g *GoBreakerAdapter) Reset() {
	g.mu.Lock()
	previous := g.breaker.State()
	g.breaker = gobreaker.NewCircuitBreaker(g.settings)
	g.mu.Unlock()

	if previous != gobreaker.StateClosed {
		g.settings.OnStateChange(g.name, previous, gobreaker.StateClosed)
	}
}

func fromGoBreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// NewEngine builds the breaker selected by name: "gobreaker" or the native engine.
// A config with an ExceptionFilter always gets the native engine, since
// gobreaker cannot leave filtered failures out of its counts.
func NewEngine(engine, name string, config Config, logger logging.Logger) Breaker {
	if engine == "gobreaker" {
		if config.ExceptionFilter == nil {
			return NewGoBreaker(name, config, logger)
		}
		if logger == nil {
			logger = logging.GetGlobalLogger()
		}
		logger.Warn("gobreaker engine does not support exception filters, using native engine",
			logging.String("breaker", name),
		)
	}
	return New(name, config, logger)
}

var (
	_ Breaker = (*CircuitBreaker)(nil)
	_ Breaker = (*GoBreakerAdapter)(nil)
)
