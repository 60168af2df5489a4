// Package metrics defines the sink token managers report to.
package metrics

import (
	"time"

	"token-broker/internal/circuitbreaker"
)

// Sink receives token lifecycle events. Implementations must be safe for
// concurrent use.
type Sink interface {
	TokenAcquisition(server string, success bool, duration time.Duration)
	CacheHit(server string)
	CacheMiss(server string)
	BreakerState(server string, state circuitbreaker.State)
	BreakerRejection(server string)
	RetryAttempt(server string)
	Error(server, code, category string)
	HTTPRequest(server, method string, status int, duration time.Duration)
}

// Nop discards every event
type Nop struct{}

func (Nop) TokenAcquisition(string, bool, time.Duration) {}
func (Nop) CacheHit(string) {}
func (Nop) CacheMiss(string) {}
func (Nop) BreakerState(string, circuitbreaker.State) {}
func (Nop) BreakerRejection(string) {}
func (Nop) RetryAttempt(string) {}
func (Nop) Error(string, string, string) {}
func (Nop) HTTPRequest(string, string, int, time.Duration) {}

var _ Sink = Nop{}
