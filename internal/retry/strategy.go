// Package retry runs fallible operations again after a computed backoff.
//
// A Config pairs a Strategy, which only computes delays, with an attempt
// budget and a predicate that decides which errors are worth another try.
// Errors the predicate rejects are returned immediately, unwrapped, no matter
// how many attempts remain.
package retry

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"time"
)

// Strategy computes the delay before the retry that follows attempt.
// attempt is zero based: Delay(0) is the wait after the first failure.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same interval before every retry
type FixedBackoff struct {
	Interval time.Duration
}

// Delay implements Strategy
func (f FixedBackoff) Delay(int) time.Duration {
	return f.Interval
}

// LinearBackoff waits Initial + attempt*Increment
type LinearBackoff struct {
	Initial   time.Duration
	Increment time.Duration
}

// Delay implements Strategy
func (l LinearBackoff) Delay(attempt int) time.Duration {
	return l.Initial + time.Duration(attempt)*l.Increment
}

// ExponentialBackoff waits min(Initial * Multiplier^attempt, Max).
// A zero Max leaves the delay uncapped.
type ExponentialBackoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay implements Strategy
func (e ExponentialBackoff) Delay(attempt int) time.Duration {
	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2.0
	}

	delay := float64(e.Initial) * math.Pow(multiplier, float64(attempt))
	if e.Max > 0 && delay > float64(e.Max) {
		return e.Max
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Jitter adds up to Factor*delay of random time on top of Base
type Jitter struct {
	Base   Strategy
	Factor float64
}

// Delay implements Strategy
func (j Jitter) Delay(attempt int) time.Duration {
	delay := j.Base.Delay(attempt)
	if j.Factor <= 0 {
		return delay
	}
	spread := int64(float64(delay) * j.Factor)
	return delay + time.Duration(randomInt64n(spread))
}

// randomInt64n returns a random int64 in [0, n)
func randomInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}

	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().UnixNano() % n
	}
	return int64(binary.BigEndian.Uint64(b[:])>>1) % n
}
