// Package ratelimit throttles requests to token endpoints per destination.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Config represents rate limiter configuration
type Config struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int     `json:"burst_size" yaml:"burst_size"`
}

// Validate fills defaults and rejects negative values
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative, got %v", c.RequestsPerSecond)
	}
	if c.BurstSize < 0 {
		return fmt.Errorf("burst_size must not be negative, got %d", c.BurstSize)
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 10
	}
	if c.BurstSize == 0 {
		c.BurstSize = int(c.RequestsPerSecond)
		if c.BurstSize < 1 {
			c.BurstSize = 1
		}
	}
	return nil
}

// Limiter throttles by key
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// localLimiter keeps one golang.org/x/time/rate limiter per key
type localLimiter struct {
	mu       sync.Mutex
	config   Config
	limiters map[string]*rate.Limiter
}

// NewLocalLimiter creates a limiter. A disabled config yields a limiter that never blocks.
func NewLocalLimiter(config Config) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &localLimiter{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// Wait blocks until key may make a request or ctx is done
func (rl *localLimiter) Wait(ctx context.Context, key string) error {
	if !rl.config.Enabled {
		return nil
	}
	return rl.limiterFor(key).Wait(ctx)
}

func (rl *localLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)
		rl.limiters[key] = limiter
	}
	return limiter
}
