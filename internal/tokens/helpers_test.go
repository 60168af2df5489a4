package tokens

import (
	"context"
	"sync"
	"time"

	"token-broker/internal/circuitbreaker"
	"token-broker/internal/oauth"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeProvider counts calls and answers from the configured funcs
type fakeProvider struct {
	mu        sync.Mutex
	acquires  int
	refreshes int
	validates int

	acquire  func(n int) (*oauth.Token, error)
	refresh  func(refreshToken string) (*oauth.Token, error)
	validate func(token string) (bool, error)
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) AcquireToken(context.Context) (*oauth.Token, error) {
	p.mu.Lock()
	p.acquires++
	n := p.acquires
	p.mu.Unlock()
	return p.acquire(n)
}

func (p *fakeProvider) RefreshToken(_ context.Context, refreshToken string) (*oauth.Token, error) {
	p.mu.Lock()
	p.refreshes++
	p.mu.Unlock()
	if p.refresh == nil {
		return nil, oauth.ErrUnsupported
	}
	return p.refresh(refreshToken)
}

func (p *fakeProvider) ValidateToken(_ context.Context, token string) (bool, error) {
	p.mu.Lock()
	p.validates++
	p.mu.Unlock()
	if p.validate == nil {
		return true, nil
	}
	return p.validate(token)
}

func (p *fakeProvider) Acquires() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquires
}

func bufferOf(d time.Duration) *time.Duration {
	return &d
}

func staticToken(token string, lifetime int) func(int) (*oauth.Token, error) {
	return func(int) (*oauth.Token, error) {
		return &oauth.Token{AccessToken: token, ExpiresIn: lifetime, TokenType: "Bearer"}, nil
	}
}

// recordingSink counts metric events
type recordingSink struct {
	mu           sync.Mutex
	hits         int
	misses       int
	successes    int
	failures     int
	retries      int
	rejections   int
	errors       map[string]int
	states       []circuitbreaker.State
	httpStatuses []int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{errors: make(map[string]int)}
}

func (s *recordingSink) TokenAcquisition(_ string, success bool, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if success {
		s.successes++
	} else {
		s.failures++
	}
}

func (s *recordingSink) CacheHit(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
}

func (s *recordingSink) CacheMiss(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misses++
}

func (s *recordingSink) BreakerState(_ string, state circuitbreaker.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *recordingSink) BreakerRejection(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections++
}

func (s *recordingSink) RetryAttempt(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries++
}

func (s *recordingSink) Error(_, code, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[code]++
}

func (s *recordingSink) HTTPRequest(_, _ string, status int, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.httpStatuses = append(s.httpStatuses, status)
}
