// Package tokens caches bearer tokens per destination and runs the
// acquisition pipeline behind the cache.
//
// # Overview
//
// A Manager owns exactly one destination. GetToken holds the manager's lock
// for the whole check-then-act sequence, so a destination never has more
// than one acquisition in flight and callers that queue behind an
// acquisition receive its result from the cache.
//
// On a miss the pipeline runs
//
//	breaker( retry( acquire -> seal -> validate ) ) -> commit
//
// and only a fully successful attempt replaces the cached token. Without a
// configured breaker or retry policy the legacy policy applies: three
// attempts, waits of one then two seconds, network errors only.
//
// # Errors
//
// Every error returned by GetToken is an *errors.AppError carrying the
// destination, provider and endpoint in its details. An open circuit is
// reported as AUTH-003 and still matches circuitbreaker.ErrOpen through
// errors.Is.
package tokens

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"token-broker/internal/circuitbreaker"
	apperrors "token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
	"token-broker/internal/crypto"
	"token-broker/internal/metrics"
	"token-broker/internal/oauth"
	"token-broker/internal/retry"
)

// DefaultRefreshBuffer is subtracted from a token's expiry when deciding validity
const DefaultRefreshBuffer = 300 * time.Second

// Options configures a Manager
type Options struct {
	Destination string
	// Endpoint is reported in error details and status
	Endpoint string
	// RefreshBuffer defaults to DefaultRefreshBuffer when nil. Zero refreshes
	// only once a token has actually expired.
	RefreshBuffer *time.Duration
	// Retry and Breaker are optional; with neither set the legacy retry applies
	Retry   *retry.Config
	Breaker circuitbreaker.Breaker
	// Vault seals cached tokens. It should be the vault the provider seals
	// its client secret with. Nil creates one.
	Vault   *crypto.Vault
	Metrics metrics.Sink
	Logger  logging.Logger
	// Clock overrides time.Now for expiry decisions
	Clock func() time.Time
}

// cachedToken is replaced wholesale on every successful acquisition
type cachedToken struct {
	sealed        string
	sealedRefresh string
	expiresAt     time.Time
	acquiredAt    time.Time
}

func (c *cachedToken) validAt(now time.Time, buffer time.Duration) bool {
	return c != nil && now.Add(buffer).Before(c.expiresAt)
}

// Manager serves tokens for one destination
type Manager struct {
	destination string
	endpoint    string
	provider    oauth.Provider
	buffer      time.Duration
	retry       *retry.Config
	breaker     circuitbreaker.Breaker
	vault       *crypto.Vault
	metrics     metrics.Sink
	logger      logging.Logger
	clock       func() time.Time

	mu     sync.Mutex
	cached *cachedToken
}

// NewManager creates a manager for provider.
//
// Parameters:
//   - provider: the token source for this destination
//   - opts: destination name, resilience policy and collaborators
//
// Returns CFG-001 when the destination is unnamed and CFG-002 for a
// negative refresh buffer.
func NewManager(provider oauth.Provider, opts Options) (*Manager, error) {
	if opts.Destination == "" {
		return nil, apperrors.MissingKeyError("name")
	}
	if provider == nil {
		return nil, apperrors.ConfigError("token manager requires a provider").WithDetail("destination", opts.Destination)
	}
	buffer := DefaultRefreshBuffer
	if opts.RefreshBuffer != nil {
		buffer = *opts.RefreshBuffer
	}
	if buffer < 0 {
		return nil, apperrors.ConfigError(fmt.Sprintf("refresh buffer must not be negative, got %v", buffer)).
			WithDetail("destination", opts.Destination)
	}

	if opts.Vault == nil {
		vault, err := crypto.NewVault()
		if err != nil {
			return nil, err
		}
		opts.Vault = vault
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	m := &Manager{
		destination: opts.Destination,
		endpoint:    opts.Endpoint,
		provider:    provider,
		buffer:      buffer,
		breaker:     opts.Breaker,
		vault:       opts.Vault,
		metrics:     opts.Metrics,
		clock:       opts.Clock,
		logger: opts.Logger.WithFields(
			logging.String("destination", opts.Destination),
			logging.String("provider", provider.Name()),
		),
	}

	if opts.Retry != nil || opts.Breaker == nil {
		policy := retry.Legacy()
		if opts.Retry != nil {
			policy = *opts.Retry
		}
		m.retry = m.observeRetries(policy)
	}

	return m, nil
}

// Destination returns the destination name
func (m *Manager) Destination() string {
	return m.destination
}

// Provider returns the provider name
func (m *Manager) Provider() string {
	return m.provider.Name()
}

// GetToken returns a bearer token valid for at least the refresh buffer.
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached.validAt(m.clock(), m.buffer) {
		token, err := m.vault.Decrypt(m.cached.sealed)
		if err == nil {
			m.metrics.CacheHit(m.destination)
			return token, nil
		}
		m.logger.Warn("Cached token could not be unsealed, acquiring a new one", logging.Err(err))
	}
	m.metrics.CacheMiss(m.destination)

	if logging.CorrelationID(ctx) == "" {
		ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID())
	}
	logger := m.logger.WithContext(ctx)

	start := time.Now()
	entry, token, err := m.acquire(ctx)
	m.metrics.TokenAcquisition(m.destination, err == nil, time.Since(start))

	if err != nil {
		appErr := m.normalize(err)
		m.metrics.Error(m.destination, string(appErr.Code), string(appErr.Category()))
		logger.Error("Token acquisition failed", appErr,
			logging.String("error_code", string(appErr.Code)),
			logging.Duration("duration", time.Since(start)),
		)
		return "", appErr
	}

	m.cached = entry
	logger.Info("Token acquired",
		logging.Time("expires_at", entry.expiresAt),
		logging.Duration("duration", time.Since(start)),
	)
	return token, nil
}

// Invalidate drops the cached token so the next GetToken acquires a new one.
// Used when a downstream server rejects a token before its expiry.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		m.logger.Info("Cached token invalidated")
	}
	m.cached = nil
}

// Close wipes the manager's vault key. The manager is unusable afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
	m.vault.Destroy()
}

// ResetBreaker forces the circuit breaker closed, if there is one
func (m *Manager) ResetBreaker() bool {
	if m.breaker == nil {
		return false
	}
	m.breaker.Reset()
	m.logger.Info("Circuit breaker reset by operator")
	return true
}

func (m *Manager) acquire(ctx context.Context) (*cachedToken, string, error) {
	var (
		entry *cachedToken
		token string
	)

	attempt := func(ctx context.Context) error {
		var err error
		entry, token, err = m.attempt(ctx)
		return err
	}

	run := attempt
	if m.retry != nil {
		policy := *m.retry
		run = func(ctx context.Context) error {
			return policy.Do(ctx, attempt)
		}
	}

	var err error
	if m.breaker != nil {
		err = m.breaker.Call(ctx, run)
		if stderrors.Is(err, circuitbreaker.ErrOpen) {
			m.metrics.BreakerRejection(m.destination)
		}
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, "", err
	}
	return entry, token, nil
}

// attempt runs one acquisition. The entry it builds is committed to the
// cache by GetToken only after validation passed.
func (m *Manager) attempt(ctx context.Context) (*cachedToken, string, error) {
	issued, err := m.exchange(ctx)
	if err != nil {
		return nil, "", err
	}

	now := m.clock()
	sealed, err := m.vault.Encrypt(issued.AccessToken)
	if err != nil {
		return nil, "", err
	}
	entry := &cachedToken{
		sealed:     sealed,
		expiresAt:  now.Add(issued.Lifetime()),
		acquiredAt: now,
	}
	if issued.RefreshToken != "" {
		if entry.sealedRefresh, err = m.vault.Encrypt(issued.RefreshToken); err != nil {
			return nil, "", err
		}
	}

	ok, err := m.provider.ValidateToken(ctx, issued.AccessToken)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", apperrors.ValidationError("acquired token failed signature or claim validation")
	}
	return entry, issued.AccessToken, nil
}

// exchange prefers the refresh grant when the previous token left a
// refresh token behind, and falls back to a fresh acquisition.
func (m *Manager) exchange(ctx context.Context) (*oauth.Token, error) {
	if m.cached != nil && m.cached.sealedRefresh != "" {
		refreshToken, err := m.vault.Decrypt(m.cached.sealedRefresh)
		if err == nil {
			issued, err := m.provider.RefreshToken(ctx, refreshToken)
			if err == nil {
				return issued, nil
			}
			m.logger.WithContext(ctx).Warn("Token refresh failed, falling back to acquisition", logging.Err(err))
		}
	}
	return m.provider.AcquireToken(ctx)
}

func (m *Manager) observeRetries(policy retry.Config) *retry.Config {
	next := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		m.metrics.RetryAttempt(m.destination)
		m.logger.Warn("Token acquisition attempt failed, retrying",
			logging.Int("attempt", attempt+1),
			logging.Duration("delay", delay),
			logging.String("error_code", string(apperrors.GetCode(err))),
		)
		if next != nil {
			next(attempt, err, delay)
		}
	}
	return &policy
}

// normalize turns any pipeline error into an AppError. Network errors keep
// their code so callers can tell an unreachable endpoint from a rejection.
func (m *Manager) normalize(err error) *apperrors.AppError {
	var appErr *apperrors.AppError

	var open *circuitbreaker.OpenError
	if stderrors.As(err, &open) {
		appErr = apperrors.ProviderUnavailableError("token endpoint circuit breaker is open", err).
			WithDetail("retry_after_seconds", int(open.RetryAfter.Seconds()))
	} else {
		cause, attempts := err, 1
		var exhausted *retry.ExhaustedError
		if stderrors.As(err, &exhausted) {
			cause, attempts = exhausted.Last, exhausted.Attempts
		}

		appErr = classify(cause)
		if attempts > 1 {
			appErr = apperrors.Wrap(appErr.Code, fmt.Sprintf("%s (after %d attempts)", appErr.Message, attempts), err).
				WithDetails(appErr.Details).
				WithDetail("attempts", attempts)
		}
	}

	if appErr.Category() == apperrors.CategoryInternal {
		appErr = apperrors.AcquisitionError("token acquisition failed", appErr)
	}

	return appErr.WithDetails(map[string]interface{}{
		"destination": m.destination,
		"provider":    m.provider.Name(),
		"endpoint":    m.endpoint,
	})
}

func classify(err error) *apperrors.AppError {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}
	if appErr, ok := apperrors.FromTransport(err, "token acquisition"); ok {
		return appErr
	}
	return apperrors.AcquisitionError("token acquisition failed", err)
}
