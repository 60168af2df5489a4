package tokens

import (
	"time"

	"token-broker/internal/circuitbreaker"
	apperrors "token-broker/internal/common/errors"
)

// Token states reported by Status
const (
	StateNoToken = "NO_TOKEN"
	StateValid   = "VALID"
	// StateStale means the token still works but is inside the refresh buffer
	StateStale   = "STALE"
	StateExpired = "EXPIRED"
)

// Status is an operator view of one destination. It never contains the token.
type Status struct {
	Destination    string                `json:"destination"`
	Provider       string                `json:"provider"`
	Endpoint       string                `json:"endpoint,omitempty"`
	State          string                `json:"state"`
	TokenCached    bool                  `json:"token_cached"`
	AcquiredAt     *time.Time            `json:"acquired_at,omitempty"`
	ExpiresAt      *time.Time            `json:"expires_at,omitempty"`
	ExpiresIn      int                   `json:"expires_in_seconds,omitempty"`
	RefreshBuffer  int                   `json:"refresh_buffer_seconds"`
	Code           apperrors.Code        `json:"code,omitempty"`
	Message        string                `json:"message,omitempty"`
	CircuitBreaker *circuitbreaker.Stats `json:"circuit_breaker,omitempty"`
}

// Status reports the cache and breaker state without acquiring anything.
// A token inside the refresh buffer is flagged TOK-003 and an expired one
// TOK-002.
func (m *Manager) Status() Status {
	m.mu.Lock()
	cached := m.cached
	m.mu.Unlock()

	now := m.clock()
	status := Status{
		Destination:   m.destination,
		Provider:      m.provider.Name(),
		Endpoint:      m.endpoint,
		State:         StateNoToken,
		RefreshBuffer: int(m.buffer / time.Second),
	}

	if cached != nil {
		acquired, expires := cached.acquiredAt, cached.expiresAt
		status.TokenCached = true
		status.AcquiredAt = &acquired
		status.ExpiresAt = &expires

		remaining := expires.Sub(now)
		switch {
		case cached.validAt(now, m.buffer):
			status.State = StateValid
			status.ExpiresIn = int(remaining / time.Second)
		case remaining > 0:
			status.State = StateStale
			status.ExpiresIn = int(remaining / time.Second)
			status.Code = apperrors.CodeTokenRefreshSoon
			status.Message = apperrors.Describe(apperrors.CodeTokenRefreshSoon)
		default:
			status.State = StateExpired
			status.Code = apperrors.CodeTokenExpired
			status.Message = apperrors.Describe(apperrors.CodeTokenExpired)
		}
	}

	if m.breaker != nil {
		stats := m.breaker.Stats()
		status.CircuitBreaker = &stats
	}
	return status
}
