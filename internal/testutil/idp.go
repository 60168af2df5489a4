// Package testutil provides a fake identity provider for tests that need a
// real token endpoint on the wire.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
)

// IdentityProvider is an httptest server answering the client credentials
// grant. Every successful response carries the same access token.
type IdentityProvider struct {
	*httptest.Server

	AccessToken string
	ExpiresIn   int

	// FailWith, when non-zero, is returned as the status of every request.
	// 401 carries invalid_client, anything else temporarily_unavailable.
	FailWith atomic.Int32

	calls    atomic.Int32
	mu       sync.Mutex
	lastForm url.Values
}

// NewIdentityProvider starts a fake token endpoint that is closed when the
// test finishes.
func NewIdentityProvider(t testing.TB, accessToken string, expiresIn int) *IdentityProvider {
	t.Helper()

	idp := &IdentityProvider{AccessToken: accessToken, ExpiresIn: expiresIn}
	idp.Server = httptest.NewServer(http.HandlerFunc(idp.serveToken))
	t.Cleanup(idp.Close)
	return idp
}

// Calls returns the number of requests received so far
func (p *IdentityProvider) Calls() int {
	return int(p.calls.Load())
}

// LastForm returns the form of the most recent request
func (p *IdentityProvider) LastForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastForm
}

func (p *IdentityProvider) serveToken(w http.ResponseWriter, r *http.Request) {
	p.calls.Add(1)

	if err := r.ParseForm(); err == nil {
		p.mu.Lock()
		p.lastForm = r.PostForm
		p.mu.Unlock()
	}

	if status := p.FailWith.Load(); status != 0 {
		oauthErr := "temporarily_unavailable"
		if status == http.StatusUnauthorized {
			oauthErr = "invalid_client"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(status))
		json.NewEncoder(w).Encode(map[string]string{"error": oauthErr})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": p.AccessToken,
		"token_type":   "Bearer",
		"expires_in":   p.ExpiresIn,
	})
}
