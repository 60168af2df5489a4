package oauth

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
)

const (
	defaultKeySetTTL = time.Hour
	// minRefetchInterval limits refetches triggered by unknown key ids
	minRefetchInterval = 30 * time.Second
)

// ErrKeyNotFound is returned when no key in the set matches a token's kid
var ErrKeyNotFound = errors.New("signing key not found in key set")

// KeySet is a cached JSON Web Key Set.
//
// Concurrent fetches of the same set are collapsed into one request. A
// lookup for an unknown kid refetches the set once, so rotated keys are
// picked up before the TTL expires.
type KeySet struct {
	uri    string
	client *http.Client
	ttl    time.Duration
	clock  func() time.Time
	logger logging.Logger

	mu      sync.RWMutex
	keys    map[string]interface{}
	fetched time.Time

	group singleflight.Group
}

// NewKeySet creates a key set that is fetched lazily from uri
func NewKeySet(uri string, client *http.Client, ttl time.Duration, logger logging.Logger) *KeySet {
	if client == nil {
		client = http.DefaultClient
	}
	if ttl <= 0 {
		ttl = defaultKeySetTTL
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &KeySet{
		uri:    uri,
		client: client,
		ttl:    ttl,
		clock:  time.Now,
		logger: logger.WithFields(logging.String("jwks_uri", uri)),
	}
}

// Key returns the verification key for kid. An empty kid matches a set
// holding exactly one key.
func (s *KeySet) Key(ctx context.Context, kid string) (interface{}, error) {
	keys, err := s.load(ctx, false)
	if err != nil {
		return nil, err
	}
	if key, ok := pick(keys, kid); ok {
		return key, nil
	}

	keys, err = s.load(ctx, true)
	if err != nil {
		return nil, err
	}
	if key, ok := pick(keys, kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

func pick(keys map[string]interface{}, kid string) (interface{}, bool) {
	if kid == "" && len(keys) == 1 {
		for _, key := range keys {
			return key, true
		}
	}
	key, ok := keys[kid]
	return key, ok
}

func (s *KeySet) load(ctx context.Context, refetch bool) (map[string]interface{}, error) {
	if keys, ok := s.cached(refetch); ok {
		return keys, nil
	}

	result, err, _ := s.group.Do(s.uri, func() (interface{}, error) {
		if keys, ok := s.cached(refetch); ok {
			return keys, nil
		}

		keys, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.keys = keys
		s.fetched = s.clock()
		s.mu.Unlock()

		s.logger.Debug("Fetched key set", logging.Int("keys", len(keys)))
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]interface{}), nil
}

// cached returns the current keys if they may be used. A refetch is
// satisfied by the cache only when the last fetch was very recent.
func (s *KeySet) cached(refetch bool) (map[string]interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.keys == nil {
		return nil, false
	}
	age := s.clock().Sub(s.fetched)
	if refetch {
		return s.keys, age < minRefetchInterval
	}
	return s.keys, age < s.ttl
}

func (s *KeySet) fetch(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.uri, nil)
	if err != nil {
		return nil, apperrors.ConfigError(fmt.Sprintf("invalid jwks uri: %v", err)).WithDetail("jwks_uri", s.uri)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if appErr, ok := apperrors.FromTransport(err, "key set fetch"); ok {
			return nil, appErr.WithDetail("jwks_uri", s.uri)
		}
		return nil, apperrors.ConnectionError("key set fetch failed", err).WithDetail("jwks_uri", s.uri)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.ConnectionError(fmt.Sprintf("key set endpoint returned status %d", resp.StatusCode), nil).
			WithDetail("jwks_uri", s.uri)
	}

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&set); err != nil {
		return nil, apperrors.ConnectionError("key set response is not valid JSON", err).WithDetail("jwks_uri", s.uri)
	}

	keys := make(map[string]interface{}, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		key, err := jwk.publicKey()
		if err != nil {
			s.logger.Warn("Skipping unusable key", logging.String("kid", jwk.Kid), logging.Err(err))
			continue
		}
		keys[jwk.Kid] = key
	}
	return keys, nil
}

// jsonWebKey holds the RFC 7517 members needed for public verification keys
type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (k jsonWebKey) publicKey() (interface{}, error) {
	switch k.Kty {
	case "RSA":
		n, err := decodeBigInt(k.N)
		if err != nil {
			return nil, fmt.Errorf("modulus: %w", err)
		}
		e, err := decodeBigInt(k.E)
		if err != nil {
			return nil, fmt.Errorf("exponent: %w", err)
		}
		if !e.IsInt64() || e.Int64() > 1<<31-1 {
			return nil, errors.New("exponent out of range")
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil

	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		x, err := decodeBigInt(k.X)
		if err != nil {
			return nil, fmt.Errorf("x: %w", err)
		}
		y, err := decodeBigInt(k.Y)
		if err != nil {
			return nil, fmt.Errorf("y: %w", err)
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil

	case "OKP":
		if k.Crv != "Ed25519" {
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		x, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("x: %w", err)
		}
		if len(x) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("x has %d bytes", len(x))
		}
		return ed25519.PublicKey(x), nil

	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

func decodeBigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("missing value")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
