package oauth

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
)

// ValidationConfig controls signature verification of acquired tokens.
// Verification is off unless PublicKeyPEM or JWKSURI is set.
type ValidationConfig struct {
	PublicKeyPEM string
	JWKSURI      string
	Audience     string
	Issuer       string
	// Algorithms defaults to RS256
	Algorithms []string
	Leeway     time.Duration
	// KeySetTTL is how long a fetched key set is trusted, default one hour
	KeySetTTL time.Duration
	// SignatureRequired turns on the azure provider's tenant key set
	SignatureRequired bool
}

// Enabled reports whether any verification key is configured
func (c ValidationConfig) Enabled() bool {
	return c.PublicKeyPEM != "" || c.JWKSURI != ""
}

// Validator verifies JWT access tokens against a static key or a key set
type Validator struct {
	static     interface{}
	keys       *KeySet
	audience   string
	issuer     string
	algorithms []string
	leeway     time.Duration
	clock      func() time.Time
	logger     logging.Logger
}

// NewValidator returns nil, nil when cfg configures no key
func NewValidator(cfg ValidationConfig, client *http.Client, logger logging.Logger) (*Validator, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	v := &Validator{
		audience:   cfg.Audience,
		issuer:     cfg.Issuer,
		algorithms: cfg.Algorithms,
		leeway:     cfg.Leeway,
		clock:      time.Now,
		logger:     logger,
	}
	if len(v.algorithms) == 0 {
		v.algorithms = []string{"RS256"}
	}

	if cfg.PublicKeyPEM != "" {
		key, err := parsePublicKeyPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, err
		}
		v.static = key
	} else {
		v.keys = NewKeySet(cfg.JWKSURI, client, cfg.KeySetTTL, logger)
	}

	logger.Info("JWT validation enabled",
		logging.String("audience", cfg.Audience),
		logging.String("issuer", cfg.Issuer),
		logging.Any("algorithms", v.algorithms),
	)
	return v, nil
}

// Validate checks signature, exp, nbf and, when configured, aud and iss.
// A nil Validator accepts every token.
func (v *Validator) Validate(ctx context.Context, token string) (bool, error) {
	if v == nil {
		return true, nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.algorithms),
		jwt.WithTimeFunc(v.clock),
		jwt.WithLeeway(v.leeway),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var keyErr *apperrors.AppError
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if v.static != nil {
			return v.static, nil
		}
		kid, _ := t.Header["kid"].(string)
		key, err := v.keys.Key(ctx, kid)
		if err != nil {
			if appErr, ok := apperrors.As(err); ok {
				keyErr = appErr
			}
			return nil, err
		}
		return key, nil
	}, opts...)

	if keyErr != nil {
		return false, keyErr
	}
	if err != nil {
		v.logger.Warn("JWT validation failed", logging.Err(err))
		return false, nil
	}

	v.logger.Debug("JWT validation successful", logging.String("algorithm", parsed.Method.Alg()))
	return true, nil
}

func parsePublicKeyPEM(data []byte) (interface{}, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseEdPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	return nil, apperrors.ConfigError("jwt public key is not a PEM encoded RSA, EC or Ed25519 public key").
		WithDetail("key", "jwt_public_key")
}
