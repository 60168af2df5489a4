package oauth

import (
	"context"
	"strings"

	"golang.org/x/oauth2/google"

	"token-broker/internal/common/logging"
)

// healthcareScope is the substring expected in scopes for the Cloud Healthcare API
const healthcareScope = "cloud-healthcare"

// GoogleProvider is the client-credentials flow against Google's token
// endpoint, which it defaults to when none is configured.
type GoogleProvider struct {
	cc        *clientCredentials
	validator *Validator
}

// NewGoogleProvider builds the Google provider
func NewGoogleProvider(cfg Config, deps Deps) (*GoogleProvider, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if cfg.TokenEndpoint == "" {
		cfg.TokenEndpoint = google.Endpoint.TokenURL
	}

	cc, err := newClientCredentials(TypeGoogle, cfg, deps)
	if err != nil {
		return nil, err
	}

	if !strings.Contains(cfg.Scope, healthcareScope) {
		cc.logger.Warn("Google scope does not include Cloud Healthcare API",
			logging.String("scope", cfg.Scope),
			logging.String("expected", healthcareScope),
		)
	}

	validator, err := NewValidator(cfg.Validation, deps.HTTPClient, cc.logger)
	if err != nil {
		return nil, err
	}
	return &GoogleProvider{cc: cc, validator: validator}, nil
}

func (p *GoogleProvider) Name() string {
	return TypeGoogle
}

func (p *GoogleProvider) AcquireToken(ctx context.Context) (*Token, error) {
	return p.cc.acquire(ctx)
}

func (p *GoogleProvider) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	return p.cc.refresh(ctx, refreshToken)
}

func (p *GoogleProvider) ValidateToken(ctx context.Context, token string) (bool, error) {
	return p.validator.Validate(ctx, token)
}
