package oauth

import (
	"context"
)

// GenericProvider speaks the plain client-credentials grant to any RFC 6749
// token endpoint. Keycloak destinations use it unchanged.
type GenericProvider struct {
	name      string
	cc        *clientCredentials
	validator *Validator
}

// NewGenericProvider builds the generic client-credentials provider
func NewGenericProvider(cfg Config, deps Deps) (*GenericProvider, error) {
	return newGeneric(TypeGeneric, cfg, deps)
}

// NewKeycloakProvider is the generic provider registered under its own name
func NewKeycloakProvider(cfg Config, deps Deps) (*GenericProvider, error) {
	return newGeneric(TypeKeycloak, cfg, deps)
}

func newGeneric(name string, cfg Config, deps Deps) (*GenericProvider, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}

	cc, err := newClientCredentials(name, cfg, deps)
	if err != nil {
		return nil, err
	}

	validator, err := NewValidator(cfg.Validation, deps.HTTPClient, cc.logger)
	if err != nil {
		return nil, err
	}

	return &GenericProvider{name: name, cc: cc, validator: validator}, nil
}

// Name returns the provider type
func (p *GenericProvider) Name() string {
	return p.name
}

// AcquireToken requests a token with grant_type=client_credentials
func (p *GenericProvider) AcquireToken(ctx context.Context) (*Token, error) {
	return p.cc.acquire(ctx)
}

// RefreshToken requests a token with grant_type=refresh_token. The prior
// refresh token is kept when the response does not rotate it.
func (p *GenericProvider) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	return p.cc.refresh(ctx, refreshToken)
}

// ValidateToken verifies the token when a key is configured
func (p *GenericProvider) ValidateToken(ctx context.Context, token string) (bool, error) {
	return p.validator.Validate(ctx, token)
}
