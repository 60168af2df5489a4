package oauth

import (
	"context"
	"fmt"

	apperrors "token-broker/internal/common/errors"
)

// AcquireFunc performs a non-standard credential exchange
type AcquireFunc func(ctx context.Context) (*Token, error)

// RefreshFunc performs a non-standard refresh exchange
type RefreshFunc func(ctx context.Context, refreshToken string) (*Token, error)

// CustomProvider adapts caller-supplied exchange functions to Provider.
// Errors that are not already typed are classified the same way the
// built-in providers classify theirs.
type CustomProvider struct {
	name      string
	acquire   AcquireFunc
	refresh   RefreshFunc
	validator *Validator
}

// NewCustomProvider creates a provider around acquire. refresh and
// validator may be nil.
func NewCustomProvider(name string, acquire AcquireFunc, refresh RefreshFunc, validator *Validator) *CustomProvider {
	return &CustomProvider{name: name, acquire: acquire, refresh: refresh, validator: validator}
}

func (p *CustomProvider) Name() string {
	return p.name
}

func (p *CustomProvider) AcquireToken(ctx context.Context) (*Token, error) {
	token, err := p.acquire(ctx)
	return p.finish(token, err, apperrors.CodeTokenAcquisitionFailed)
}

func (p *CustomProvider) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	if p.refresh == nil {
		return nil, apperrors.RefreshError("custom provider has no refresh exchange", fmt.Errorf("refresh: %w", ErrUnsupported)).
			WithDetail("provider", p.name)
	}
	token, err := p.refresh(ctx, refreshToken)
	if err == nil && token != nil && token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return p.finish(token, err, apperrors.CodeTokenRefreshFailed)
}

func (p *CustomProvider) ValidateToken(ctx context.Context, token string) (bool, error) {
	return p.validator.Validate(ctx, token)
}

func (p *CustomProvider) finish(token *Token, err error, failCode apperrors.Code) (*Token, error) {
	if err != nil {
		appErr, ok := apperrors.As(err)
		if !ok {
			if appErr, ok = apperrors.FromTransport(err, "custom exchange"); !ok {
				appErr = apperrors.Wrap(failCode, "custom exchange failed", err)
			}
		}
		return nil, appErr.WithDetail("provider", p.name)
	}
	if token == nil || token.AccessToken == "" {
		return nil, apperrors.InvalidResponseError("custom exchange returned no access token").
			WithDetail("provider", p.name)
	}
	if token.ExpiresIn == 0 {
		token.ExpiresIn = DefaultLifetime
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	return token, nil
}
