package oauth

import (
	"context"
	"fmt"

	"token-broker/internal/common/logging"
)

const azureLoginHost = "https://login.microsoftonline.com"

// AzureProvider is the client-credentials flow against Microsoft Entra ID.
//
// With Validation.SignatureRequired set and no explicit key, tokens are
// verified against the tenant's published key set with the client id as
// audience and the tenant's v2.0 issuer.
type AzureProvider struct {
	cc        *clientCredentials
	validator *Validator
	tenantID  string
}

// NewAzureProvider builds the Entra ID provider. TenantID defaults to "common".
func NewAzureProvider(cfg Config, deps Deps) (*AzureProvider, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}

	cc, err := newClientCredentials(TypeAzure, cfg, deps)
	if err != nil {
		return nil, err
	}

	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}

	validation := cfg.Validation
	if validation.SignatureRequired && !validation.Enabled() {
		validation.JWKSURI = AzureKeySetURI(tenant)
		if validation.Audience == "" {
			validation.Audience = cfg.ClientID
		}
		if validation.Issuer == "" {
			validation.Issuer = AzureIssuer(tenant)
		}
		validation.Algorithms = []string{"RS256"}
	}

	validator, err := NewValidator(validation, deps.HTTPClient, cc.logger)
	if err != nil {
		return nil, err
	}

	cc.logger.Debug("Azure provider configured", logging.String("tenant_id", tenant))
	return &AzureProvider{cc: cc, validator: validator, tenantID: tenant}, nil
}

// AzureKeySetURI returns the v2.0 signing key set of a tenant
func AzureKeySetURI(tenant string) string {
	return fmt.Sprintf("%s/%s/discovery/v2.0/keys", azureLoginHost, tenant)
}

// AzureIssuer returns the v2.0 token issuer of a tenant
func AzureIssuer(tenant string) string {
	return fmt.Sprintf("%s/%s/v2.0", azureLoginHost, tenant)
}

func (p *AzureProvider) Name() string {
	return TypeAzure
}

// TenantID returns the configured tenant
func (p *AzureProvider) TenantID() string {
	return p.tenantID
}

func (p *AzureProvider) AcquireToken(ctx context.Context) (*Token, error) {
	return p.cc.acquire(ctx)
}

func (p *AzureProvider) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	return p.cc.refresh(ctx, refreshToken)
}

func (p *AzureProvider) ValidateToken(ctx context.Context, token string) (bool, error) {
	return p.validator.Validate(ctx, token)
}
