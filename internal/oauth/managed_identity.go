package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	apperrors "token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
)

// DefaultManagedIdentityScope is the Azure Health Data Services DICOM resource
const DefaultManagedIdentityScope = "https://dicom.healthcareapis.azure.com/.default"

// ManagedIdentityProvider obtains tokens from the Azure platform's managed
// identity endpoint. No client secret is involved and the platform renews
// identities itself, so RefreshToken always fails.
type ManagedIdentityProvider struct {
	destination string
	scope       string
	credential  azcore.TokenCredential
	clock       func() time.Time
	logger      logging.Logger
}

// NewManagedIdentityProvider builds the provider on azidentity's managed
// identity credential. A user-assigned identity is selected by client id or
// resource id; with neither the system-assigned identity is used.
func NewManagedIdentityProvider(cfg Config, deps Deps) (*ManagedIdentityProvider, error) {
	if cfg.ManagedIdentityClientID != "" && cfg.ManagedIdentityResourceID != "" {
		return nil, apperrors.ConfigError("managed identity accepts a client id or a resource id, not both").
			WithDetail("destination", cfg.Destination)
	}

	options := &azidentity.ManagedIdentityCredentialOptions{}
	switch {
	case cfg.ManagedIdentityClientID != "":
		options.ID = azidentity.ClientID(cfg.ManagedIdentityClientID)
	case cfg.ManagedIdentityResourceID != "":
		options.ID = azidentity.ResourceID(cfg.ManagedIdentityResourceID)
	}

	credential, err := azidentity.NewManagedIdentityCredential(options)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigInvalidValue, "failed to create managed identity credential", err).
			WithDetail("destination", cfg.Destination)
	}
	return NewManagedIdentityProviderWithCredential(cfg, credential, deps), nil
}

// NewManagedIdentityProviderWithCredential uses credential in place of the
// platform managed identity
func NewManagedIdentityProviderWithCredential(cfg Config, credential azcore.TokenCredential, deps Deps) *ManagedIdentityProvider {
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	scope := cfg.Scope
	if scope == "" {
		scope = DefaultManagedIdentityScope
	}

	logger = logger.WithFields(
		logging.String("provider", TypeManagedIdentity),
		logging.String("destination", cfg.Destination),
	)
	logger.Info("Managed identity provider initialized", logging.String("scope", scope))

	return &ManagedIdentityProvider{
		destination: cfg.Destination,
		scope:       scope,
		credential:  credential,
		clock:       time.Now,
		logger:      logger,
	}
}

func (p *ManagedIdentityProvider) Name() string {
	return TypeManagedIdentity
}

// AcquireToken asks the credential for a token. The lifetime is derived
// from the absolute expiry the platform reports.
func (p *ManagedIdentityProvider) AcquireToken(ctx context.Context) (*Token, error) {
	access, err := p.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{p.scope}})
	if err != nil {
		appErr, ok := apperrors.FromTransport(err, "managed identity token request")
		if !ok {
			appErr = apperrors.AcquisitionError("managed identity token request failed", err)
		}
		return nil, p.annotate(appErr)
	}
	if access.Token == "" {
		return nil, p.annotate(apperrors.InvalidResponseError("managed identity returned an empty token"))
	}

	lifetime := int(access.ExpiresOn.Sub(p.clock()) / time.Second)
	if lifetime < 0 {
		lifetime = 0
	}

	p.logger.Debug("Managed identity token acquired", logging.Time("expires_on", access.ExpiresOn))
	return &Token{
		AccessToken: access.Token,
		ExpiresIn:   lifetime,
		TokenType:   "Bearer",
		Scope:       p.scope,
	}, nil
}

// RefreshToken is not supported for managed identities
func (p *ManagedIdentityProvider) RefreshToken(context.Context, string) (*Token, error) {
	return nil, p.annotate(apperrors.RefreshError(
		"managed identity tokens are renewed by the platform",
		fmt.Errorf("refresh: %w", ErrUnsupported),
	))
}

// ValidateToken accepts every token; the platform issued it directly
func (p *ManagedIdentityProvider) ValidateToken(context.Context, string) (bool, error) {
	return true, nil
}

func (p *ManagedIdentityProvider) annotate(err *apperrors.AppError) *apperrors.AppError {
	return err.WithDetails(map[string]interface{}{
		"destination": p.destination,
		"provider":    TypeManagedIdentity,
		"scope":       p.scope,
	})
}
