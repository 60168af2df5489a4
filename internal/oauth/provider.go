// Package oauth acquires bearer tokens from OAuth2 token endpoints and
// platform credential sources.
//
// Every provider implements Provider. Client-credentials style providers
// (generic, keycloak, azure, google, aws) share one form-POST exchange;
// the Azure managed identity provider asks the platform instead. The
// Factory picks a provider from configuration, auto-detecting the type
// from the token endpoint when none is given.
package oauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	commonhttp "token-broker/internal/common/http"
	"token-broker/internal/common/logging"
	"token-broker/internal/common/ratelimit"
	"token-broker/internal/crypto"
)

// Provider types understood by the Factory
const (
	TypeAuto            = "auto"
	TypeGeneric         = "generic"
	TypeKeycloak        = "keycloak"
	TypeAzure           = "azure"
	TypeGoogle          = "google"
	TypeAWS             = "aws"
	TypeManagedIdentity = "azure_managed_identity"
)

// typeAliases maps alternate spellings to the canonical provider type
var typeAliases = map[string]string{
	"azuremanagedidentity": TypeManagedIdentity,
}

// NormalizeType lowercases a configured provider type and resolves aliases
func NormalizeType(t string) string {
	key := strings.ToLower(strings.TrimSpace(t))
	if canonical, ok := typeAliases[key]; ok {
		return canonical
	}
	return key
}

// DefaultLifetime is used when a token response carries no expires_in
const DefaultLifetime = 3600

// ErrUnsupported is wrapped by errors for operations a provider cannot perform
var ErrUnsupported = errors.New("operation not supported by provider")

// Token is the result of one exchange with a provider
type Token struct {
	AccessToken  string
	ExpiresIn    int
	TokenType    string
	RefreshToken string
	Scope        string
}

// Lifetime returns ExpiresIn as a duration
func (t *Token) Lifetime() time.Duration {
	return time.Duration(t.ExpiresIn) * time.Second
}

// Provider is a source of access tokens.
//
// AcquireToken and RefreshToken return *errors.AppError values from the
// TOK, AUTH and NET families. ValidateToken reports false for a token that
// fails verification; its error is reserved for the case where verification
// could not be attempted, such as an unreachable key set.
type Provider interface {
	Name() string
	AcquireToken(ctx context.Context) (*Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (*Token, error)
	ValidateToken(ctx context.Context, token string) (bool, error)
}

// Config describes one destination's credentials
type Config struct {
	Destination   string
	Type          string
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	Scope         string

	// TenantID is used by the azure provider, default "common"
	TenantID string
	// Region is used by the aws provider
	Region string

	// ManagedIdentityClientID selects a user-assigned identity by client id
	ManagedIdentityClientID string
	// ManagedIdentityResourceID selects a user-assigned identity by resource id
	ManagedIdentityResourceID string

	Validation ValidationConfig
}

// Deps are the collaborators shared by providers of one manager
type Deps struct {
	Vault      *crypto.Vault
	HTTPClient *http.Client
	Limiter    ratelimit.Limiter
	Logger     logging.Logger
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Vault == nil {
		vault, err := crypto.NewVault()
		if err != nil {
			return d, err
		}
		d.Vault = vault
	}
	if d.HTTPClient == nil {
		client, err := commonhttp.NewHTTPClient()
		if err != nil {
			return d, err
		}
		d.HTTPClient = client
	}
	if d.Logger == nil {
		d.Logger = logging.GetGlobalLogger()
	}
	return d, nil
}
