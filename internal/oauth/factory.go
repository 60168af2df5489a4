package oauth

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
)

// Constructor builds a provider from configuration
type Constructor func(cfg Config, deps Deps) (Provider, error)

// Factory maps provider type keys to constructors
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewFactory returns a factory with every built-in provider registered
func NewFactory() *Factory {
	f := &Factory{constructors: make(map[string]Constructor)}

	f.Register(TypeGeneric, func(cfg Config, deps Deps) (Provider, error) {
		return NewGenericProvider(cfg, deps)
	})
	f.Register(TypeKeycloak, func(cfg Config, deps Deps) (Provider, error) {
		return NewKeycloakProvider(cfg, deps)
	})
	f.Register(TypeAzure, func(cfg Config, deps Deps) (Provider, error) {
		return NewAzureProvider(cfg, deps)
	})
	f.Register(TypeGoogle, func(cfg Config, deps Deps) (Provider, error) {
		return NewGoogleProvider(cfg, deps)
	})
	f.Register(TypeAWS, func(cfg Config, deps Deps) (Provider, error) {
		return NewAWSProvider(cfg, deps)
	})
	f.Register(TypeManagedIdentity, func(cfg Config, deps Deps) (Provider, error) {
		return NewManagedIdentityProvider(cfg, deps)
	})

	return f
}

// Register adds or replaces the constructor for key
func (f *Factory) Register(key string, constructor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[strings.ToLower(key)] = constructor
}

// Types lists the registered provider keys
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.constructors))
	for key := range f.constructors {
		types = append(types, key)
	}
	sort.Strings(types)
	return types
}

// Create builds the provider for cfg. An empty or "auto" type is resolved
// with AutoDetect; an unregistered explicit type is a configuration error.
func (f *Factory) Create(cfg Config, deps Deps) (Provider, error) {
	key := NormalizeType(cfg.Type)
	if key == "" || key == TypeAuto {
		if cfg.TokenEndpoint == "" {
			return nil, apperrors.MissingKeyError("token_endpoint").WithDetail("destination", cfg.Destination)
		}
		key = AutoDetect(cfg.TokenEndpoint)

		logger := deps.Logger
		if logger == nil {
			logger = logging.GetGlobalLogger()
		}
		logger.Info("Auto-detected provider type",
			logging.String("destination", cfg.Destination),
			logging.String("provider", key),
		)
	}

	f.mu.RLock()
	constructor, ok := f.constructors[key]
	f.mu.RUnlock()

	if !ok {
		return nil, apperrors.ConfigError(fmt.Sprintf("unknown provider type %q", cfg.Type)).WithDetails(map[string]interface{}{
			"destination": cfg.Destination,
			"provider":    cfg.Type,
			"supported":   strings.Join(f.Types(), ", "),
		})
	}
	return constructor(cfg, deps)
}

// AutoDetect guesses the provider type from a token endpoint URL
func AutoDetect(endpoint string) string {
	e := strings.ToLower(endpoint)
	switch {
	case strings.Contains(e, "login.microsoftonline.com"):
		return TypeAzure
	case strings.Contains(e, "oauth2.googleapis.com"):
		return TypeGoogle
	case strings.Contains(e, "amazonaws.com"):
		return TypeAWS
	case strings.Contains(e, "/auth/realms/"), strings.Contains(e, "/realms/"):
		return TypeKeycloak
	default:
		return TypeGeneric
	}
}
