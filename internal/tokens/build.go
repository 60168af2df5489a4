package tokens

import (
	"net/http"
	"time"

	"token-broker/internal/circuitbreaker"
	apperrors "token-broker/internal/common/errors"
	commonhttp "token-broker/internal/common/http"
	"token-broker/internal/common/logging"
	"token-broker/internal/common/ratelimit"
	"token-broker/internal/crypto"
	"token-broker/internal/metrics"
	"token-broker/internal/oauth"
	"token-broker/internal/retry"
)

// Destination is everything needed to build one manager
type Destination struct {
	Provider oauth.Config
	// URL is the downstream base URL tokens are sent to
	URL string
	// RefreshBuffer is nil for the default buffer
	RefreshBuffer *time.Duration

	// InsecureSkipVerify disables TLS verification of the token endpoint
	InsecureSkipVerify bool
	CABundle           string
	Timeout            time.Duration

	Retry         *retry.Config
	Breaker       *circuitbreaker.Config
	BreakerEngine string
	RateLimit     ratelimit.Config
}

// BuildOptions are shared by every destination in a registry
type BuildOptions struct {
	Factory *oauth.Factory
	Metrics metrics.Sink
	Logger  logging.Logger
	Clock   func() time.Time
	// Transport replaces the token endpoint transport of every destination,
	// TLS settings included
	Transport http.RoundTripper
}

// Build constructs a manager per destination and registers them. The
// first configuration error aborts the build and closes what was built.
func Build(destinations []Destination, opts BuildOptions) (*Registry, error) {
	if opts.Factory == nil {
		opts.Factory = oauth.NewFactory()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}

	registry := NewRegistry()
	for _, dest := range destinations {
		m, err := buildManager(dest, opts)
		if err != nil {
			registry.Close()
			return nil, err
		}
		if err := registry.Add(m, dest.URL); err != nil {
			m.Close()
			registry.Close()
			return nil, err
		}
		opts.Logger.Info("Destination configured",
			logging.String("destination", m.Destination()),
			logging.String("provider", m.Provider()),
		)
	}
	return registry, nil
}

func buildManager(dest Destination, opts BuildOptions) (*Manager, error) {
	name := dest.Provider.Destination
	logger := opts.Logger.WithFields(logging.String("destination", name))

	clientOpts := []commonhttp.ClientOption{commonhttp.WithVerify(!dest.InsecureSkipVerify, dest.CABundle)}
	if dest.Timeout > 0 {
		clientOpts = append(clientOpts, commonhttp.WithTimeout(dest.Timeout))
	}
	if opts.Transport != nil {
		clientOpts = append(clientOpts, commonhttp.WithTransport(opts.Transport))
	}
	if dest.InsecureSkipVerify {
		logger.Warn("TLS verification disabled for token endpoint")
	}
	client, err := commonhttp.NewHTTPClient(clientOpts...)
	if err != nil {
		return nil, withDestination(err, name)
	}

	var limiter ratelimit.Limiter
	if dest.RateLimit.Enabled {
		if limiter, err = ratelimit.NewLocalLimiter(dest.RateLimit); err != nil {
			return nil, apperrors.ConfigError(err.Error()).WithDetail("destination", name)
		}
	}

	vault, err := crypto.NewVault()
	if err != nil {
		return nil, err
	}

	provider, err := opts.Factory.Create(dest.Provider, oauth.Deps{
		Vault:      vault,
		HTTPClient: client,
		Limiter:    limiter,
		Logger:     opts.Logger,
	})
	if err != nil {
		vault.Destroy()
		return nil, withDestination(err, name)
	}

	var breaker circuitbreaker.Breaker
	if dest.Breaker != nil {
		config := *dest.Breaker
		sink := opts.Metrics
		next := config.OnStateChange
		config.OnStateChange = func(breakerName string, from, to circuitbreaker.State) {
			sink.BreakerState(name, to)
			if next != nil {
				next(breakerName, from, to)
			}
		}
		breaker = circuitbreaker.NewEngine(dest.BreakerEngine, name, config, opts.Logger)
		sink.BreakerState(name, circuitbreaker.StateClosed)
	}

	m, err := NewManager(provider, Options{
		Destination:   name,
		Endpoint:      dest.Provider.TokenEndpoint,
		RefreshBuffer: dest.RefreshBuffer,
		Retry:         dest.Retry,
		Breaker:       breaker,
		Vault:         vault,
		Metrics:       opts.Metrics,
		Logger:        opts.Logger,
		Clock:         opts.Clock,
	})
	if err != nil {
		vault.Destroy()
		return nil, err
	}
	return m, nil
}

func withDestination(err error, name string) error {
	if appErr, ok := apperrors.As(err); ok {
		return appErr.WithDetails(map[string]interface{}{"destination": name})
	}
	return err
}
