// Package config loads the token broker configuration from a YAML file.
//
// The file names every destination the broker obtains tokens for, along with
// the provider settings, TLS options and resilience policies of each one.
// String values may reference environment variables as ${NAME}; a reference
// to an unset variable fails the load. The document is validated against an
// embedded JSON schema before it is decoded, so structural mistakes are
// reported with their location rather than surfacing later as odd defaults.
//
// Environment Variables:
//
// File Location:
//   - TOKEN_BROKER_CONFIG: Path of the YAML file (default: token-broker.yaml)
//
// Overrides (take precedence over the file):
//   - TOKEN_BROKER_ADDR: Status server listen address (default: :8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FORMAT: Logging format, "console" or "json" (default: console)
//   - LOG_FILE: Append logs to this file instead of stderr
//   - METRICS_ENABLED: Expose Prometheus metrics (default: true)
//
// Example file:
//
//	config_version: "2.0"
//	destinations:
//	  pacs:
//	    url: https://pacs.example.com/dicom-web
//	    provider: auto
//	    token_endpoint: https://login.microsoftonline.com/contoso/oauth2/v2.0/token
//	    client_id: ${PACS_CLIENT_ID}
//	    client_secret: ${PACS_CLIENT_SECRET}
//	    scope: https://dicom.healthcareapis.azure.com/.default
//	    retry:
//	      max_attempts: 3
//	    circuit_breaker:
//	      failure_threshold: 5
//	      timeout_seconds: 60
//
// Example usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
//
//	destinations, err := cfg.ToDestinations()
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"token-broker/internal/circuitbreaker"
	"token-broker/internal/common/errors"
	"token-broker/internal/common/ratelimit"
	"token-broker/internal/common/validation"
	"token-broker/internal/oauth"
	"token-broker/internal/retry"
	"token-broker/internal/tokens"
)

// CurrentVersion is the configuration format this package writes defaults for
const CurrentVersion = "2.0"

const (
	defaultPath          = "token-broker.yaml"
	defaultAddr          = ":8080"
	defaultMetricsPath   = "/metrics"
	defaultShutdown      = 30 * time.Second
	defaultRefreshBuffer = 300
)

// Config is the decoded configuration file.
//
// Load returns a Config with defaults applied and Validate already passed.
// Destinations converts the per-destination sections into the form the
// token registry is built from.
type Config struct {
	Version      string                        `yaml:"config_version"`
	Server       ServerConfig                  `yaml:"server"`
	Logging      LoggingConfig                 `yaml:"logging"`
	Metrics      MetricsConfig                 `yaml:"metrics"`
	Destinations map[string]*DestinationConfig `yaml:"destinations"`
}

// ServerConfig controls the status server
type ServerConfig struct {
	Addr                   string  `yaml:"addr"`
	ShutdownTimeoutSeconds float64 `yaml:"shutdown_timeout_seconds"`
}

// ShutdownTimeout is the grace period given to in-flight requests
func (s ServerConfig) ShutdownTimeout() time.Duration {
	if s.ShutdownTimeoutSeconds <= 0 {
		return defaultShutdown
	}
	return seconds(s.ShutdownTimeoutSeconds)
}

// LoggingConfig selects the global logger
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
	File   string `yaml:"file"`   // empty logs to stderr
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IsEnabled reports whether metrics are exposed; they are unless disabled
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// DestinationConfig is one entry under destinations. The map key is the
// destination name.
type DestinationConfig struct {
	URL           string `yaml:"url" validate:"omitempty,url"`
	Provider      string `yaml:"provider"`
	TokenEndpoint string `yaml:"token_endpoint" validate:"omitempty,url"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	Scope         string `yaml:"scope"`

	// Provider specific
	TenantID                  string `yaml:"tenant_id"`
	Region                    string `yaml:"region"`
	ManagedIdentityClientID   string `yaml:"managed_identity_client_id" validate:"excluded_with=ManagedIdentityResourceID"`
	ManagedIdentityResourceID string `yaml:"managed_identity_resource_id"`

	// Token endpoint transport
	VerifySSL      *bool   `yaml:"verify_ssl"`
	CABundle       string  `yaml:"ca_bundle" validate:"omitempty,file"`
	TimeoutSeconds float64 `yaml:"timeout_seconds" validate:"min=0"`

	RefreshBufferSeconds *int `yaml:"refresh_buffer_seconds" validate:"omitempty,min=0"`

	Validation     ValidationSettings `yaml:"validation"`
	Retry          *RetrySettings     `yaml:"retry"`
	CircuitBreaker *BreakerSettings   `yaml:"circuit_breaker"`
	RateLimit      ratelimit.Config   `yaml:"rate_limit"`
}

// ValidationSettings configures JWT checks on acquired tokens
type ValidationSettings struct {
	ValidateSignature bool     `yaml:"validate_signature"`
	PublicKey         string   `yaml:"public_key"`
	JWKSURI           string   `yaml:"jwks_uri" validate:"omitempty,url"`
	Audience          string   `yaml:"audience"`
	Issuer            string   `yaml:"issuer"`
	Algorithms        []string `yaml:"algorithms"`
	LeewaySeconds     float64  `yaml:"leeway_seconds"`
	JWKSCacheSeconds  float64  `yaml:"jwks_cache_seconds"`
}

// RetrySettings selects a backoff strategy. Only network failures are retried.
type RetrySettings struct {
	Strategy            string  `yaml:"strategy" validate:"omitempty,oneof=exponential linear fixed"`
	MaxAttempts         int     `yaml:"max_attempts" validate:"min=0"`
	InitialDelaySeconds float64 `yaml:"initial_delay_seconds"`
	IncrementSeconds    float64 `yaml:"increment_seconds"`
	Multiplier          float64 `yaml:"multiplier"`
	MaxDelaySeconds     float64 `yaml:"max_delay_seconds"`
	Jitter              float64 `yaml:"jitter" validate:"min=0,max=1"`
}

// BreakerSettings configures the per-destination circuit breaker. A present
// section enables the breaker unless enabled is false.
type BreakerSettings struct {
	Enabled          *bool   `yaml:"enabled"`
	Engine           string  `yaml:"engine" validate:"omitempty,oneof=native gobreaker"`
	FailureThreshold int     `yaml:"failure_threshold" validate:"min=0"`
	TimeoutSeconds   float64 `yaml:"timeout_seconds" validate:"min=0"`
}

// Path returns the configuration file location from TOKEN_BROKER_CONFIG.
//
// Returns:
//   - string: The configured path, or token-broker.yaml in the working directory
func Path() string {
	return getEnv("TOKEN_BROKER_CONFIG", defaultPath)
}

// LoadDotEnv reads KEY=value pairs from the given files (default .env) into
// the process environment. Variables that are already set are not
// overwritten. Missing files are ignored so that a .env file stays optional.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if _, err := os.Stat(file); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return errors.Wrap(errors.CodeConfigInvalidValue, fmt.Sprintf("failed to load %s", file), err).
				WithDetail("file", file)
		}
	}
	return nil
}

// Load reads, validates and decodes the configuration file at path.
//
// Parameters:
//   - path: Location of the YAML document
//
// Returns:
//   - *Config: The decoded configuration with defaults and env overrides applied
//   - error: CFG-001 when the file or a required key is missing, CFG-002 for
//     malformed or invalid content, CFG-003 for an unset ${NAME} reference
//
// Example:
//
//	cfg, err := config.Load("/etc/token-broker/config.yaml")
//	if err != nil {
//		return err
//	}
//	fmt.Println(cfg.Names())
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.CodeConfigMissingKey, fmt.Sprintf("configuration file %s not found", path), err).
				WithDetail("path", path)
		}
		return nil, errors.Wrap(errors.CodeConfigInvalidValue, fmt.Sprintf("failed to read configuration file %s", path), err).
			WithDetail("path", path)
	}

	cfg, err := Parse(data)
	if err != nil {
		if appErr, ok := errors.As(err); ok {
			return nil, appErr.WithDetails(map[string]interface{}{"path": path})
		}
		return nil, err
	}
	return cfg, nil
}

// Parse is Load without the file. It substitutes environment variables,
// checks the schema, decodes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(errors.CodeConfigInvalidValue, "configuration is not valid YAML", err)
	}
	if len(root.Content) == 0 {
		return nil, errors.MissingKeyError("destinations")
	}

	if err := expandEnv(&root); err != nil {
		return nil, err
	}

	var document interface{}
	if err := root.Decode(&document); err != nil {
		return nil, errors.Wrap(errors.CodeConfigInvalidValue, "failed to decode configuration", err)
	}
	if err := validateSchema(document); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := root.Decode(cfg); err != nil {
		return nil, errors.Wrap(errors.CodeConfigInvalidValue, "failed to decode configuration", err)
	}

	cfg.migrate()
	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// migrate upgrades older documents in place. Version 1.0 files predate
// explicit provider types and refresh buffers; defaults cover both.
func (c *Config) migrate() {
	if c.Version == "" || c.Version == "1.0" {
		c.Version = CurrentVersion
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}

	for _, dest := range c.Destinations {
		if dest == nil {
			continue
		}
		dest.Provider = oauth.NormalizeType(dest.Provider)
		if dest.Provider == "" {
			dest.Provider = oauth.TypeAuto
		}
		// TLS verification stays on unless explicitly disabled
		if dest.VerifySSL == nil {
			verify := true
			dest.VerifySSL = &verify
		}
		if dest.RefreshBufferSeconds == nil {
			buffer := defaultRefreshBuffer
			dest.RefreshBufferSeconds = &buffer
		}
	}
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("TOKEN_BROKER_ADDR", c.Server.Addr)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)
	if _, ok := os.LookupEnv("METRICS_ENABLED"); ok {
		enabled := getBoolEnv("METRICS_ENABLED", c.Metrics.IsEnabled())
		c.Metrics.Enabled = &enabled
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
//
// Parameters:
//   - key: The environment variable name to look up
//   - defaultValue: The value to return if the environment variable is not set or empty
//
// Returns:
//   - string: The environment variable value or the default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
//
// This function accepts common boolean representations:
//   - "true", "1", "t", "TRUE", "True" -> true
//   - "false", "0", "f", "FALSE", "False" -> false
//   - Any other value or parsing error -> returns defaultValue
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks the cross-field rules the schema cannot express.
//
// This method checks:
//   - At least one destination is configured
//   - Destination URLs are absolute http(s) URLs
//   - Providers that exchange client credentials have an id and secret
//   - Managed identity selects at most one user-assigned identity
//   - Retry and circuit breaker budgets are positive
//
// Returns:
//   - error: A CFG-001 or CFG-002 *errors.AppError naming the destination, nil if valid
func (c *Config) Validate() error {
	if len(c.Destinations) == 0 {
		return errors.MissingKeyError("destinations")
	}

	for _, name := range c.Names() {
		dest := c.Destinations[name]
		if dest == nil {
			return errors.ConfigError(fmt.Sprintf("destination %q has no settings", name)).
				WithDetail("destination", name)
		}
		if err := dest.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (d *DestinationConfig) validate(name string) error {
	if err := validation.Struct(d, name); err != nil {
		return withDestination(err, name)
	}

	v := validation.NewValidatorWithPrefix(name).
		RequireHTTPURL(d.URL, "url", false)

	provider := oauth.NormalizeType(d.Provider)
	if provider != oauth.TypeManagedIdentity {
		if provider != oauth.TypeGoogle {
			v.RequireHTTPURL(d.TokenEndpoint, "token_endpoint", true)
		}
		v.RequireString(d.ClientID, "client_id").
			RequireString(d.ClientSecret, "client_secret")
	}
	return withDestination(v.Error(), name)
}

func withDestination(err error, name string) error {
	if appErr, ok := errors.As(err); ok {
		return appErr.WithDetail("destination", name)
	}
	return err
}

// Names returns destination names in sorted order
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Destinations))
	for name := range c.Destinations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToDestinations converts the configuration into registry input, ordered by name
func (c *Config) ToDestinations() ([]tokens.Destination, error) {
	out := make([]tokens.Destination, 0, len(c.Destinations))
	for _, name := range c.Names() {
		dest, err := c.Destinations[name].toDestination(name)
		if err != nil {
			return nil, err
		}
		out = append(out, dest)
	}
	return out, nil
}

func (d *DestinationConfig) toDestination(name string) (tokens.Destination, error) {
	verify := d.VerifySSL == nil || *d.VerifySSL
	buffer := defaultRefreshBuffer * time.Second
	if d.RefreshBufferSeconds != nil {
		buffer = time.Duration(*d.RefreshBufferSeconds) * time.Second
	}

	validation, err := d.Validation.toValidation()
	if err != nil {
		return tokens.Destination{}, errors.ConfigError(fmt.Sprintf("destination %q: %v", name, err)).
			WithDetail("destination", name)
	}

	dest := tokens.Destination{
		Provider: oauth.Config{
			Destination:               name,
			Type:                      d.Provider,
			TokenEndpoint:             d.TokenEndpoint,
			ClientID:                  d.ClientID,
			ClientSecret:              d.ClientSecret,
			Scope:                     d.Scope,
			TenantID:                  d.TenantID,
			Region:                    d.Region,
			ManagedIdentityClientID:   d.ManagedIdentityClientID,
			ManagedIdentityResourceID: d.ManagedIdentityResourceID,
			Validation:                validation,
		},
		URL:                d.URL,
		RefreshBuffer:      &buffer,
		InsecureSkipVerify: !verify,
		CABundle:           d.CABundle,
		Timeout:            seconds(d.TimeoutSeconds),
		RateLimit:          d.RateLimit,
	}

	if d.Retry != nil {
		policy := d.Retry.toRetry()
		dest.Retry = &policy
	}
	if d.CircuitBreaker != nil && d.CircuitBreaker.enabled() {
		breaker := d.CircuitBreaker.toBreaker()
		dest.Breaker = &breaker
		dest.BreakerEngine = d.CircuitBreaker.Engine
	}
	return dest, nil
}

func (v ValidationSettings) toValidation() (oauth.ValidationConfig, error) {
	publicKey := v.PublicKey
	// public_key may name a PEM file instead of holding the PEM itself
	if publicKey != "" && !strings.Contains(publicKey, "-----BEGIN") {
		data, err := os.ReadFile(publicKey)
		if err != nil {
			return oauth.ValidationConfig{}, fmt.Errorf("read public key: %w", err)
		}
		publicKey = string(data)
	}

	return oauth.ValidationConfig{
		PublicKeyPEM:      publicKey,
		JWKSURI:           v.JWKSURI,
		Audience:          v.Audience,
		Issuer:            v.Issuer,
		Algorithms:        v.Algorithms,
		Leeway:            seconds(v.LeewaySeconds),
		KeySetTTL:         seconds(v.JWKSCacheSeconds),
		SignatureRequired: v.ValidateSignature,
	}, nil
}

func (r RetrySettings) toRetry() retry.Config {
	var strategy retry.Strategy
	initial := seconds(r.InitialDelaySeconds)
	switch r.Strategy {
	case "fixed":
		strategy = retry.FixedBackoff{Interval: initial}
	case "linear":
		strategy = retry.LinearBackoff{Initial: initial, Increment: seconds(r.IncrementSeconds)}
	default:
		if r.InitialDelaySeconds == 0 {
			initial = time.Second
		}
		strategy = retry.ExponentialBackoff{
			Initial:    initial,
			Multiplier: r.Multiplier,
			Max:        seconds(r.MaxDelaySeconds),
		}
	}
	if r.Jitter > 0 {
		strategy = retry.Jitter{Base: strategy, Factor: r.Jitter}
	}

	attempts := r.MaxAttempts
	if attempts == 0 {
		attempts = 3
	}
	return retry.Config{
		Strategy:    strategy,
		MaxAttempts: attempts,
		ShouldRetry: errors.IsRetryable,
	}
}

func (b *BreakerSettings) enabled() bool {
	return b.Enabled == nil || *b.Enabled
}

func (b *BreakerSettings) toBreaker() circuitbreaker.Config {
	config := circuitbreaker.DefaultConfig()
	if b.FailureThreshold > 0 {
		config.FailureThreshold = b.FailureThreshold
	}
	if b.TimeoutSeconds > 0 {
		config.Timeout = seconds(b.TimeoutSeconds)
	}
	return config
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
