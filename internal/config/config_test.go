package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
	"token-broker/internal/oauth"
	"token-broker/internal/retry"
	"token-broker/internal/tokens"
)

// clearEnvOverrides blanks the variables applyEnv reads so the host
// environment cannot leak into a test
func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, key := range []string{"TOKEN_BROKER_ADDR", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE", "METRICS_ENABLED"} {
		t.Setenv(key, "")
	}
}

const minimal = `
destinations:
  pacs:
    url: https://pacs.example.com/dicom-web
    token_endpoint: https://idp.example.com/token
    client_id: c1
    client_secret: s1
`

func TestParse_Defaults(t *testing.T) {
	clearEnvOverrides(t)

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.IsEnabled())
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	dests, err := cfg.ToDestinations()
	require.NoError(t, err)
	require.Len(t, dests, 1)

	dest := dests[0]
	assert.Equal(t, "pacs", dest.Provider.Destination)
	assert.Equal(t, oauth.TypeAuto, dest.Provider.Type)
	assert.Equal(t, "https://pacs.example.com/dicom-web", dest.URL)
	require.NotNil(t, dest.RefreshBuffer)
	assert.Equal(t, 300*time.Second, *dest.RefreshBuffer)
	assert.False(t, dest.InsecureSkipVerify)
	assert.Nil(t, dest.Retry)
	assert.Nil(t, dest.Breaker)
	assert.False(t, dest.RateLimit.Enabled)
}

func TestParse_FullDestination(t *testing.T) {
	clearEnvOverrides(t)

	cfg, err := Parse([]byte(`
config_version: "2.0"
server:
  addr: 127.0.0.1:9090
  shutdown_timeout_seconds: 5
logging:
  level: debug
  format: json
metrics:
  enabled: false
destinations:
  azure-dicom:
    provider: azure
    token_endpoint: https://login.microsoftonline.com/contoso/oauth2/v2.0/token
    client_id: c1
    client_secret: s1
    tenant_id: contoso
    scope: https://dicom.healthcareapis.azure.com/.default
    verify_ssl: false
    timeout_seconds: 2.5
    refresh_buffer_seconds: 0
    validation:
      validate_signature: true
      audience: api://dicom
      leeway_seconds: 30
    retry:
      strategy: linear
      max_attempts: 4
      initial_delay_seconds: 1
      increment_seconds: 2
    circuit_breaker:
      engine: gobreaker
      failure_threshold: 2
      timeout_seconds: 10
    rate_limit:
      enabled: true
      requests_per_second: 5
      burst_size: 2
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Metrics.IsEnabled())

	dests, err := cfg.ToDestinations()
	require.NoError(t, err)
	dest := dests[0]

	assert.Equal(t, oauth.TypeAzure, dest.Provider.Type)
	assert.Equal(t, "contoso", dest.Provider.TenantID)
	assert.True(t, dest.InsecureSkipVerify)
	assert.Equal(t, 2500*time.Millisecond, dest.Timeout)
	require.NotNil(t, dest.RefreshBuffer)
	assert.Equal(t, time.Duration(0), *dest.RefreshBuffer)

	assert.True(t, dest.Provider.Validation.SignatureRequired)
	assert.Equal(t, "api://dicom", dest.Provider.Validation.Audience)
	assert.Equal(t, 30*time.Second, dest.Provider.Validation.Leeway)

	require.NotNil(t, dest.Retry)
	assert.Equal(t, 4, dest.Retry.MaxAttempts)
	assert.Equal(t, retry.LinearBackoff{Initial: time.Second, Increment: 2 * time.Second}, dest.Retry.Strategy)
	assert.True(t, dest.Retry.ShouldRetry(errors.TimeoutError("token", nil)))
	assert.False(t, dest.Retry.ShouldRetry(errors.New(errors.CodeInvalidCredentials, "bad")))

	require.NotNil(t, dest.Breaker)
	assert.Equal(t, "gobreaker", dest.BreakerEngine)
	assert.Equal(t, 2, dest.Breaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, dest.Breaker.Timeout)

	assert.True(t, dest.RateLimit.Enabled)
	assert.Equal(t, 5.0, dest.RateLimit.RequestsPerSecond)
	assert.Equal(t, 2, dest.RateLimit.BurstSize)
}

func TestParse_RetryDefaults(t *testing.T) {
	clearEnvOverrides(t)

	cfg, err := Parse([]byte(minimal + `
    retry: {}
    circuit_breaker:
      enabled: false
`))
	require.NoError(t, err)

	dests, err := cfg.ToDestinations()
	require.NoError(t, err)
	require.NotNil(t, dests[0].Retry)
	assert.Equal(t, 3, dests[0].Retry.MaxAttempts)
	assert.Equal(t, retry.ExponentialBackoff{Initial: time.Second}, dests[0].Retry.Strategy)
	assert.Nil(t, dests[0].Breaker)
}

func TestParse_EnvSubstitution(t *testing.T) {
	clearEnvOverrides(t)
	t.Setenv("PACS_CLIENT_ID", "from-env")
	t.Setenv("PACS_SECRET", "s3cret")
	t.Setenv("PACS_BUFFER", "120")
	t.Setenv("IDP_HOST", "idp.example.com")

	cfg, err := Parse([]byte(`
destinations:
  pacs:
    token_endpoint: https://${IDP_HOST}/realms/x/protocol/openid-connect/token
    client_id: ${PACS_CLIENT_ID}
    client_secret: "${PACS_SECRET}"
    refresh_buffer_seconds: ${PACS_BUFFER}
`))
	require.NoError(t, err)

	pacs := cfg.Destinations["pacs"]
	assert.Equal(t, "https://idp.example.com/realms/x/protocol/openid-connect/token", pacs.TokenEndpoint)
	assert.Equal(t, "from-env", pacs.ClientID)
	assert.Equal(t, "s3cret", pacs.ClientSecret)
	require.NotNil(t, pacs.RefreshBufferSeconds)
	assert.Equal(t, 120, *pacs.RefreshBufferSeconds)
}

func TestParse_MissingEnvVar(t *testing.T) {
	clearEnvOverrides(t)
	os.Unsetenv("TOKEN_BROKER_TEST_UNSET")

	_, err := Parse([]byte(`
destinations:
  pacs:
    token_endpoint: https://idp.example.com/token
    client_id: c1
    client_secret: ${TOKEN_BROKER_TEST_UNSET}
`))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeConfigEnvVarMissing))

	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "TOKEN_BROKER_TEST_UNSET", appErr.Details["variable"])
}

func TestParse_Errors(t *testing.T) {
	clearEnvOverrides(t)

	tests := []struct {
		name string
		yaml string
		code errors.Code
	}{
		{"empty document", ``, errors.CodeConfigMissingKey},
		{"not yaml", "destinations: [", errors.CodeConfigInvalidValue},
		{"no destinations", "server:\n  addr: \"127.0.0.1:1\"\n", errors.CodeConfigInvalidValue},
		{"unknown provider", minimal + "    provider: okta\n", errors.CodeConfigInvalidValue},
		{"unknown key", minimal + "    secret: x\n", errors.CodeConfigInvalidValue},
		{"negative buffer", minimal + "    refresh_buffer_seconds: -1\n", errors.CodeConfigInvalidValue},
		{"missing ca bundle", minimal + "    ca_bundle: /nonexistent/ca.pem\n", errors.CodeConfigInvalidValue},
		{"bad url", `
destinations:
  pacs:
    url: pacs.example.com
    token_endpoint: https://idp.example.com/token
    client_id: c1
    client_secret: s1
`, errors.CodeConfigInvalidValue},
		{"missing secret", `
destinations:
  pacs:
    token_endpoint: https://idp.example.com/token
    client_id: c1
`, errors.CodeConfigMissingKey},
		{"missing endpoint", `
destinations:
  pacs:
    client_id: c1
    client_secret: s1
`, errors.CodeConfigMissingKey},
		{"both identities", `
destinations:
  mi:
    provider: azure_managed_identity
    managed_identity_client_id: a
    managed_identity_resource_id: b
`, errors.CodeConfigInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestParse_ProvidersWithoutEndpoint(t *testing.T) {
	clearEnvOverrides(t)

	cfg, err := Parse([]byte(`
destinations:
  gcp:
    provider: google
    client_id: c1
    client_secret: s1
  mi:
    provider: azure_managed_identity
  legacy-mi:
    provider: azuremanagedidentity
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"gcp", "legacy-mi", "mi"}, cfg.Names())
	assert.Equal(t, oauth.TypeManagedIdentity, cfg.Destinations["legacy-mi"].Provider)
}

func TestParse_EnvOverrides(t *testing.T) {
	clearEnvOverrides(t)
	t.Setenv("TOKEN_BROKER_ADDR", ":9999")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.IsEnabled())
}

func TestLoad(t *testing.T) {
	clearEnvOverrides(t)
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.HasCode(err, errors.CodeConfigMissingKey))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"pacs"}, cfg.Names())

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("destinations: {}\n"), 0o600))
	_, err = Load(bad)
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, bad, appErr.Details["path"])
}

func TestPath(t *testing.T) {
	t.Setenv("TOKEN_BROKER_CONFIG", "")
	assert.Equal(t, "token-broker.yaml", Path())

	t.Setenv("TOKEN_BROKER_CONFIG", "/etc/broker.yaml")
	assert.Equal(t, "/etc/broker.yaml", Path())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(file, []byte("TOKEN_BROKER_DOTENV_TEST=loaded\n"), 0o600))

	os.Unsetenv("TOKEN_BROKER_DOTENV_TEST")
	t.Cleanup(func() { os.Unsetenv("TOKEN_BROKER_DOTENV_TEST") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env"), file))
	assert.Equal(t, "loaded", os.Getenv("TOKEN_BROKER_DOTENV_TEST"))
}

func TestPublicKeyFromFile(t *testing.T) {
	clearEnvOverrides(t)
	dir := t.TempDir()
	pemFile := filepath.Join(dir, "key.pem")
	pem := "-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----\n"
	require.NoError(t, os.WriteFile(pemFile, []byte(pem), 0o600))

	cfg, err := Parse([]byte(minimal + "    validation:\n      public_key: " + pemFile + "\n"))
	require.NoError(t, err)

	dests, err := cfg.ToDestinations()
	require.NoError(t, err)
	assert.Equal(t, pem, dests[0].Provider.Validation.PublicKeyPEM)

	cfg.Destinations["pacs"].Validation.PublicKey = filepath.Join(dir, "nope.pem")
	_, err = cfg.ToDestinations()
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalidValue))
}

func TestRefreshBufferReachesManager(t *testing.T) {
	clearEnvOverrides(t)

	tests := []struct {
		name   string
		yaml   string
		buffer int
	}{
		{"default", minimal, 300},
		{"explicit zero", minimal + "    refresh_buffer_seconds: 0\n", 0},
		{"explicit", minimal + "    refresh_buffer_seconds: 45\n", 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			dests, err := cfg.ToDestinations()
			require.NoError(t, err)

			registry, err := tokens.Build(dests, tokens.BuildOptions{Logger: logging.Nop()})
			require.NoError(t, err)
			defer registry.Close()

			m, ok := registry.Get("pacs")
			require.True(t, ok)
			assert.Equal(t, tt.buffer, m.Status().RefreshBuffer)
		})
	}
}
