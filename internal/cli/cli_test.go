package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-broker/internal/common/errors"
	"token-broker/internal/testutil"
	"token-broker/internal/tokens"
)

func writeConfig(t *testing.T, endpoint string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "broker.yaml")
	content := fmt.Sprintf(`
destinations:
  pacs:
    url: https://pacs.example.com
    token_endpoint: %s
    client_id: c1
    client_secret: s1
    retry:
      max_attempts: 1
  keycloak:
    token_endpoint: https://sso.example.com/realms/imaging/protocol/openid-connect/token
    client_id: c2
    client_secret: s2
    circuit_breaker: {}
`, endpoint)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand("1.2.3")
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "token-broker version 1.2.3"))
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, "https://login.microsoftonline.com/contoso/oauth2/v2.0/token")

	out, _, err := run(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "azure (auto)")
	assert.Contains(t, out, "keycloak (auto)")
	assert.Contains(t, out, "Configuration OK: 2 destination(s)")
}

func TestValidate_RetryColumn(t *testing.T) {
	path := writeConfig(t, "https://login.microsoftonline.com/contoso/oauth2/v2.0/token")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	content = append(content, []byte(`  plain:
    token_endpoint: https://idp.example.com/token
    client_id: c3
    client_secret: s3
`)...)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	out, _, err := run(t, "validate", "--config", path)
	require.NoError(t, err)

	columns := map[string][2]string{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		columns[fields[0]] = [2]string{fields[len(fields)-2], fields[len(fields)-1]}
	}

	tests := []struct {
		destination string
		breaker     string
		retry       string
	}{
		{"pacs", "off", "configured"},
		{"keycloak", "on", "none"},
		{"plain", "off", "legacy"},
	}
	for _, tt := range tests {
		t.Run(tt.destination, func(t *testing.T) {
			got, ok := columns[tt.destination]
			require.True(t, ok, out)
			assert.Equal(t, tt.breaker, got[0])
			assert.Equal(t, tt.retry, got[1])
		})
	}
}

func TestValidate_Schema(t *testing.T) {
	out, _, err := run(t, "validate", "--schema")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(out)))
}

func TestValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("destinations: {}\n"), 0o600))

	_, _, err := run(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitCodeConfig, exitCode(err))
}

func TestToken(t *testing.T) {
	idp := testutil.NewIdentityProvider(t, "cli-token", 3600)
	path := writeConfig(t, idp.URL)

	out, _, err := run(t, "token", "pacs", "--config", path, "--print")
	require.NoError(t, err)
	assert.Equal(t, "cli-token\n", out)

	out, _, err = run(t, "token", "pacs", "--config", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "cli-token")

	var status tokens.Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "pacs", status.Destination)
	assert.Equal(t, tokens.StateValid, status.State)
	assert.Equal(t, 2, idp.Calls())
}

func TestToken_Rejected(t *testing.T) {
	idp := testutil.NewIdentityProvider(t, "cli-token", 3600)
	idp.FailWith.Store(401)
	path := writeConfig(t, idp.URL)

	_, _, err := run(t, "token", "pacs", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitCodeAuth, exitCode(err))
}

func TestToken_UnknownDestination(t *testing.T) {
	idp := testutil.NewIdentityProvider(t, "cli-token", 3600)
	path := writeConfig(t, idp.URL)

	_, _, err := run(t, "token", "nope", "--config", path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalidValue))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitCodeError, exitCode(fmt.Errorf("plain")))
	assert.Equal(t, ExitCodeConfig, exitCode(errors.MissingKeyError("x")))
	assert.Equal(t, ExitCodeAuth, exitCode(errors.New(errors.CodeInvalidCredentials, "bad")))
	assert.Equal(t, ExitCodeAuth, exitCode(fmt.Errorf("wrapped: %w", errors.TimeoutError("token", nil))))
	assert.Equal(t, ExitCodeError, exitCode(errors.InternalError("boom", nil)))
}

func TestExecute(t *testing.T) {
	assert.Equal(t, ExitCodeSuccess, Execute(context.Background(), "dev", []string{"version"}))
	assert.Equal(t, ExitCodeError, Execute(context.Background(), "dev", []string{"no-such-command"}))
}
