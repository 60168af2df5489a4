package http

import (
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-broker/internal/common/errors"
)

func TestDefaultClientConfig(t *testing.T) {
	config := DefaultClientConfig()

	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, 100, config.MaxIdleConns)
	assert.Equal(t, 10, config.MaxIdleConnsPerHost)
	assert.False(t, config.InsecureSkipVerify)
	assert.Empty(t, config.CABundle)
}

func TestWithVerify(t *testing.T) {
	config := DefaultClientConfig()
	WithVerify(false, "/etc/ca.pem")(&config)

	assert.True(t, config.InsecureSkipVerify)
	assert.Equal(t, "/etc/ca.pem", config.CABundle)
}

func TestNewHTTPClient(t *testing.T) {
	client, err := NewHTTPClient(WithTimeout(5 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.False(t, transport.TLSClientConfig.InsecureSkipVerify)
}

func TestNewHTTPClient_TLS(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	t.Run("self-signed rejected by default", func(t *testing.T) {
		client, err := NewHTTPClient()
		require.NoError(t, err)

		_, err = client.Get(server.URL)
		require.Error(t, err)

		appErr, ok := errors.FromTransport(err, "test request")
		require.True(t, ok)
		assert.Equal(t, errors.CodeNetworkTLS, appErr.Code)
	})

	t.Run("verification disabled", func(t *testing.T) {
		client, err := NewHTTPClient(WithVerify(false, ""))
		require.NoError(t, err)

		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		resp.Body.Close()
	})

	t.Run("ca bundle trusts server", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ca.pem")
		block := &pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw}
		require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

		client, err := NewHTTPClient(WithCABundle(path))
		require.NoError(t, err)

		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		resp.Body.Close()
	})
}

func TestNewHTTPClient_BadCABundle(t *testing.T) {
	_, err := NewHTTPClient(WithCABundle(filepath.Join(t.TempDir(), "missing.pem")))
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalidValue))

	path := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))
	_, err = NewHTTPClient(WithCABundle(path))
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalidValue))
}
