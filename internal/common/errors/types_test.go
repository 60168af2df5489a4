package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "basic error",
			appError: New(CodeConfigInvalidValue, "refresh buffer must be positive"),
			want:     "[CFG-002] refresh buffer must be positive",
		},
		{
			name:     "error with cause",
			appError: Wrap(CodeNetworkConnection, "connection failed", errors.New("connection refused")),
			want:     "[NET-002] connection failed: cause=connection refused",
		},
		{
			name: "error with details sorted by key",
			appError: New(CodeTokenAcquisitionFailed, "acquisition failed").
				WithDetail("provider", "generic").
				WithDetail("destination", "pacs"),
			want: "[TOK-001] acquisition failed: details={destination=pacs, provider=generic}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

func TestCatalog(t *testing.T) {
	tests := []struct {
		code     Code
		category Category
		severity Severity
		status   int
	}{
		{CodeConfigMissingKey, CategoryConfiguration, SeverityError, 500},
		{CodeConfigEnvVarMissing, CategoryConfiguration, SeverityError, 500},
		{CodeTokenAcquisitionFailed, CategoryAuthentication, SeverityError, 401},
		{CodeTokenExpired, CategoryAuthentication, SeverityWarning, 401},
		{CodeTokenRefreshSoon, CategoryAuthentication, SeverityInfo, 200},
		{CodeTokenInvalidResponse, CategoryAuthentication, SeverityError, 502},
		{CodeNetworkTimeout, CategoryNetwork, SeverityError, 504},
		{CodeNetworkTLS, CategoryNetwork, SeverityError, 495},
		{CodeInsufficientScope, CategoryAuthorization, SeverityError, 403},
		{CodeProviderUnavailable, CategoryAuthorization, SeverityCritical, 503},
		{CodeInternal, CategoryInternal, SeverityCritical, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "x")
			assert.Equal(t, tt.category, err.Category())
			assert.Equal(t, tt.severity, err.Severity())
			assert.Equal(t, tt.status, err.HTTPStatus())
			assert.NotEmpty(t, err.Remediation())
			assert.NotEmpty(t, err.DocsURL())
		})
	}

	t.Run("every code is documented", func(t *testing.T) {
		for _, code := range Codes() {
			assert.NotEmpty(t, Describe(code), code)
		}
	})
}

func TestAppError_MarshalJSON(t *testing.T) {
	err := AcquisitionError("token endpoint rejected credentials", errors.New("invalid_client")).
		WithDetail("destination", "pacs")

	data, jsonErr := json.Marshal(err)
	require.NoError(t, jsonErr)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "TOK-001", decoded["code"])
	assert.Equal(t, "AUTHENTICATION", decoded["category"])
	assert.Equal(t, "ERROR", decoded["severity"])
	assert.Equal(t, float64(401), decoded["http_status"])
	assert.Equal(t, "docs/TROUBLESHOOTING.md#tok-001", decoded["docs_url"])

	details := decoded["details"].(map[string]interface{})
	assert.Equal(t, "pacs", details["destination"])
	assert.Equal(t, "invalid_client", details["cause"])
	assert.NotEmpty(t, decoded["remediation"])
}

func TestAppError_Unwrap(t *testing.T) {
	sentinel := errors.New("root cause")
	err := fmt.Errorf("outer: %w", Wrap(CodeInternal, "wrapped", sentinel))

	assert.True(t, errors.Is(err, sentinel))
	assert.True(t, HasCode(err, CodeInternal))
	assert.False(t, HasCode(err, CodeNetworkTimeout))
	assert.Equal(t, CodeInternal, GetCode(err))
	assert.True(t, IsCategory(err, CategoryInternal))
}

func TestWithDetails_KeepsExisting(t *testing.T) {
	err := New(CodeInternal, "x").WithDetail("destination", "a")
	err.WithDetails(map[string]interface{}{"destination": "b", "provider": "generic"})

	assert.Equal(t, "a", err.Details["destination"])
	assert.Equal(t, "generic", err.Details["provider"])
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestFromTransport(t *testing.T) {
	refused := &url.Error{Op: "Post", URL: "http://127.0.0.1:1", Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}

	tests := []struct {
		name    string
		err     error
		want    Code
		network bool
	}{
		{"connection refused", refused, CodeNetworkConnection, true},
		{"url timeout", &url.Error{Op: "Post", URL: "http://x", Err: timeoutErr{}}, CodeNetworkTimeout, true},
		{"deadline exceeded", fmt.Errorf("post: %w", context.DeadlineExceeded), CodeNetworkTimeout, true},
		{"plain error", errors.New("boom"), "", false},
		{"url error around plain error", &url.Error{Op: "Post", URL: "x", Err: errors.New("unsupported protocol scheme")}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr, ok := FromTransport(tt.err, "token request")
			assert.Equal(t, tt.network, ok)
			if ok {
				assert.Equal(t, tt.want, appErr.Code)
				assert.True(t, errors.Is(appErr, tt.err))
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(TimeoutError("token request", nil)))
	assert.True(t, IsRetryable(ConnectionError("refused", nil)))
	assert.False(t, IsRetryable(AcquisitionError("rejected", nil)))
	assert.False(t, IsRetryable(ValidationError("bad signature")))
	assert.False(t, IsRetryable(ConfigError("bad")))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsRetryable(nil))
}
