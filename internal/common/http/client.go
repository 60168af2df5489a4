// Package http builds the HTTP clients used to talk to token endpoints.
package http

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"token-broker/internal/common/errors"
)

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	InsecureSkipVerify  bool
	CABundle            string
	Transport           http.RoundTripper
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithTransport sets a custom transport. TLS options are ignored when set.
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// WithCABundle trusts the PEM certificates in path in addition to the system pool
func WithCABundle(path string) ClientOption {
	return func(c *ClientConfig) {
		c.CABundle = path
	}
}

// WithVerify applies a destination's verify_ssl / ca_bundle pair
func WithVerify(verify bool, caBundle string) ClientOption {
	return func(c *ClientConfig) {
		c.InsecureSkipVerify = !verify
		c.CABundle = caBundle
	}
}

// NewHTTPClient creates a new HTTP client with the given options.
// It fails with CFG-002 when the CA bundle cannot be loaded.
func NewHTTPClient(opts ...ClientOption) (*http.Client, error) {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}

		httpTransport := http.DefaultTransport.(*http.Transport).Clone()
		httpTransport.MaxIdleConns = cfg.MaxIdleConns
		httpTransport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		httpTransport.IdleConnTimeout = cfg.IdleConnTimeout
		httpTransport.TLSClientConfig = tlsConfig
		transport = httpTransport
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}, nil
}

func buildTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if cfg.CABundle == "" {
		return tlsConfig, nil
	}

	pem, err := os.ReadFile(cfg.CABundle)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("cannot read ca_bundle %s", cfg.CABundle)).
			WithDetail("cause", err.Error())
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.ConfigError(fmt.Sprintf("ca_bundle %s contains no PEM certificates", cfg.CABundle))
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}
