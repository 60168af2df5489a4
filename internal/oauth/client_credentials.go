package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apperrors "token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
	"token-broker/internal/common/ratelimit"
	"token-broker/internal/crypto"
)

// maxResponseBytes bounds how much of a token endpoint response is read
const maxResponseBytes = 1 << 20

// clientCredentials performs the form-encoded token exchange shared by all
// endpoint-based providers. The client secret is kept sealed in the vault
// and opened only while a request body is being built.
type clientCredentials struct {
	provider     string
	destination  string
	endpoint     string
	clientID     string
	sealedSecret string
	scope        string

	vault   *crypto.Vault
	client  *http.Client
	limiter ratelimit.Limiter
	logger  logging.Logger
}

func newClientCredentials(provider string, cfg Config, deps Deps) (*clientCredentials, error) {
	switch {
	case cfg.TokenEndpoint == "":
		return nil, apperrors.MissingKeyError("token_endpoint").WithDetail("destination", cfg.Destination)
	case cfg.ClientID == "":
		return nil, apperrors.MissingKeyError("client_id").WithDetail("destination", cfg.Destination)
	case cfg.ClientSecret == "":
		return nil, apperrors.MissingKeyError("client_secret").WithDetail("destination", cfg.Destination)
	}

	if _, err := url.ParseRequestURI(cfg.TokenEndpoint); err != nil {
		return nil, apperrors.ConfigError(fmt.Sprintf("token_endpoint is not a valid URL: %v", err)).
			WithDetail("destination", cfg.Destination)
	}

	sealed, err := deps.Vault.Encrypt(cfg.ClientSecret)
	if err != nil {
		return nil, err
	}

	return &clientCredentials{
		provider:     provider,
		destination:  cfg.Destination,
		endpoint:     cfg.TokenEndpoint,
		clientID:     cfg.ClientID,
		sealedSecret: sealed,
		scope:        cfg.Scope,
		vault:        deps.Vault,
		client:       deps.HTTPClient,
		limiter:      deps.Limiter,
		logger: deps.Logger.WithFields(
			logging.String("provider", provider),
			logging.String("destination", cfg.Destination),
		),
	}, nil
}

func (c *clientCredentials) acquire(ctx context.Context) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if c.scope != "" {
		form.Set("scope", c.scope)
	}
	return c.exchange(ctx, form, apperrors.CodeTokenAcquisitionFailed)
}

func (c *clientCredentials) refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if refreshToken == "" {
		return nil, c.annotate(apperrors.RefreshError("refresh token is empty", nil))
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	token, err := c.exchange(ctx, form, apperrors.CodeTokenRefreshFailed)
	if err != nil {
		return nil, err
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}

func (c *clientCredentials) exchange(ctx context.Context, form url.Values, failCode apperrors.Code) (*Token, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.destination); err != nil {
			return nil, c.transportError(err, failCode, "rate limited token request aborted")
		}
	}

	secret, err := c.vault.Decrypt(c.sealedSecret)
	if err != nil {
		return nil, c.annotate(apperrors.InternalError("failed to unseal client secret", err))
	}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", secret)
	body := form.Encode()
	form.Del("client_secret")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, c.annotate(apperrors.Wrap(failCode, "failed to create token request", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Requesting token", logging.String("grant_type", form.Get("grant_type")))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.transportError(err, failCode, "token request failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportError(err, failCode, "failed to read token response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp.StatusCode, payload, failCode)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, c.annotate(apperrors.InvalidResponseError("token response is not valid JSON").
			WithDetail("status", resp.StatusCode))
	}
	if parsed.AccessToken == "" {
		return nil, c.annotate(apperrors.InvalidResponseError("invalid token response: missing access_token").
			WithDetail("status", resp.StatusCode))
	}

	return parsed.token(), nil
}

func (c *clientCredentials) transportError(err error, failCode apperrors.Code, msg string) error {
	if appErr, ok := apperrors.FromTransport(err, "token request"); ok {
		return c.annotate(appErr)
	}
	return c.annotate(apperrors.Wrap(failCode, msg, err))
}

// statusError maps an error response from the token endpoint to a code.
// RFC 6749 section 5.2 error values take precedence over the status code.
func (c *clientCredentials) statusError(status int, payload []byte, failCode apperrors.Code) error {
	var body struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	_ = json.Unmarshal(payload, &body)

	code := failCode
	switch body.Error {
	case "invalid_client", "unauthorized_client":
		code = apperrors.CodeInvalidCredentials
	case "invalid_scope":
		code = apperrors.CodeInsufficientScope
	}

	msg := fmt.Sprintf("token endpoint returned status %d", status)
	if body.Error != "" {
		msg = fmt.Sprintf("%s: %s", msg, body.Error)
	}

	appErr := apperrors.New(code, msg).WithDetail("status", status)
	if body.Error != "" {
		appErr = appErr.WithDetail("oauth_error", body.Error)
	}
	if body.Description != "" {
		appErr = appErr.WithDetail("error_description", body.Description)
	}
	return c.annotate(appErr)
}

func (c *clientCredentials) annotate(err *apperrors.AppError) *apperrors.AppError {
	return err.WithDetails(map[string]interface{}{
		"destination": c.destination,
		"provider":    c.provider,
		"endpoint":    c.endpoint,
	})
}

// tokenResponse is the RFC 6749 section 5.1 success body
type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	ExpiresIn    lifetime `json:"expires_in"`
	TokenType    string   `json:"token_type"`
	RefreshToken string   `json:"refresh_token"`
	Scope        string   `json:"scope"`
}

func (r tokenResponse) token() *Token {
	t := &Token{
		AccessToken:  r.AccessToken,
		ExpiresIn:    DefaultLifetime,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
		Scope:        r.Scope,
	}
	if r.ExpiresIn.set {
		t.ExpiresIn = r.ExpiresIn.seconds
	}
	if t.TokenType == "" {
		t.TokenType = "Bearer"
	}
	return t
}

// lifetime accepts expires_in as a number or a numeric string.
// Some providers, older Azure endpoints among them, send the latter.
type lifetime struct {
	seconds int
	set     bool
}

func (l *lifetime) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("expires_in: %w", err)
	}
	l.seconds = int(f)
	l.set = true
	return nil
}
