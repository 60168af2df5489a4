package errors

import "net/http"

// Code is a stable, documented error identifier
type Code string

const (
	CodeConfigMissingKey       Code = "CFG-001"
	CodeConfigInvalidValue     Code = "CFG-002"
	CodeConfigEnvVarMissing    Code = "CFG-003"
	CodeTokenAcquisitionFailed Code = "TOK-001"
	CodeTokenExpired           Code = "TOK-002"
	CodeTokenRefreshSoon       Code = "TOK-003"
	CodeTokenValidationFailed  Code = "TOK-004"
	CodeTokenInvalidResponse   Code = "TOK-005"
	CodeTokenRefreshFailed     Code = "TOK-006"
	CodeNetworkTimeout         Code = "NET-001"
	CodeNetworkConnection      Code = "NET-002"
	CodeNetworkTLS             Code = "NET-003"
	CodeInvalidCredentials     Code = "AUTH-001"
	CodeInsufficientScope      Code = "AUTH-002"
	CodeProviderUnavailable    Code = "AUTH-003"
	CodeInternal               Code = "INT-001"
)

const docsBase = "docs/TROUBLESHOOTING.md"

type codeInfo struct {
	category    Category
	severity    Severity
	httpStatus  int
	description string
	remediation []string
	docsURL     string
}

var catalog = map[Code]codeInfo{
	CodeConfigMissingKey: {
		category:    CategoryConfiguration,
		severity:    SeverityError,
		httpStatus:  http.StatusInternalServerError,
		description: "Required configuration key is missing",
		remediation: []string{
			"Add the missing key to the destination block of the configuration file",
			"Required keys: token_endpoint, client_id, client_secret (except for managed identity)",
			"Run `token-broker validate` to check the file",
		},
		docsURL: docsBase + "#cfg-001",
	},
	CodeConfigInvalidValue: {
		category:    CategoryConfiguration,
		severity:    SeverityError,
		httpStatus:  http.StatusInternalServerError,
		description: "Configuration value is invalid",
		remediation: []string{
			"URLs must start with http:// or https://",
			"Numeric values must be within their documented ranges",
			"provider_type must be one of the registered provider names or auto",
		},
		docsURL: docsBase + "#cfg-002",
	},
	CodeConfigEnvVarMissing: {
		category:    CategoryConfiguration,
		severity:    SeverityError,
		httpStatus:  http.StatusInternalServerError,
		description: "Referenced environment variable is not set",
		remediation: []string{
			"Export the variable before starting the broker",
			"Or add it to the .env file next to the configuration",
		},
		docsURL: docsBase + "#cfg-003",
	},
	CodeTokenAcquisitionFailed: {
		category:    CategoryAuthentication,
		severity:    SeverityError,
		httpStatus:  http.StatusUnauthorized,
		description: "Failed to acquire OAuth2 token",
		remediation: []string{
			"Verify client_id and client_secret",
			"Check that the token endpoint is reachable from this host",
			"Ensure the client is granted the client_credentials flow",
			"Inspect the logged provider response for details",
		},
		docsURL: docsBase + "#tok-001",
	},
	CodeTokenExpired: {
		category:    CategoryAuthentication,
		severity:    SeverityWarning,
		httpStatus:  http.StatusUnauthorized,
		description: "Cached token has expired",
		remediation: []string{
			"The token is renewed on the next request",
			"If this persists, check token endpoint availability",
		},
		docsURL: docsBase + "#tok-002",
	},
	CodeTokenRefreshSoon: {
		category:    CategoryAuthentication,
		severity:    SeverityInfo,
		httpStatus:  http.StatusOK,
		description: "Token is inside its refresh window",
		remediation: []string{
			"No action required",
		},
		docsURL: docsBase + "#tok-003",
	},
	CodeTokenValidationFailed: {
		category:    CategoryAuthentication,
		severity:    SeverityError,
		httpStatus:  http.StatusUnauthorized,
		description: "Token validation failed",
		remediation: []string{
			"Check the configured audience and issuer",
			"Ensure the provider signing keys are reachable",
			"Verify the configured public key matches the issuer",
		},
		docsURL: docsBase + "#tok-004",
	},
	CodeTokenInvalidResponse: {
		category:    CategoryAuthentication,
		severity:    SeverityError,
		httpStatus:  http.StatusBadGateway,
		description: "Invalid response from token endpoint",
		remediation: []string{
			"The token endpoint must return JSON with an access_token field",
			"Check that token_endpoint points at the token URL, not the authorize URL",
		},
		docsURL: docsBase + "#tok-005",
	},
	CodeTokenRefreshFailed: {
		category:    CategoryAuthentication,
		severity:    SeverityError,
		httpStatus:  http.StatusUnauthorized,
		description: "Failed to refresh OAuth2 token",
		remediation: []string{
			"The refresh token may be revoked or expired",
			"Check that the client supports the refresh_token grant",
		},
		docsURL: docsBase + "#tok-006",
	},
	CodeNetworkTimeout: {
		category:    CategoryNetwork,
		severity:    SeverityError,
		httpStatus:  http.StatusGatewayTimeout,
		description: "Network timeout connecting to endpoint",
		remediation: []string{
			"Check connectivity to the token endpoint",
			"Verify firewall rules allow outbound HTTPS",
			"Raise request_timeout if the endpoint is slow",
		},
		docsURL: docsBase + "#net-001",
	},
	CodeNetworkConnection: {
		category:    CategoryNetwork,
		severity:    SeverityError,
		httpStatus:  http.StatusBadGateway,
		description: "Cannot establish connection to endpoint",
		remediation: []string{
			"Verify the endpoint URL and DNS resolution",
			"Check proxy settings",
		},
		docsURL: docsBase + "#net-002",
	},
	CodeNetworkTLS: {
		category:    CategoryNetwork,
		severity:    SeverityError,
		httpStatus:  495,
		description: "TLS certificate verification failed",
		remediation: []string{
			"Check the endpoint certificate chain and expiry",
			"Point ca_bundle at the issuing CA for private PKI",
			"verify_ssl: false disables verification and is unsafe in production",
		},
		docsURL: docsBase + "#net-003",
	},
	CodeInvalidCredentials: {
		category:    CategoryAuthorization,
		severity:    SeverityError,
		httpStatus:  http.StatusUnauthorized,
		description: "Invalid client credentials",
		remediation: []string{
			"Verify client_id matches the registered client",
			"Rotate client_secret if it has expired",
		},
		docsURL: docsBase + "#auth-001",
	},
	CodeInsufficientScope: {
		category:    CategoryAuthorization,
		severity:    SeverityError,
		httpStatus:  http.StatusForbidden,
		description: "Insufficient scope for requested operation",
		remediation: []string{
			"Request the scope required by the downstream API",
			"Grant the client that scope at the identity provider",
		},
		docsURL: docsBase + "#auth-002",
	},
	CodeProviderUnavailable: {
		category:    CategoryAuthorization,
		severity:    SeverityCritical,
		httpStatus:  http.StatusServiceUnavailable,
		description: "OAuth provider is unavailable",
		remediation: []string{
			"The circuit breaker stops calls until its timeout elapses",
			"Check the identity provider status page",
			"POST /oauth/servers/{name}/reset forces the breaker closed",
		},
		docsURL: docsBase + "#auth-003",
	},
	CodeInternal: {
		category:    CategoryInternal,
		severity:    SeverityCritical,
		httpStatus:  http.StatusInternalServerError,
		description: "Internal error",
		remediation: []string{
			"Check the logs for the full error chain",
			"Report the issue with the correlation_id from the logs",
		},
		docsURL: docsBase + "#int-001",
	},
}

func lookup(code Code) codeInfo {
	if info, ok := catalog[code]; ok {
		return info
	}
	return catalog[CodeInternal]
}

// Describe returns the catalog description for code
func Describe(code Code) string {
	return lookup(code).description
}

// Codes lists every registered code
func Codes() []Code {
	codes := make([]Code, 0, len(catalog))
	for code := range catalog {
		codes = append(codes, code)
	}
	return codes
}
