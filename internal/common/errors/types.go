package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Category groups error codes by the layer that produced them.
type Category string

const (
	// CategoryConfiguration covers missing or invalid configuration
	CategoryConfiguration Category = "CONFIGURATION"
	// CategoryAuthentication covers rejected or malformed token exchanges
	CategoryAuthentication Category = "AUTHENTICATION"
	// CategoryNetwork covers timeouts, refused connections and TLS failures
	CategoryNetwork Category = "NETWORK"
	// CategoryAuthorization covers scope and provider availability problems
	CategoryAuthorization Category = "AUTHORIZATION"
	// CategoryInternal covers unexpected failures
	CategoryInternal Category = "INTERNAL"
)

// Severity is the operator-facing urgency of an error
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// AppError is the only error type that leaves the token manager.
//
// Category, severity, remediation, documentation link and HTTP status are
// derived from Code through the catalog, so two errors with the same code
// always present the same way to operators.
type AppError struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Code, e.Message)}

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		detailParts := make([]string, 0, len(keys))
		for _, k := range keys {
			detailParts = append(detailParts, fmt.Sprintf("%s=%v", k, e.Details[k]))
		}
		parts = append(parts, fmt.Sprintf("details={%s}", strings.Join(detailParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Category returns the category registered for the error code
func (e *AppError) Category() Category {
	return lookup(e.Code).category
}

// Severity returns the severity registered for the error code
func (e *AppError) Severity() Severity {
	return lookup(e.Code).severity
}

// HTTPStatus returns the status a REST layer should answer with
func (e *AppError) HTTPStatus() int {
	return lookup(e.Code).httpStatus
}

// Remediation returns the troubleshooting steps for the error code
func (e *AppError) Remediation() []string {
	steps := lookup(e.Code).remediation
	out := make([]string, len(steps))
	copy(out, steps)
	return out
}

// DocsURL returns the documentation pointer for the error code
func (e *AppError) DocsURL() string {
	return lookup(e.Code).docsURL
}

// WithDetail adds a single detail entry
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithDetails merges details into the error, keeping existing keys
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	for k, v := range details {
		if _, exists := e.Details[k]; exists {
			continue
		}
		e.WithDetail(k, v)
	}
	return e
}

// ToMap renders the error in its serialized shape.
func (e *AppError) ToMap() map[string]interface{} {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	if e.Cause != nil {
		if _, ok := details["cause"]; !ok {
			details["cause"] = e.Cause.Error()
		}
	}

	return map[string]interface{}{
		"code":        string(e.Code),
		"category":    string(e.Category()),
		"severity":    string(e.Severity()),
		"message":     e.Message,
		"details":     details,
		"remediation": e.Remediation(),
		"docs_url":    e.DocsURL(),
		"http_status": e.HTTPStatus(),
	}
}

// MarshalJSON implements json.Marshaler
func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToMap())
}

// New creates an error with the given code
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Wrap creates an error with the given code and cause
func Wrap(code Code, msg string, cause error) *AppError {
	return &AppError{Code: code, Message: msg, Cause: cause}
}

// MissingKeyError creates a CFG-001 error for a required configuration key
func MissingKeyError(key string) *AppError {
	return New(CodeConfigMissingKey, fmt.Sprintf("missing required configuration key %q", key)).
		WithDetail("key", key)
}

// ConfigError creates a CFG-002 error
func ConfigError(msg string) *AppError {
	return New(CodeConfigInvalidValue, msg)
}

// EnvVarError creates a CFG-003 error for an unset environment variable
func EnvVarError(name string) *AppError {
	return New(CodeConfigEnvVarMissing, fmt.Sprintf("environment variable %q is not set", name)).
		WithDetail("variable", name)
}

// AcquisitionError creates a TOK-001 error
func AcquisitionError(msg string, cause error) *AppError {
	return Wrap(CodeTokenAcquisitionFailed, msg, cause)
}

// InvalidResponseError creates a TOK-005 error
func InvalidResponseError(msg string) *AppError {
	return New(CodeTokenInvalidResponse, msg)
}

// ValidationError creates a TOK-004 error
func ValidationError(msg string) *AppError {
	return New(CodeTokenValidationFailed, msg)
}

// RefreshError creates a TOK-006 error
func RefreshError(msg string, cause error) *AppError {
	return Wrap(CodeTokenRefreshFailed, msg, cause)
}

// TimeoutError creates a NET-001 error
func TimeoutError(operation string, cause error) *AppError {
	return Wrap(CodeNetworkTimeout, fmt.Sprintf("timeout during %s", operation), cause)
}

// ConnectionError creates a NET-002 error
func ConnectionError(msg string, cause error) *AppError {
	return Wrap(CodeNetworkConnection, msg, cause)
}

// TLSError creates a NET-003 error
func TLSError(msg string, cause error) *AppError {
	return Wrap(CodeNetworkTLS, msg, cause)
}

// ProviderUnavailableError creates an AUTH-003 error
func ProviderUnavailableError(msg string, cause error) *AppError {
	return Wrap(CodeProviderUnavailable, msg, cause)
}

// InternalError creates an INT-001 error
func InternalError(msg string, cause error) *AppError {
	return Wrap(CodeInternal, msg, cause)
}

// As returns the outermost AppError in the chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether any AppError in the chain carries code
func HasCode(err error, code Code) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// GetCode returns the code of the outermost AppError, or empty
func GetCode(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ""
}

// IsCategory checks the category of the outermost AppError
func IsCategory(err error, category Category) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.Category() == category
}
