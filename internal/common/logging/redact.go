package logging

import (
	"regexp"
	"strings"
)

// Redacted replaces secret values in log output
const Redacted = "***REDACTED***"

var secretKeys = map[string]struct{}{
	"client_secret": {},
	"secret":        {},
	"password":      {},
	"api_key":       {},
	"access_token":  {},
	"refresh_token": {},
	"token":         {},
	"authorization": {},
}

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(bearer)\s+[\w\-\.~+/]+=*`), "${1} " + Redacted},
	{regexp.MustCompile(`(?i)\b(client_secret|api_key|password|secret|access_token|refresh_token|token)("?\s*[=:]\s*"?)[\w\-\.~+/]+`), "${1}${2}" + Redacted},
}

// IsSecretKey reports whether values logged under key must never appear
func IsSecretKey(key string) bool {
	_, ok := secretKeys[strings.ToLower(key)]
	return ok
}

// RedactString scrubs bearer tokens and key=value secrets from s
func RedactString(s string) string {
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

// RedactField returns the value to log for key
func RedactField(key string, value interface{}) interface{} {
	if IsSecretKey(key) {
		return Redacted
	}
	return redactValue(value)
}

func redactValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return RedactString(v)
	case error:
		return RedactString(v.Error())
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = RedactField(k, val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, val := range v {
			if IsSecretKey(k) {
				out[k] = Redacted
			} else {
				out[k] = RedactString(val)
			}
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, val := range v {
			out[i] = RedactString(val)
		}
		return out
	default:
		return value
	}
}
