package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bearer header", "Authorization: Bearer eyJhbGciOi.x.y", "Authorization: Bearer " + Redacted},
		{"key value", "client_secret=abc123&grant_type=client_credentials", "client_secret=" + Redacted + "&grant_type=client_credentials"},
		{"json field", `{"access_token": "T1", "expires_in": 600}`, `{"access_token": "` + Redacted + `", "expires_in": 600}`},
		{"prose mentioning token", "Acquiring new token for destination", "Acquiring new token for destination"},
		{"nothing to redact", "grant_type=client_credentials", "grant_type=client_credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactString(tt.in))
		})
	}
}

func TestRedactField(t *testing.T) {
	assert.Equal(t, Redacted, RedactField("Client_Secret", "x"))
	assert.Equal(t, Redacted, RedactField("token", "x"))
	assert.Equal(t, "pacs", RedactField("destination", "pacs"))
	assert.Equal(t, 42, RedactField("count", 42))
	assert.Equal(t, "password=" + Redacted, RedactField("error", errors.New("password=pw")))

	nested := RedactField("details", map[string]interface{}{
		"refresh_token": "r1",
		"endpoint":      "https://login.example.com/token",
	}).(map[string]interface{})
	assert.Equal(t, Redacted, nested["refresh_token"])
	assert.Equal(t, "https://login.example.com/token", nested["endpoint"])
}
