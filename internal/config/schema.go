package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"token-broker/internal/common/errors"
)

//go:embed schema.json
var schemaJSON []byte

// Schema returns the JSON schema configuration files are checked against
func Schema() []byte {
	return schemaJSON
}

// validateSchema checks a decoded YAML document against the embedded schema
func validateSchema(document interface{}) error {
	data, err := json.Marshal(document)
	if err != nil {
		return errors.Wrap(errors.CodeConfigInvalidValue, "configuration cannot be represented as JSON", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "schema validation error", err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return errors.ConfigError(fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(violations, "\n  - "))).
		WithDetail("violations", violations)
}
