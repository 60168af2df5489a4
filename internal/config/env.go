package config

import (
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"token-broker/internal/common/errors"
)

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${NAME} in every scalar value of the document. Mapping
// keys are left alone. A plain scalar that held a reference is re-resolved
// after substitution so "${PORT}" can decode into a number.
func expandEnv(node *yaml.Node) error {
	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			if err := expandEnv(child); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 1; i < len(node.Content); i += 2 {
			if err := expandEnv(node.Content[i]); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		if !strings.Contains(node.Value, "${") {
			return nil
		}
		value, err := substitute(node.Value)
		if err != nil {
			return err.WithDetail("line", node.Line)
		}
		node.Value = value
		if node.Style == 0 {
			node.Tag = ""
		}
	}
	return nil
}

func substitute(value string) (string, *errors.AppError) {
	var missing string
	out := envPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		v, ok := os.LookupEnv(name)
		if !ok && missing == "" {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", errors.EnvVarError(missing)
	}
	return out, nil
}
