// Package validation checks decoded configuration values.
//
// Struct applies `validate` tags with go-playground/validator. Validator is a
// fluent accumulator for rules that tags cannot express. Both report
// *errors.AppError values: a missing value is CFG-001, anything else CFG-002.
package validation

import (
	stderrors "errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"token-broker/internal/common/errors"
)

var (
	structValidator *validator.Validate
	structOnce      sync.Once
)

func instance() *validator.Validate {
	structOnce.Do(func() {
		structValidator = validator.New(validator.WithRequiredStructEnabled())

		// Report fields by their configuration key rather than the Go name
		structValidator.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return structValidator
}

// Struct validates s against its `validate` tags. prefix, when set, is
// prepended to every reported key.
func Struct(s interface{}, prefix string) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.Wrap(errors.CodeInternal, "validation could not run", err)
	}

	v := NewValidatorWithPrefix(prefix)
	for _, fe := range fieldErrs {
		v.addFieldError(fe)
	}
	return v.Error()
}

// violation is one failed rule
type violation struct {
	key     string
	missing bool
	message string
}

// Validator accumulates validation errors
type Validator struct {
	violations []violation
	prefix     string
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// NewValidatorWithPrefix creates a new validator with a prefix for keys and messages
func NewValidatorWithPrefix(prefix string) *Validator {
	return &Validator{prefix: prefix}
}

// RequireString validates that a string is not empty
func (v *Validator) RequireString(value, name string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.add(name, true, "%s is required", name)
	}
	return v
}

// RequirePositive validates that an integer is positive
func (v *Validator) RequirePositive(value int, name string) *Validator {
	if value <= 0 {
		v.add(name, false, "%s must be positive", name)
	}
	return v
}

// RequireNonNegative validates that an integer is non-negative
func (v *Validator) RequireNonNegative(value int, name string) *Validator {
	if value < 0 {
		v.add(name, false, "%s must be non-negative", name)
	}
	return v
}

// RequireHTTPURL validates an absolute http or https URL. Empty values pass
// unless required is set.
func (v *Validator) RequireHTTPURL(value, name string, required bool) *Validator {
	if value == "" {
		if required {
			v.add(name, true, "%s is required", name)
		}
		return v
	}

	u, err := url.Parse(value)
	if err != nil {
		v.add(name, false, "%s must be a valid URL: %v", name, err)
		return v
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.add(name, false, "%s must be an absolute http or https URL", name)
	}
	return v
}

// RequireOneOf validates that a value is one of the allowed values
func (v *Validator) RequireOneOf(value string, allowed []string, name string) *Validator {
	if value == "" {
		v.add(name, true, "%s is required", name)
		return v
	}

	for _, a := range allowed {
		if value == a {
			return v
		}
	}

	v.add(name, false, "%s must be one of: %s", name, strings.Join(allowed, ", "))
	return v
}

// Validate runs a custom validation function
func (v *Validator) Validate(name string, fn func() error) *Validator {
	if err := fn(); err != nil {
		v.add(name, false, "%s", err.Error())
	}
	return v
}

// ValidateIf runs a validation function if a condition is true
func (v *Validator) ValidateIf(condition bool, name string, fn func() error) *Validator {
	if condition {
		return v.Validate(name, fn)
	}
	return v
}

// Merge merges errors from another validator
func (v *Validator) Merge(other *Validator) *Validator {
	if other != nil {
		v.violations = append(v.violations, other.violations...)
	}
	return v
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.violations) > 0
}

// Error returns nil, or one *errors.AppError describing every violation.
// The code follows the first violation.
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}

	first := v.violations[0]
	messages := make([]string, len(v.violations))
	for i, vi := range v.violations {
		messages[i] = vi.message
	}

	var appErr *errors.AppError
	if first.missing {
		appErr = errors.MissingKeyError(first.key)
	} else {
		appErr = errors.ConfigError(first.message).WithDetail("key", first.key)
	}
	if len(messages) > 1 {
		appErr.Message = fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
	}
	return appErr.WithDetail("violations", messages)
}

func (v *Validator) add(name string, missing bool, format string, args ...interface{}) {
	key := name
	msg := fmt.Sprintf(format, args...)
	if v.prefix != "" {
		key = v.prefix + "." + name
		msg = fmt.Sprintf("%s: %s", v.prefix, msg)
	}
	v.violations = append(v.violations, violation{key: key, missing: missing, message: msg})
}

func (v *Validator) addFieldError(fe validator.FieldError) {
	// Namespace is Root.field.sub; the root type name is not a config key
	name := fe.Namespace()
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}

	switch fe.Tag() {
	case "required", "required_if", "required_unless", "required_with", "required_without":
		v.add(name, true, "%s is required", name)
	case "oneof":
		v.add(name, false, "%s must be one of: %s", name, strings.Join(strings.Fields(fe.Param()), ", "))
	case "min", "gte":
		v.add(name, false, "%s must be at least %s", name, fe.Param())
	case "max", "lte":
		v.add(name, false, "%s must be at most %s", name, fe.Param())
	case "url", "http_url":
		v.add(name, false, "%s must be a valid URL", name)
	case "file":
		v.add(name, false, "%s must name an existing file", name)
	case "excluded_with":
		v.add(name, false, "%s cannot be combined with %s", name, fe.Param())
	default:
		v.add(name, false, "%s failed the %q rule", name, fe.Tag())
	}
}
