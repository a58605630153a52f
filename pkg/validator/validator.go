// Package validator provides struct-tag validation for verl-prime.
// It wraps go-playground/validator and translates failures into the
// structured configuration errors the rest of the trainer expects.
package validator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/ZefanW/verl-prime/pkg/errors"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// instance returns the shared validator, initialized lazily
func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Struct validates a struct against its `validate` tags and returns a
// structured configuration error naming every failed field
func Struct(s interface{}) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "struct validation failed")
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return apperrors.ConfigError(apperrors.CodeConfigInvalid, strings.Join(msgs, "; "))
}

// Var validates a single value against a tag expression
func Var(field interface{}, tag string) error {
	if err := instance().Var(field, tag); err != nil {
		return apperrors.ConfigErrorf(apperrors.CodeConfigInvalid,
			"value %v failed validation %q", field, tag)
	}
	return nil
}

// describeFieldError renders one field failure as a readable message
func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Namespace(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Namespace(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", fe.Namespace(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", fe.Namespace(), fe.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a host:port address", fe.Namespace())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag())
	}
}
