package models

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError describes malformed input rejected before any matching happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func fieldIndex(name string, i int) string {
	return fmt.Sprintf("%s[%d]", name, i)
}

// indexed nests a ValidationError under name[i].
func indexed(name string, i int, err error) error {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("%s: %w", fieldIndex(name, i), err)
	}
	field := fieldIndex(name, i)
	if ve.Field != "" {
		field += "." + ve.Field
	}
	return &ValidationError{Field: field, Reason: ve.Reason}
}

// NewValidationError builds a ValidationError for callers outside this package.
func NewValidationError(field, format string, args ...any) error {
	return invalid(field, format, args...)
}
