package config

import (
	"errors"
	"fmt"
)

// Sentinel load/validation errors, grounded on the teacher's
// pkg/config/errors.go.
var (
	ErrConfigNotFound   = errors.New("configuration file not found")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrValidationFailed = errors.New("configuration validation failed")
)

// ValidationError wraps a single field-level configuration problem with
// enough context to point an operator at the fix.
type ValidationError struct {
	Component string // "system", "scalers.K8s", "agent", ...
	Field     string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field %q: %v", e.Component, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
