package config

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidYAML indicates the defaults file failed to parse.
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrValidationFailed indicates the resolved configuration failed
	// struct-tag validation.
	ErrValidationFailed = errors.New("configuration validation failed")

	// ErrMissingRequiredField indicates a required field was left unset
	// by every source (file, environment, and built-in default).
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidValue indicates a field carries a value its source
	// couldn't parse (e.g. a non-numeric FINANCIAL_LIMIT).
	ErrInvalidValue = errors.New("invalid field value")
)

// LoadError wraps a configuration-loading failure with the file that
// caused it.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load config %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError wraps err with the offending file path.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}

// FieldError wraps a single resolved-value parse failure with the
// environment variable that produced it.
type FieldError struct {
	Var string
	Err error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Var, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// NewFieldError wraps err with the environment variable name that
// produced it.
func NewFieldError(varName string, err error) *FieldError {
	return &FieldError{Var: varName, Err: err}
}
