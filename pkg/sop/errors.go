package sop

import "errors"

var (
	// ErrNotFound indicates no procedure exists for the requested id.
	ErrNotFound = errors.New("sop not found")

	// ErrVersionNotFound indicates the id exists but not the requested version.
	ErrVersionNotFound = errors.New("sop version not found")

	// ErrInvalidYAML indicates a procedure file failed to parse.
	ErrInvalidYAML = errors.New("invalid sop YAML")

	// ErrValidationFailed indicates a loaded definition failed structural
	// validation (see Definition's validate tags) and was refused.
	ErrValidationFailed = errors.New("sop validation failed")

	// ErrAlreadyActive indicates Activate was called for a version that is
	// already the active one — a no-op, reported so callers don't double-emit
	// SOP_VERSION_ACTIVATED.
	ErrAlreadyActive = errors.New("sop version already active")
)
