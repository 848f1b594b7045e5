package store

import "errors"

// Error kinds returned by the store. HTTP handlers in pkg/api translate
// these to status codes; callers above never swallow transient_error.
var (
	// ErrValidation mirrors eventing.ErrValidation — an envelope rejected
	// structural validation before it ever reached a transaction.
	ErrValidation = errors.New("validation_error")

	// ErrVersionConflict signals a concurrent append raced on the same
	// aggregate stream. Append does not retry it; it is returned to the
	// caller.
	ErrVersionConflict = errors.New("version_conflict")

	// ErrTransient signals the storage layer (or, for the bus, the
	// real-time bridge) is unavailable. Surfaced to the caller as 503; the
	// store does not retry it.
	ErrTransient = errors.New("transient_error")

	// ErrAlreadyResolved is returned by Store.Resolve when the
	// targeted approval is no longer pending.
	ErrAlreadyResolved = errors.New("approval_already_resolved")

	// ErrNotFound is returned when a lookup by id finds nothing.
	ErrNotFound = errors.New("not_found")
)
