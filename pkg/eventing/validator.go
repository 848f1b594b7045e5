package eventing

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrValidation wraps every structural rejection from Validate so callers
// can classify it as the store's validation_error kind (see pkg/store).
var ErrValidation = errors.New("validation_error")

var (
	once sync.Once
	v    *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() { v = validator.New() })
	return v
}

// PayloadValidator is implemented by typed payload structs (see payloads.go)
// that need validation beyond struct tags.
type PayloadValidator interface {
	Validate() error
}

// Validate performs structural validation of an envelope: required fields,
// confidence range, closed event-type taxonomy, and payload well-formedness.
// It does NOT check sequence_number (store-assigned) or causation DAG
// integrity (store's job, since it requires a lookup).
func Validate(e Envelope) error {
	if err := instance().Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !IsKnownEventType(e.EventType) {
		return fmt.Errorf("%w: unknown event_type %q", ErrValidation, e.EventType)
	}
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return fmt.Errorf("%w: payload must be a keyed structure", ErrValidation)
	}
	var probe map[string]any
	if err := e.DecodePayload(&probe); err != nil {
		return fmt.Errorf("%w: payload is not a keyed structure: %v", ErrValidation, err)
	}
	if pv, ok := payloadFor(e.EventType); ok {
		if err := e.DecodePayload(pv); err != nil {
			return fmt.Errorf("%w: payload does not match %s schema: %v", ErrValidation, e.EventType, err)
		}
		if err := instance().Struct(pv); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if vv, ok := pv.(PayloadValidator); ok {
			if err := vv.Validate(); err != nil {
				return fmt.Errorf("%w: %v", ErrValidation, err)
			}
		}
	}
	return nil
}
