package sop

import (
	"context"
	"fmt"

	"github.com/autonomic-systems/engine/pkg/eventing"
)

// Appender is the subset of pkg/store.Store used to durably record
// procedure lifecycle events before they're fanned out — the same
// append-then-publish ordering every emission in the engine follows.
type Appender interface {
	Append(ctx context.Context, env eventing.Envelope) (eventing.Envelope, error)
}

// Publisher is the subset of pkg/bus.Bus used to fan out a lifecycle
// event locally after it's durable.
type Publisher interface {
	Publish(ctx context.Context, env eventing.Envelope)
}

// Manager wraps a Registry with the store/bus handles needed to make
// Propose/Activate observable events rather than silent in-memory state
// changes — every SOP version change is itself part of the event log.
type Manager struct {
	registry *Registry
	store    Appender
	bus      Publisher
	now      eventing.Clock
}

// NewManager constructs a Manager over an already-loaded registry.
func NewManager(registry *Registry, store Appender, bus Publisher) *Manager {
	return &Manager{registry: registry, store: store, bus: bus}
}

// Registry exposes the read side (Get, Resolve, CanAutomate's input) to callers
// that only need to consult procedures, not change them.
func (m *Manager) Registry() *Registry { return m.registry }

// Propose validates and records a new version of a procedure, then emits
// SOP_VERSION_PROPOSED. The version is not active until a subsequent Activate.
func (m *Manager) Propose(ctx context.Context, def Definition) error {
	if err := m.registry.Propose(def); err != nil {
		return err
	}
	env, err := eventing.New(m.now, eventing.EventSOPVersionProposed, "sop", def.ID,
		eventing.SOPVersionProposedPayload{SOPID: def.ID, Version: def.Version}, "sop-registry", 1.0, false)
	if err != nil {
		return fmt.Errorf("build SOP_VERSION_PROPOSED: %w", err)
	}
	return m.appendAndPublish(ctx, env)
}

// Activate promotes version to active and emits SOP_VERSION_ACTIVATED. If
// version is already active, this is a no-op that returns ErrAlreadyActive
// without emitting a duplicate event.
func (m *Manager) Activate(ctx context.Context, id string, version int) error {
	previous, _ := m.registry.Get(id)
	if _, err := m.registry.Activate(id, version); err != nil {
		return err
	}
	env, err := eventing.New(m.now, eventing.EventSOPVersionActivated, "sop", id,
		eventing.SOPVersionActivatedPayload{SOPID: id, Version: version, PreviousVersion: previous.Version},
		"sop-registry", 1.0, false)
	if err != nil {
		return fmt.Errorf("build SOP_VERSION_ACTIVATED: %w", err)
	}
	return m.appendAndPublish(ctx, env)
}

func (m *Manager) appendAndPublish(ctx context.Context, env eventing.Envelope) error {
	appended, err := m.store.Append(ctx, env)
	if err != nil {
		return err
	}
	m.bus.Publish(ctx, appended)
	return nil
}
