// Package projection folds the durable event log into rebuildable,
// in-memory read models. A Projection is a pure function of (previous
// state, event) to new state, keyed by aggregate_id; Engine owns the
// query-then-fold cold start and the live bus subscription that keeps each
// projection current.
package projection

import (
	"encoding/json"

	"github.com/autonomic-systems/engine/pkg/eventing"
)

// Projection is the abstract base: a name, the event types it folds, and
// a pure Apply function. state is nil the first time
// Apply is called for a given aggregate_id — implementations construct
// their zero value in that case rather than relying on the caller to seed
// one, matching the "cold start" semantics of initialize/rebuild.
type Projection interface {
	// Name identifies the projection for Engine.Rebuild/QueryState.
	Name() string
	// EventTypes lists the event types this projection folds. An empty
	// slice means every event type (wildcard).
	EventTypes() []string
	// Apply folds one event into state for its aggregate_id, returning
	// the new state. Must be a pure function of its inputs — no I/O, no
	// hidden state — so rebuild-from-scratch always reproduces the same
	// result as incremental live folding.
	Apply(state any, env eventing.Envelope) any
	// SchemaVersion identifies the shape Apply's returned state is in.
	// Engine saves it alongside a snapshot and only accepts a cached
	// snapshot back if the version still matches; bump it when Apply's
	// state shape changes incompatibly, and old snapshots are treated as
	// absent rather than fed back through DecodeState.
	SchemaVersion() int
	// DecodeState reconstructs one aggregate's typed state from the JSON
	// a snapshot cached it as, the inverse of whatever Apply returns.
	// Engine uses this only when resuming from a snapshot; live folding
	// never round-trips state through JSON.
	DecodeState(raw json.RawMessage) (any, error)
}
