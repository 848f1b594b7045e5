package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/autonomic-systems/engine/pkg/bus"
	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/autonomic-systems/engine/pkg/store"
)

// Querier is the subset of pkg/store.Store the engine needs for cold-start
// replay, explicit rebuilds, and snapshot-truncated replay. Declared
// locally so the engine can be exercised in tests against an in-memory
// fake.
type Querier interface {
	Query(ctx context.Context, f store.Filter) ([]eventing.Envelope, error)
	GetSnapshot(ctx context.Context, aggregateType, aggregateID string, wantSchemaVersion int) (store.Snapshot, bool, error)
	PutSnapshot(ctx context.Context, snap store.Snapshot) error
}

// snapshotAggregateType is the fixed aggregate_type a projection's cached
// state is saved under in pkg/store's snapshots table, with the
// projection's own Name as the aggregate_id — a projection's folded state
// spans every aggregate it has seen, not just one.
const snapshotAggregateType = "projection"

// entry is the live state an Engine tracks for one registered projection.
type entry struct {
	proj Projection

	mu    sync.RWMutex
	state map[string]any // aggregate_id -> state

	subIDs []string
}

// Engine owns a set of registered projections: their cold-start replay,
// their live bus subscription, and read access to their folded state. One
// Engine instance is an explicit long-lived value owned by the engine
// root, not a package-level singleton.
type Engine struct {
	store Querier
	bus   *bus.Bus

	mu          sync.Mutex
	projections map[string]*entry
}

// New constructs an Engine over the event store and bus.
func New(s Querier, b *bus.Bus) *Engine {
	return &Engine{store: s, bus: b, projections: make(map[string]*entry)}
}

// Register adds a projection without starting it — call Initialize (or
// InitializeAll) to replay history and begin live subscription.
func (e *Engine) Register(p Projection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.projections[p.Name()] = &entry{proj: p, state: make(map[string]any)}
}

// Initialize runs the cold-start sequence for one registered projection:
// query the store for its subscribed event types, fold them in order via
// Apply, then subscribe to the live bus for the same types so further
// events are folded as they arrive.
func (e *Engine) Initialize(ctx context.Context, name string) error {
	en, err := e.lookup(name)
	if err != nil {
		return err
	}
	if err := e.replay(ctx, en); err != nil {
		return err
	}
	e.subscribeLive(en)
	return nil
}

// InitializeAll initializes every registered projection.
func (e *Engine) InitializeAll(ctx context.Context) error {
	e.mu.Lock()
	names := make([]string, 0, len(e.projections))
	for name := range e.projections {
		names = append(names, name)
	}
	e.mu.Unlock()

	for _, name := range names {
		if err := e.Initialize(ctx, name); err != nil {
			return fmt.Errorf("initialize projection %s: %w", name, err)
		}
	}
	return nil
}

// Rebuild clears a projection's folded state and replays history from
// scratch, without re-subscribing (the live subscription from the
// original Initialize call stays intact) — equivalent to re-initializing
// the projection on cold state.
func (e *Engine) Rebuild(ctx context.Context, name string) error {
	en, err := e.lookup(name)
	if err != nil {
		return err
	}
	return e.replay(ctx, en)
}

// replay folds a projection's history into state. When a snapshot exists
// for the projection's current SchemaVersion, it seeds state from the
// snapshot and queries only events appended after the snapshot's cursor
// (GlobalSequence), truncating what would otherwise be a full replay;
// otherwise it folds from the beginning as before. Either way, the
// resulting state is saved as a new snapshot once folding completes, so
// the next cold start (or Rebuild) starts from here rather than scratch.
func (e *Engine) replay(ctx context.Context, en *entry) error {
	schemaVersion := en.proj.SchemaVersion()
	filter := store.Filter{EventTypes: en.proj.EventTypes(), Limit: maxReplayBatch}

	state := make(map[string]any)
	var highWater int64

	snap, ok, err := e.store.GetSnapshot(ctx, snapshotAggregateType, en.proj.Name(), schemaVersion)
	if err != nil {
		return fmt.Errorf("get projection snapshot: %w", err)
	}
	if ok {
		if state, err = decodeSnapshotState(en.proj, snap.State); err != nil {
			return fmt.Errorf("decode projection snapshot: %w", err)
		}
		highWater = snap.SequenceNumber
		filter.AfterSequence = &highWater
	}

	envs, err := e.store.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("query projection history: %w", err)
	}

	for _, env := range envs {
		state[env.AggregateID] = en.proj.Apply(state[env.AggregateID], env)
		if env.GlobalSequence > highWater {
			highWater = env.GlobalSequence
		}
	}

	en.mu.Lock()
	en.state = state
	en.mu.Unlock()

	if highWater > 0 && (!ok || highWater > snap.SequenceNumber) {
		if err := e.putSnapshot(ctx, en, schemaVersion, highWater); err != nil {
			// Truncated replay is an optimization, not a correctness
			// requirement: a failed snapshot write just means the next
			// cold start falls back to a full replay.
			slog.Warn("failed to save projection snapshot", "projection", en.proj.Name(), "error", err)
		}
	}
	return nil
}

// decodeSnapshotState reconstructs a projection's per-aggregate state map
// from a snapshot's raw JSON, which is itself a map of aggregate_id to
// that aggregate's state, individually decoded by the projection.
func decodeSnapshotState(proj Projection, raw json.RawMessage) (map[string]any, error) {
	var encoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot envelope: %w", err)
	}
	state := make(map[string]any, len(encoded))
	for aggregateID, r := range encoded {
		decoded, err := proj.DecodeState(r)
		if err != nil {
			return nil, fmt.Errorf("decode state for %s: %w", aggregateID, err)
		}
		state[aggregateID] = decoded
	}
	return state, nil
}

// putSnapshot marshals en's current state per aggregate and saves it as
// the projection's cached snapshot at sequence seq.
func (e *Engine) putSnapshot(ctx context.Context, en *entry, schemaVersion int, seq int64) error {
	en.mu.RLock()
	encoded := make(map[string]json.RawMessage, len(en.state))
	for aggregateID, s := range en.state {
		b, err := json.Marshal(s)
		if err != nil {
			en.mu.RUnlock()
			return fmt.Errorf("marshal state for %s: %w", aggregateID, err)
		}
		encoded[aggregateID] = b
	}
	en.mu.RUnlock()

	stateJSON, err := json.Marshal(encoded)
	if err != nil {
		return fmt.Errorf("marshal snapshot envelope: %w", err)
	}
	return e.store.PutSnapshot(ctx, store.Snapshot{
		AggregateType:  snapshotAggregateType,
		AggregateID:    en.proj.Name(),
		SequenceNumber: seq,
		SchemaVersion:  schemaVersion,
		State:          stateJSON,
	})
}

// maxReplayBatch bounds a single query against the event log, whether a
// full cold-start replay or the incremental query after a snapshot.
const maxReplayBatch = 100000

func (e *Engine) subscribeLive(en *entry) {
	if len(en.subIDs) > 0 {
		return // already subscribed, e.g. a Rebuild after the initial Initialize
	}
	handler := func(_ context.Context, env eventing.Envelope) {
		en.mu.Lock()
		en.state[env.AggregateID] = en.proj.Apply(en.state[env.AggregateID], env)
		en.mu.Unlock()
	}

	types := en.proj.EventTypes()
	if len(types) == 0 {
		en.subIDs = []string{e.bus.Subscribe(handler)}
		return
	}
	en.subIDs = make([]string, 0, len(types))
	for _, t := range types {
		en.subIDs = append(en.subIDs, e.bus.SubscribeType(t, handler))
	}
}

// QueryState returns the folded state for one aggregate_id, or false if
// this projection has never seen an event for it.
func (e *Engine) QueryState(name, aggregateID string) (any, bool) {
	en, err := e.lookup(name)
	if err != nil {
		return nil, false
	}
	en.mu.RLock()
	defer en.mu.RUnlock()
	s, ok := en.state[aggregateID]
	return s, ok
}

// All returns a snapshot of every aggregate_id's folded state for name.
func (e *Engine) All(name string) map[string]any {
	en, err := e.lookup(name)
	if err != nil {
		return nil
	}
	en.mu.RLock()
	defer en.mu.RUnlock()
	out := make(map[string]any, len(en.state))
	for k, v := range en.state {
		out[k] = v
	}
	return out
}

func (e *Engine) lookup(name string) (*entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.projections[name]
	if !ok {
		return nil, fmt.Errorf("projection %q is not registered", name)
	}
	return en, nil
}
