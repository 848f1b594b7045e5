// Package bus is the event bus: an in-process pub/sub registry (the local
// plane) plus an optional cross-instance bridge over PostgreSQL
// LISTEN/NOTIFY (the distributed plane). It fans appended events out to
// agents, projections, and the SSE broadcaster.
//
// The local plane is a subscription-registry-plus-broadcast shape; the
// distributed plane holds a dedicated LISTEN connection on one fixed
// channel, owned by its receive loop, generalized from "deliver to a
// WebSocket" to "invoke a Handler".
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/google/uuid"
)

// Handler processes one envelope delivered by the bus. A Handler is
// expected to be fast; slow handlers are isolated by their own bounded
// queue (see subscription.go) and never block publish or other handlers.
type Handler func(ctx context.Context, env eventing.Envelope)

// historySize bounds the in-memory debug ring.
const historySize = 1000

// processedSetSize bounds the distributed de-duplication set.
const processedSetSize = 10000

// handlerQueueSize is the suggested per-handler backpressure bound.
const handlerQueueSize = 1024

// Bus is the engine's event bus root. It owns the local subscription
// registry, the bounded history ring, and (when started) the distributed
// plane — an explicit long-lived value, constructed once by the engine
// root and passed through rather than a module-level singleton.
type Bus struct {
	mu            sync.RWMutex
	wildcard      map[string]*subscription
	byType        map[string]map[string]*subscription
	byAggregate   map[string]map[string]*subscription // key: aggregateType + "/" + aggregateID

	historyMu sync.Mutex
	history   []eventing.Envelope

	processed *processedSet

	distributed *Distributed
}

// New constructs a Bus with only the local plane active. Call
// EnableDistributed to attach the cross-instance bridge.
func New() *Bus {
	return &Bus{
		wildcard:    make(map[string]*subscription),
		byType:      make(map[string]map[string]*subscription),
		byAggregate: make(map[string]map[string]*subscription),
		processed:   newProcessedSet(processedSetSize),
	}
}

// Subscribe registers handler for every event the bus publishes (wildcard).
func (b *Bus) Subscribe(handler Handler) string {
	sub := newSubscription(handler)
	b.mu.Lock()
	b.wildcard[sub.id] = sub
	b.mu.Unlock()
	return sub.id
}

// SubscribeType registers handler for a single event_type.
func (b *Bus) SubscribeType(eventType string, handler Handler) string {
	sub := newSubscription(handler)
	b.mu.Lock()
	if b.byType[eventType] == nil {
		b.byType[eventType] = make(map[string]*subscription)
	}
	b.byType[eventType][sub.id] = sub
	b.mu.Unlock()
	return sub.id
}

// SubscribeAggregate registers handler for a single (aggregate_type,
// aggregate_id) stream — the definitive per-aggregate ordering consumers
// should use.
func (b *Bus) SubscribeAggregate(aggregateType, aggregateID string, handler Handler) string {
	sub := newSubscription(handler)
	key := aggregateKey(aggregateType, aggregateID)
	b.mu.Lock()
	if b.byAggregate[key] == nil {
		b.byAggregate[key] = make(map[string]*subscription)
	}
	b.byAggregate[key][sub.id] = sub
	b.mu.Unlock()
	return sub.id
}

// Unsubscribe removes a subscription registered by any of the Subscribe*
// methods and stops its dispatch goroutine.
func (b *Bus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.wildcard[subscriptionID]; ok {
		delete(b.wildcard, subscriptionID)
		sub.stop()
		return
	}
	for t, subs := range b.byType {
		if sub, ok := subs[subscriptionID]; ok {
			delete(subs, subscriptionID)
			if len(subs) == 0 {
				delete(b.byType, t)
			}
			sub.stop()
			return
		}
	}
	for k, subs := range b.byAggregate {
		if sub, ok := subs[subscriptionID]; ok {
			delete(subs, subscriptionID)
			if len(subs) == 0 {
				delete(b.byAggregate, k)
			}
			sub.stop()
			return
		}
	}
}

// Publish fans env out to every matching local handler and records it in
// the processed-set and history ring. Dispatch is enqueued onto each
// handler's own goroutine/queue and Publish returns without waiting for
// handlers to finish — publish never blocks on a slow consumer.
func (b *Bus) Publish(ctx context.Context, env eventing.Envelope) {
	b.processed.markSeen(env.EventID)
	b.recordHistory(env)

	b.mu.RLock()
	matches := make([]*subscription, 0, 4)
	for _, sub := range b.wildcard {
		matches = append(matches, sub)
	}
	for _, sub := range b.byType[env.EventType] {
		matches = append(matches, sub)
	}
	for _, sub := range b.byAggregate[aggregateKey(env.AggregateType, env.AggregateID)] {
		matches = append(matches, sub)
	}
	b.mu.RUnlock()

	for _, sub := range matches {
		sub.deliver(ctx, env, b.onDropped)
	}
}

// PublishRemote is invoked by the distributed plane when a NOTIFY arrives
// for an event this instance did not append itself. It checks the
// processed-set for a duplicate before fanning out locally, realizing the
// "each subscriber handler invoked exactly once" de-duplication contract.
func (b *Bus) PublishRemote(ctx context.Context, env eventing.Envelope) {
	if b.processed.alreadySeen(env.EventID) {
		return
	}
	b.Publish(ctx, env)
}

// onDropped is called by a subscription when its bounded queue overflows.
// It emits a RISK_DETECTED event back onto the bus describing the drop:
// overflow increments a drop counter that is itself emitted as a
// RISK_DETECTED event, so backpressure is visible to the rest of the
// system rather than only to a log line.
func (b *Bus) onDropped(subscriptionID string, dropped int) {
	slog.Warn("handler queue overflow, dropping oldest", "subscription_id", subscriptionID, "dropped_total", dropped)
	payload, err := eventing.New(nil, eventing.EventRiskDetected, "bus", subscriptionID,
		eventing.RiskDetectedPayload{
			Severity: "high",
			Reason:   "handler queue overflow: oldest events dropped",
			Source:   "bus",
		}, "bus", 1.0, true)
	if err != nil {
		slog.Error("failed to build drop-counter RISK_DETECTED event", "error", err)
		return
	}
	// This event is bus-internal signalling, not store-durable — it is
	// published directly rather than appended, since the bus has no store
	// reference and must not create one (store append precedes publish is
	// an agent/emit contract, not a bus contract).
	b.Publish(context.Background(), payload)
}

// History returns a snapshot of the last N envelopes (bounded ring), for
// debugging and late-subscriber warm-up. Not authoritative.
func (b *Bus) History() []eventing.Envelope {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	out := make([]eventing.Envelope, len(b.history))
	copy(out, b.history)
	return out
}

// Stats reports point-in-time counters for the health endpoint: active
// subscription count across all three maps and the current history ring
// size. Not a consistent snapshot across the two locks, but close enough
// for a liveness/diagnostics surface.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subs := len(b.wildcard)
	for _, m := range b.byType {
		subs += len(m)
	}
	for _, m := range b.byAggregate {
		subs += len(m)
	}
	b.mu.RUnlock()

	b.historyMu.Lock()
	historyLen := len(b.history)
	b.historyMu.Unlock()

	return Stats{ActiveSubscriptions: subs, HistorySize: historyLen}
}

// Stats is the snapshot returned by Bus.Stats.
type Stats struct {
	ActiveSubscriptions int
	HistorySize         int
}

func (b *Bus) recordHistory(env eventing.Envelope) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	b.history = append(b.history, env)
	if len(b.history) > historySize {
		b.history = b.history[len(b.history)-historySize:]
	}
}

func aggregateKey(aggregateType, aggregateID string) string {
	return aggregateType + "/" + aggregateID
}

func newSubscriptionID() string {
	return uuid.NewString()
}
