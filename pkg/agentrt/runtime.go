package agentrt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/autonomic-systems/engine/pkg/bus"
	"github.com/autonomic-systems/engine/pkg/eventing"
)

// Store is the persistence surface the runtime needs from pkg/store: durable
// append and approval-row creation. Declared as an interface here (rather
// than importing pkg/store's concrete type) so the runtime's dispatch and
// failure-isolation logic can be unit tested against an in-memory fake
// without a database — cmd/engine wires in a *store.Store, which satisfies
// this directly.
type Store interface {
	Appender
	ApprovalCreator
}

// Runtime owns the mandate-to-subscription wiring every agent would
// otherwise repeat in its own initialize/shutdown methods: a fixed
// lifecycle wrapper around a pluggable per-agent strategy (Agent.Process).
type Runtime struct {
	bus             *bus.Bus
	store           Store
	now             eventing.Clock
	approvalTimeout time.Duration

	mu   sync.Mutex
	subs map[string][]string // mandate name -> subscription ids
}

// New constructs a Runtime over the engine's bus and store. approvalTimeout
// is the default deadline given to approvals raised via Helper.RequestApproval
// when the caller doesn't specify one.
func New(b *bus.Bus, s Store, now eventing.Clock, approvalTimeout time.Duration) *Runtime {
	return &Runtime{
		bus:             b,
		store:           s,
		now:             now,
		approvalTimeout: approvalTimeout,
		subs:            make(map[string][]string),
	}
}

// Register wires agent into the bus according to its mandate (lifecycle
// step 1, "initialize") and returns the Helper composed for it, in case
// the caller wants to hand it elsewhere. agent.Process is wrapped so a
// panic or returned error never escapes to the bus's own generic recovery
// — it is instead reported as a RISK_DETECTED event.
func (r *Runtime) Register(agent Agent) *Helper {
	mandate := agent.Mandate()
	helper := newHelper(mandate, r.store, r.bus, r.store, r.now, r.approvalTimeout)

	handler := func(ctx context.Context, env eventing.Envelope) {
		r.dispatch(ctx, agent, env, helper)
	}

	var ids []string
	if len(mandate.Subscribes) == 0 {
		if !mandate.Wildcard {
			slog.Error("agent mandate subscribes to nothing and did not opt into wildcard; it will never run", "agent", mandate.Name)
			return helper
		}
		ids = append(ids, r.bus.Subscribe(handler))
	} else {
		for _, eventType := range mandate.Subscribes {
			ids = append(ids, r.bus.SubscribeType(eventType, handler))
		}
	}

	r.mu.Lock()
	r.subs[mandate.Name] = ids
	r.mu.Unlock()
	return helper
}

// Unregister unsubscribes every subscription registered for agentName
// (lifecycle step 3, "shutdown: unsubscribe all").
func (r *Runtime) Unregister(agentName string) {
	r.mu.Lock()
	ids := r.subs[agentName]
	delete(r.subs, agentName)
	r.mu.Unlock()

	for _, id := range ids {
		r.bus.Unsubscribe(id)
	}
}

func (r *Runtime) dispatch(ctx context.Context, agent Agent, env eventing.Envelope, helper *Helper) {
	defer func() {
		if rec := recover(); rec != nil {
			r.reportFailure(ctx, helper, env, fmt.Errorf("panic: %v", rec))
		}
	}()

	if err := agent.Process(ctx, env, helper); err != nil {
		r.reportFailure(ctx, helper, env, err)
	}
}

// reportFailure emits a RISK_DETECTED event describing an agent failure.
// It goes through Emit (RISK_DETECTED is universally permitted) rather
// than constructing the envelope directly, so the failure is still
// durable before it's published.
func (r *Runtime) reportFailure(ctx context.Context, helper *Helper, triggering eventing.Envelope, cause error) {
	slog.Error("agent processing failed", "agent", helper.Mandate().Name,
		"event_id", triggering.EventID, "event_type", triggering.EventType, "error", cause)

	_, err := helper.EmitCausedBy(ctx, triggering, eventing.EventRiskDetected, triggering.AggregateType, triggering.AggregateID,
		eventing.RiskDetectedPayload{
			Severity: "high",
			Reason:   fmt.Sprintf("%s failed processing %s: %v", helper.Mandate().Name, triggering.EventType, cause),
			Source:   helper.Mandate().Name,
		}, 1.0, true)
	if err != nil {
		slog.Error("failed to emit RISK_DETECTED for agent processing failure", "agent", helper.Mandate().Name, "error", err)
	}
}
