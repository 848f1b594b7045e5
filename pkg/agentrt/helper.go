package agentrt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/autonomic-systems/engine/pkg/store"
)

// Appender is the subset of pkg/store.Store the runtime needs to make an
// emission durable before it is published.
type Appender interface {
	Append(ctx context.Context, env eventing.Envelope) (eventing.Envelope, error)
}

// Publisher is the subset of pkg/bus.Bus the runtime needs to fan an
// appended event out locally.
type Publisher interface {
	Publish(ctx context.Context, env eventing.Envelope)
}

// ApprovalCreator is the subset of pkg/store.Store used to materialize a
// pending approval row alongside a HUMAN_APPROVAL_REQUESTED event.
type ApprovalCreator interface {
	CreateApproval(ctx context.Context, a store.Approval) (store.Approval, error)
}

// universallyPermitted event types bypass mandate.Emits — every agent must
// be able to report a failure or ask a human for help regardless of what
// it's otherwise authorised to automate.
var universallyPermitted = map[string]bool{
	eventing.EventRiskDetected:           true,
	eventing.EventHumanApprovalRequested: true,
}

// Helper is the composed value every Agent uses to act: emit events and
// request human approval, both under its owning mandate's authorization
// and confidence rules. One Helper is bound to exactly one registered
// agent (see Runtime.Register).
type Helper struct {
	mandate   Mandate
	store     Appender
	bus       Publisher
	approvals ApprovalCreator
	now       eventing.Clock

	defaultApprovalTimeout time.Duration
}

func newHelper(mandate Mandate, store Appender, bus Publisher, approvals ApprovalCreator, now eventing.Clock, defaultApprovalTimeout time.Duration) *Helper {
	return &Helper{
		mandate:                mandate,
		store:                  store,
		bus:                    bus,
		approvals:              approvals,
		now:                    now,
		defaultApprovalTimeout: defaultApprovalTimeout,
	}
}

// Mandate returns the mandate this helper was constructed under.
func (h *Helper) Mandate() Mandate { return h.mandate }

func (h *Helper) clock() time.Time {
	if h.now == nil {
		return time.Now()
	}
	return h.now()
}

// Emit builds, appends, and publishes an event on behalf of the owning
// agent. It enforces the mandate's emit contract: reject event types
// outside the mandate's emit set (except the universally permitted ones),
// force requires_human when confidence falls below the mandate's
// threshold, and always append before publish so the causal chain is
// serialised through the store.
func (h *Helper) Emit(ctx context.Context, eventType, aggregateType, aggregateID string, payload any, confidence float64, requiresHuman bool) (eventing.Envelope, error) {
	if !universallyPermitted[eventType] && !containsString(h.mandate.Emits, eventType) {
		return eventing.Envelope{}, fmt.Errorf("%w: %s is not authorised to emit %s", ErrOutsideMandate, h.mandate.Name, eventType)
	}
	if confidence < h.mandate.Threshold {
		requiresHuman = true
	}

	env, err := eventing.New(h.now, eventType, aggregateType, aggregateID, payload, h.mandate.Name, confidence, requiresHuman)
	if err != nil {
		return eventing.Envelope{}, fmt.Errorf("build %s envelope: %w", eventType, err)
	}
	return h.appendAndPublish(ctx, env)
}

// EmitCausedBy is Emit but links the new event to its cause, both for
// correlation (same workflow) and causation (direct parent).
func (h *Helper) EmitCausedBy(ctx context.Context, cause eventing.Envelope, eventType, aggregateType, aggregateID string, payload any, confidence float64, requiresHuman bool) (eventing.Envelope, error) {
	if !universallyPermitted[eventType] && !containsString(h.mandate.Emits, eventType) {
		return eventing.Envelope{}, fmt.Errorf("%w: %s is not authorised to emit %s", ErrOutsideMandate, h.mandate.Name, eventType)
	}
	if confidence < h.mandate.Threshold {
		requiresHuman = true
	}

	env, err := eventing.New(h.now, eventType, aggregateType, aggregateID, payload, h.mandate.Name, confidence, requiresHuman)
	if err != nil {
		return eventing.Envelope{}, fmt.Errorf("build %s envelope: %w", eventType, err)
	}
	env = env.WithCorrelation(cause.CorrelationID).WithCausation(cause.EventID)
	return h.appendAndPublish(ctx, env)
}

func (h *Helper) appendAndPublish(ctx context.Context, env eventing.Envelope) (eventing.Envelope, error) {
	appended, err := h.store.Append(ctx, env)
	if err != nil {
		return eventing.Envelope{}, err
	}
	h.bus.Publish(ctx, appended)
	return appended, nil
}

// RequestApproval escalates a decision to a human: it emits
// HUMAN_APPROVAL_REQUESTED (one of the universally permitted types) and
// materializes the corresponding pending approval row, in that order —
// the row's event_id links back to the event a human will see in the
// stream. timeout, if non-zero, overrides the helper's default.
func (h *Helper) RequestApproval(ctx context.Context, requestType, aggregateType, aggregateID, reason string, decisionContext any, recommendedAction string, confidence float64, timeout time.Duration) (store.Approval, error) {
	dcJSON, err := json.Marshal(decisionContext)
	if err != nil {
		return store.Approval{}, fmt.Errorf("marshal decision context: %w", err)
	}

	env, err := h.Emit(ctx, eventing.EventHumanApprovalRequested, aggregateType, aggregateID,
		map[string]any{
			"request_type":       requestType,
			"reason":             reason,
			"recommended_action": recommendedAction,
		}, confidence, true)
	if err != nil {
		return store.Approval{}, err
	}

	if timeout <= 0 {
		timeout = h.defaultApprovalTimeout
	}
	var timeoutAt time.Time
	if timeout > 0 {
		timeoutAt = h.clock().Add(timeout)
	}

	approval, err := h.approvals.CreateApproval(ctx, store.Approval{
		EventID:           env.EventID,
		AgentID:           h.mandate.Name,
		RequestType:       requestType,
		Reason:            reason,
		DecisionContext:   dcJSON,
		RecommendedAction: recommendedAction,
		Confidence:        confidence,
		TimeoutAt:         timeoutAt,
	})
	if err != nil {
		slog.Error("approval event emitted but approval row failed to persist", "event_id", env.EventID, "error", err)
		return store.Approval{}, err
	}
	return approval, nil
}
