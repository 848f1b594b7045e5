package agentrt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/autonomic-systems/engine/pkg/sop"
)

// sopContextPayload extracts the match-context fields a procedure's
// preconditions may filter on from an event's payload. Not every event
// carries every field; a zero value simply fails to match a precondition
// that requires it.
type sopContextPayload struct {
	EntityType  string  `json:"entity_type"`
	Tier        string  `json:"tier"`
	ServiceType string  `json:"service_type"`
	Budget      float64 `json:"budget"`
	Total       float64 `json:"total"`
	Amount      float64 `json:"amount"`
}

func (p sopContextPayload) budget() float64 {
	if p.Budget != 0 {
		return p.Budget
	}
	if p.Total != 0 {
		return p.Total
	}
	return p.Amount
}

// SOPAgent resolves the procedure, if any, governing an event and walks
// its steps in declared order, escalating at the first step confidence
// can't clear unattended and reporting completion when every step
// clears. It is the runtime consumer of the procedure registry's
// resolution and automation-gating logic: Propose/Activate only maintain
// the registry's contents, this agent is what actually applies it to
// live events.
type SOPAgent struct {
	registry *sop.Registry
	log      *decisionLog
	now      eventing.Clock
}

// NewSOPAgent constructs the procedure-execution agent over registry.
func NewSOPAgent(registry *sop.Registry, now eventing.Clock) *SOPAgent {
	return &SOPAgent{registry: registry, log: newDecisionLog(), now: now}
}

func (a *SOPAgent) clock() time.Time {
	if a.now == nil {
		return time.Now()
	}
	return a.now()
}

// Mandate declares sop-agent as a wildcard subscriber: any event type may
// be the trigger a procedure's preconditions match on, so every event
// must be offered to Resolve.
func (a *SOPAgent) Mandate() Mandate {
	return Mandate{
		Name:        "sop-agent",
		Description: "Resolves the governing procedure for an event and executes or escalates its steps under confidence-gated automation.",
		Wildcard:    true,
		Emits: []string{
			eventing.EventSOPExecutionCompleted,
		},
		Threshold: 0,
	}
}

// Process resolves the procedure governing env, if any, and walks its
// steps in order. The first step CanAutomate rejects escalates the whole
// procedure to a human; if every step clears, it reports completion.
// Events no active procedure claims are left alone — not every event has
// an applicable procedure, and that is not itself a failure.
func (a *SOPAgent) Process(ctx context.Context, env eventing.Envelope, helper *Helper) error {
	if env.EmittedBy == a.Mandate().Name {
		return nil
	}

	var p sopContextPayload
	_ = json.Unmarshal(env.Payload, &p)

	def, ok := a.registry.Resolve(env, sop.MatchContext{
		EntityType:  p.EntityType,
		Tier:        p.Tier,
		ServiceType: p.ServiceType,
		Budget:      p.budget(),
	})
	if !ok {
		return nil
	}

	for _, step := range def.Steps {
		if sop.CanAutomate(def, step.ID, env.Confidence) {
			continue
		}
		return a.escalate(ctx, env, helper, def, step)
	}

	a.log.record(env.EventID, env.EventType, "automate", fmt.Sprintf("%s v%d cleared every step", def.ID, def.Version), a.clock())

	stepIDs := make([]string, len(def.Steps))
	for i, s := range def.Steps {
		stepIDs[i] = s.ID
	}
	_, err := helper.EmitCausedBy(ctx, env, eventing.EventSOPExecutionCompleted, env.AggregateType, env.AggregateID,
		eventing.SOPExecutionCompletedPayload{SOPID: def.ID, Version: def.Version, StepsCompleted: stepIDs}, env.Confidence, false)
	return err
}

func (a *SOPAgent) escalate(ctx context.Context, env eventing.Envelope, helper *Helper, def sop.Definition, step sop.Step) error {
	requestType := "sop_manual_step"
	reason := fmt.Sprintf("%s v%d step %s requires human review", def.ID, def.Version, step.ID)
	if rule, ok := def.EscalationRuleFor("manual_step"); ok {
		if rule.RequestType != "" {
			requestType = rule.RequestType
		}
		if rule.Reason != "" {
			reason = rule.Reason
		}
	}

	a.log.record(env.EventID, env.EventType, "escalate", reason, a.clock())
	_, err := helper.RequestApproval(ctx, requestType, env.AggregateType, env.AggregateID, reason,
		map[string]any{"sop_id": def.ID, "version": def.Version, "step_id": step.ID, "event_id": env.EventID},
		"review and approve or reject this procedure step", env.Confidence, 0)
	return err
}

// DecisionLog returns the bounded recent-decisions ring for introspection.
func (a *SOPAgent) DecisionLog() []Decision {
	return a.log.Recent()
}
