package agentrt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autonomic-systems/engine/pkg/eventing"
)

// OversightAgent is the special wildcard agent: it sees every event and
// decides, in a fixed order, whether the system may act on it
// autonomously or must escalate to a human. It never blocks by default —
// blocking is reserved for a future safety-violation policy and is
// deliberately not wired into OversightAgent's Process; block is
// exceptional and not invoked by the default policy.
type OversightAgent struct {
	threshold        float64 // oversight_threshold: below this, any event escalates regardless of its own mandate.
	financialLimit   float64
	autoApprovalable bool // AUTO_APPROVAL_ENABLED: gates whether a passed evaluation executes autonomously or still waits on a human.
	log              *decisionLog
	now              eventing.Clock
}

// NewOversightAgent constructs the oversight agent. threshold and
// financialLimit are read from engine configuration (CONFIDENCE_THRESHOLD,
// FINANCIAL_LIMIT). autoApprovalEnabled is AUTO_APPROVAL_ENABLED: when
// false, an event that passes every autonomous check is still routed to
// human approval rather than executed, so the engine can run in a
// fully-supervised mode without changing the threshold or limit.
func NewOversightAgent(threshold, financialLimit float64, autoApprovalEnabled bool, now eventing.Clock) *OversightAgent {
	return &OversightAgent{
		threshold:        threshold,
		financialLimit:   financialLimit,
		autoApprovalable: autoApprovalEnabled,
		log:              newDecisionLog(),
		now:              now,
	}
}

// Mandate identifies oversight as a wildcard subscriber authorised to emit
// the autonomic-decision and approval-request events its own evaluation
// produces, plus RISK_DETECTED.
func (o *OversightAgent) Mandate() Mandate {
	return Mandate{
		Name:        "oversight",
		Description: "Evaluates every event for autonomous approval versus human escalation.",
		Wildcard:    true,
		Emits: []string{
			eventing.EventAutonomicDecisionExecuted,
			eventing.EventHumanApprovalRequested,
			eventing.EventRiskDetected,
		},
		// Mandate.Threshold governs oversight's own emissions, not the
		// events it evaluates (that's o.threshold, "oversight_threshold").
		// 0 means oversight's own emissions never get requires_human
		// forced on them by Helper.Emit.
		Threshold: 0,
	}
}

func (o *OversightAgent) clock() time.Time {
	if o.now == nil {
		return time.Now()
	}
	return o.now()
}

// financialAmount extracts a payload amount from the financial payload
// shapes that carry one (total for quotes, amount for invoices/payments).
type financialAmount struct {
	Total  float64 `json:"total"`
	Amount float64 `json:"amount"`
}

func (f financialAmount) value() float64 {
	if f.Total != 0 {
		return f.Total
	}
	return f.Amount
}

type riskSeverity struct {
	Severity string `json:"severity"`
}

// Process implements the fixed six-step evaluation order below.
func (o *OversightAgent) Process(ctx context.Context, env eventing.Envelope, helper *Helper) error {
	if env.EmittedBy == o.Mandate().Name {
		return nil
	}
	// Never escalate a human-approval-request itself — oversight deciding
	// to escalate the "please escalate this" event would ping-pong.
	if env.EventType == eventing.EventHumanApprovalRequested {
		return nil
	}

	switch {
	case env.Confidence < o.threshold:
		return o.escalate(ctx, env, helper, fmt.Sprintf("confidence %.2f below oversight threshold %.2f", env.Confidence, o.threshold), nil)

	case env.RequiresHuman:
		return o.escalate(ctx, env, helper, "event marked requires_human", nil)

	case eventing.FinancialEventTypes[env.EventType]:
		var fa financialAmount
		_ = json.Unmarshal(env.Payload, &fa)
		amount := fa.value()
		if amount > o.financialLimit {
			return o.escalate(ctx, env, helper, fmt.Sprintf("financial event amount %.2f exceeds limit %.2f", amount, o.financialLimit),
				map[string]any{"amount": amount})
		}
		return o.approve(ctx, env, helper)

	case env.EventType == eventing.EventRiskDetected:
		var rs riskSeverity
		_ = json.Unmarshal(env.Payload, &rs)
		if rs.Severity == "critical" {
			return o.escalate(ctx, env, helper, "critical risk detected", nil)
		}
		return o.approve(ctx, env, helper)

	case env.EventType == eventing.EventHumanOverride:
		o.log.record(env.EventID, env.EventType, "approve", "human override is authoritative", o.clock())
		return nil

	default:
		return o.approve(ctx, env, helper)
	}
}

// escalate requests human approval for env. extra is merged into the
// decision context alongside the fixed event identity fields — e.g. the
// financial amount that tripped the limit, so CEOInterrupts' payload-amount
// filter has something to read.
func (o *OversightAgent) escalate(ctx context.Context, env eventing.Envelope, helper *Helper, reason string, extra map[string]any) error {
	o.log.record(env.EventID, env.EventType, "escalate", reason, o.clock())
	decisionContext := map[string]any{"event_id": env.EventID, "event_type": env.EventType, "emitted_by": env.EmittedBy}
	for k, v := range extra {
		decisionContext[k] = v
	}
	_, err := helper.RequestApproval(ctx, "oversight_escalation", env.AggregateType, env.AggregateID, reason,
		decisionContext,
		"review and approve or reject the triggering event", env.Confidence, 0)
	return err
}

func (o *OversightAgent) approve(ctx context.Context, env eventing.Envelope, helper *Helper) error {
	if !o.autoApprovalable {
		return o.escalate(ctx, env, helper, "auto-approval disabled, routing passed evaluation to human review", nil)
	}

	o.log.record(env.EventID, env.EventType, "approve", "passed autonomous evaluation", o.clock())
	if env.Confidence < 0.9 {
		return nil
	}
	_, err := helper.EmitCausedBy(ctx, env, eventing.EventAutonomicDecisionExecuted, env.AggregateType, env.AggregateID,
		map[string]any{"event_id": env.EventID, "event_type": env.EventType}, env.Confidence, false)
	return err
}

// DecisionLog returns the bounded recent-decisions ring for introspection.
func (o *OversightAgent) DecisionLog() []Decision {
	return o.log.Recent()
}
