package agentrt

import (
	"context"
	"strings"
	"time"

	"github.com/autonomic-systems/engine/pkg/eventing"
)

// Qualifier scores an incoming lead. It is injected into IntakeAgent so the
// actual scoring logic (today a heuristic, eventually perhaps a model call)
// stays decoupled from the subscribe/emit/escalate wiring.
type Qualifier interface {
	Qualify(ctx context.Context, payload eventing.LeadReceivedPayload) (score int, confidence float64, reasoning string)
}

// HeuristicQualifier scores a lead from cheap, explainable signals: message
// length and declared urgency. It exists as the default so the engine is
// functional without a model integration; swap in a different Qualifier to
// change scoring without touching IntakeAgent.
type HeuristicQualifier struct{}

// Qualify implements Qualifier. A short, low-effort message yields a low
// score and low confidence (there isn't enough signal to decide anything
// autonomously); a substantive message with high urgency scores well with
// high confidence.
func (HeuristicQualifier) Qualify(_ context.Context, payload eventing.LeadReceivedPayload) (int, float64, string) {
	msgLen := len(strings.TrimSpace(payload.InitialMessage))

	switch {
	case msgLen < 10:
		return 20, 0.4, "initial message too short to assess intent"
	case msgLen < 40:
		score := 60
		confidence := 0.7
		if payload.Urgency == "high" {
			score += 10
			confidence += 0.05
		}
		return score, confidence, "moderate detail in initial message"
	default:
		score := 80
		confidence := 0.85
		if payload.Urgency == "high" {
			score = 90
			confidence = 0.92
		}
		return score, confidence, "detailed initial message with clear intent"
	}
}

// IntakeAgent turns LEAD_RECEIVED into either an autonomous LEAD_QUALIFIED
// + MEETING_SCHEDULED pair or, when the qualifier isn't confident enough,
// a direct escalation — its own mandate.threshold gate, evaluated before
// oversight ever sees the qualification decision.
type IntakeAgent struct {
	qualifier Qualifier
	threshold float64
	now       eventing.Clock
}

// NewIntakeAgent constructs the lead-intake agent. threshold is the
// minimum qualifier confidence required to qualify a lead autonomously
// (CONFIDENCE_THRESHOLD from engine configuration).
func NewIntakeAgent(qualifier Qualifier, threshold float64, now eventing.Clock) *IntakeAgent {
	if qualifier == nil {
		qualifier = HeuristicQualifier{}
	}
	return &IntakeAgent{qualifier: qualifier, threshold: threshold, now: now}
}

// Mandate declares intake's subscription to LEAD_RECEIVED and its
// authorisation to emit the qualification/scheduling pair.
func (a *IntakeAgent) Mandate() Mandate {
	return Mandate{
		Name:        "intake-agent",
		Description: "Qualifies inbound leads and schedules a follow-up meeting when confident.",
		Subscribes:  []string{eventing.EventLeadReceived},
		Emits:       []string{eventing.EventLeadQualified, eventing.EventMeetingScheduled},
		Threshold:   a.threshold,
	}
}

func (a *IntakeAgent) clock() time.Time {
	if a.now == nil {
		return time.Now()
	}
	return a.now()
}

// Process implements the lead-qualification scenarios: confident leads get
// qualified and scheduled; under-confident ones are escalated directly,
// with no LEAD_QUALIFIED ever emitted for them.
func (a *IntakeAgent) Process(ctx context.Context, env eventing.Envelope, helper *Helper) error {
	var payload eventing.LeadReceivedPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	score, confidence, reasoning := a.qualifier.Qualify(ctx, payload)

	// Strict less-than, matching the engine-wide rule that confidence
	// exactly at threshold automates rather than escalates.
	if confidence < a.threshold {
		_, err := helper.RequestApproval(ctx, "lead_qualification", "lead", env.AggregateID, reasoning,
			map[string]any{"lead_source": payload.LeadSource, "urgency": payload.Urgency, "qualification_score": score},
			"review the lead and decide whether to schedule a meeting", confidence, 0)
		return err
	}

	qualified, err := helper.EmitCausedBy(ctx, env, eventing.EventLeadQualified, "lead", env.AggregateID,
		eventing.LeadQualifiedPayload{QualificationScore: score, Reasoning: reasoning}, confidence, false)
	if err != nil {
		return err
	}

	meetingTime := a.clock().Add(2 * 24 * time.Hour)
	_, err = helper.EmitCausedBy(ctx, qualified, eventing.EventMeetingScheduled, "lead", env.AggregateID,
		eventing.MeetingScheduledPayload{DateTime: meetingTime.Format(time.RFC3339), LeadID: env.AggregateID}, confidence, false)
	return err
}
