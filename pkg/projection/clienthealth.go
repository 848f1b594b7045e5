package projection

import (
	"encoding/json"

	"github.com/autonomic-systems/engine/pkg/eventing"
)

// ClientHealthState is the folded read model for one client/project
// aggregate: a bounded health score plus a derived status band.
type ClientHealthState struct {
	HealthScore int
	Status      string // "healthy", "warning", "critical"
}

const (
	healthStatusHealthy  = "healthy"
	healthStatusWarning  = "warning"
	healthStatusCritical = "critical"
)

func statusFor(score int) string {
	switch {
	case score >= 70:
		return healthStatusHealthy
	case score >= 40:
		return healthStatusWarning
	default:
		return healthStatusCritical
	}
}

// ClientHealthProjection tracks a health_score starting at 50 that moves
// with project/meeting/payment/risk events, clamped to [0,100].
type ClientHealthProjection struct{}

// NewClientHealthProjection constructs the projection. It carries no
// state of its own — all state lives in the owning Engine, keyed by
// aggregate_id — so a single value can be registered once.
func NewClientHealthProjection() ClientHealthProjection { return ClientHealthProjection{} }

func (ClientHealthProjection) Name() string { return "client_health" }

// clientHealthSchemaVersion is bumped whenever Apply's scoring rules
// change in a way that makes an older cached ClientHealthState
// incomparable to a freshly folded one.
const clientHealthSchemaVersion = 1

func (ClientHealthProjection) SchemaVersion() int { return clientHealthSchemaVersion }

func (ClientHealthProjection) DecodeState(raw json.RawMessage) (any, error) {
	var s ClientHealthState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func (ClientHealthProjection) EventTypes() []string {
	return []string{
		eventing.EventMeetingCompleted,
		eventing.EventProjectStarted,
		eventing.EventProjectAtRisk,
		eventing.EventPaymentReceived,
		eventing.EventRiskDetected,
	}
}

// Apply implements the scoring rule set below.
func (ClientHealthProjection) Apply(state any, env eventing.Envelope) any {
	s, ok := state.(ClientHealthState)
	if !ok {
		s = ClientHealthState{HealthScore: 50}
	}

	switch env.EventType {
	case eventing.EventMeetingCompleted:
		var payload eventing.MeetingCompletedPayload
		if err := env.DecodePayload(&payload); err == nil && payload.Sentiment == "positive" {
			s.HealthScore += 5
		}
	case eventing.EventProjectStarted:
		s.HealthScore += 10
	case eventing.EventProjectAtRisk:
		s.HealthScore -= 15
	case eventing.EventPaymentReceived:
		s.HealthScore += 3
	case eventing.EventRiskDetected:
		var payload eventing.RiskDetectedPayload
		if err := env.DecodePayload(&payload); err == nil && (payload.Severity == "high" || payload.Severity == "critical") {
			s.HealthScore -= 20
		}
	}

	if s.HealthScore > 100 {
		s.HealthScore = 100
	}
	if s.HealthScore < 0 {
		s.HealthScore = 0
	}
	s.Status = statusFor(s.HealthScore)
	return s
}
