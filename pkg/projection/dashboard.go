package projection

import (
	"encoding/json"
	"time"

	"github.com/autonomic-systems/engine/pkg/eventing"
)

// AutonomyDashboardState tracks, per aggregate (client, project, lead,
// ...), how much of its decision history was handled autonomously versus
// escalated to a human — the per-entity complement to the engine-wide
// approval stats in pkg/store.Stats. The taxonomy already carries
// AUTONOMIC_DECISION_EXECUTED and HUMAN_APPROVAL_REQUESTED specifically to
// be counted this way, but nothing wires a reader for them until this
// projection.
type AutonomyDashboardState struct {
	AutonomousCount int
	EscalatedCount  int
	LastEventType   string
	LastEventAt     time.Time
}

// AutomationRate returns the fraction of tracked decisions handled
// autonomously, or 0 if none have been recorded yet.
func (s AutonomyDashboardState) AutomationRate() float64 {
	total := s.AutonomousCount + s.EscalatedCount
	if total == 0 {
		return 0
	}
	return float64(s.AutonomousCount) / float64(total)
}

// AutonomyDashboardProjection folds the control-plane audit trail into a
// per-aggregate autonomy rate.
type AutonomyDashboardProjection struct{}

func NewAutonomyDashboardProjection() AutonomyDashboardProjection {
	return AutonomyDashboardProjection{}
}

func (AutonomyDashboardProjection) Name() string { return "autonomy_dashboard" }

const autonomyDashboardSchemaVersion = 1

func (AutonomyDashboardProjection) SchemaVersion() int { return autonomyDashboardSchemaVersion }

func (AutonomyDashboardProjection) DecodeState(raw json.RawMessage) (any, error) {
	var s AutonomyDashboardState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func (AutonomyDashboardProjection) EventTypes() []string {
	return []string{eventing.EventAutonomicDecisionExecuted, eventing.EventHumanApprovalRequested}
}

func (AutonomyDashboardProjection) Apply(state any, env eventing.Envelope) any {
	s, ok := state.(AutonomyDashboardState)
	if !ok {
		s = AutonomyDashboardState{}
	}

	switch env.EventType {
	case eventing.EventAutonomicDecisionExecuted:
		s.AutonomousCount++
	case eventing.EventHumanApprovalRequested:
		s.EscalatedCount++
	}
	s.LastEventType = env.EventType
	s.LastEventAt = env.Timestamp
	return s
}
