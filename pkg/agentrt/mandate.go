// Package agentrt is the agent runtime: the small interface and shared
// helper that replace the inheritance-based agent base class described in
// inheriting from an agent base class. Agents compose a
// *Helper rather than extending a base type: the runtime plays the fixed
// lifecycle role (subscription wiring, failure isolation) while each
// concrete Agent plays the domain-specific strategy role.
package agentrt

// Mandate declares what an agent is allowed to do: which event types it
// reacts to, which it may emit, and the confidence floor below which its
// emissions are forced into human review.
type Mandate struct {
	// Name identifies the agent as emitted_by and as the subscription
	// owner for Unregister.
	Name string
	// Description is a human-readable summary of the agent's role; the
	// /health response does not include it.
	Description string
	// Subscribes lists the event types this agent's Process is invoked
	// for. Empty means wildcard — every event type — but only takes
	// effect when Wildcard is also true, requiring an explicit opt-in
	// rather than letting an empty slice default to "everything".
	Subscribes []string
	// Wildcard opts into receiving every event type when Subscribes is
	// empty. Oversight and the procedure-execution agent are both
	// wildcard subscribers: oversight evaluates every event for
	// autonomous approval, and a procedure may apply to any event type.
	Wildcard bool
	// Emits lists the event types this agent may publish via
	// Helper.Emit. RISK_DETECTED and HUMAN_APPROVAL_REQUESTED are always
	// permitted regardless of this list — every agent must be able to
	// report a failure or ask for human help.
	Emits []string
	// Threshold is the minimum confidence this agent is authorised to
	// act on autonomously. Emissions below it have requires_human forced
	// to true.
	Threshold float64
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
