package agentrt

import (
	"context"

	"github.com/autonomic-systems/engine/pkg/eventing"
)

// Agent is the small interface that replaces inheriting from a common
// agent base class. initialize/shutdown are handled generically by
// Runtime.Register/Unregister from the agent's declared Mandate, so the
// only method an implementation supplies is the process step itself.
type Agent interface {
	// Mandate declares this agent's subscriptions, emit authorisations,
	// and confidence floor. Called once at registration.
	Mandate() Mandate
	// Process handles one delivered event. It may call helper.Emit or
	// helper.RequestApproval any number of times. A returned error, like
	// a panic, is treated as a processing failure: the runtime reports it
	// as a RISK_DETECTED event and does not redeliver the triggering
	// event (at-least-once is the store stream's job, not the runtime's).
	Process(ctx context.Context, env eventing.Envelope, helper *Helper) error
}
