package agentrt

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// decisionLogSize bounds an agent's in-memory decision ring to 1000
// entries. Every wildcard agent (oversight, the procedure-execution
// agent) keeps its own ring. The store remains the authoritative durable
// history; this ring is for fast introspection only (e.g. a /health or
// /debug endpoint), deliberately bounded rather than an unbounded
// in-memory history.
const decisionLogSize = 1000

// Decision is one verdict recorded by oversight or the procedure-execution
// agent, kept for introspection.
type Decision struct {
	DecisionID string
	EventID    string
	EventType  string
	Outcome    string // "approve" or "escalate" (oversight); "automate" or "escalate" (procedure-execution agent)
	Reason     string
	Decided    time.Time
}

// decisionLog is a bounded ring buffer guarded by a mutex; once full, each
// new entry overwrites the single oldest one.
type decisionLog struct {
	mu      sync.Mutex
	entries []Decision
	next    int
	full    bool
}

func newDecisionLog() *decisionLog {
	return &decisionLog{entries: make([]Decision, decisionLogSize)}
}

func (l *decisionLog) record(eventID, eventType, outcome, reason string, now time.Time) Decision {
	d := Decision{
		DecisionID: uuid.NewString(),
		EventID:    eventID,
		EventType:  eventType,
		Outcome:    outcome,
		Reason:     reason,
		Decided:    now,
	}
	l.mu.Lock()
	l.entries[l.next] = d
	l.next = (l.next + 1) % decisionLogSize
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
	return d
}

// Recent returns the logged decisions, most recent last.
func (l *decisionLog) Recent() []Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		out := make([]Decision, l.next)
		copy(out, l.entries[:l.next])
		return out
	}
	out := make([]Decision, decisionLogSize)
	copy(out, l.entries[l.next:])
	copy(out[decisionLogSize-l.next:], l.entries[:l.next])
	return out
}
