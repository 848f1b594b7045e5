package eventing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical, immutable-after-append event record described
// by the data model. SequenceNumber is left zero until the store assigns it
// at append time — New never sets it.
type Envelope struct {
	EventID        string          `json:"event_id" validate:"required,uuid"`
	EventType      string          `json:"event_type" validate:"required"`
	AggregateType  string          `json:"aggregate_type" validate:"required"`
	AggregateID    string          `json:"aggregate_id" validate:"required"`
	SequenceNumber int64           `json:"sequence_number"`
	CorrelationID  string          `json:"correlation_id" validate:"required,uuid"`
	CausationID    string          `json:"causation_id,omitempty" validate:"omitempty,uuid"`
	Payload        json.RawMessage `json:"payload" validate:"required"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	EmittedBy      string          `json:"emitted_by" validate:"required"`
	Confidence     float64         `json:"confidence" validate:"gte=0,lte=1"`
	RequiresHuman  bool            `json:"requires_human"`
	Timestamp      time.Time       `json:"timestamp" validate:"required"`
	CreatedAt      time.Time       `json:"created_at,omitempty"`
	// GlobalSequence is the store's internal monotonic insertion order
	// (the "id" BIGSERIAL column), left zero until the store assigns it at
	// append time. It is a global cursor across every aggregate stream,
	// unlike SequenceNumber which only orders one stream — used to
	// truncate a cold-start replay from a saved snapshot.
	GlobalSequence int64 `json:"global_sequence,omitempty"`
}

// Clock abstracts wall-clock time so tests can inject deterministic values.
type Clock func() time.Time

// New constructs a fresh envelope. It assigns a new EventID, stamps
// Timestamp with now(), and defaults CorrelationID to the new EventID when
// the caller doesn't supply one (a root event starts its own workflow).
// SequenceNumber, CreatedAt are left for the store to assign at append.
func New(now Clock, eventType, aggregateType, aggregateID string, payload any, emittedBy string, confidence float64, requiresHuman bool) (Envelope, error) {
	if now == nil {
		now = time.Now
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	id := uuid.NewString()
	return Envelope{
		EventID:       id,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		CorrelationID: id,
		Payload:       raw,
		EmittedBy:     emittedBy,
		Confidence:    confidence,
		RequiresHuman: requiresHuman,
		Timestamp:     now(),
	}, nil
}

// WithCorrelation overrides the default self-correlation, grouping this
// event into an existing causal workflow.
func (e Envelope) WithCorrelation(correlationID string) Envelope {
	e.CorrelationID = correlationID
	return e
}

// WithCausation records the event that directly caused this one.
func (e Envelope) WithCausation(causationID string) Envelope {
	e.CausationID = causationID
	return e
}

// WithMetadata attaches free-form tags/annotations.
func (e Envelope) WithMetadata(md map[string]any) Envelope {
	e.Metadata = md
	return e
}

// DecodePayload unmarshals the envelope's raw payload into v.
func (e Envelope) DecodePayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}
