package eventing

import "reflect"

// Typed payload variants. Each closed-taxonomy event type that carries a
// structurally-checked payload gets its own struct here, dispatched by
// payloadFor. Event types with no entry are validated only as a generic
// keyed structure (e.g. operational/control events whose payload shape is
// caller-defined).

// LeadReceivedPayload is the payload for LEAD_RECEIVED.
type LeadReceivedPayload struct {
	LeadSource     string `json:"lead_source" validate:"required"`
	ContactEmail   string `json:"contact_email" validate:"required,email"`
	Urgency        string `json:"urgency,omitempty"`
	InitialMessage string `json:"initial_message" validate:"required"`
}

// LeadQualifiedPayload is the payload for LEAD_QUALIFIED.
type LeadQualifiedPayload struct {
	QualificationScore int    `json:"qualification_score" validate:"gte=0,lte=100"`
	Reasoning          string `json:"reasoning,omitempty"`
}

// MeetingScheduledPayload is the payload for MEETING_SCHEDULED.
type MeetingScheduledPayload struct {
	DateTime string `json:"datetime" validate:"required"`
	LeadID   string `json:"lead_id,omitempty"`
}

// QuoteGeneratedPayload is the payload for QUOTE_GENERATED / money events.
type QuoteGeneratedPayload struct {
	Total      float64 `json:"total" validate:"gte=0"`
	ClientID   string  `json:"client_id,omitempty"`
	CurrencyID string  `json:"currency,omitempty"`
}

// InvoiceIssuedPayload is the payload for INVOICE_ISSUED.
type InvoiceIssuedPayload struct {
	Amount   float64 `json:"amount" validate:"gte=0"`
	ClientID string  `json:"client_id,omitempty"`
}

// PaymentReceivedPayload is the payload for PAYMENT_RECEIVED.
type PaymentReceivedPayload struct {
	Amount   float64 `json:"amount" validate:"gte=0"`
	ClientID string  `json:"client_id,omitempty"`
}

// RiskDetectedPayload is the payload for RISK_DETECTED.
type RiskDetectedPayload struct {
	Severity string `json:"severity" validate:"required,oneof=low medium high critical"`
	Reason   string `json:"reason" validate:"required"`
	Source   string `json:"source,omitempty"`
}

// MeetingCompletedPayload is the payload for MEETING_COMPLETED.
type MeetingCompletedPayload struct {
	Sentiment string `json:"sentiment" validate:"required,oneof=positive neutral negative"`
	Notes     string `json:"notes,omitempty"`
}

// ProjectAtRiskPayload is the payload for PROJECT_AT_RISK.
type ProjectAtRiskPayload struct {
	Reason string `json:"reason" validate:"required"`
}

// HumanOverridePayload is the payload for HUMAN_OVERRIDE.
type HumanOverridePayload struct {
	ResolvedBy string `json:"resolved_by" validate:"required"`
	Notes      string `json:"notes,omitempty"`
}

// SOPVersionProposedPayload is the payload for SOP_VERSION_PROPOSED.
type SOPVersionProposedPayload struct {
	SOPID   string `json:"sop_id" validate:"required"`
	Version int    `json:"version" validate:"required,min=1"`
}

// SOPVersionActivatedPayload is the payload for SOP_VERSION_ACTIVATED.
type SOPVersionActivatedPayload struct {
	SOPID           string `json:"sop_id" validate:"required"`
	Version         int    `json:"version" validate:"required,min=1"`
	PreviousVersion int    `json:"previous_version,omitempty"`
}

// SOPExecutionCompletedPayload is the payload for SOP_EXECUTION_COMPLETED:
// every step of the resolved procedure cleared its automation policy and
// ran without escalating.
type SOPExecutionCompletedPayload struct {
	SOPID          string   `json:"sop_id" validate:"required"`
	Version        int      `json:"version" validate:"required,min=1"`
	StepsCompleted []string `json:"steps_completed,omitempty"`
}

var payloadRegistry = map[string]reflect.Type{
	EventLeadReceived:          reflect.TypeOf(LeadReceivedPayload{}),
	EventLeadQualified:         reflect.TypeOf(LeadQualifiedPayload{}),
	EventMeetingScheduled:      reflect.TypeOf(MeetingScheduledPayload{}),
	EventQuoteGenerated:        reflect.TypeOf(QuoteGeneratedPayload{}),
	EventInvoiceIssued:         reflect.TypeOf(InvoiceIssuedPayload{}),
	EventPaymentReceived:       reflect.TypeOf(PaymentReceivedPayload{}),
	EventRiskDetected:          reflect.TypeOf(RiskDetectedPayload{}),
	EventMeetingCompleted:      reflect.TypeOf(MeetingCompletedPayload{}),
	EventProjectAtRisk:         reflect.TypeOf(ProjectAtRiskPayload{}),
	EventHumanOverride:         reflect.TypeOf(HumanOverridePayload{}),
	EventSOPVersionProposed:    reflect.TypeOf(SOPVersionProposedPayload{}),
	EventSOPVersionActivated:   reflect.TypeOf(SOPVersionActivatedPayload{}),
	EventSOPExecutionCompleted: reflect.TypeOf(SOPExecutionCompletedPayload{}),
}

// payloadFor returns a fresh, addressable instance of the typed payload
// struct registered for eventType, or (nil, false) if the event type has no
// typed payload (validated only as a generic keyed structure).
func payloadFor(eventType string) (any, bool) {
	t, ok := payloadRegistry[eventType]
	if !ok {
		return nil, false
	}
	return reflect.New(t).Interface(), true
}
