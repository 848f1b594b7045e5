package api

import (
	"time"

	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/autonomic-systems/engine/pkg/store"
)

// IngestEventResponse is returned by POST /api/events.
type IngestEventResponse struct {
	EventID        string `json:"event_id"`
	SequenceNumber int64  `json:"sequence_number"`
	Status         string `json:"status"`
}

// QueryEventsResponse is returned by POST /api/events/query and
// GET /api/events/entity/{type}/{id}.
type QueryEventsResponse struct {
	Count  int                 `json:"count"`
	Events []eventing.Envelope `json:"events"`
}

// ApprovalResponse is the JSON shape of a store.Approval on the wire.
type ApprovalResponse struct {
	ApprovalID        string    `json:"approval_id"`
	EventID           string    `json:"event_id,omitempty"`
	AgentID           string    `json:"agent_id"`
	RequestType       string    `json:"request_type"`
	Reason            string    `json:"reason"`
	DecisionContext   any       `json:"decision_context,omitempty"`
	RecommendedAction string    `json:"recommended_action,omitempty"`
	Confidence        float64   `json:"confidence"`
	Status            string    `json:"status"`
	Decision          string    `json:"decision,omitempty"`
	ResolvedBy        string    `json:"resolved_by,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	TimeoutAt         time.Time `json:"timeout_at,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	ResolvedAt        time.Time `json:"resolved_at,omitempty"`
}

func newApprovalResponse(a store.Approval) ApprovalResponse {
	var ctx any
	if len(a.DecisionContext) > 0 {
		ctx = a.DecisionContext
	}
	return ApprovalResponse{
		ApprovalID:        a.ApprovalID,
		EventID:           a.EventID,
		AgentID:           a.AgentID,
		RequestType:       a.RequestType,
		Reason:            a.Reason,
		DecisionContext:   ctx,
		RecommendedAction: a.RecommendedAction,
		Confidence:        a.Confidence,
		Status:            string(a.Status),
		Decision:          a.Decision,
		ResolvedBy:        a.ResolvedBy,
		Notes:             a.Notes,
		TimeoutAt:         a.TimeoutAt,
		CreatedAt:         a.CreatedAt,
		ResolvedAt:        a.ResolvedAt,
	}
}

func newApprovalResponses(approvals []store.Approval) []ApprovalResponse {
	out := make([]ApprovalResponse, 0, len(approvals))
	for _, a := range approvals {
		out = append(out, newApprovalResponse(a))
	}
	return out
}

// ApprovalStatsResponse is returned by GET /api/approvals/stats.
type ApprovalStatsResponse struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Timeout  int `json:"timeout"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
	Bus     *BusStats              `json:"bus,omitempty"`
	SOP     *SOPStats              `json:"sop,omitempty"`
}

// BusStats summarizes pkg/bus.Bus for the health endpoint.
type BusStats struct {
	ActiveSubscriptions int `json:"active_subscriptions"`
	HistorySize         int `json:"history_size"`
}

// SOPStats summarizes pkg/sop.Registry for the health endpoint.
type SOPStats struct {
	ProcedureCount int `json:"procedure_count"`
}

// HealthCheck represents the status of a single health check component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
