package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Decision is the resolution a human gives a pending approval.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ApprovalStatus tracks a pending approval through to resolution or timeout.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalTimeout  ApprovalStatus = "timeout"
)

// Approval is the materialized escalation record created whenever an event
// requires human review. EventID is nullable to allow approvals not tied
// to a single triggering envelope.
type Approval struct {
	ApprovalID        string
	EventID           string
	AgentID           string
	RequestType       string
	Reason            string
	DecisionContext   json.RawMessage
	RecommendedAction string
	Confidence        float64
	Status            ApprovalStatus
	Decision          string
	ResolvedBy        string
	Notes             string
	TimeoutAt         time.Time
	CreatedAt         time.Time
	ResolvedAt        time.Time
}

// CreateApproval materializes a pending approval row. It does not check for
// an existing pending approval on the same event, and the approvals table
// has no uniqueness constraint on event_id, so two escalations of one event
// create two pending rows.
func (s *Store) CreateApproval(ctx context.Context, a Approval) (Approval, error) {
	if a.ApprovalID == "" {
		a.ApprovalID = uuid.NewString()
	}
	a.Status = ApprovalPending
	if a.DecisionContext == nil {
		a.DecisionContext = json.RawMessage("{}")
	}

	var eventID any
	if a.EventID != "" {
		eventID = a.EventID
	}
	var timeoutAt any
	if !a.TimeoutAt.IsZero() {
		timeoutAt = a.TimeoutAt
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO approvals (approval_id, event_id, agent_id, request_type, reason,
			decision_context, recommended_action, confidence, status, timeout_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at`,
		a.ApprovalID, eventID, a.AgentID, a.RequestType, a.Reason,
		[]byte(a.DecisionContext), a.RecommendedAction, a.Confidence, a.Status, timeoutAt,
	).Scan(&a.CreatedAt)
	if err != nil {
		return Approval{}, fmt.Errorf("%w: create approval: %v", ErrTransient, err)
	}
	return a, nil
}

// ListPending returns approvals awaiting resolution, optionally filtered
// by agent id, newest first (for the /api/approvals queue).
func (s *Store) ListPending(ctx context.Context, agentID string, limit int) ([]Approval, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	query := `SELECT approval_id, COALESCE(event_id::text, ''), agent_id, request_type, reason,
			decision_context, COALESCE(recommended_action, ''), confidence, status,
			COALESCE(decision, ''), COALESCE(resolved_by, ''), COALESCE(notes, ''),
			COALESCE(timeout_at, 'epoch'::timestamptz), created_at, COALESCE(resolved_at, 'epoch'::timestamptz)
		FROM approvals WHERE status = 'pending'`
	args := []any{}
	if agentID != "" {
		query += " AND agent_id = $1"
		args = append(args, agentID)
		query += " ORDER BY created_at DESC LIMIT $2"
		args = append(args, limit)
	} else {
		query += " ORDER BY created_at DESC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending approvals: %v", ErrTransient, err)
	}
	defer rows.Close()
	return scanApprovals(rows)
}

// CEOInterrupts returns pending approvals meeting the CEO-visibility bar:
// confidence < 0.7 OR payload.amount > 100,000 (read from decision_context).
func (s *Store) CEOInterrupts(ctx context.Context, limit int) ([]Approval, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT approval_id, COALESCE(event_id::text, ''), agent_id, request_type, reason,
			decision_context, COALESCE(recommended_action, ''), confidence, status,
			COALESCE(decision, ''), COALESCE(resolved_by, ''), COALESCE(notes, ''),
			COALESCE(timeout_at, 'epoch'::timestamptz), created_at, COALESCE(resolved_at, 'epoch'::timestamptz)
		 FROM approvals
		 WHERE status = 'pending'
		   AND (confidence < 0.7 OR COALESCE((decision_context->>'amount')::numeric, 0) > 100000)
		 ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list ceo interrupts: %v", ErrTransient, err)
	}
	defer rows.Close()
	return scanApprovals(rows)
}

// Resolve applies a human decision to a pending approval. It fails with
// ErrAlreadyResolved if the approval is no longer pending — resolution is
// exactly-once.
func (s *Store) Resolve(ctx context.Context, approvalID string, decision Decision, resolvedBy, notes string) (Approval, error) {
	status := ApprovalApproved
	if decision == DecisionRejected {
		status = ApprovalRejected
	}

	row := s.db.QueryRowContext(ctx,
		`UPDATE approvals
		 SET status = $1, decision = $2, resolved_by = $3, notes = $4, resolved_at = now()
		 WHERE approval_id = $5 AND status = 'pending'
		 RETURNING approval_id, COALESCE(event_id::text, ''), agent_id, request_type, reason,
			decision_context, COALESCE(recommended_action, ''), confidence, status,
			COALESCE(decision, ''), COALESCE(resolved_by, ''), COALESCE(notes, ''),
			COALESCE(timeout_at, 'epoch'::timestamptz), created_at, COALESCE(resolved_at, 'epoch'::timestamptz)`,
		status, string(decision), resolvedBy, notes, approvalID,
	)

	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Approval{}, fmt.Errorf("%w: approval %s", ErrAlreadyResolved, approvalID)
	}
	if err != nil {
		return Approval{}, fmt.Errorf("%w: resolve approval: %v", ErrTransient, err)
	}
	return a, nil
}

// SweepTimedOut transitions pending approvals past their deadline to
// status=timeout, returning the approvals that were transitioned so the
// caller can emit the terminal event for each. The periodic-scan shape
// mirrors a background orphan sweep rather than a per-approval timer.
func (s *Store) SweepTimedOut(ctx context.Context) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE approvals
		 SET status = 'timeout', resolved_at = now()
		 WHERE status = 'pending' AND timeout_at IS NOT NULL AND timeout_at < now()
		 RETURNING approval_id, COALESCE(event_id::text, ''), agent_id, request_type, reason,
			decision_context, COALESCE(recommended_action, ''), confidence, status,
			COALESCE(decision, ''), COALESCE(resolved_by, ''), COALESCE(notes, ''),
			COALESCE(timeout_at, 'epoch'::timestamptz), created_at, COALESCE(resolved_at, 'epoch'::timestamptz)`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: sweep timed out approvals: %v", ErrTransient, err)
	}
	defer rows.Close()
	return scanApprovals(rows)
}

// Stats aggregates approval counts by status for the /api/approvals/stats
// endpoint with a real aggregation rather than hard-coded placeholder
// counts.
type Stats struct {
	Pending  int
	Approved int
	Rejected int
	Timeout  int
}

// Stats computes real per-status counts over the full approvals table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'rejected'),
			COUNT(*) FILTER (WHERE status = 'timeout')
		 FROM approvals`,
	).Scan(&st.Pending, &st.Approved, &st.Rejected, &st.Timeout)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: approval stats: %v", ErrTransient, err)
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (Approval, error) {
	var a Approval
	var decisionContext []byte
	if err := row.Scan(&a.ApprovalID, &a.EventID, &a.AgentID, &a.RequestType, &a.Reason,
		&decisionContext, &a.RecommendedAction, &a.Confidence, &a.Status, &a.Decision,
		&a.ResolvedBy, &a.Notes, &a.TimeoutAt, &a.CreatedAt, &a.ResolvedAt); err != nil {
		return Approval{}, err
	}
	a.DecisionContext = decisionContext
	return a, nil
}

func scanApprovals(rows *sql.Rows) ([]Approval, error) {
	var out []Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan approval: %v", ErrTransient, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate approvals: %v", ErrTransient, err)
	}
	return out, nil
}
