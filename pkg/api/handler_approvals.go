package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/autonomic-systems/engine/pkg/store"
)

const defaultApprovalListLimit = 50

// listApprovalsHandler handles GET /api/approvals?status=&agent_id=&limit=.
// Only "pending" is a meaningful status filter today -- ListPending only
// ever returns pending rows -- but the query param is accepted so a
// resolved-history view can be added later without an API break.
func (s *Server) listApprovalsHandler(c *echo.Context) error {
	limit := defaultApprovalListLimit
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	approvals, err := s.store.ListPending(c.Request().Context(), c.QueryParam("agent_id"), limit)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, newApprovalResponses(approvals))
}

// approvalStatsHandler handles GET /api/approvals/stats.
func (s *Server) approvalStatsHandler(c *echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, ApprovalStatsResponse{
		Pending: stats.Pending, Approved: stats.Approved,
		Rejected: stats.Rejected, Timeout: stats.Timeout,
	})
}

// resolveApprovalHandler handles POST /api/approvals/{id}/resolve. Resolution
// is idempotent: resolving an already-resolved approval returns 409, not a
// silent success, so a duplicate client retry is visible.
func (s *Server) resolveApprovalHandler(c *echo.Context) error {
	approvalID := c.Param("id")
	if approvalID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "approval id is required")
	}

	var req ResolveApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	var decision store.Decision
	switch req.Decision {
	case string(store.DecisionApproved):
		decision = store.DecisionApproved
	case string(store.DecisionRejected):
		decision = store.DecisionRejected
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "decision must be \"approved\" or \"rejected\"")
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = extractAuthor(c)
	}

	resolved, err := s.store.Resolve(c.Request().Context(), approvalID, decision, req.ResolvedBy, req.Notes)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, newApprovalResponse(resolved))
}

// ceoInterruptsHandler handles GET /api/ceo/interrupts: pending approvals
// meeting the CEO-visibility bar (confidence < 0.7 OR amount > 100000).
func (s *Server) ceoInterruptsHandler(c *echo.Context) error {
	limit := defaultApprovalListLimit
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	approvals, err := s.store.CEOInterrupts(c.Request().Context(), limit)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, newApprovalResponses(approvals))
}
