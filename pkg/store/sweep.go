package store

import (
	"context"
	"log/slog"
	"time"
)

// TimeoutHandler is invoked once per approval transitioned to status=timeout
// by the sweep, so the caller can emit a terminal event for it. Defined
// here rather than taking a pkg/bus dependency, to keep the store
// independent of the bus.
type TimeoutHandler func(ctx context.Context, a Approval)

// RunApprovalSweep periodically scans for approvals past their timeout_at
// deadline, transitions them, and invokes onTimeout for each — grounded on
// pkg/queue/orphan.go's ticker-driven periodic-scan pattern, generalized
// from session orphan detection to approval expiry. All instances run this
// independently; SweepTimedOut's UPDATE...RETURNING is idempotent per row.
func (s *Store) RunApprovalSweep(ctx context.Context, interval time.Duration, onTimeout TimeoutHandler) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			timedOut, err := s.SweepTimedOut(ctx)
			if err != nil {
				slog.Error("approval sweep failed", "error", err)
				continue
			}
			for _, a := range timedOut {
				slog.Warn("approval timed out", "approval_id", a.ApprovalID, "agent_id", a.AgentID)
				if onTimeout != nil {
					onTimeout(ctx, a)
				}
			}
		}
	}
}
