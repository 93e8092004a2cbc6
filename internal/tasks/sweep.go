package tasks

import (
	"context"
	"errors"
	"log/slog"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
)

const sweepBatch = 100

// ExpireApprovals cancels approval-gated tasks whose approval window passed.
// It returns the number of tasks cancelled.
func (o *Orchestrator) ExpireApprovals(ctx context.Context) (int, error) {
	expired, err := o.store.ListExpiredApprovals(ctx, o.now(), sweepBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range expired {
		_, err := o.cancel(ctx, t.TenantID, t.ID, map[string]any{"reason": "approval_timeout"})
		switch {
		case err == nil:
			n++
		case failure.IsKind(err, failure.Conflict):
			// Approved or cancelled since the listing.
		default:
			o.logger.Warn("approval expiry failed", slog.String("task_id", t.ID.String()), slog.Any("error", err))
		}
	}
	if n > 0 {
		o.logger.Info("expired approvals", slog.Int("count", n))
	}
	return n, nil
}

// FailOverdueResponses marks unanswered requests past their deadline as timed
// out and fails the tasks they belong to. It returns the number of messages
// handled.
func (o *Orchestrator) FailOverdueResponses(ctx context.Context) (int, error) {
	overdue, err := o.store.ListOverdueRequests(ctx, o.now(), sweepBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range overdue {
		if err := o.store.MarkMessageTimedOut(ctx, m.TenantID, m.ID, o.now()); err != nil {
			if !errors.Is(err, store.ErrConflict) {
				o.logger.Warn("mark message timed out failed", slog.String("message_id", m.ID.String()), slog.Any("error", err))
			}
			continue
		}
		n++
		if m.TaskID == nil {
			continue
		}
		details := map[string]any{
			"reason":     "response_timeout",
			"message_id": m.ID.String(),
		}
		if m.ToAgentID != nil {
			details["awaited_agent_id"] = m.ToAgentID.String()
		}
		_, err := o.Fail(ctx, m.TenantID, *m.TaskID, FailRequest{
			Kind:    string(failure.Timeout),
			Message: "no response before the deadline",
			Details: details,
		})
		if err != nil && !failure.IsKind(err, failure.Conflict) && !failure.IsKind(err, failure.NotFound) {
			o.logger.Warn("response timeout failed task", slog.String("task_id", m.TaskID.String()), slog.Any("error", err))
		}
	}
	return n, nil
}
