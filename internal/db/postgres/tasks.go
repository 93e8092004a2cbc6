package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

const taskColumns = `id, tenant_id, group_id, assigned_agent_id, created_by_agent_id, created_by_user_id,
	parent_task_id, root_task_id, depth, objective, task_type, priority, context, requires_approval, status,
	reasoning, output, confidence, error, tokens_used, cost, version, approval_deadline, approved_by,
	approved_at, created_at, started_at, completed_at, updated_at`

func scanTask(row pgx.Row) (store.AgentTask, error) {
	var t store.AgentTask
	err := row.Scan(&t.ID, &t.TenantID, &t.GroupID, &t.AssignedAgentID, &t.CreatedByAgentID, &t.CreatedByUserID,
		&t.ParentTaskID, &t.RootTaskID, &t.Depth, &t.Objective, &t.TaskType, &t.Priority, &t.Context,
		&t.RequiresApproval, &t.Status, &t.Reasoning, &t.Output, &t.Confidence, &t.Error, &t.TokensUsed,
		&t.Cost, &t.Version, &t.ApprovalDeadline, &t.ApprovedBy, &t.ApprovedAt, &t.CreatedAt, &t.StartedAt,
		&t.CompletedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) CreateTask(ctx context.Context, t store.AgentTask) (store.AgentTask, error) {
	t.ID = newID(t.ID)
	if t.RootTaskID == uuid.Nil {
		t.RootTaskID = t.ID
	}
	return one(s.q.QueryRow(ctx,
		`INSERT INTO agent_tasks (id, tenant_id, group_id, assigned_agent_id, created_by_agent_id, created_by_user_id,
			parent_task_id, root_task_id, depth, objective, task_type, priority, context, requires_approval,
			status, approval_deadline)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		 WHERE EXISTS (SELECT 1 FROM agents WHERE id = $4 AND tenant_id = $2)
		 RETURNING `+taskColumns,
		t.ID, t.TenantID, t.GroupID, t.AssignedAgentID, t.CreatedByAgentID, t.CreatedByUserID,
		t.ParentTaskID, t.RootTaskID, t.Depth, t.Objective, t.TaskType, t.Priority, t.Context, t.RequiresApproval,
		t.Status, t.ApprovalDeadline,
	), scanTask)
}

func (s *Store) GetTask(ctx context.Context, tenantID, id uuid.UUID) (store.AgentTask, error) {
	return one(s.q.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM agent_tasks WHERE tenant_id = $1 AND id = $2`, tenantID, id), scanTask)
}

func (s *Store) ListTasks(ctx context.Context, tenantID uuid.UUID, f store.TaskFilter) ([]store.AgentTask, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.q.Query(ctx,
		`SELECT `+taskColumns+` FROM agent_tasks
		 WHERE tenant_id = $1
		   AND ($2 = '' OR status = $2)
		   AND ($3::uuid IS NULL OR assigned_agent_id = $3)
		   AND ($4::uuid IS NULL OR group_id = $4)
		   AND ($5::uuid IS NULL OR parent_task_id = $5)
		 ORDER BY created_at, id
		 LIMIT $6`,
		tenantID, string(f.Status), f.AssignedAgentID, f.GroupID, f.ParentTaskID, limit)
	return collect(rows, err, scanTask)
}

func (s *Store) UpdateTask(ctx context.Context, t store.AgentTask, expectStatus store.TaskStatus, expectVersion int64) (store.AgentTask, error) {
	updated, err := one(s.q.QueryRow(ctx,
		`UPDATE agent_tasks SET
			objective = $5, task_type = $6, priority = $7, context = $8, requires_approval = $9, status = $10,
			reasoning = $11, output = $12, confidence = $13, error = $14, tokens_used = $15, cost = $16,
			approval_deadline = $17, approved_by = $18, approved_at = $19, started_at = $20, completed_at = $21,
			created_by_agent_id = $22, version = version + 1, updated_at = now()
		 WHERE tenant_id = $1 AND id = $2 AND status = $3 AND version = $4
		 RETURNING `+taskColumns,
		t.TenantID, t.ID, expectStatus, expectVersion,
		t.Objective, t.TaskType, t.Priority, t.Context, t.RequiresApproval, t.Status,
		t.Reasoning, t.Output, t.Confidence, t.Error, t.TokensUsed, t.Cost,
		t.ApprovalDeadline, t.ApprovedBy, t.ApprovedAt, t.StartedAt, t.CompletedAt,
		t.CreatedByAgentID,
	), scanTask)
	if errors.Is(err, store.ErrNotFound) {
		// Distinguish a lost race from a missing row.
		if _, getErr := s.GetTask(ctx, t.TenantID, t.ID); getErr == nil {
			return store.AgentTask{}, store.ErrConflict
		}
	}
	return updated, err
}

func (s *Store) ListChildTasks(ctx context.Context, tenantID, parentID uuid.UUID) ([]store.AgentTask, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+taskColumns+` FROM agent_tasks
		 WHERE tenant_id = $1 AND parent_task_id = $2
		 ORDER BY completed_at ASC NULLS LAST, id ASC`, tenantID, parentID)
	return collect(rows, err, scanTask)
}

func (s *Store) ListExpiredApprovals(ctx context.Context, now time.Time, limit int) ([]store.AgentTask, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+taskColumns+` FROM agent_tasks
		 WHERE status = 'pending' AND requires_approval AND approval_deadline < $1
		 ORDER BY approval_deadline, id
		 LIMIT $2`, now, limit)
	return collect(rows, err, scanTask)
}

func (s *Store) SumTaskCost(ctx context.Context, tenantID uuid.UUID, since time.Time) (float64, error) {
	var total float64
	err := s.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM agent_tasks WHERE tenant_id = $1 AND created_at >= $2`,
		tenantID, since).Scan(&total)
	return total, mapError(err)
}

const messageColumns = `id, tenant_id, group_id, task_id, from_agent_id, to_agent_id, message_type, content,
	reasoning, requires_response, response_deadline, in_reply_to, seq, timed_out_at, created_at`

func scanMessage(row pgx.Row) (store.AgentMessage, error) {
	var m store.AgentMessage
	err := row.Scan(&m.ID, &m.TenantID, &m.GroupID, &m.TaskID, &m.FromAgentID, &m.ToAgentID, &m.MessageType,
		&m.Content, &m.Reasoning, &m.RequiresResponse, &m.ResponseDeadline, &m.InReplyTo, &m.Seq,
		&m.TimedOutAt, &m.CreatedAt)
	return m, err
}

func (s *Store) CreateMessage(ctx context.Context, m store.AgentMessage) (store.AgentMessage, error) {
	content := m.Content
	if content == nil {
		content = map[string]any{}
	}
	return one(s.q.QueryRow(ctx,
		`INSERT INTO agent_messages (id, tenant_id, group_id, task_id, from_agent_id, to_agent_id, message_type,
			content, reasoning, requires_response, response_deadline, in_reply_to)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING `+messageColumns,
		newID(m.ID), m.TenantID, m.GroupID, m.TaskID, m.FromAgentID, m.ToAgentID, m.MessageType,
		content, m.Reasoning, m.RequiresResponse, m.ResponseDeadline, m.InReplyTo,
	), scanMessage)
}

func (s *Store) GetMessage(ctx context.Context, tenantID, id uuid.UUID) (store.AgentMessage, error) {
	return one(s.q.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM agent_messages WHERE tenant_id = $1 AND id = $2`, tenantID, id), scanMessage)
}

func (s *Store) ListMessages(ctx context.Context, tenantID uuid.UUID, f store.MessageFilter) ([]store.AgentMessage, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.q.Query(ctx,
		`SELECT `+messageColumns+` FROM agent_messages m
		 WHERE m.tenant_id = $1
		   AND ($2::uuid IS NULL OR m.group_id = $2)
		   AND ($3::uuid IS NULL OR m.task_id = $3)
		   AND ($4::uuid IS NULL OR m.to_agent_id IS NULL OR m.to_agent_id = $4)
		   AND (NOT $5 OR $4::uuid IS NULL OR NOT EXISTS (
				SELECT 1 FROM agent_message_reads r WHERE r.message_id = m.id AND r.agent_id = $4))
		 ORDER BY m.created_at, m.seq
		 LIMIT $6`,
		tenantID, f.GroupID, f.TaskID, f.Recipient, f.UnreadOnly, limit)
	return collect(rows, err, scanMessage)
}

func (s *Store) MarkMessageRead(ctx context.Context, tenantID, messageID, agentID uuid.UUID) error {
	return expectOne(s.q.Exec(ctx,
		`INSERT INTO agent_message_reads (message_id, agent_id)
		 SELECT id, $3 FROM agent_messages WHERE tenant_id = $1 AND id = $2
		 ON CONFLICT (message_id, agent_id) DO UPDATE SET read_at = agent_message_reads.read_at`,
		tenantID, messageID, agentID))
}

func (s *Store) HasResponse(ctx context.Context, tenantID, requestID uuid.UUID) (bool, error) {
	var ok bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM agent_messages
		 WHERE tenant_id = $1 AND in_reply_to = $2 AND message_type = 'response')`,
		tenantID, requestID).Scan(&ok)
	return ok, mapError(err)
}

func (s *Store) ListOverdueRequests(ctx context.Context, now time.Time, limit int) ([]store.AgentMessage, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+messageColumns+` FROM agent_messages m
		 WHERE m.requires_response AND m.timed_out_at IS NULL AND m.response_deadline < $1
		   AND NOT EXISTS (SELECT 1 FROM agent_messages r
				WHERE r.in_reply_to = m.id AND r.message_type = 'response')
		 ORDER BY m.response_deadline, m.seq
		 LIMIT $2`, now, limit)
	return collect(rows, err, scanMessage)
}

func (s *Store) MarkMessageTimedOut(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE agent_messages SET timed_out_at = $3 WHERE tenant_id = $1 AND id = $2 AND timed_out_at IS NULL`,
		tenantID, id, at)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

const traceColumns = `id, task_id, tenant_id, step_order, step_type, agent_id, details, duration_ms, created_at`

func scanTrace(row pgx.Row) (store.ExecutionTrace, error) {
	var t store.ExecutionTrace
	err := row.Scan(&t.ID, &t.TaskID, &t.TenantID, &t.StepOrder, &t.StepType, &t.AgentID, &t.Details,
		&t.DurationMS, &t.CreatedAt)
	return t, err
}

// AppendTrace locks the owning task row so concurrent appends for one task
// serialise on MAX(step_order).
func (s *Store) AppendTrace(ctx context.Context, t store.ExecutionTrace) (store.ExecutionTrace, error) {
	var out store.ExecutionTrace
	err := s.InTx(ctx, func(tx store.Store) error {
		q := tx.(*Store).q
		var locked uuid.UUID
		if err := q.QueryRow(ctx,
			`SELECT id FROM agent_tasks WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
			t.TenantID, t.TaskID).Scan(&locked); err != nil {
			return mapError(err)
		}
		var err error
		out, err = one(q.QueryRow(ctx,
			`INSERT INTO execution_traces (id, task_id, tenant_id, step_order, step_type, agent_id, details, duration_ms)
			 SELECT $1, $2, $3, COALESCE(MAX(step_order) + 1, 0), $4, $5, $6, $7
			 FROM execution_traces WHERE task_id = $2
			 RETURNING `+traceColumns,
			newID(t.ID), t.TaskID, t.TenantID, t.StepType, t.AgentID, t.Details, t.DurationMS,
		), scanTrace)
		return err
	})
	return out, err
}

func (s *Store) ListTraces(ctx context.Context, tenantID, taskID uuid.UUID) ([]store.ExecutionTrace, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+traceColumns+` FROM execution_traces WHERE tenant_id = $1 AND task_id = $2 ORDER BY step_order`,
		tenantID, taskID)
	return collect(rows, err, scanTrace)
}

func (s *Store) HasTraceStep(ctx context.Context, tenantID, taskID uuid.UUID, step store.StepType) (bool, error) {
	var ok bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM execution_traces WHERE tenant_id = $1 AND task_id = $2 AND step_type = $3)`,
		tenantID, taskID, step).Scan(&ok)
	return ok, mapError(err)
}
