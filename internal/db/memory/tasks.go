package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

func sortMembers(ms []store.GroupMember) {
	slices.SortFunc(ms, func(a, b store.GroupMember) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.AgentID.String(), b.AgentID.String())
	})
}

func (s *Store) CreateTask(_ context.Context, t store.AgentTask) (store.AgentTask, error) {
	defer s.lock()()
	a, ok := s.st.agents[t.AssignedAgentID]
	if !ok || a.TenantID != t.TenantID {
		return store.AgentTask{}, store.ErrNotFound
	}
	t.ID = newID(t.ID)
	if t.RootTaskID == uuid.Nil {
		t.RootTaskID = t.ID
	}
	now := s.now()
	t.CreatedAt = stamp(t.CreatedAt, now)
	t.UpdatedAt = now
	t.Version = 1
	s.st.tasks[t.ID] = t
	s.st.track(t.ID)
	return t, nil
}

func (s *Store) GetTask(_ context.Context, tenantID, id uuid.UUID) (store.AgentTask, error) {
	defer s.lock()()
	t, ok := s.st.tasks[id]
	if !ok || t.TenantID != tenantID {
		return store.AgentTask{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListTasks(_ context.Context, tenantID uuid.UUID, f store.TaskFilter) ([]store.AgentTask, error) {
	defer s.lock()()
	out := values(s.st, s.st.tasks, func(t store.AgentTask) bool {
		if t.TenantID != tenantID {
			return false
		}
		if f.Status != "" && t.Status != f.Status {
			return false
		}
		if f.AssignedAgentID != nil && t.AssignedAgentID != *f.AssignedAgentID {
			return false
		}
		if f.GroupID != nil && !ptrEq(t.GroupID, f.GroupID) {
			return false
		}
		if f.ParentTaskID != nil && !ptrEq(t.ParentTaskID, f.ParentTaskID) {
			return false
		}
		return true
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) UpdateTask(_ context.Context, t store.AgentTask, expectStatus store.TaskStatus, expectVersion int64) (store.AgentTask, error) {
	defer s.lock()()
	existing, ok := s.st.tasks[t.ID]
	if !ok || existing.TenantID != t.TenantID {
		return store.AgentTask{}, store.ErrNotFound
	}
	if existing.Status != expectStatus || existing.Version != expectVersion {
		return store.AgentTask{}, store.ErrConflict
	}
	// Identity and lineage columns are immutable.
	t.AssignedAgentID = existing.AssignedAgentID
	t.ParentTaskID = existing.ParentTaskID
	t.RootTaskID = existing.RootTaskID
	t.Depth = existing.Depth
	t.GroupID = existing.GroupID
	t.CreatedAt = existing.CreatedAt
	t.Version = existing.Version + 1
	t.UpdatedAt = s.now()
	s.st.tasks[t.ID] = t
	return t, nil
}

func (s *Store) ListChildTasks(_ context.Context, tenantID, parentID uuid.UUID) ([]store.AgentTask, error) {
	defer s.lock()()
	out := make([]store.AgentTask, 0)
	for _, t := range s.st.tasks {
		if t.TenantID == tenantID && t.ParentTaskID != nil && *t.ParentTaskID == parentID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b store.AgentTask) int {
		switch {
		case a.CompletedAt == nil && b.CompletedAt != nil:
			return 1
		case a.CompletedAt != nil && b.CompletedAt == nil:
			return -1
		case a.CompletedAt != nil && b.CompletedAt != nil:
			if c := a.CompletedAt.Compare(*b.CompletedAt); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (s *Store) ListExpiredApprovals(_ context.Context, now time.Time, limit int) ([]store.AgentTask, error) {
	defer s.lock()()
	out := values(s.st, s.st.tasks, func(t store.AgentTask) bool {
		return t.Status == store.TaskPending && t.RequiresApproval &&
			t.ApprovalDeadline != nil && t.ApprovalDeadline.Before(now)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SumTaskCost(_ context.Context, tenantID uuid.UUID, since time.Time) (float64, error) {
	defer s.lock()()
	var total float64
	for _, t := range s.st.tasks {
		if t.TenantID == tenantID && !t.CreatedAt.Before(since) {
			total += t.Cost
		}
	}
	return total, nil
}

func (s *Store) CreateMessage(_ context.Context, m store.AgentMessage) (store.AgentMessage, error) {
	defer s.lock()()
	m.ID = newID(m.ID)
	s.st.seq++
	m.Seq = s.st.seq
	m.CreatedAt = stamp(m.CreatedAt, s.now())
	s.st.messages[m.ID] = m
	s.st.order[m.ID] = m.Seq
	return m, nil
}

func (s *Store) GetMessage(_ context.Context, tenantID, id uuid.UUID) (store.AgentMessage, error) {
	defer s.lock()()
	m, ok := s.st.messages[id]
	if !ok || m.TenantID != tenantID {
		return store.AgentMessage{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) ListMessages(_ context.Context, tenantID uuid.UUID, f store.MessageFilter) ([]store.AgentMessage, error) {
	defer s.lock()()
	out := make([]store.AgentMessage, 0)
	for _, m := range s.st.messages {
		if m.TenantID != tenantID {
			continue
		}
		if f.GroupID != nil && !ptrEq(m.GroupID, f.GroupID) {
			continue
		}
		if f.TaskID != nil && !ptrEq(m.TaskID, f.TaskID) {
			continue
		}
		if f.Recipient != nil {
			if m.ToAgentID != nil && *m.ToAgentID != *f.Recipient {
				continue
			}
			if f.UnreadOnly {
				if _, read := s.st.reads[readKey{message: m.ID, agent: *f.Recipient}]; read {
					continue
				}
			}
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b store.AgentMessage) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) MarkMessageRead(_ context.Context, tenantID, messageID, agentID uuid.UUID) error {
	defer s.lock()()
	m, ok := s.st.messages[messageID]
	if !ok || m.TenantID != tenantID {
		return store.ErrNotFound
	}
	key := readKey{message: messageID, agent: agentID}
	if _, ok := s.st.reads[key]; !ok {
		s.st.reads[key] = s.now()
	}
	return nil
}

func (s *Store) HasResponse(_ context.Context, tenantID, requestID uuid.UUID) (bool, error) {
	defer s.lock()()
	return s.st.hasResponse(tenantID, requestID), nil
}

func (st *state) hasResponse(tenantID, requestID uuid.UUID) bool {
	for _, m := range st.messages {
		if m.TenantID == tenantID && m.MessageType == store.MsgResponse &&
			m.InReplyTo != nil && *m.InReplyTo == requestID {
			return true
		}
	}
	return false
}

func (s *Store) ListOverdueRequests(_ context.Context, now time.Time, limit int) ([]store.AgentMessage, error) {
	defer s.lock()()
	out := values(s.st, s.st.messages, func(m store.AgentMessage) bool {
		return m.RequiresResponse && m.TimedOutAt == nil &&
			m.ResponseDeadline != nil && m.ResponseDeadline.Before(now) &&
			!s.st.hasResponse(m.TenantID, m.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkMessageTimedOut(_ context.Context, tenantID, id uuid.UUID, at time.Time) error {
	defer s.lock()()
	m, ok := s.st.messages[id]
	if !ok || m.TenantID != tenantID {
		return store.ErrNotFound
	}
	if m.TimedOutAt != nil {
		return store.ErrConflict
	}
	m.TimedOutAt = &at
	s.st.messages[id] = m
	return nil
}

func (s *Store) AppendTrace(_ context.Context, t store.ExecutionTrace) (store.ExecutionTrace, error) {
	defer s.lock()()
	task, ok := s.st.tasks[t.TaskID]
	if !ok || task.TenantID != t.TenantID {
		return store.ExecutionTrace{}, store.ErrNotFound
	}
	t.ID = newID(t.ID)
	t.StepOrder = len(s.st.traces[t.TaskID])
	t.CreatedAt = stamp(t.CreatedAt, s.now())
	s.st.traces[t.TaskID] = append(s.st.traces[t.TaskID], t)
	return t, nil
}

func (s *Store) ListTraces(_ context.Context, tenantID, taskID uuid.UUID) ([]store.ExecutionTrace, error) {
	defer s.lock()()
	out := make([]store.ExecutionTrace, 0, len(s.st.traces[taskID]))
	for _, t := range s.st.traces[taskID] {
		if t.TenantID == tenantID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) HasTraceStep(_ context.Context, tenantID, taskID uuid.UUID, step store.StepType) (bool, error) {
	defer s.lock()()
	for _, t := range s.st.traces[taskID] {
		if t.TenantID == tenantID && t.StepType == step {
			return true, nil
		}
	}
	return false, nil
}
