package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

func seedTask(t *testing.T, s *Store) (store.Tenant, store.AgentTask) {
	t.Helper()
	ctx := context.Background()
	tenant, err := s.CreateTenant(ctx, store.Tenant{Name: "T", Slug: "t-" + uuid.NewString()[:8]})
	require.NoError(t, err)
	agent, err := s.CreateAgent(ctx, store.Agent{TenantID: tenant.ID, Name: "a", AutonomyLevel: store.AutonomyFull})
	require.NoError(t, err)
	task, err := s.CreateTask(ctx, store.AgentTask{TenantID: tenant.ID, AssignedAgentID: agent.ID, Objective: "o", Status: store.TaskPending, Priority: store.PriorityNormal})
	require.NoError(t, err)
	return tenant, task
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx store.Store) error {
		if _, err := tx.CreateTenant(ctx, store.Tenant{Name: "X", Slug: "x"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.CreateTenant(ctx, store.Tenant{Name: "X", Slug: "x"})
	require.NoError(t, err, "slug should be free after rollback")
}

func TestTenantSlugAndEmailUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	tenant, err := s.CreateTenant(ctx, store.Tenant{Name: "A", Slug: "a"})
	require.NoError(t, err)
	_, err = s.CreateTenant(ctx, store.Tenant{Name: "A2", Slug: "a"})
	require.ErrorIs(t, err, store.ErrDuplicate)

	_, err = s.CreateUser(ctx, store.User{TenantID: tenant.ID, Email: "a@x.com"})
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, store.User{TenantID: tenant.ID, Email: "A@X.com"})
	require.ErrorIs(t, err, store.ErrDuplicate)
}

func TestUpdateTaskConditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, task := seedTask(t, s)

	next := task
	next.Status = store.TaskRunning
	updated, err := s.UpdateTask(ctx, next, store.TaskPending, task.Version)
	require.NoError(t, err)
	assert.Equal(t, task.Version+1, updated.Version)

	stale := task
	stale.Status = store.TaskCancelled
	_, err = s.UpdateTask(ctx, stale, store.TaskPending, task.Version)
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestTasksAreTenantScoped(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, task := seedTask(t, s)
	other, _ := seedTask(t, s)

	_, err := s.GetTask(ctx, other.ID, task.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAppendTraceIsDenseUnderConcurrency(t *testing.T) {
	s := New()
	ctx := context.Background()
	tenant, task := seedTask(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendTrace(ctx, store.ExecutionTrace{TaskID: task.ID, TenantID: tenant.ID, StepType: store.StepExecuting})
			if err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	traces, err := s.ListTraces(ctx, tenant.ID, task.ID)
	require.NoError(t, err)
	require.Len(t, traces, 20)
	for i, tr := range traces {
		assert.Equal(t, i, tr.StepOrder)
	}
}

func TestReserveSkillCallLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	tenant, _ := seedTask(t, s)
	since := time.Now().Add(-time.Minute)

	for i := 0; i < 2; i++ {
		_, err := s.ReserveSkillCall(ctx, store.SkillExecution{TenantID: tenant.ID, SkillName: "slack"}, since, 2)
		require.NoError(t, err)
	}
	_, err := s.ReserveSkillCall(ctx, store.SkillExecution{TenantID: tenant.ID, SkillName: "slack"}, since, 2)
	require.ErrorIs(t, err, store.ErrLimitReached)

	n, err := s.CountSkillCalls(ctx, tenant.ID, "slack", since)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Window that starts after the reservations sees none of them.
	_, err = s.ReserveSkillCall(ctx, store.SkillExecution{TenantID: tenant.ID, SkillName: "slack"}, time.Now().Add(time.Second), 2)
	require.NoError(t, err)
}

func TestListChildTasksOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	tenant, parent := seedTask(t, s)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(completed *time.Time) store.AgentTask {
		child, err := s.CreateTask(ctx, store.AgentTask{
			TenantID: tenant.ID, AssignedAgentID: parent.AssignedAgentID, ParentTaskID: &parent.ID,
			RootTaskID: parent.ID, Depth: 1, Status: store.TaskRunning, Priority: store.PriorityNormal,
		})
		require.NoError(t, err)
		if completed != nil {
			child.Status = store.TaskCompleted
			child.CompletedAt = completed
			child, err = s.UpdateTask(ctx, child, store.TaskRunning, child.Version)
			require.NoError(t, err)
		}
		return child
	}
	late := base.Add(time.Minute)
	open := mk(nil)
	second := mk(&late)
	first := mk(&base)

	children, err := s.ListChildTasks(ctx, tenant.ID, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, first.ID, children[0].ID)
	assert.Equal(t, second.ID, children[1].ID)
	assert.Equal(t, open.ID, children[2].ID)
}

func TestBroadcastVisibleToRecipients(t *testing.T) {
	s := New()
	ctx := context.Background()
	tenant, task := seedTask(t, s)
	from := task.AssignedAgentID
	to := uuid.New()
	other := uuid.New()

	_, err := s.CreateMessage(ctx, store.AgentMessage{TenantID: tenant.ID, FromAgentID: from, MessageType: store.MsgUpdate})
	require.NoError(t, err)
	direct, err := s.CreateMessage(ctx, store.AgentMessage{TenantID: tenant.ID, FromAgentID: from, ToAgentID: &to, MessageType: store.MsgRequest})
	require.NoError(t, err)

	forTo, err := s.ListMessages(ctx, tenant.ID, store.MessageFilter{Recipient: &to})
	require.NoError(t, err)
	assert.Len(t, forTo, 2)

	forOther, err := s.ListMessages(ctx, tenant.ID, store.MessageFilter{Recipient: &other})
	require.NoError(t, err)
	assert.Len(t, forOther, 1)

	require.NoError(t, s.MarkMessageRead(ctx, tenant.ID, direct.ID, to))
	unread, err := s.ListMessages(ctx, tenant.ID, store.MessageFilter{Recipient: &to, UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread, 1)
}
