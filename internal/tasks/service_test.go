package tasks

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/db/memory"
	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/groups"
	"github.com/agentprovision/agentprovision/internal/logger"
	"github.com/agentprovision/agentprovision/internal/traces"
)

type fixture struct {
	o      *Orchestrator
	st     *memory.Store
	groups *groups.Service
	tenant uuid.UUID
}

func setup(t *testing.T) fixture {
	t.Helper()
	st := memory.New()
	tenant, err := st.CreateTenant(context.Background(), store.Tenant{Name: "T", Slug: "t"})
	require.NoError(t, err)
	gs := groups.NewService(logger.Discard(), st)
	rec := traces.NewRecorder(logger.Discard(), st)
	return fixture{
		o:      NewOrchestrator(logger.Discard(), st, gs, nil, rec, config.Defaults()),
		st:     st,
		groups: gs,
		tenant: tenant.ID,
	}
}

func (f fixture) agent(t *testing.T, name string, level store.AutonomyLevel, depth int) store.Agent {
	t.Helper()
	a, err := f.st.CreateAgent(context.Background(), store.Agent{
		TenantID: f.tenant, Name: name, Role: "specialist", AutonomyLevel: level, MaxDelegationDepth: depth,
	})
	require.NoError(t, err)
	return a
}

func stepTypes(rows []store.ExecutionTrace) []store.StepType {
	out := make([]store.StepType, len(rows))
	for i, r := range rows {
		out[i] = r.StepType
	}
	return out
}

func TestHappyPathTrace(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.agent(t, "a", store.AutonomyFull, 2)

	task, err := f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: a.ID, Objective: "summarize"})
	require.NoError(t, err)
	assert.Equal(t, store.TaskPending, task.Status)
	assert.False(t, task.RequiresApproval)
	assert.Equal(t, store.PriorityNormal, task.Priority)

	running := store.TaskRunning
	task, err = f.o.Update(ctx, f.tenant, task.ID, UpdateRequest{Status: &running})
	require.NoError(t, err)
	require.NotNil(t, task.StartedAt)

	done := store.TaskCompleted
	conf := 0.9
	task, err = f.o.Update(ctx, f.tenant, task.ID, UpdateRequest{Status: &done, Output: map[string]any{"text": "ok"}, Confidence: &conf})
	require.NoError(t, err)
	assert.Equal(t, store.TaskCompleted, task.Status)
	assert.Equal(t, "ok", task.Output["text"])
	require.NotNil(t, task.CompletedAt)

	rows, err := f.o.Trace(ctx, f.tenant, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []store.StepType{store.StepDispatched, store.StepExecuting, store.StepCompleted}, stepTypes(rows))
	for i, r := range rows {
		assert.Equal(t, i, r.StepOrder)
	}
}

func TestApprovalGate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b := f.agent(t, "b", store.AutonomyApprovalRequired, 2)

	task, err := f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: b.ID, Objective: "deploy"})
	require.NoError(t, err)
	assert.True(t, task.RequiresApproval)
	require.NotNil(t, task.ApprovalDeadline)

	_, err = f.o.Start(ctx, f.tenant, task.ID)
	assert.True(t, failure.IsKind(err, failure.ApprovalRequired))
	assert.Equal(t, 409, failure.HTTPStatus(failure.KindOf(err)))

	user := uuid.New()
	task, err = f.o.Approve(ctx, f.tenant, task.ID, &user)
	require.NoError(t, err)
	assert.Equal(t, store.TaskApproved, task.Status)
	assert.Equal(t, &user, task.ApprovedBy)

	task, err = f.o.Start(ctx, f.tenant, task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskRunning, task.Status)

	_, err = f.o.Complete(ctx, f.tenant, task.ID, CompleteRequest{})
	require.NoError(t, err)
	rows, err := f.o.Trace(ctx, f.tenant, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []store.StepType{store.StepDispatched, store.StepApprovalGranted, store.StepExecuting, store.StepCompleted}, stepTypes(rows))
}

func TestApproveWithoutGateConflicts(t *testing.T) {
	f := setup(t)
	a := f.agent(t, "a", store.AutonomyFull, 2)
	task, err := f.o.Create(context.Background(), f.tenant, CreateRequest{AssignedAgentID: a.ID, Objective: "x"})
	require.NoError(t, err)
	_, err = f.o.Approve(context.Background(), f.tenant, task.ID, nil)
	assert.True(t, failure.IsKind(err, failure.Conflict))
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.agent(t, "a", store.AutonomyFull, 2)

	for _, finish := range []func(id uuid.UUID) error{
		func(id uuid.UUID) error { _, err := f.o.Cancel(ctx, f.tenant, id); return err },
		func(id uuid.UUID) error { _, err := f.o.Fail(ctx, f.tenant, id, FailRequest{Kind: "skill_error"}); return err },
		func(id uuid.UUID) error {
			if _, err := f.o.Start(ctx, f.tenant, id); err != nil {
				return err
			}
			_, err := f.o.Complete(ctx, f.tenant, id, CompleteRequest{Output: map[string]any{"k": "v"}})
			return err
		},
	} {
		task, err := f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: a.ID, Objective: "x"})
		require.NoError(t, err)
		require.NoError(t, finish(task.ID))
		before, err := f.o.Get(ctx, f.tenant, task.ID)
		require.NoError(t, err)
		traceBefore, err := f.o.Trace(ctx, f.tenant, task.ID)
		require.NoError(t, err)

		_, err = f.o.Start(ctx, f.tenant, task.ID)
		assert.True(t, failure.IsKind(err, failure.Conflict))
		_, err = f.o.Cancel(ctx, f.tenant, task.ID)
		assert.True(t, failure.IsKind(err, failure.Conflict))
		_, err = f.o.Fail(ctx, f.tenant, task.ID, FailRequest{})
		assert.True(t, failure.IsKind(err, failure.Conflict))
		_, err = f.o.ReportProgress(ctx, f.tenant, task.ID, ProgressRequest{TokensUsed: 10})
		assert.True(t, failure.IsKind(err, failure.Conflict))
		running := store.TaskRunning
		_, err = f.o.Update(ctx, f.tenant, task.ID, UpdateRequest{Status: &running})
		assert.True(t, failure.IsKind(err, failure.Conflict))

		after, err := f.o.Get(ctx, f.tenant, task.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		traceAfter, err := f.o.Trace(ctx, f.tenant, task.ID)
		require.NoError(t, err)
		assert.Equal(t, traceBefore, traceAfter)
	}
}

func TestDelegationDepth(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.agent(t, "a", store.AutonomyFull, 1)
	b := f.agent(t, "b", store.AutonomyFull, 5)

	root, err := f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: a.ID, Objective: "root"})
	require.NoError(t, err)
	child, err := f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: b.ID, Objective: "child", ParentTaskID: &root.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, root.ID, child.RootTaskID)

	// The limit comes from the root's agent, not the child's.
	_, err = f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: b.ID, Objective: "grandchild", ParentTaskID: &child.ID})
	require.True(t, failure.IsKind(err, failure.DepthExceeded), "got %v", err)
	assert.Equal(t, 400, failure.HTTPStatus(failure.KindOf(err)))
}

func TestDelegateRequiresRelationship(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	lead := f.agent(t, "lead", store.AutonomyFull, 3)
	worker := f.agent(t, "worker", store.AutonomyFull, 3)

	g, err := f.groups.Create(ctx, f.tenant, groups.CreateRequest{Name: "g"})
	require.NoError(t, err)
	for _, a := range []store.Agent{lead, worker} {
		_, err := f.groups.AddMember(ctx, f.tenant, g.ID, groups.AddMemberRequest{AgentID: a.ID})
		require.NoError(t, err)
	}

	parent, err := f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: lead.ID, Objective: "plan", GroupID: &g.ID})
	require.NoError(t, err)

	req := DelegateRequest{AssignedAgentID: worker.ID, Objective: "research"}
	_, err = f.o.Delegate(ctx, f.tenant, parent.ID, req)
	assert.True(t, failure.IsKind(err, failure.Conflict), "parent is not running")

	_, err = f.o.Start(ctx, f.tenant, parent.ID)
	require.NoError(t, err)
	_, err = f.o.Delegate(ctx, f.tenant, parent.ID, req)
	assert.True(t, failure.IsKind(err, failure.RelationshipDisallowed))

	_, err = f.groups.CreateRelationship(ctx, f.tenant, groups.CreateRelationshipRequest{
		GroupID: g.ID, FromAgentID: lead.ID, ToAgentID: worker.ID, RelationshipType: store.RelCollaboratesWith,
	})
	require.NoError(t, err)
	_, err = f.o.Delegate(ctx, f.tenant, parent.ID, req)
	assert.True(t, failure.IsKind(err, failure.RelationshipDisallowed), "collaborates_with does not allow delegation")

	_, err = f.groups.CreateRelationship(ctx, f.tenant, groups.CreateRelationshipRequest{
		GroupID: g.ID, FromAgentID: lead.ID, ToAgentID: worker.ID, RelationshipType: store.RelSupervises,
	})
	require.NoError(t, err)
	child, err := f.o.Delegate(ctx, f.tenant, parent.ID, req)
	require.NoError(t, err)
	assert.Equal(t, &parent.ID, child.ParentTaskID)
	assert.Equal(t, &g.ID, child.GroupID)
	assert.Equal(t, &lead.ID, child.CreatedByAgentID)

	rows, err := f.o.Trace(ctx, f.tenant, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []store.StepType{store.StepDispatched, store.StepExecuting, store.StepDelegated}, stepTypes(rows))
	assert.Equal(t, child.ID.String(), rows[2].Details["subtask_id"])

	// Open children block completion.
	_, err = f.o.Complete(ctx, f.tenant, parent.ID, CompleteRequest{})
	assert.True(t, failure.IsKind(err, failure.Conflict))
	_, err = f.o.Complete(ctx, f.tenant, parent.ID, CompleteRequest{CancelChildren: true})
	require.NoError(t, err)
	child, err = f.o.Get(ctx, f.tenant, child.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskCancelled, child.Status)
}

func TestSubtasksOrderedByCompletion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.agent(t, "a", store.AutonomyFull, 3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	f.o.now = func() time.Time { return clock }

	root, err := f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: a.ID, Objective: "root"})
	require.NoError(t, err)
	var kids []store.AgentTask
	for range 3 {
		k, err := f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: a.ID, Objective: "kid", ParentTaskID: &root.ID})
		require.NoError(t, err)
		_, err = f.o.Start(ctx, f.tenant, k.ID)
		require.NoError(t, err)
		kids = append(kids, k)
	}
	for i, idx := range []int{2, 0} {
		clock = base.Add(time.Duration(i+1) * time.Minute)
		_, err := f.o.Complete(ctx, f.tenant, kids[idx].ID, CompleteRequest{})
		require.NoError(t, err)
	}

	subs, err := f.o.Subtasks(ctx, f.tenant, root.ID)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, kids[2].ID, subs[0].ID)
	assert.Equal(t, kids[0].ID, subs[1].ID)
	assert.Equal(t, kids[1].ID, subs[2].ID)
}

func TestReportProgressAccumulates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.agent(t, "a", store.AutonomyFull, 2)
	task, err := f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: a.ID, Objective: "x"})
	require.NoError(t, err)

	for range 3 {
		task, err = f.o.ReportProgress(ctx, f.tenant, task.ID, ProgressRequest{Reasoning: "thinking", TokensUsed: 100, Cost: 0.25})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 300, task.TokensUsed)
	assert.InDelta(t, 0.75, task.Cost, 1e-9)
	assert.Equal(t, "thinking", task.Reasoning)

	_, err = f.o.ReportProgress(ctx, f.tenant, task.ID, ProgressRequest{TokensUsed: -1})
	assert.True(t, failure.IsKind(err, failure.Validation))
}

func TestOutputIsBounded(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.o.maxOutputBytes = 64
	a := f.agent(t, "a", store.AutonomyFull, 2)
	task, err := f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: a.ID, Objective: "x"})
	require.NoError(t, err)
	_, err = f.o.Start(ctx, f.tenant, task.ID)
	require.NoError(t, err)

	_, err = f.o.Complete(ctx, f.tenant, task.ID, CompleteRequest{Output: map[string]any{"text": strings.Repeat("a", 100)}})
	assert.True(t, failure.IsKind(err, failure.Validation))
	bad := 1.2
	_, err = f.o.Complete(ctx, f.tenant, task.ID, CompleteRequest{Confidence: &bad})
	assert.True(t, failure.IsKind(err, failure.Validation))
}

func TestCancelAbortsInflightDispatch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.agent(t, "a", store.AutonomyFull, 2)
	task, err := f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: a.ID, Objective: "x"})
	require.NoError(t, err)

	callCtx, release := f.o.Track(ctx, task.ID)
	defer release()
	_, err = f.o.Cancel(ctx, f.tenant, task.ID)
	require.NoError(t, err)

	select {
	case <-callCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatch context was not cancelled")
	}
	assert.ErrorIs(t, context.Cause(callCtx), ErrTaskCancelled)
}

func TestTasksAreTenantScoped(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.agent(t, "a", store.AutonomyFull, 2)
	task, err := f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: a.ID, Objective: "x"})
	require.NoError(t, err)

	other, err := f.st.CreateTenant(ctx, store.Tenant{Name: "O", Slug: "o"})
	require.NoError(t, err)
	_, err = f.o.Get(ctx, other.ID, task.ID)
	assert.True(t, failure.IsKind(err, failure.NotFound))
	_, err = f.o.Start(ctx, other.ID, task.ID)
	assert.True(t, failure.IsKind(err, failure.NotFound))
	_, err = f.o.Create(ctx, other.ID, CreateRequest{AssignedAgentID: a.ID, Objective: "steal"})
	assert.True(t, failure.IsKind(err, failure.NotFound))
	list, err := f.o.List(ctx, other.ID, ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestExpireApprovals(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b := f.agent(t, "b", store.AutonomyApprovalRequired, 2)
	task, err := f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: b.ID, Objective: "x"})
	require.NoError(t, err)

	n, err := f.o.ExpireApprovals(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.o.now = func() time.Time { return time.Now().UTC().Add(25 * time.Hour) }
	n, err = f.o.ExpireApprovals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err = f.o.Get(ctx, f.tenant, task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskCancelled, task.Status)
	rows, err := f.o.Trace(ctx, f.tenant, task.ID)
	require.NoError(t, err)
	last := rows[len(rows)-1]
	assert.Equal(t, store.StepCancelled, last.StepType)
	assert.Equal(t, "approval_timeout", last.Details["reason"])
}

func TestFailOverdueResponses(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.agent(t, "a", store.AutonomyFull, 2)
	b := f.agent(t, "b", store.AutonomyFull, 2)
	task, err := f.o.Create(ctx, f.tenant, CreateRequest{AssignedAgentID: a.ID, Objective: "x"})
	require.NoError(t, err)
	_, err = f.o.Start(ctx, f.tenant, task.ID)
	require.NoError(t, err)

	deadline := time.Now().UTC().Add(-time.Minute)
	_, err = f.st.CreateMessage(ctx, store.AgentMessage{
		TenantID: f.tenant, TaskID: &task.ID, FromAgentID: a.ID, ToAgentID: &b.ID,
		MessageType: store.MsgRequest, Content: map[string]any{"q": "?"},
		RequiresResponse: true, ResponseDeadline: &deadline,
	})
	require.NoError(t, err)

	n, err := f.o.FailOverdueResponses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err = f.o.Get(ctx, f.tenant, task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskFailed, task.Status)
	assert.Equal(t, "response_timeout", task.Error["reason"])

	// A second sweep finds nothing left to time out.
	n, err = f.o.FailOverdueResponses(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
