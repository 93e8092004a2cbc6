package messages

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentprovision/agentprovision/internal/db/memory"
	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/groups"
	"github.com/agentprovision/agentprovision/internal/logger"
)

type fakeTasks struct {
	awaited []uuid.UUID
	resumed []uuid.UUID
}

func (f *fakeTasks) Await(_ context.Context, _, id uuid.UUID) (store.AgentTask, error) {
	f.awaited = append(f.awaited, id)
	return store.AgentTask{ID: id, Status: store.TaskAwaitingResponse}, nil
}

func (f *fakeTasks) Resume(_ context.Context, _, id uuid.UUID) (store.AgentTask, error) {
	f.resumed = append(f.resumed, id)
	return store.AgentTask{ID: id, Status: store.TaskRunning}, nil
}

type fixture struct {
	svc     *Service
	st      *memory.Store
	groups  *groups.Service
	tasks   *fakeTasks
	tenant  uuid.UUID
	group   uuid.UUID
	manager store.Agent
	worker  store.Agent
	peer    store.Agent
	outside store.Agent
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	tenant, err := st.CreateTenant(ctx, store.Tenant{Name: "T", Slug: "t"})
	require.NoError(t, err)
	gs := groups.NewService(logger.Discard(), st)
	ft := &fakeTasks{}
	f := fixture{svc: NewService(logger.Discard(), st, gs, ft), st: st, groups: gs, tasks: ft, tenant: tenant.ID}

	g, err := gs.Create(ctx, tenant.ID, groups.CreateRequest{Name: "g"})
	require.NoError(t, err)
	f.group = g.ID
	mk := func(name string, member bool) store.Agent {
		a, err := st.CreateAgent(ctx, store.Agent{TenantID: tenant.ID, Name: name, AutonomyLevel: store.AutonomyFull})
		require.NoError(t, err)
		if member {
			_, err = gs.AddMember(ctx, tenant.ID, g.ID, groups.AddMemberRequest{AgentID: a.ID})
			require.NoError(t, err)
		}
		return a
	}
	f.manager = mk("manager", true)
	f.worker = mk("worker", true)
	f.peer = mk("peer", true)
	f.outside = mk("outside", false)
	return f
}

func (f fixture) relate(t *testing.T, from, to uuid.UUID, typ store.RelationshipType, style store.CommunicationStyle) {
	t.Helper()
	_, err := f.groups.CreateRelationship(context.Background(), f.tenant, groups.CreateRelationshipRequest{
		GroupID: f.group, FromAgentID: from, ToAgentID: to, RelationshipType: typ, CommunicationStyle: style,
	})
	require.NoError(t, err)
}

func TestBroadcastVisibility(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.relate(t, f.manager.ID, f.worker.ID, store.RelSupervises, store.StyleAsync)

	m, err := f.svc.Send(ctx, f.tenant, SendRequest{
		GroupID: f.group, FromAgentID: f.manager.ID, MessageType: store.MsgUpdate,
		Content: map[string]any{"text": "standup at 10"},
	})
	require.NoError(t, err)
	assert.Nil(t, m.ToAgentID)

	all, err := f.svc.List(ctx, f.tenant, ListQuery{GroupID: &f.group})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	for _, member := range []store.Agent{f.worker, f.peer, f.manager} {
		rows, err := f.svc.List(ctx, f.tenant, ListQuery{GroupID: &f.group, AgentID: &member.ID})
		require.NoError(t, err)
		assert.Len(t, rows, 1, member.Name)
	}
	rows, err := f.svc.List(ctx, f.tenant, ListQuery{GroupID: &f.group, AgentID: &f.outside.ID})
	require.NoError(t, err)
	assert.Empty(t, rows)
	rows, err = f.svc.List(ctx, f.tenant, ListQuery{AgentID: &f.outside.ID})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBroadcastNeedsOutgoingRelationship(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Send(context.Background(), f.tenant, SendRequest{
		GroupID: f.group, FromAgentID: f.peer.ID, MessageType: store.MsgUpdate,
	})
	assert.True(t, failure.IsKind(err, failure.RelationshipDisallowed))
}

func TestSendValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.relate(t, f.manager.ID, f.worker.ID, store.RelSupervises, store.StyleSync)
	f.relate(t, f.worker.ID, f.manager.ID, store.RelReportsTo, store.StyleAsync)
	f.relate(t, f.worker.ID, f.peer.ID, store.RelCollaboratesWith, store.StyleAsync)
	f.relate(t, f.peer.ID, f.worker.ID, store.RelConsults, store.StyleBroadcast)
	soon := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	cases := []struct {
		name string
		req  SendRequest
		kind failure.Kind
	}{
		{"sync ok", SendRequest{FromAgentID: f.manager.ID, ToAgentID: &f.worker.ID, MessageType: store.MsgRequest, RequiresResponse: true, ResponseDeadline: &soon}, ""},
		{"sync without deadline", SendRequest{FromAgentID: f.manager.ID, ToAgentID: &f.worker.ID, MessageType: store.MsgRequest, RequiresResponse: true}, failure.Validation},
		{"sync without response", SendRequest{FromAgentID: f.manager.ID, ToAgentID: &f.worker.ID, MessageType: store.MsgUpdate}, failure.Validation},
		{"deadline in past", SendRequest{FromAgentID: f.manager.ID, ToAgentID: &f.worker.ID, MessageType: store.MsgRequest, RequiresResponse: true, ResponseDeadline: &past}, failure.Validation},
		{"escalate upward", SendRequest{FromAgentID: f.worker.ID, ToAgentID: &f.manager.ID, MessageType: store.MsgEscalation}, ""},
		{"escalate sideways", SendRequest{FromAgentID: f.worker.ID, ToAgentID: &f.peer.ID, MessageType: store.MsgEscalation}, failure.RelationshipDisallowed},
		{"no edge", SendRequest{FromAgentID: f.manager.ID, ToAgentID: &f.peer.ID, MessageType: store.MsgQuestion}, failure.RelationshipDisallowed},
		{"broadcast style edge", SendRequest{FromAgentID: f.peer.ID, ToAgentID: &f.worker.ID, MessageType: store.MsgUpdate}, failure.Validation},
		{"non member recipient", SendRequest{FromAgentID: f.worker.ID, ToAgentID: &f.outside.ID, MessageType: store.MsgUpdate}, failure.RelationshipDisallowed},
		{"non member sender", SendRequest{FromAgentID: f.outside.ID, ToAgentID: &f.worker.ID, MessageType: store.MsgUpdate}, failure.RelationshipDisallowed},
		{"self", SendRequest{FromAgentID: f.worker.ID, ToAgentID: &f.worker.ID, MessageType: store.MsgUpdate}, failure.Validation},
		{"bad type", SendRequest{FromAgentID: f.worker.ID, ToAgentID: &f.peer.ID, MessageType: "gossip"}, failure.Validation},
		{"broadcast requiring response", SendRequest{FromAgentID: f.worker.ID, MessageType: store.MsgQuestion, RequiresResponse: true}, failure.Validation},
		{"broadcast escalation", SendRequest{FromAgentID: f.worker.ID, MessageType: store.MsgEscalation}, failure.Validation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.GroupID = f.group
			_, err := f.svc.Send(ctx, f.tenant, tc.req)
			if tc.kind == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tc.kind, failure.KindOf(err), "got %v", err)
		})
	}
}

func TestResponsePairing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.relate(t, f.manager.ID, f.worker.ID, store.RelDelegatesTo, store.StyleAsync)

	task, err := f.st.CreateTask(ctx, store.AgentTask{
		TenantID: f.tenant, AssignedAgentID: f.manager.ID, Objective: "x",
		Priority: store.PriorityNormal, Status: store.TaskRunning,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(time.Hour)
	req, err := f.svc.Send(ctx, f.tenant, SendRequest{
		GroupID: f.group, TaskID: &task.ID, FromAgentID: f.manager.ID, ToAgentID: &f.worker.ID,
		MessageType: store.MsgRequest, RequiresResponse: true, ResponseDeadline: &deadline,
		Content: map[string]any{"ask": "numbers?"},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{task.ID}, f.tasks.awaited)

	_, err = f.svc.Send(ctx, f.tenant, SendRequest{
		GroupID: f.group, FromAgentID: f.peer.ID, MessageType: store.MsgResponse,
		Content: map[string]any{"in_reply_to": req.ID.String()},
	})
	assert.True(t, failure.IsKind(err, failure.RelationshipDisallowed), "only the addressee answers")

	_, err = f.svc.Send(ctx, f.tenant, SendRequest{
		GroupID: f.group, FromAgentID: f.worker.ID, MessageType: store.MsgResponse,
		Content: map[string]any{"text": "42"},
	})
	assert.True(t, failure.IsKind(err, failure.Validation), "missing in_reply_to")

	// The worker has no edge back to the manager; responses still go through.
	_, err = f.st.UpdateTask(ctx, func() store.AgentTask { t := task; t.Status = store.TaskAwaitingResponse; return t }(), task.Status, task.Version)
	require.NoError(t, err)
	resp, err := f.svc.Send(ctx, f.tenant, SendRequest{
		GroupID: f.group, FromAgentID: f.worker.ID, MessageType: store.MsgResponse,
		Content: map[string]any{"in_reply_to": req.ID.String(), "text": "42"},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.ToAgentID)
	assert.Equal(t, f.manager.ID, *resp.ToAgentID)
	assert.Equal(t, &req.ID, resp.InReplyTo)
	assert.Equal(t, &task.ID, resp.TaskID)
	assert.Equal(t, []uuid.UUID{task.ID}, f.tasks.resumed)

	has, err := f.st.HasResponse(ctx, f.tenant, req.ID)
	require.NoError(t, err)
	assert.True(t, has)
	replies, err := f.svc.Responses(ctx, f.tenant, req.ID)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, resp.ID, replies[0].ID)
}

func TestUnreadAndMarkRead(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.relate(t, f.manager.ID, f.worker.ID, store.RelSupervises, store.StyleAsync)

	direct, err := f.svc.Send(ctx, f.tenant, SendRequest{
		GroupID: f.group, FromAgentID: f.manager.ID, ToAgentID: &f.worker.ID, MessageType: store.MsgHandoff,
	})
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, f.tenant, SendRequest{GroupID: f.group, FromAgentID: f.manager.ID, MessageType: store.MsgUpdate})
	require.NoError(t, err)

	unread, err := f.svc.List(ctx, f.tenant, ListQuery{AgentID: &f.worker.ID, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 2)
	assert.Equal(t, direct.ID, unread[0].ID, "delivery order is send order")

	assert.True(t, failure.IsKind(f.svc.MarkRead(ctx, f.tenant, direct.ID, f.peer.ID), failure.NotFound))
	require.NoError(t, f.svc.MarkRead(ctx, f.tenant, direct.ID, f.worker.ID))

	unread, err = f.svc.List(ctx, f.tenant, ListQuery{AgentID: &f.worker.ID, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Nil(t, unread[0].ToAgentID)

	peerUnread, err := f.svc.List(ctx, f.tenant, ListQuery{AgentID: &f.peer.ID, UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, peerUnread, 1)
}

func TestMessagesAreTenantScoped(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.relate(t, f.manager.ID, f.worker.ID, store.RelSupervises, store.StyleAsync)
	m, err := f.svc.Send(ctx, f.tenant, SendRequest{GroupID: f.group, FromAgentID: f.manager.ID, MessageType: store.MsgUpdate})
	require.NoError(t, err)

	other, err := f.st.CreateTenant(ctx, store.Tenant{Name: "O", Slug: "o"})
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, other.ID, m.ID)
	assert.True(t, failure.IsKind(err, failure.NotFound))
	rows, err := f.svc.List(ctx, other.ID, ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	_, err = f.svc.Send(ctx, other.ID, SendRequest{GroupID: f.group, FromAgentID: f.manager.ID, MessageType: store.MsgUpdate})
	assert.True(t, failure.IsKind(err, failure.NotFound))
}
