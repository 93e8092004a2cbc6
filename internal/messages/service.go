// Package messages is the agent group messenger. Sends are checked against
// the group's relationship graph; delivery is pull based.
package messages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/groups"
)

// Graphs resolves a group's relationship graph.
type Graphs interface {
	Graph(ctx context.Context, tenantID, groupID uuid.UUID) (*groups.Graph, error)
}

// TaskStates parks a task while it waits on a reply and resumes it after.
type TaskStates interface {
	Await(ctx context.Context, tenantID, id uuid.UUID) (store.AgentTask, error)
	Resume(ctx context.Context, tenantID, id uuid.UUID) (store.AgentTask, error)
}

type Service struct {
	store  store.Store
	graphs Graphs
	tasks  TaskStates
	now    func() time.Time
	logger *slog.Logger
}

func NewService(log *slog.Logger, st store.Store, graphs Graphs, tasks TaskStates) *Service {
	return &Service{
		store:  st,
		graphs: graphs,
		tasks:  tasks,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.With(slog.String("service", "messages")),
	}
}

// Send validates m against the group graph and stores it.
func (s *Service) Send(ctx context.Context, tenantID uuid.UUID, req SendRequest) (store.AgentMessage, error) {
	if !req.MessageType.Valid() {
		return store.AgentMessage{}, failure.New(failure.Validation, "invalid message_type: %s", req.MessageType)
	}
	if req.ResponseDeadline != nil && !req.ResponseDeadline.After(s.now()) {
		return store.AgentMessage{}, failure.New(failure.Validation, "response_deadline must be in the future")
	}
	if _, err := s.store.GetAgent(ctx, tenantID, req.FromAgentID); err != nil {
		return store.AgentMessage{}, notFound(err, "sending agent")
	}
	graph, err := s.graphs.Graph(ctx, tenantID, req.GroupID)
	if err != nil {
		return store.AgentMessage{}, err
	}
	if !graph.IsMember(req.FromAgentID) {
		return store.AgentMessage{}, failure.New(failure.RelationshipDisallowed, "sender is not a member of the group")
	}

	m := store.AgentMessage{
		TenantID:         tenantID,
		GroupID:          &req.GroupID,
		TaskID:           req.TaskID,
		FromAgentID:      req.FromAgentID,
		ToAgentID:        req.ToAgentID,
		MessageType:      req.MessageType,
		Content:          req.Content,
		Reasoning:        req.Reasoning,
		RequiresResponse: req.RequiresResponse,
		ResponseDeadline: req.ResponseDeadline,
	}
	if m.Content == nil {
		m.Content = map[string]any{}
	}

	var request *store.AgentMessage
	switch {
	case m.MessageType == store.MsgResponse:
		request, err = s.pairResponse(ctx, graph, &m)
	case m.ToAgentID == nil:
		err = checkBroadcast(graph, m)
	default:
		err = checkDirect(graph, m)
	}
	if err != nil {
		return store.AgentMessage{}, err
	}

	var task *store.AgentTask
	if m.TaskID != nil {
		t, err := s.store.GetTask(ctx, tenantID, *m.TaskID)
		if err != nil {
			return store.AgentMessage{}, notFound(err, "task")
		}
		task = &t
	}

	out, err := s.store.CreateMessage(ctx, m)
	if err != nil {
		return store.AgentMessage{}, failure.Wrap(failure.Internal, err, "store message")
	}
	s.logger.Debug("message sent",
		slog.String("message_id", out.ID.String()),
		slog.String("message_type", string(out.MessageType)),
		slog.Bool("broadcast", out.ToAgentID == nil),
	)

	if task != nil {
		s.syncTask(ctx, *task, out, request)
	}
	return out, nil
}

// syncTask moves the task into or out of awaiting_response. A losing race
// with another transition is not an error for the send.
func (s *Service) syncTask(ctx context.Context, task store.AgentTask, m store.AgentMessage, request *store.AgentMessage) {
	var err error
	switch {
	case m.RequiresResponse && task.Status == store.TaskRunning:
		_, err = s.tasks.Await(ctx, task.TenantID, task.ID)
	case request != nil && task.Status == store.TaskAwaitingResponse:
		_, err = s.tasks.Resume(ctx, task.TenantID, task.ID)
	}
	if err != nil && !failure.IsKind(err, failure.Conflict) {
		s.logger.Warn("task state sync failed", slog.String("task_id", task.ID.String()), slog.Any("error", err))
	}
}

// pairResponse resolves content.in_reply_to and addresses the response to
// the requester. Responses do not need an edge of their own.
func (s *Service) pairResponse(ctx context.Context, graph *groups.Graph, m *store.AgentMessage) (*store.AgentMessage, error) {
	raw, ok := m.Content["in_reply_to"]
	if !ok {
		return nil, failure.New(failure.Validation, "response content must carry in_reply_to")
	}
	requestID, err := uuid.Parse(fmt.Sprint(raw))
	if err != nil {
		return nil, failure.New(failure.Validation, "in_reply_to is not a message id")
	}
	req, err := s.store.GetMessage(ctx, m.TenantID, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, failure.New(failure.Validation, "in_reply_to references an unknown message")
		}
		return nil, failure.Wrap(failure.Internal, err, "load request")
	}
	if req.GroupID == nil || *req.GroupID != graph.GroupID {
		return nil, failure.New(failure.Validation, "request belongs to another group")
	}
	if req.ToAgentID != nil && *req.ToAgentID != m.FromAgentID {
		return nil, failure.New(failure.RelationshipDisallowed, "only the addressed agent may respond")
	}
	if req.ToAgentID == nil && !graph.IsMember(m.FromAgentID) {
		return nil, failure.New(failure.RelationshipDisallowed, "only group members may respond to a broadcast")
	}
	if m.ToAgentID == nil {
		m.ToAgentID = &req.FromAgentID
	} else if *m.ToAgentID != req.FromAgentID {
		return nil, failure.New(failure.Validation, "a response must be addressed to the requester")
	}
	if !graph.IsMember(*m.ToAgentID) {
		return nil, failure.New(failure.RelationshipDisallowed, "requester is no longer a member of the group")
	}
	if m.TaskID == nil {
		m.TaskID = req.TaskID
	}
	m.InReplyTo = &req.ID
	return &req, nil
}

func checkBroadcast(graph *groups.Graph, m store.AgentMessage) error {
	switch m.MessageType {
	case store.MsgEscalation, store.MsgHandoff:
		return failure.New(failure.Validation, "%s messages need a recipient", m.MessageType)
	case store.MsgRequest, store.MsgResponse, store.MsgUpdate, store.MsgQuestion, store.MsgApprovalRequest:
	}
	if m.RequiresResponse {
		return failure.New(failure.Validation, "broadcasts cannot require a response")
	}
	if !graph.HasOutgoing(m.FromAgentID) {
		return failure.New(failure.RelationshipDisallowed, "sender has no relationship to any peer in the group")
	}
	return nil
}

// checkDirect passes when at least one edge from sender to recipient allows
// the message. Otherwise the first rejection is reported.
func checkDirect(graph *groups.Graph, m store.AgentMessage) error {
	to := *m.ToAgentID
	if to == m.FromAgentID {
		return failure.New(failure.Validation, "an agent cannot message itself")
	}
	if !graph.IsMember(to) {
		return failure.New(failure.RelationshipDisallowed, "recipient is not a member of the group")
	}
	edges := graph.Edges(m.FromAgentID, to)
	if len(edges) == 0 {
		return failure.New(failure.RelationshipDisallowed, "no relationship from sender to recipient")
	}
	var first error
	for _, e := range edges {
		err := edgeAllows(e, m)
		if err == nil {
			return nil
		}
		if first == nil {
			first = err
		}
	}
	return first
}

func edgeAllows(e store.AgentRelationship, m store.AgentMessage) error {
	switch e.CommunicationStyle {
	case store.StyleBroadcast:
		return failure.New(failure.Validation, "relationship only carries broadcasts")
	case store.StyleSync:
		if !m.RequiresResponse || m.ResponseDeadline == nil {
			return failure.New(failure.Validation, "sync relationships require requires_response with a response_deadline")
		}
	case store.StyleAsync:
	}
	if m.MessageType == store.MsgEscalation {
		switch e.RelationshipType {
		case store.RelSupervises, store.RelReportsTo:
		case store.RelDelegatesTo, store.RelCollaboratesWith, store.RelConsults:
			return failure.New(failure.RelationshipDisallowed, "escalations must follow a supervises or reports_to relationship")
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (store.AgentMessage, error) {
	m, err := s.store.GetMessage(ctx, tenantID, id)
	if err != nil {
		return store.AgentMessage{}, notFound(err, "message")
	}
	return m, nil
}

// List returns messages in delivery order. With an AgentID it returns only
// what that agent may read: direct messages to it and broadcasts in groups
// it belongs to.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, q ListQuery) ([]store.AgentMessage, error) {
	rows, err := s.store.ListMessages(ctx, tenantID, store.MessageFilter{
		GroupID:    q.GroupID,
		TaskID:     q.TaskID,
		Recipient:  q.AgentID,
		UnreadOnly: q.UnreadOnly && q.AgentID != nil,
		Limit:      q.Limit,
	})
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list messages")
	}
	if q.AgentID == nil {
		return rows, nil
	}
	member := map[uuid.UUID]bool{}
	out := rows[:0]
	for _, m := range rows {
		if m.ToAgentID != nil {
			out = append(out, m)
			continue
		}
		if m.GroupID == nil {
			continue
		}
		ok, seen := member[*m.GroupID]
		if !seen {
			graph, err := s.graphs.Graph(ctx, tenantID, *m.GroupID)
			if err != nil && !failure.IsKind(err, failure.NotFound) {
				return nil, err
			}
			ok = err == nil && graph.IsMember(*q.AgentID)
			member[*m.GroupID] = ok
		}
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Responses lists the replies paired with a request.
func (s *Service) Responses(ctx context.Context, tenantID, requestID uuid.UUID) ([]store.AgentMessage, error) {
	req, err := s.Get(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListMessages(ctx, tenantID, store.MessageFilter{GroupID: req.GroupID, TaskID: req.TaskID})
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list messages")
	}
	out := make([]store.AgentMessage, 0, 1)
	for _, m := range rows {
		if m.MessageType == store.MsgResponse && m.InReplyTo != nil && *m.InReplyTo == requestID {
			out = append(out, m)
		}
	}
	return out, nil
}

// MarkRead records that agentID has read the message.
func (s *Service) MarkRead(ctx context.Context, tenantID, messageID, agentID uuid.UUID) error {
	m, err := s.Get(ctx, tenantID, messageID)
	if err != nil {
		return err
	}
	if m.ToAgentID != nil {
		if *m.ToAgentID != agentID {
			return failure.New(failure.NotFound, "message not found")
		}
	} else {
		if m.GroupID == nil {
			return failure.New(failure.NotFound, "message not found")
		}
		graph, err := s.graphs.Graph(ctx, tenantID, *m.GroupID)
		if err != nil {
			return err
		}
		if !graph.IsMember(agentID) {
			return failure.New(failure.NotFound, "message not found")
		}
	}
	if err := s.store.MarkMessageRead(ctx, tenantID, messageID, agentID); err != nil {
		return notFound(err, "message")
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return failure.New(failure.NotFound, "%s not found", what)
	}
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe
	}
	return failure.Wrap(failure.Internal, err, "load %s", what)
}
