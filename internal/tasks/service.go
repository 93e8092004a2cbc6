// Package tasks is the agent task orchestrator. It owns the task state
// machine, delegation, and the trace entries each transition emits.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/groups"
	"github.com/agentprovision/agentprovision/internal/routing"
	"github.com/agentprovision/agentprovision/internal/traces"
)

// Graphs resolves a group's relationship graph.
type Graphs interface {
	Graph(ctx context.Context, tenantID, groupID uuid.UUID) (*groups.Graph, error)
}

// ModelRouter picks the provider and model a new task runs on.
type ModelRouter interface {
	Resolve(ctx context.Context, tenantID uuid.UUID, req routing.ResolveRequest) (routing.Resolved, error)
}

type Orchestrator struct {
	store          store.Store
	graphs         Graphs
	models         ModelRouter
	traces         *traces.Recorder
	inflight       *dispatches
	approvalWindow time.Duration
	maxOutputBytes int
	now            func() time.Time
	logger         *slog.Logger
}

// NewOrchestrator builds the orchestrator. A nil models router dispatches
// tasks without a model binding.
func NewOrchestrator(log *slog.Logger, st store.Store, graphs Graphs, models ModelRouter, rec *traces.Recorder, cfg config.Config) *Orchestrator {
	return &Orchestrator{
		store:          st,
		graphs:         graphs,
		models:         models,
		traces:         rec,
		inflight:       newDispatches(),
		approvalWindow: cfg.Orchestrator.ApprovalWindowDuration(),
		maxOutputBytes: cfg.Orchestrator.MaxOutputBytes,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         log.With(slog.String("service", "tasks")),
	}
}

// Create persists a pending task and records its dispatched step.
func (o *Orchestrator) Create(ctx context.Context, tenantID uuid.UUID, req CreateRequest) (store.AgentTask, error) {
	t, route, err := o.plan(ctx, tenantID, req)
	if err != nil {
		return store.AgentTask{}, err
	}
	var out store.AgentTask
	err = o.store.InTx(ctx, func(tx store.Store) error {
		var err error
		out, err = o.insert(ctx, tx, t, route)
		return err
	})
	if err != nil {
		return store.AgentTask{}, wrap(err, "create task")
	}
	o.logCreated(out)
	return out, nil
}

// plan validates req and builds the task row and the model route it will be
// dispatched with. Nothing is written.
func (o *Orchestrator) plan(ctx context.Context, tenantID uuid.UUID, req CreateRequest) (store.AgentTask, map[string]any, error) {
	objective := strings.TrimSpace(req.Objective)
	if objective == "" {
		return store.AgentTask{}, nil, failure.New(failure.Validation, "objective is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = store.PriorityNormal
	}
	if !priority.Valid() {
		return store.AgentTask{}, nil, failure.New(failure.Validation, "invalid priority: %s", priority)
	}
	assignee, err := o.store.GetAgent(ctx, tenantID, req.AssignedAgentID)
	if err != nil {
		return store.AgentTask{}, nil, notFound(err, "assigned agent")
	}

	t := store.AgentTask{
		TenantID:         tenantID,
		GroupID:          req.GroupID,
		AssignedAgentID:  assignee.ID,
		CreatedByAgentID: req.CreatedByAgentID,
		CreatedByUserID:  req.CreatedByUserID,
		Objective:        objective,
		TaskType:         strings.TrimSpace(req.TaskType),
		Priority:         priority,
		Context:          req.Context,
		RequiresApproval: req.RequiresApproval || assignee.AutonomyLevel == store.AutonomyApprovalRequired,
		Status:           store.TaskPending,
	}

	if req.ParentTaskID != nil {
		parent, err := o.store.GetTask(ctx, tenantID, *req.ParentTaskID)
		if err != nil {
			return store.AgentTask{}, nil, notFound(err, "parent task")
		}
		if parent.Status.Terminal() {
			return store.AgentTask{}, nil, failure.New(failure.Conflict, "parent task is %s", parent.Status)
		}
		if err := o.checkDepth(ctx, parent); err != nil {
			return store.AgentTask{}, nil, err
		}
		t.ParentTaskID = &parent.ID
		t.RootTaskID = parent.RootTaskID
		t.Depth = parent.Depth + 1
		if t.GroupID == nil {
			t.GroupID = parent.GroupID
		}
	}

	if t.GroupID != nil {
		graph, err := o.graphs.Graph(ctx, tenantID, *t.GroupID)
		if err != nil {
			return store.AgentTask{}, nil, err
		}
		if !graph.IsMember(assignee.ID) {
			return store.AgentTask{}, nil, failure.New(failure.Validation, "assigned agent is not a member of the group")
		}
	}

	if t.RequiresApproval {
		deadline := o.now().Add(o.approvalWindow)
		t.ApprovalDeadline = &deadline
	}

	route, err := o.route(ctx, tenantID, assignee.ID, t.TaskType)
	if err != nil {
		return store.AgentTask{}, nil, err
	}
	return t, route, nil
}

// insert writes t and its dispatched step through tx.
func (o *Orchestrator) insert(ctx context.Context, tx store.Store, t store.AgentTask, route map[string]any) (store.AgentTask, error) {
	out, err := tx.CreateTask(ctx, t)
	if err != nil {
		return store.AgentTask{}, err
	}
	details := map[string]any{"objective": out.Objective, "priority": string(out.Priority)}
	if out.ParentTaskID != nil {
		details["parent_task_id"] = out.ParentTaskID.String()
		details["depth"] = out.Depth
	}
	for k, v := range route {
		details[k] = v
	}
	_, err = o.traces.In(tx).Append(ctx, out.TenantID, out.ID, traces.Step{
		Type:    store.StepDispatched,
		AgentID: &out.AssignedAgentID,
		Details: details,
	})
	return out, err
}

func (o *Orchestrator) logCreated(t store.AgentTask) {
	o.logger.Info("task created",
		slog.String("tenant_id", t.TenantID.String()),
		slog.String("task_id", t.ID.String()),
		slog.Bool("requires_approval", t.RequiresApproval),
	)
}

// route asks the model router which provider and model the assignee uses
// for taskType and returns the trace details describing that choice. An
// exhausted budget rejects the task. A tenant with nothing to route to
// still gets its task; the agent picks a model when it runs.
func (o *Orchestrator) route(ctx context.Context, tenantID, agentID uuid.UUID, taskType string) (map[string]any, error) {
	if o.models == nil {
		return nil, nil
	}
	resolved, err := o.models.Resolve(ctx, tenantID, routing.ResolveRequest{AgentID: &agentID, TaskType: taskType})
	if err != nil {
		switch failure.KindOf(err) {
		case failure.BudgetExceeded, failure.Internal:
			return nil, wrap(err, "route task")
		}
		o.logger.Debug("task dispatched without a model route",
			slog.String("tenant_id", tenantID.String()),
			slog.String("agent_id", agentID.String()),
			slog.Any("error", err))
		return nil, nil
	}
	out := map[string]any{
		"provider":      resolved.Provider.Name,
		"model":         resolved.Model.ModelID,
		"route_source":  string(resolved.Source),
		"used_fallback": resolved.UsedFallback,
	}
	if resolved.MatchedRule != nil {
		out["matched_rule"] = *resolved.MatchedRule
	}
	return out, nil
}

// checkDepth rejects a child of parent whose depth would exceed the root
// agent's max_delegation_depth.
func (o *Orchestrator) checkDepth(ctx context.Context, parent store.AgentTask) error {
	root := parent
	if parent.RootTaskID != parent.ID {
		var err error
		root, err = o.store.GetTask(ctx, parent.TenantID, parent.RootTaskID)
		if err != nil {
			return notFound(err, "root task")
		}
	}
	rootAgent, err := o.store.GetAgent(ctx, parent.TenantID, root.AssignedAgentID)
	if err != nil {
		return notFound(err, "root agent")
	}
	depth := parent.Depth + 1
	if depth > rootAgent.MaxDelegationDepth {
		return failure.New(failure.DepthExceeded, "delegation depth %d exceeds limit %d", depth, rootAgent.MaxDelegationDepth).
			WithDetails(map[string]any{"depth": depth, "max_delegation_depth": rootAgent.MaxDelegationDepth})
	}
	return nil
}

func (o *Orchestrator) Get(ctx context.Context, tenantID, id uuid.UUID) (store.AgentTask, error) {
	t, err := o.store.GetTask(ctx, tenantID, id)
	if err != nil {
		return store.AgentTask{}, notFound(err, "task")
	}
	return t, nil
}

func (o *Orchestrator) List(ctx context.Context, tenantID uuid.UUID, q ListQuery) ([]store.AgentTask, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, failure.New(failure.Validation, "invalid status: %s", q.Status)
	}
	rows, err := o.store.ListTasks(ctx, tenantID, store.TaskFilter{
		Status:          q.Status,
		AssignedAgentID: q.AssignedAgentID,
		GroupID:         q.GroupID,
		ParentTaskID:    q.ParentTaskID,
		Limit:           q.Limit,
	})
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list tasks")
	}
	return rows, nil
}

// Subtasks lists the direct children ordered by completed_at then id.
func (o *Orchestrator) Subtasks(ctx context.Context, tenantID, id uuid.UUID) ([]store.AgentTask, error) {
	if _, err := o.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	rows, err := o.store.ListChildTasks(ctx, tenantID, id)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list subtasks")
	}
	return rows, nil
}

func (o *Orchestrator) Trace(ctx context.Context, tenantID, id uuid.UUID) ([]store.ExecutionTrace, error) {
	return o.traces.List(ctx, tenantID, id)
}

// Approve moves an approval-gated pending task to approved.
func (o *Orchestrator) Approve(ctx context.Context, tenantID, id uuid.UUID, by *uuid.UUID) (store.AgentTask, error) {
	return o.transition(ctx, tenantID, id, func(t *store.AgentTask) (*traces.Step, error) {
		if t.Status != store.TaskPending {
			return nil, failure.New(failure.Conflict, "cannot approve a %s task", t.Status)
		}
		if !t.RequiresApproval {
			return nil, failure.New(failure.Conflict, "task does not require approval")
		}
		now := o.now()
		t.Status = store.TaskApproved
		t.ApprovedBy = by
		t.ApprovedAt = &now
		details := map[string]any{}
		if by != nil {
			details["approved_by"] = by.String()
		}
		return &traces.Step{Type: store.StepApprovalGranted, Details: details}, nil
	})
}

// Start moves a pending or approved task to running.
func (o *Orchestrator) Start(ctx context.Context, tenantID, id uuid.UUID) (store.AgentTask, error) {
	return o.transition(ctx, tenantID, id, func(t *store.AgentTask) (*traces.Step, error) {
		switch t.Status {
		case store.TaskPending:
			if t.RequiresApproval {
				return nil, failure.New(failure.ApprovalRequired, "task requires approval before it can start")
			}
		case store.TaskApproved:
		case store.TaskRunning, store.TaskAwaitingResponse,
			store.TaskCompleted, store.TaskFailed, store.TaskCancelled:
			return nil, failure.New(failure.Conflict, "cannot start a %s task", t.Status)
		}
		now := o.now()
		t.Status = store.TaskRunning
		t.StartedAt = &now
		return &traces.Step{Type: store.StepExecuting, AgentID: &t.AssignedAgentID}, nil
	})
}

// Await parks a running task until a response arrives.
func (o *Orchestrator) Await(ctx context.Context, tenantID, id uuid.UUID) (store.AgentTask, error) {
	return o.transition(ctx, tenantID, id, func(t *store.AgentTask) (*traces.Step, error) {
		if t.Status != store.TaskRunning {
			return nil, failure.New(failure.Conflict, "cannot await on a %s task", t.Status)
		}
		t.Status = store.TaskAwaitingResponse
		return nil, nil
	})
}

// Resume returns an awaiting task to running.
func (o *Orchestrator) Resume(ctx context.Context, tenantID, id uuid.UUID) (store.AgentTask, error) {
	return o.transition(ctx, tenantID, id, func(t *store.AgentTask) (*traces.Step, error) {
		if t.Status != store.TaskAwaitingResponse {
			return nil, failure.New(failure.Conflict, "cannot resume a %s task", t.Status)
		}
		t.Status = store.TaskRunning
		return nil, nil
	})
}

// Delegate creates a subtask for a peer the assignee supervises or delegates to.
func (o *Orchestrator) Delegate(ctx context.Context, tenantID, parentID uuid.UUID, req DelegateRequest) (store.AgentTask, error) {
	parent, err := o.Get(ctx, tenantID, parentID)
	if err != nil {
		return store.AgentTask{}, err
	}
	if parent.Status != store.TaskRunning {
		return store.AgentTask{}, failure.New(failure.Conflict, "only running tasks can delegate, task is %s", parent.Status)
	}
	if parent.GroupID == nil {
		return store.AgentTask{}, failure.New(failure.RelationshipDisallowed, "task has no group to delegate within")
	}
	graph, err := o.graphs.Graph(ctx, tenantID, *parent.GroupID)
	if err != nil {
		return store.AgentTask{}, err
	}
	if !graph.CanDelegate(parent.AssignedAgentID, req.AssignedAgentID) {
		return store.AgentTask{}, failure.New(failure.RelationshipDisallowed, "assignee has no supervises or delegates_to relationship to the target agent")
	}

	t, route, err := o.plan(ctx, tenantID, CreateRequest{
		AssignedAgentID:  req.AssignedAgentID,
		Objective:        req.Objective,
		TaskType:         req.TaskType,
		Priority:         req.Priority,
		Context:          req.Context,
		GroupID:          parent.GroupID,
		ParentTaskID:     &parent.ID,
		CreatedByAgentID: &parent.AssignedAgentID,
	})
	if err != nil {
		return store.AgentTask{}, err
	}
	// The child and the parent's delegated step land together or not at all.
	var child store.AgentTask
	err = o.store.InTx(ctx, func(tx store.Store) error {
		var err error
		child, err = o.insert(ctx, tx, t, route)
		if err != nil {
			return err
		}
		_, err = o.traces.In(tx).Append(ctx, tenantID, parent.ID, traces.Step{
			Type:    store.StepDelegated,
			AgentID: &parent.AssignedAgentID,
			Details: map[string]any{
				"subtask_id":  child.ID.String(),
				"to_agent_id": child.AssignedAgentID.String(),
			},
		})
		return err
	})
	if err != nil {
		return store.AgentTask{}, wrap(err, "delegate task")
	}
	o.logCreated(child)
	return child, nil
}

// ReportProgress accumulates tokens and cost on a non-terminal task.
func (o *Orchestrator) ReportProgress(ctx context.Context, tenantID, id uuid.UUID, req ProgressRequest) (store.AgentTask, error) {
	if req.TokensUsed < 0 || req.Cost < 0 {
		return store.AgentTask{}, failure.New(failure.Validation, "tokens_used and cost must not be negative")
	}
	var (
		t   store.AgentTask
		err error
	)
	// Accumulation commutes, so a lost optimistic race is retried.
	for range 3 {
		t, err = o.transition(ctx, tenantID, id, func(t *store.AgentTask) (*traces.Step, error) {
			if req.Reasoning != "" {
				t.Reasoning = req.Reasoning
			}
			t.TokensUsed += req.TokensUsed
			t.Cost += req.Cost
			return nil, nil
		})
		if !errors.Is(err, errLostRace) {
			break
		}
	}
	return t, err
}

// Complete moves a running task to completed. Children must be terminal
// unless CancelChildren is set.
func (o *Orchestrator) Complete(ctx context.Context, tenantID, id uuid.UUID, req CompleteRequest) (store.AgentTask, error) {
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		return store.AgentTask{}, failure.New(failure.Validation, "confidence must be within [0, 1]")
	}
	if err := o.checkOutput(req.Output); err != nil {
		return store.AgentTask{}, err
	}
	children, err := o.store.ListChildTasks(ctx, tenantID, id)
	if err != nil {
		return store.AgentTask{}, failure.Wrap(failure.Internal, err, "list subtasks")
	}
	var open []uuid.UUID
	for _, c := range children {
		if !c.Status.Terminal() {
			open = append(open, c.ID)
		}
	}
	if len(open) > 0 {
		if !req.CancelChildren {
			return store.AgentTask{}, failure.New(failure.Conflict, "%d subtasks are still open", len(open))
		}
		for _, childID := range open {
			if _, err := o.Cancel(ctx, tenantID, childID); err != nil && !failure.IsKind(err, failure.Conflict) {
				return store.AgentTask{}, err
			}
		}
	}

	return o.transition(ctx, tenantID, id, func(t *store.AgentTask) (*traces.Step, error) {
		if t.Status != store.TaskRunning {
			return nil, failure.New(failure.Conflict, "cannot complete a %s task", t.Status)
		}
		now := o.now()
		t.Status = store.TaskCompleted
		t.Output = req.Output
		t.Confidence = req.Confidence
		t.CompletedAt = &now
		details := map[string]any{}
		if req.Confidence != nil {
			details["confidence"] = *req.Confidence
		}
		return &traces.Step{Type: store.StepCompleted, AgentID: &t.AssignedAgentID, Details: details}, nil
	})
}

// Fail moves any non-terminal task to failed and aborts its in-flight dispatches.
func (o *Orchestrator) Fail(ctx context.Context, tenantID, id uuid.UUID, req FailRequest) (store.AgentTask, error) {
	kind := req.Kind
	if kind == "" {
		kind = string(failure.Internal)
	}
	details := make(map[string]any, len(req.Details)+2)
	for k, v := range req.Details {
		details[k] = v
	}
	details["kind"] = kind
	if req.Message != "" {
		details["message"] = req.Message
	}
	t, err := o.transition(ctx, tenantID, id, func(t *store.AgentTask) (*traces.Step, error) {
		now := o.now()
		t.Status = store.TaskFailed
		t.Error = details
		t.CompletedAt = &now
		return &traces.Step{Type: store.StepFailed, AgentID: &t.AssignedAgentID, Details: details}, nil
	})
	if err == nil {
		o.abortDispatches(id)
	}
	return t, err
}

// Cancel moves any non-terminal task to cancelled and aborts its in-flight dispatches.
func (o *Orchestrator) Cancel(ctx context.Context, tenantID, id uuid.UUID) (store.AgentTask, error) {
	return o.cancel(ctx, tenantID, id, nil)
}

func (o *Orchestrator) cancel(ctx context.Context, tenantID, id uuid.UUID, details map[string]any) (store.AgentTask, error) {
	t, err := o.transition(ctx, tenantID, id, func(t *store.AgentTask) (*traces.Step, error) {
		now := o.now()
		t.Status = store.TaskCancelled
		t.CompletedAt = &now
		return &traces.Step{Type: store.StepCancelled, Details: details}, nil
	})
	if err == nil {
		o.abortDispatches(id)
	}
	return t, err
}

// Update applies a PATCH: non-status fields first, then the status transition.
func (o *Orchestrator) Update(ctx context.Context, tenantID, id uuid.UUID, req UpdateRequest) (store.AgentTask, error) {
	t, err := o.Get(ctx, tenantID, id)
	if err != nil {
		return store.AgentTask{}, err
	}
	if t.Status.Terminal() {
		return store.AgentTask{}, failure.New(failure.Conflict, "task is %s", t.Status)
	}
	if req.Reasoning != nil || req.TokensUsed != 0 || req.Cost != 0 {
		progress := ProgressRequest{TokensUsed: req.TokensUsed, Cost: req.Cost}
		if req.Reasoning != nil {
			progress.Reasoning = *req.Reasoning
		}
		if t, err = o.ReportProgress(ctx, tenantID, id, progress); err != nil {
			return store.AgentTask{}, err
		}
	}
	if req.Status == nil || *req.Status == t.Status {
		return t, nil
	}
	switch *req.Status {
	case store.TaskApproved:
		return o.Approve(ctx, tenantID, id, req.ApprovedByUserID)
	case store.TaskRunning:
		if t.Status == store.TaskAwaitingResponse {
			return o.Resume(ctx, tenantID, id)
		}
		return o.Start(ctx, tenantID, id)
	case store.TaskAwaitingResponse:
		return o.Await(ctx, tenantID, id)
	case store.TaskCompleted:
		return o.Complete(ctx, tenantID, id, CompleteRequest{
			Output:         req.Output,
			Confidence:     req.Confidence,
			CancelChildren: req.CancelChildren,
		})
	case store.TaskFailed:
		fr := FailRequest{Details: req.Error}
		if k, ok := req.Error["kind"].(string); ok {
			fr.Kind = k
		}
		if m, ok := req.Error["message"].(string); ok {
			fr.Message = m
		}
		return o.Fail(ctx, tenantID, id, fr)
	case store.TaskCancelled:
		return o.Cancel(ctx, tenantID, id)
	case store.TaskPending:
		return store.AgentTask{}, failure.New(failure.Conflict, "a task cannot return to pending")
	}
	return store.AgentTask{}, failure.New(failure.Validation, "invalid status: %s", *req.Status)
}

// Track derives a context for an outbound call made for the task; it is
// cancelled when the task fails or is cancelled. Call release when done.
func (o *Orchestrator) Track(ctx context.Context, taskID uuid.UUID) (context.Context, func()) {
	return o.inflight.track(ctx, taskID)
}

func (o *Orchestrator) abortDispatches(taskID uuid.UUID) {
	if n := o.inflight.abort(taskID); n > 0 {
		o.logger.Info("aborted in-flight dispatches", slog.String("task_id", taskID.String()), slog.Int("count", n))
	}
}

var errLostRace = errors.New("tasks: lost optimistic race")

// transition loads the task, lets mutate change it, and writes it back
// conditioned on the observed status and version. A returned step is
// appended to the trace in the same transaction.
func (o *Orchestrator) transition(ctx context.Context, tenantID, id uuid.UUID, mutate func(t *store.AgentTask) (*traces.Step, error)) (store.AgentTask, error) {
	var out store.AgentTask
	err := o.store.InTx(ctx, func(tx store.Store) error {
		t, err := tx.GetTask(ctx, tenantID, id)
		if err != nil {
			return notFound(err, "task")
		}
		if t.Status.Terminal() {
			return failure.New(failure.Conflict, "task is %s", t.Status)
		}
		expectStatus, expectVersion := t.Status, t.Version
		step, err := mutate(&t)
		if err != nil {
			return err
		}
		out, err = tx.UpdateTask(ctx, t, expectStatus, expectVersion)
		if errors.Is(err, store.ErrConflict) {
			return errLostRace
		}
		if err != nil {
			return err
		}
		if step == nil {
			return nil
		}
		_, err = o.traces.In(tx).Append(ctx, tenantID, id, *step)
		return err
	})
	if errors.Is(err, errLostRace) {
		return store.AgentTask{}, failure.Wrap(failure.Conflict, err, "task was modified concurrently")
	}
	if err != nil {
		return store.AgentTask{}, wrap(err, "update task")
	}
	return out, nil
}

func (o *Orchestrator) checkOutput(output map[string]any) error {
	if output == nil || o.maxOutputBytes <= 0 {
		return nil
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return failure.Wrap(failure.Validation, err, "output is not valid JSON")
	}
	if len(raw) > o.maxOutputBytes {
		return failure.New(failure.Validation, "output is %d bytes, limit is %d", len(raw), o.maxOutputBytes)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return failure.New(failure.NotFound, "%s not found", what)
	}
	return wrap(err, "load "+what)
}

func wrap(err error, msg string) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, store.ErrNotFound) {
		return failure.New(failure.NotFound, "%s: not found", msg)
	}
	return failure.Wrap(failure.Internal, err, "%s", msg)
}
