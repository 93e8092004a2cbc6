package tasks

import (
	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

type CreateRequest struct {
	AssignedAgentID  uuid.UUID          `json:"assigned_agent_id" validate:"required"`
	Objective        string             `json:"objective" validate:"required"`
	TaskType         string             `json:"task_type,omitempty"`
	Priority         store.TaskPriority `json:"priority,omitempty"`
	Context          map[string]any     `json:"context,omitempty"`
	GroupID          *uuid.UUID         `json:"group_id,omitempty"`
	ParentTaskID     *uuid.UUID         `json:"parent_task_id,omitempty"`
	CreatedByAgentID *uuid.UUID         `json:"created_by_agent_id,omitempty"`
	// RequiresApproval is forced on for agents with approval_required autonomy.
	RequiresApproval bool `json:"requires_approval,omitempty"`

	CreatedByUserID *uuid.UUID `json:"-"`
}

// UpdateRequest is the PATCH body. A Status drives the matching transition;
// the other fields are applied alongside it.
type UpdateRequest struct {
	Status           *store.TaskStatus `json:"status,omitempty"`
	Reasoning        *string           `json:"reasoning,omitempty"`
	Output           map[string]any    `json:"output,omitempty"`
	Confidence       *float64          `json:"confidence,omitempty"`
	Error            map[string]any    `json:"error,omitempty"`
	TokensUsed       int64             `json:"tokens_used,omitempty"`
	Cost             float64           `json:"cost,omitempty"`
	CancelChildren   bool              `json:"cancel_children,omitempty"`
	ApprovedByUserID *uuid.UUID        `json:"-"`
}

type DelegateRequest struct {
	AssignedAgentID uuid.UUID          `json:"assigned_agent_id" validate:"required"`
	Objective       string             `json:"objective" validate:"required"`
	TaskType        string             `json:"task_type,omitempty"`
	Priority        store.TaskPriority `json:"priority,omitempty"`
	Context         map[string]any     `json:"context,omitempty"`
}

// ProgressRequest adds TokensUsed and Cost to the task's running totals.
type ProgressRequest struct {
	Reasoning  string  `json:"reasoning,omitempty"`
	TokensUsed int64   `json:"tokens_used,omitempty"`
	Cost       float64 `json:"cost,omitempty"`
}

type CompleteRequest struct {
	Output     map[string]any `json:"output,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	// CancelChildren cancels every non-terminal subtask before completing.
	CancelChildren bool `json:"cancel_children,omitempty"`
}

type FailRequest struct {
	Kind    string         `json:"kind,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type ListQuery struct {
	Status          store.TaskStatus
	AssignedAgentID *uuid.UUID
	GroupID         *uuid.UUID
	ParentTaskID    *uuid.UUID
	Limit           int
}

type ListResponse struct {
	Items []store.AgentTask `json:"items"`
}
