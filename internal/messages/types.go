package messages

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

// SendRequest is the POST body. A nil ToAgentID broadcasts to the group.
// Responses name the request they answer in content.in_reply_to.
type SendRequest struct {
	GroupID          uuid.UUID         `json:"group_id" validate:"required"`
	TaskID           *uuid.UUID        `json:"task_id,omitempty"`
	FromAgentID      uuid.UUID         `json:"from_agent_id" validate:"required"`
	ToAgentID        *uuid.UUID        `json:"to_agent_id"`
	MessageType      store.MessageType `json:"message_type" validate:"required"`
	Content          map[string]any    `json:"content"`
	Reasoning        string            `json:"reasoning,omitempty"`
	RequiresResponse bool              `json:"requires_response,omitempty"`
	ResponseDeadline *time.Time        `json:"response_deadline,omitempty"`
}

type ListQuery struct {
	GroupID *uuid.UUID
	TaskID  *uuid.UUID
	// AgentID restricts the listing to what that agent can read.
	AgentID    *uuid.UUID
	UnreadOnly bool
	Limit      int
}

type ListResponse struct {
	Items []store.AgentMessage `json:"items"`
}

type MarkReadRequest struct {
	AgentID uuid.UUID `json:"agent_id" validate:"required"`
}
