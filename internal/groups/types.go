package groups

import (
	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

// Strategy, SharedContext and EscalationRules are stored as opaque JSON
// objects; the control plane does not interpret them.
type CreateRequest struct {
	Name            string         `json:"name" validate:"required"`
	Description     string         `json:"description,omitempty"`
	Goal            string         `json:"goal,omitempty"`
	Strategy        map[string]any `json:"strategy,omitempty"`
	SharedContext   map[string]any `json:"shared_context,omitempty"`
	EscalationRules map[string]any `json:"escalation_rules,omitempty"`
}

type UpdateRequest struct {
	Name            *string        `json:"name,omitempty"`
	Description     *string        `json:"description,omitempty"`
	Goal            *string        `json:"goal,omitempty"`
	Strategy        map[string]any `json:"strategy,omitempty"`
	SharedContext   map[string]any `json:"shared_context,omitempty"`
	EscalationRules map[string]any `json:"escalation_rules,omitempty"`
}

type ListResponse struct {
	Items []store.AgentGroup `json:"items"`
}

type AddMemberRequest struct {
	AgentID uuid.UUID `json:"agent_id" validate:"required"`
	Role    string    `json:"role,omitempty"`
}

type ListMembersResponse struct {
	Items []store.GroupMember `json:"items"`
}

type CreateRelationshipRequest struct {
	GroupID            uuid.UUID                `json:"group_id" validate:"required"`
	FromAgentID        uuid.UUID                `json:"from_agent_id" validate:"required"`
	ToAgentID          uuid.UUID                `json:"to_agent_id" validate:"required"`
	RelationshipType   store.RelationshipType   `json:"relationship_type" validate:"required"`
	TrustLevel         *float64                 `json:"trust_level,omitempty"`
	CommunicationStyle store.CommunicationStyle `json:"communication_style,omitempty"`
	HandoffRules       map[string]any           `json:"handoff_rules,omitempty"`
}

type UpdateRelationshipRequest struct {
	RelationshipType   *store.RelationshipType   `json:"relationship_type,omitempty"`
	TrustLevel         *float64                  `json:"trust_level,omitempty"`
	CommunicationStyle *store.CommunicationStyle `json:"communication_style,omitempty"`
	HandoffRules       map[string]any            `json:"handoff_rules,omitempty"`
}

type ListRelationshipsResponse struct {
	Items []store.AgentRelationship `json:"items"`
}
