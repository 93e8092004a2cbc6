package agents

import (
	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

type CreateRequest struct {
	Name               string              `json:"name" validate:"required"`
	Description        string              `json:"description,omitempty"`
	Role               string              `json:"role,omitempty"`
	Capabilities       []string            `json:"capabilities,omitempty"`
	Personality        string              `json:"personality,omitempty"`
	AutonomyLevel      store.AutonomyLevel `json:"autonomy_level,omitempty"`
	MaxDelegationDepth *int                `json:"max_delegation_depth,omitempty"`
	LLMConfigID        *uuid.UUID          `json:"llm_config_id,omitempty"`
	Config             map[string]any      `json:"config,omitempty"`
}

// UpdateRequest applies only the fields that are set.
type UpdateRequest struct {
	Name               *string              `json:"name,omitempty"`
	Description        *string              `json:"description,omitempty"`
	Role               *string              `json:"role,omitempty"`
	Capabilities       []string             `json:"capabilities,omitempty"`
	Personality        *string              `json:"personality,omitempty"`
	AutonomyLevel      *store.AutonomyLevel `json:"autonomy_level,omitempty"`
	MaxDelegationDepth *int                 `json:"max_delegation_depth,omitempty"`
	LLMConfigID        *uuid.UUID           `json:"llm_config_id,omitempty"`
	ClearLLMConfig     bool                 `json:"clear_llm_config,omitempty"`
	Config             map[string]any       `json:"config,omitempty"`
}

type ListResponse struct {
	Items []store.Agent `json:"items"`
}

type CreateSkillRequest struct {
	AgentID     uuid.UUID        `json:"agent_id" validate:"required"`
	SkillName   string           `json:"skill_name" validate:"required"`
	Proficiency *float64         `json:"proficiency,omitempty"`
	LearnedFrom string           `json:"learned_from,omitempty"`
	Examples    []map[string]any `json:"examples,omitempty"`
}

type UpdateSkillRequest struct {
	Proficiency *float64         `json:"proficiency,omitempty"`
	LearnedFrom *string          `json:"learned_from,omitempty"`
	Examples    []map[string]any `json:"examples,omitempty"`
}

type ListSkillsResponse struct {
	Items []store.AgentSkill `json:"items"`
}
