package skills

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

// CreateConfigRequest enables a skill for the tenant. Unset fields take the
// catalog defaults for the skill.
type CreateConfigRequest struct {
	SkillName        string     `json:"skill_name" validate:"required"`
	Enabled          *bool      `json:"enabled,omitempty"`
	RequiresApproval *bool      `json:"requires_approval,omitempty"`
	RateLimit        *RateLimit `json:"rate_limit,omitempty"`
	AllowedScopes    []string   `json:"allowed_scopes,omitempty"`
	CredentialKeys   []string   `json:"credential_keys,omitempty"`
	LLMConfigID      *uuid.UUID `json:"llm_config_id,omitempty"`
}

type UpdateConfigRequest struct {
	Enabled          *bool      `json:"enabled,omitempty"`
	RequiresApproval *bool      `json:"requires_approval,omitempty"`
	RateLimit        *RateLimit `json:"rate_limit,omitempty"`
	AllowedScopes    []string   `json:"allowed_scopes,omitempty"`
	CredentialKeys   []string   `json:"credential_keys,omitempty"`
	LLMConfigID      *uuid.UUID `json:"llm_config_id,omitempty"`
	ClearLLMConfig   bool       `json:"clear_llm_config,omitempty"`
}

type ListConfigsResponse struct {
	Items []store.SkillConfig `json:"items"`
}

type CatalogResponse struct {
	Items []CatalogEntry `json:"items"`
}

type ExecuteRequest struct {
	SkillName string         `json:"skill_name" validate:"required"`
	Payload   map[string]any `json:"payload"`
	TaskID    *uuid.UUID     `json:"task_id,omitempty"`
	AgentID   *uuid.UUID     `json:"agent_id,omitempty"`
}

type ExecuteResponse struct {
	SkillName   string          `json:"skill_name"`
	ExecutionID uuid.UUID       `json:"execution_id"`
	InstanceID  uuid.UUID       `json:"instance_id"`
	Status      int             `json:"status"`
	Attempts    int             `json:"attempts"`
	DurationMS  int64           `json:"duration_ms"`
	Output      json.RawMessage `json:"output,omitempty"`
}
