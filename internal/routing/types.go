package routing

import (
	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

// ConfigRequest creates or replaces an LLM config. APIKey is plaintext on
// the way in and sealed before it is stored.
type ConfigRequest struct {
	Name               string              `json:"name"`
	PrimaryModelID     uuid.UUID           `json:"primary_model_id" validate:"required"`
	FallbackModelID    *uuid.UUID          `json:"fallback_model_id,omitempty"`
	UsePlatformKey     *bool               `json:"use_platform_key,omitempty"`
	APIKey             *string             `json:"api_key,omitempty"`
	Temperature        *float64            `json:"temperature,omitempty"`
	MaxTokens          *int                `json:"max_tokens,omitempty"`
	RoutingRules       []store.RoutingRule `json:"routing_rules,omitempty"`
	BudgetLimitDaily   *float64            `json:"budget_limit_daily,omitempty"`
	BudgetLimitMonthly *float64            `json:"budget_limit_monthly,omitempty"`
}

// ConfigResponse is an LLMConfig with the key reduced to a presence flag.
type ConfigResponse struct {
	store.LLMConfig
	HasAPIKey bool `json:"has_api_key"`
}

type ListResponse struct {
	Items []ConfigResponse `json:"items"`
}

// ResolveRequest carries the inputs routing rules match against.
type ResolveRequest struct {
	AgentID      *uuid.UUID `json:"agent_id,omitempty"`
	TaskType     string     `json:"task_type,omitempty"`
	SizeCategory string     `json:"size_category,omitempty"`
	QualityTier  string     `json:"quality_tier,omitempty"`
}

// Source names where the effective config came from.
type Source string

const (
	SourceAgent    Source = "agent"
	SourceTenant   Source = "tenant"
	SourcePlatform Source = "platform"
)

// Resolved is the handle a caller uses to talk to a provider. APIKey is
// plaintext and must not leave the process.
type Resolved struct {
	ConfigID     *uuid.UUID        `json:"config_id,omitempty"`
	Source       Source            `json:"source"`
	Provider     store.LLMProvider `json:"provider"`
	Model        store.LLMModel    `json:"model"`
	Temperature  float64           `json:"temperature"`
	MaxTokens    int               `json:"max_tokens"`
	APIKey       string            `json:"-"`
	UsedFallback bool              `json:"used_fallback"`
	MatchedRule  *int              `json:"matched_rule,omitempty"`
}

// ResolveResponse is the wire view of Resolved.
type ResolveResponse struct {
	Resolved
	APIKeyMasked string `json:"api_key_masked"`
}

type DefaultConfigRequest struct {
	LLMConfigID *uuid.UUID `json:"llm_config_id"`
}

// View masks the API key, keeping only its last four characters.
func (r Resolved) View() ResolveResponse {
	masked := ""
	switch n := len(r.APIKey); {
	case n == 0:
	case n <= 4:
		masked = "****"
	default:
		masked = "****" + r.APIKey[n-4:]
	}
	return ResolveResponse{Resolved: r, APIKeyMasked: masked}
}
