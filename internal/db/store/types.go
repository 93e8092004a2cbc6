package store

import (
	"time"

	"github.com/google/uuid"
)

type Tenant struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	Slug               string     `json:"slug"`
	DefaultLLMConfigID *uuid.UUID `json:"default_llm_config_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

type User struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name,omitempty"`
	HashedPassword string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	IsSuperuser    bool      `json:"is_superuser"`
	CreatedAt      time.Time `json:"created_at"`
}

type Agent struct {
	ID                 uuid.UUID      `json:"id"`
	TenantID           uuid.UUID      `json:"tenant_id"`
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	Role               string         `json:"role"`
	Capabilities       []string       `json:"capabilities"`
	Personality        string         `json:"personality,omitempty"`
	AutonomyLevel      AutonomyLevel  `json:"autonomy_level"`
	MaxDelegationDepth int            `json:"max_delegation_depth"`
	LLMConfigID        *uuid.UUID     `json:"llm_config_id,omitempty"`
	Config             map[string]any `json:"config,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

type AgentSkill struct {
	ID          uuid.UUID        `json:"id"`
	TenantID    uuid.UUID        `json:"tenant_id"`
	AgentID     uuid.UUID        `json:"agent_id"`
	SkillName   string           `json:"skill_name"`
	Proficiency float64          `json:"proficiency"`
	TimesUsed   int              `json:"times_used"`
	SuccessRate float64          `json:"success_rate"`
	LearnedFrom string           `json:"learned_from,omitempty"`
	Examples    []map[string]any `json:"examples,omitempty"`
	LastUsedAt  *time.Time       `json:"last_used_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

type AgentGroup struct {
	ID              uuid.UUID      `json:"id"`
	TenantID        uuid.UUID      `json:"tenant_id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	Goal            string         `json:"goal,omitempty"`
	Strategy        map[string]any `json:"strategy,omitempty"`
	SharedContext   map[string]any `json:"shared_context,omitempty"`
	EscalationRules map[string]any `json:"escalation_rules,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type GroupMember struct {
	GroupID  uuid.UUID `json:"group_id"`
	AgentID  uuid.UUID `json:"agent_id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Role     string    `json:"role,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

type AgentRelationship struct {
	ID                 uuid.UUID          `json:"id"`
	TenantID           uuid.UUID          `json:"tenant_id"`
	GroupID            uuid.UUID          `json:"group_id"`
	FromAgentID        uuid.UUID          `json:"from_agent_id"`
	ToAgentID          uuid.UUID          `json:"to_agent_id"`
	RelationshipType   RelationshipType   `json:"relationship_type"`
	TrustLevel         float64            `json:"trust_level"`
	CommunicationStyle CommunicationStyle `json:"communication_style"`
	HandoffRules       map[string]any     `json:"handoff_rules,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

type AgentTask struct {
	ID               uuid.UUID      `json:"id"`
	TenantID         uuid.UUID      `json:"tenant_id"`
	GroupID          *uuid.UUID     `json:"group_id,omitempty"`
	AssignedAgentID  uuid.UUID      `json:"assigned_agent_id"`
	CreatedByAgentID *uuid.UUID     `json:"created_by_agent_id,omitempty"`
	CreatedByUserID  *uuid.UUID     `json:"created_by_user_id,omitempty"`
	ParentTaskID     *uuid.UUID     `json:"parent_task_id,omitempty"`
	RootTaskID       uuid.UUID      `json:"root_task_id"`
	Depth            int            `json:"depth"`
	Objective        string         `json:"objective"`
	TaskType         string         `json:"task_type,omitempty"`
	Priority         TaskPriority   `json:"priority"`
	Context          map[string]any `json:"context,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	Status           TaskStatus     `json:"status"`
	Reasoning        string         `json:"reasoning,omitempty"`
	Output           map[string]any `json:"output,omitempty"`
	Confidence       *float64       `json:"confidence,omitempty"`
	Error            map[string]any `json:"error,omitempty"`
	TokensUsed       int64          `json:"tokens_used"`
	Cost             float64        `json:"cost"`
	Version          int64          `json:"version"`
	ApprovalDeadline *time.Time     `json:"approval_deadline,omitempty"`
	ApprovedBy       *uuid.UUID     `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type TaskFilter struct {
	Status          TaskStatus
	AssignedAgentID *uuid.UUID
	GroupID         *uuid.UUID
	ParentTaskID    *uuid.UUID
	Limit           int
}

type AgentMessage struct {
	ID               uuid.UUID      `json:"id"`
	TenantID         uuid.UUID      `json:"tenant_id"`
	GroupID          *uuid.UUID     `json:"group_id,omitempty"`
	TaskID           *uuid.UUID     `json:"task_id,omitempty"`
	FromAgentID      uuid.UUID      `json:"from_agent_id"`
	ToAgentID        *uuid.UUID     `json:"to_agent_id"`
	MessageType      MessageType    `json:"message_type"`
	Content          map[string]any `json:"content"`
	Reasoning        string         `json:"reasoning,omitempty"`
	RequiresResponse bool           `json:"requires_response"`
	ResponseDeadline *time.Time     `json:"response_deadline,omitempty"`
	InReplyTo        *uuid.UUID     `json:"in_reply_to,omitempty"`
	Seq              int64          `json:"seq"`
	TimedOutAt       *time.Time     `json:"timed_out_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

type MessageFilter struct {
	GroupID *uuid.UUID
	TaskID  *uuid.UUID
	// Recipient restricts to messages addressed to this agent or broadcast.
	Recipient  *uuid.UUID
	UnreadOnly bool
	Limit      int
}

type SkillConfig struct {
	ID                     uuid.UUID  `json:"id"`
	TenantID               uuid.UUID  `json:"tenant_id"`
	SkillName              string     `json:"skill_name"`
	Enabled                bool       `json:"enabled"`
	RequiresApproval       bool       `json:"requires_approval"`
	RateLimitMaxCalls      int        `json:"rate_limit_max_calls"`
	RateLimitWindowSeconds int        `json:"rate_limit_window_seconds"`
	AllowedScopes          []string   `json:"allowed_scopes"`
	CredentialKeys         []string   `json:"credential_keys"`
	LLMConfigID            *uuid.UUID `json:"llm_config_id,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

type SkillCredential struct {
	ID             uuid.UUID        `json:"id"`
	TenantID       uuid.UUID        `json:"tenant_id"`
	SkillConfigID  uuid.UUID        `json:"skill_config_id"`
	CredentialKey  string           `json:"credential_key"`
	EncryptedValue string           `json:"-"`
	CredentialType string           `json:"credential_type"`
	Status         CredentialStatus `json:"status"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
	LastUsedAt     *time.Time       `json:"last_used_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// SkillExecution is one reserved dispatch slot, counted by the rate limiter.
type SkillExecution struct {
	ID        uuid.UUID  `json:"id"`
	TenantID  uuid.UUID  `json:"tenant_id"`
	SkillName string     `json:"skill_name"`
	TaskID    *uuid.UUID `json:"task_id,omitempty"`
	AgentID   *uuid.UUID `json:"agent_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type LLMProvider struct {
	ID         uuid.UUID      `json:"id"`
	Name       string         `json:"name"`
	ClientType string         `json:"client_type"`
	BaseURL    string         `json:"base_url"`
	IsActive   bool           `json:"is_active"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type LLMModel struct {
	ID              uuid.UUID `json:"id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	ModelID         string    `json:"model_id"`
	Name            string    `json:"name"`
	SizeCategory    string    `json:"size_category,omitempty"`
	QualityTier     string    `json:"quality_tier,omitempty"`
	InputCostPer1K  float64   `json:"input_cost_per_1k"`
	OutputCostPer1K float64   `json:"output_cost_per_1k"`
	ContextWindow   int       `json:"context_window,omitempty"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

// UnitCost is the comparison key used when choosing between models.
func (m LLMModel) UnitCost() float64 {
	return m.InputCostPer1K + m.OutputCostPer1K
}

// RoutingRule overrides the primary model when every non-empty predicate matches.
type RoutingRule struct {
	TaskType     string    `json:"task_type,omitempty"`
	SizeCategory string    `json:"size_category,omitempty"`
	QualityTier  string    `json:"quality_tier,omitempty"`
	ModelID      uuid.UUID `json:"model_id"`
}

type LLMConfig struct {
	ID                 uuid.UUID     `json:"id"`
	TenantID           uuid.UUID     `json:"tenant_id"`
	Name               string        `json:"name"`
	PrimaryModelID     uuid.UUID     `json:"primary_model_id"`
	FallbackModelID    *uuid.UUID    `json:"fallback_model_id,omitempty"`
	UsePlatformKey     bool          `json:"use_platform_key"`
	APIKeyEncrypted    string        `json:"-"`
	Temperature        float64       `json:"temperature"`
	MaxTokens          int           `json:"max_tokens"`
	RoutingRules       []RoutingRule `json:"routing_rules"`
	BudgetLimitDaily   *float64      `json:"budget_limit_daily,omitempty"`
	BudgetLimitMonthly *float64      `json:"budget_limit_monthly,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

type InstanceHealth struct {
	LastCheck     *time.Time `json:"last_check,omitempty"`
	Healthy       bool       `json:"healthy"`
	UptimeSeconds float64    `json:"uptime"`
	CPUPct        float64    `json:"cpu_pct"`
	MemoryPct     float64    `json:"memory_pct"`
	Error         string     `json:"error,omitempty"`
}

type TenantInstance struct {
	ID             uuid.UUID      `json:"id"`
	TenantID       uuid.UUID      `json:"tenant_id"`
	InstanceType   string         `json:"instance_type"`
	Status         InstanceStatus `json:"status"`
	InternalURL    string         `json:"internal_url"`
	Health         InstanceHealth `json:"health"`
	ResourceConfig map[string]any `json:"resource_config,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Dispatchable reports whether the skill router may send work to the instance.
func (i TenantInstance) Dispatchable() bool {
	return i.Status == InstanceRunning && i.Health.Healthy
}

type ExecutionTrace struct {
	ID         uuid.UUID      `json:"id"`
	TaskID     uuid.UUID      `json:"task_id"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	StepOrder  int            `json:"step_order"`
	StepType   StepType       `json:"step_type"`
	AgentID    *uuid.UUID     `json:"agent_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	DurationMS *int64         `json:"duration_ms,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
