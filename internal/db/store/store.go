// Package store declares the persisted rows and the storage contract shared by
// the Postgres and in-memory backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
	// ErrConflict is returned when a conditional update observed a different row state.
	ErrConflict = errors.New("store: conflict")
	// ErrLimitReached is returned by ReserveSkillCall when the window is full.
	ErrLimitReached = errors.New("store: limit reached")
)

// Store is the full persistence contract. Every tenant-scoped read takes the
// tenant id and returns ErrNotFound for rows owned by another tenant.
type Store interface {
	// InTx runs fn against a transactional view. fn's error rolls back.
	InTx(ctx context.Context, fn func(tx Store) error) error

	CreateTenant(ctx context.Context, t Tenant) (Tenant, error)
	GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error)
	SetTenantDefaultLLMConfig(ctx context.Context, tenantID uuid.UUID, configID *uuid.UUID) error

	CreateUser(ctx context.Context, u User) (User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, tenantID uuid.UUID) ([]User, error)
	SetUserActive(ctx context.Context, tenantID, userID uuid.UUID, active bool) (User, error)

	CreateAgent(ctx context.Context, a Agent) (Agent, error)
	GetAgent(ctx context.Context, tenantID, id uuid.UUID) (Agent, error)
	ListAgents(ctx context.Context, tenantID uuid.UUID) ([]Agent, error)
	UpdateAgent(ctx context.Context, a Agent) (Agent, error)
	DeleteAgent(ctx context.Context, tenantID, id uuid.UUID) error

	CreateAgentSkill(ctx context.Context, s AgentSkill) (AgentSkill, error)
	GetAgentSkill(ctx context.Context, tenantID, id uuid.UUID) (AgentSkill, error)
	GetAgentSkillByName(ctx context.Context, tenantID, agentID uuid.UUID, skillName string) (AgentSkill, error)
	ListAgentSkills(ctx context.Context, tenantID uuid.UUID, agentID *uuid.UUID) ([]AgentSkill, error)
	UpdateAgentSkill(ctx context.Context, s AgentSkill) (AgentSkill, error)
	DeleteAgentSkill(ctx context.Context, tenantID, id uuid.UUID) error

	CreateGroup(ctx context.Context, g AgentGroup) (AgentGroup, error)
	GetGroup(ctx context.Context, tenantID, id uuid.UUID) (AgentGroup, error)
	ListGroups(ctx context.Context, tenantID uuid.UUID) ([]AgentGroup, error)
	UpdateGroup(ctx context.Context, g AgentGroup) (AgentGroup, error)
	DeleteGroup(ctx context.Context, tenantID, id uuid.UUID) error

	AddGroupMember(ctx context.Context, m GroupMember) (GroupMember, error)
	RemoveGroupMember(ctx context.Context, tenantID, groupID, agentID uuid.UUID) error
	ListGroupMembers(ctx context.Context, tenantID, groupID uuid.UUID) ([]GroupMember, error)
	IsGroupMember(ctx context.Context, tenantID, groupID, agentID uuid.UUID) (bool, error)

	CreateRelationship(ctx context.Context, r AgentRelationship) (AgentRelationship, error)
	GetRelationship(ctx context.Context, tenantID, id uuid.UUID) (AgentRelationship, error)
	ListRelationships(ctx context.Context, tenantID uuid.UUID, groupID *uuid.UUID) ([]AgentRelationship, error)
	UpdateRelationship(ctx context.Context, r AgentRelationship) (AgentRelationship, error)
	DeleteRelationship(ctx context.Context, tenantID, id uuid.UUID) error

	CreateTask(ctx context.Context, t AgentTask) (AgentTask, error)
	GetTask(ctx context.Context, tenantID, id uuid.UUID) (AgentTask, error)
	ListTasks(ctx context.Context, tenantID uuid.UUID, f TaskFilter) ([]AgentTask, error)
	// UpdateTask writes every mutable field of t when the persisted row still has
	// expectStatus and expectVersion, and bumps the version. Otherwise ErrConflict.
	UpdateTask(ctx context.Context, t AgentTask, expectStatus TaskStatus, expectVersion int64) (AgentTask, error)
	// ListChildTasks orders by completed_at (nulls last) then id.
	ListChildTasks(ctx context.Context, tenantID, parentID uuid.UUID) ([]AgentTask, error)
	// ListExpiredApprovals crosses tenants; only the sweeper calls it.
	ListExpiredApprovals(ctx context.Context, now time.Time, limit int) ([]AgentTask, error)
	SumTaskCost(ctx context.Context, tenantID uuid.UUID, since time.Time) (float64, error)

	CreateMessage(ctx context.Context, m AgentMessage) (AgentMessage, error)
	GetMessage(ctx context.Context, tenantID, id uuid.UUID) (AgentMessage, error)
	// ListMessages orders by created_at then seq.
	ListMessages(ctx context.Context, tenantID uuid.UUID, f MessageFilter) ([]AgentMessage, error)
	MarkMessageRead(ctx context.Context, tenantID, messageID, agentID uuid.UUID) error
	HasResponse(ctx context.Context, tenantID, requestID uuid.UUID) (bool, error)
	// ListOverdueRequests crosses tenants; only the sweeper calls it.
	ListOverdueRequests(ctx context.Context, now time.Time, limit int) ([]AgentMessage, error)
	MarkMessageTimedOut(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error

	CreateSkillConfig(ctx context.Context, c SkillConfig) (SkillConfig, error)
	GetSkillConfig(ctx context.Context, tenantID, id uuid.UUID) (SkillConfig, error)
	// LookupSkillConfig is not tenant-scoped; the vault uses it to tell
	// forbidden from not found.
	LookupSkillConfig(ctx context.Context, id uuid.UUID) (SkillConfig, error)
	GetSkillConfigByName(ctx context.Context, tenantID uuid.UUID, skillName string) (SkillConfig, error)
	ListSkillConfigs(ctx context.Context, tenantID uuid.UUID) ([]SkillConfig, error)
	UpdateSkillConfig(ctx context.Context, c SkillConfig) (SkillConfig, error)
	DeleteSkillConfig(ctx context.Context, tenantID, id uuid.UUID) error

	// ReserveSkillCall atomically counts executions for (tenant, skill) created
	// after since and inserts e only when the count is below max.
	ReserveSkillCall(ctx context.Context, e SkillExecution, since time.Time, max int) (SkillExecution, error)
	// ReleaseSkillCall drops a reservation whose call never reached the runtime.
	ReleaseSkillCall(ctx context.Context, tenantID, id uuid.UUID) error
	CountSkillCalls(ctx context.Context, tenantID uuid.UUID, skillName string, since time.Time) (int, error)

	CreateCredential(ctx context.Context, c SkillCredential) (SkillCredential, error)
	// LookupCredential is not tenant-scoped; the vault performs the tenant check.
	LookupCredential(ctx context.Context, id uuid.UUID) (SkillCredential, error)
	// GetLatestCredential returns the newest non-revoked credential for the key.
	GetLatestCredential(ctx context.Context, tenantID, skillConfigID uuid.UUID, key string) (SkillCredential, error)
	ListCredentials(ctx context.Context, tenantID, skillConfigID uuid.UUID) ([]SkillCredential, error)
	SetCredentialStatus(ctx context.Context, id uuid.UUID, status CredentialStatus) error
	TouchCredential(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateProvider(ctx context.Context, p LLMProvider) (LLMProvider, error)
	GetProvider(ctx context.Context, id uuid.UUID) (LLMProvider, error)
	ListProviders(ctx context.Context) ([]LLMProvider, error)
	UpdateProvider(ctx context.Context, p LLMProvider) (LLMProvider, error)
	DeleteProvider(ctx context.Context, id uuid.UUID) error

	CreateModel(ctx context.Context, m LLMModel) (LLMModel, error)
	GetModel(ctx context.Context, id uuid.UUID) (LLMModel, error)
	GetModelByModelID(ctx context.Context, providerID uuid.UUID, modelID string) (LLMModel, error)
	ListModels(ctx context.Context, providerID *uuid.UUID) ([]LLMModel, error)
	UpdateModel(ctx context.Context, m LLMModel) (LLMModel, error)
	DeleteModel(ctx context.Context, id uuid.UUID) error

	CreateLLMConfig(ctx context.Context, c LLMConfig) (LLMConfig, error)
	GetLLMConfig(ctx context.Context, tenantID, id uuid.UUID) (LLMConfig, error)
	ListLLMConfigs(ctx context.Context, tenantID uuid.UUID) ([]LLMConfig, error)
	UpdateLLMConfig(ctx context.Context, c LLMConfig) (LLMConfig, error)
	DeleteLLMConfig(ctx context.Context, tenantID, id uuid.UUID) error

	CreateInstance(ctx context.Context, i TenantInstance) (TenantInstance, error)
	GetInstance(ctx context.Context, tenantID, id uuid.UUID) (TenantInstance, error)
	ListInstances(ctx context.Context, tenantID uuid.UUID) ([]TenantInstance, error)
	// ListAllInstances crosses tenants; only the health prober calls it.
	ListAllInstances(ctx context.Context) ([]TenantInstance, error)
	SetInstanceStatus(ctx context.Context, tenantID, id uuid.UUID, status InstanceStatus) (TenantInstance, error)
	SetInstanceHealth(ctx context.Context, id uuid.UUID, h InstanceHealth) error

	// AppendTrace assigns the next dense step_order for the task.
	AppendTrace(ctx context.Context, t ExecutionTrace) (ExecutionTrace, error)
	ListTraces(ctx context.Context, tenantID, taskID uuid.UUID) ([]ExecutionTrace, error)
	HasTraceStep(ctx context.Context, tenantID, taskID uuid.UUID, step StepType) (bool, error)
}
