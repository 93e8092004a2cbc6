package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

const agentColumns = `id, tenant_id, name, description, role, capabilities, personality,
	autonomy_level, max_delegation_depth, llm_config_id, config, created_at, updated_at`

func scanAgent(row pgx.Row) (store.Agent, error) {
	var a store.Agent
	err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.Description, &a.Role, &a.Capabilities, &a.Personality,
		&a.AutonomyLevel, &a.MaxDelegationDepth, &a.LLMConfigID, &a.Config, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func stringsOrEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func (s *Store) CreateAgent(ctx context.Context, a store.Agent) (store.Agent, error) {
	return one(s.q.QueryRow(ctx,
		`INSERT INTO agents (id, tenant_id, name, description, role, capabilities, personality,
			autonomy_level, max_delegation_depth, llm_config_id, config)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING `+agentColumns,
		newID(a.ID), a.TenantID, a.Name, a.Description, a.Role, stringsOrEmpty(a.Capabilities), a.Personality,
		a.AutonomyLevel, a.MaxDelegationDepth, a.LLMConfigID, a.Config,
	), scanAgent)
}

func (s *Store) GetAgent(ctx context.Context, tenantID, id uuid.UUID) (store.Agent, error) {
	return one(s.q.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = $1 AND id = $2`, tenantID, id), scanAgent)
}

func (s *Store) ListAgents(ctx context.Context, tenantID uuid.UUID) ([]store.Agent, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = $1 ORDER BY created_at, id`, tenantID)
	return collect(rows, err, scanAgent)
}

func (s *Store) UpdateAgent(ctx context.Context, a store.Agent) (store.Agent, error) {
	return one(s.q.QueryRow(ctx,
		`UPDATE agents SET name = $3, description = $4, role = $5, capabilities = $6, personality = $7,
			autonomy_level = $8, max_delegation_depth = $9, llm_config_id = $10, config = $11, updated_at = now()
		 WHERE tenant_id = $1 AND id = $2
		 RETURNING `+agentColumns,
		a.TenantID, a.ID, a.Name, a.Description, a.Role, stringsOrEmpty(a.Capabilities), a.Personality,
		a.AutonomyLevel, a.MaxDelegationDepth, a.LLMConfigID, a.Config,
	), scanAgent)
}

func (s *Store) DeleteAgent(ctx context.Context, tenantID, id uuid.UUID) error {
	return expectOne(s.q.Exec(ctx, `DELETE FROM agents WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

const agentSkillColumns = `id, tenant_id, agent_id, skill_name, proficiency, times_used, success_rate,
	learned_from, examples, last_used_at, created_at`

func scanAgentSkill(row pgx.Row) (store.AgentSkill, error) {
	var sk store.AgentSkill
	err := row.Scan(&sk.ID, &sk.TenantID, &sk.AgentID, &sk.SkillName, &sk.Proficiency, &sk.TimesUsed, &sk.SuccessRate,
		&sk.LearnedFrom, &sk.Examples, &sk.LastUsedAt, &sk.CreatedAt)
	return sk, err
}

func (s *Store) CreateAgentSkill(ctx context.Context, sk store.AgentSkill) (store.AgentSkill, error) {
	return one(s.q.QueryRow(ctx,
		`INSERT INTO agent_skills (id, tenant_id, agent_id, skill_name, proficiency, times_used, success_rate,
			learned_from, examples, last_used_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		 WHERE EXISTS (SELECT 1 FROM agents WHERE id = $3 AND tenant_id = $2)
		 RETURNING `+agentSkillColumns,
		newID(sk.ID), sk.TenantID, sk.AgentID, sk.SkillName, sk.Proficiency, sk.TimesUsed, sk.SuccessRate,
		sk.LearnedFrom, sk.Examples, sk.LastUsedAt,
	), scanAgentSkill)
}

func (s *Store) GetAgentSkill(ctx context.Context, tenantID, id uuid.UUID) (store.AgentSkill, error) {
	return one(s.q.QueryRow(ctx,
		`SELECT `+agentSkillColumns+` FROM agent_skills WHERE tenant_id = $1 AND id = $2`, tenantID, id), scanAgentSkill)
}

func (s *Store) GetAgentSkillByName(ctx context.Context, tenantID, agentID uuid.UUID, skillName string) (store.AgentSkill, error) {
	return one(s.q.QueryRow(ctx,
		`SELECT `+agentSkillColumns+` FROM agent_skills WHERE tenant_id = $1 AND agent_id = $2 AND skill_name = $3`,
		tenantID, agentID, skillName), scanAgentSkill)
}

func (s *Store) ListAgentSkills(ctx context.Context, tenantID uuid.UUID, agentID *uuid.UUID) ([]store.AgentSkill, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+agentSkillColumns+` FROM agent_skills
		 WHERE tenant_id = $1 AND ($2::uuid IS NULL OR agent_id = $2)
		 ORDER BY created_at, id`, tenantID, agentID)
	return collect(rows, err, scanAgentSkill)
}

func (s *Store) UpdateAgentSkill(ctx context.Context, sk store.AgentSkill) (store.AgentSkill, error) {
	return one(s.q.QueryRow(ctx,
		`UPDATE agent_skills SET skill_name = $3, proficiency = $4, times_used = $5, success_rate = $6,
			learned_from = $7, examples = $8, last_used_at = $9
		 WHERE tenant_id = $1 AND id = $2
		 RETURNING `+agentSkillColumns,
		sk.TenantID, sk.ID, sk.SkillName, sk.Proficiency, sk.TimesUsed, sk.SuccessRate,
		sk.LearnedFrom, sk.Examples, sk.LastUsedAt,
	), scanAgentSkill)
}

func (s *Store) DeleteAgentSkill(ctx context.Context, tenantID, id uuid.UUID) error {
	return expectOne(s.q.Exec(ctx, `DELETE FROM agent_skills WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

const groupColumns = `id, tenant_id, name, description, goal, strategy, shared_context, escalation_rules,
	created_at, updated_at`

func scanGroup(row pgx.Row) (store.AgentGroup, error) {
	var g store.AgentGroup
	err := row.Scan(&g.ID, &g.TenantID, &g.Name, &g.Description, &g.Goal, &g.Strategy, &g.SharedContext,
		&g.EscalationRules, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

func (s *Store) CreateGroup(ctx context.Context, g store.AgentGroup) (store.AgentGroup, error) {
	return one(s.q.QueryRow(ctx,
		`INSERT INTO agent_groups (id, tenant_id, name, description, goal, strategy, shared_context, escalation_rules)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+groupColumns,
		newID(g.ID), g.TenantID, g.Name, g.Description, g.Goal, g.Strategy, g.SharedContext, g.EscalationRules,
	), scanGroup)
}

func (s *Store) GetGroup(ctx context.Context, tenantID, id uuid.UUID) (store.AgentGroup, error) {
	return one(s.q.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM agent_groups WHERE tenant_id = $1 AND id = $2`, tenantID, id), scanGroup)
}

func (s *Store) ListGroups(ctx context.Context, tenantID uuid.UUID) ([]store.AgentGroup, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+groupColumns+` FROM agent_groups WHERE tenant_id = $1 ORDER BY created_at, id`, tenantID)
	return collect(rows, err, scanGroup)
}

func (s *Store) UpdateGroup(ctx context.Context, g store.AgentGroup) (store.AgentGroup, error) {
	return one(s.q.QueryRow(ctx,
		`UPDATE agent_groups SET name = $3, description = $4, goal = $5, strategy = $6, shared_context = $7,
			escalation_rules = $8, updated_at = now()
		 WHERE tenant_id = $1 AND id = $2
		 RETURNING `+groupColumns,
		g.TenantID, g.ID, g.Name, g.Description, g.Goal, g.Strategy, g.SharedContext, g.EscalationRules,
	), scanGroup)
}

func (s *Store) DeleteGroup(ctx context.Context, tenantID, id uuid.UUID) error {
	return expectOne(s.q.Exec(ctx, `DELETE FROM agent_groups WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

const memberColumns = `group_id, agent_id, tenant_id, role, joined_at`

func scanMember(row pgx.Row) (store.GroupMember, error) {
	var m store.GroupMember
	err := row.Scan(&m.GroupID, &m.AgentID, &m.TenantID, &m.Role, &m.JoinedAt)
	return m, err
}

func (s *Store) AddGroupMember(ctx context.Context, m store.GroupMember) (store.GroupMember, error) {
	return one(s.q.QueryRow(ctx,
		`INSERT INTO agent_group_members (group_id, agent_id, tenant_id, role)
		 SELECT $1, $2, $3, $4
		 WHERE EXISTS (SELECT 1 FROM agent_groups WHERE id = $1 AND tenant_id = $3)
		   AND EXISTS (SELECT 1 FROM agents WHERE id = $2 AND tenant_id = $3)
		 RETURNING `+memberColumns,
		m.GroupID, m.AgentID, m.TenantID, m.Role,
	), scanMember)
}

func (s *Store) RemoveGroupMember(ctx context.Context, tenantID, groupID, agentID uuid.UUID) error {
	return expectOne(s.q.Exec(ctx,
		`DELETE FROM agent_group_members WHERE tenant_id = $1 AND group_id = $2 AND agent_id = $3`,
		tenantID, groupID, agentID))
}

func (s *Store) ListGroupMembers(ctx context.Context, tenantID, groupID uuid.UUID) ([]store.GroupMember, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+memberColumns+` FROM agent_group_members
		 WHERE tenant_id = $1 AND group_id = $2 ORDER BY joined_at, agent_id`, tenantID, groupID)
	return collect(rows, err, scanMember)
}

func (s *Store) IsGroupMember(ctx context.Context, tenantID, groupID, agentID uuid.UUID) (bool, error) {
	var ok bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM agent_group_members WHERE tenant_id = $1 AND group_id = $2 AND agent_id = $3)`,
		tenantID, groupID, agentID,
	).Scan(&ok)
	return ok, mapError(err)
}

const relationshipColumns = `id, tenant_id, group_id, from_agent_id, to_agent_id, relationship_type, trust_level,
	communication_style, handoff_rules, created_at`

func scanRelationship(row pgx.Row) (store.AgentRelationship, error) {
	var r store.AgentRelationship
	err := row.Scan(&r.ID, &r.TenantID, &r.GroupID, &r.FromAgentID, &r.ToAgentID, &r.RelationshipType,
		&r.TrustLevel, &r.CommunicationStyle, &r.HandoffRules, &r.CreatedAt)
	return r, err
}

func (s *Store) CreateRelationship(ctx context.Context, r store.AgentRelationship) (store.AgentRelationship, error) {
	return one(s.q.QueryRow(ctx,
		`INSERT INTO agent_relationships (id, tenant_id, group_id, from_agent_id, to_agent_id, relationship_type,
			trust_level, communication_style, handoff_rules)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		 WHERE EXISTS (SELECT 1 FROM agent_groups WHERE id = $3 AND tenant_id = $2)
		 RETURNING `+relationshipColumns,
		newID(r.ID), r.TenantID, r.GroupID, r.FromAgentID, r.ToAgentID, r.RelationshipType,
		r.TrustLevel, r.CommunicationStyle, r.HandoffRules,
	), scanRelationship)
}

func (s *Store) GetRelationship(ctx context.Context, tenantID, id uuid.UUID) (store.AgentRelationship, error) {
	return one(s.q.QueryRow(ctx,
		`SELECT `+relationshipColumns+` FROM agent_relationships WHERE tenant_id = $1 AND id = $2`,
		tenantID, id), scanRelationship)
}

func (s *Store) ListRelationships(ctx context.Context, tenantID uuid.UUID, groupID *uuid.UUID) ([]store.AgentRelationship, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+relationshipColumns+` FROM agent_relationships
		 WHERE tenant_id = $1 AND ($2::uuid IS NULL OR group_id = $2)
		 ORDER BY created_at, id`, tenantID, groupID)
	return collect(rows, err, scanRelationship)
}

func (s *Store) UpdateRelationship(ctx context.Context, r store.AgentRelationship) (store.AgentRelationship, error) {
	return one(s.q.QueryRow(ctx,
		`UPDATE agent_relationships SET relationship_type = $3, trust_level = $4, communication_style = $5,
			handoff_rules = $6
		 WHERE tenant_id = $1 AND id = $2
		 RETURNING `+relationshipColumns,
		r.TenantID, r.ID, r.RelationshipType, r.TrustLevel, r.CommunicationStyle, r.HandoffRules,
	), scanRelationship)
}

func (s *Store) DeleteRelationship(ctx context.Context, tenantID, id uuid.UUID) error {
	return expectOne(s.q.Exec(ctx, `DELETE FROM agent_relationships WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}
