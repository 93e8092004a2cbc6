package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

func (s *Store) CreateAgent(_ context.Context, a store.Agent) (store.Agent, error) {
	defer s.lock()()
	if _, ok := s.st.tenants[a.TenantID]; !ok {
		return store.Agent{}, store.ErrNotFound
	}
	a.ID = newID(a.ID)
	now := s.now()
	a.CreatedAt = stamp(a.CreatedAt, now)
	a.UpdatedAt = now
	s.st.agents[a.ID] = a
	s.st.track(a.ID)
	return a, nil
}

func (s *Store) GetAgent(_ context.Context, tenantID, id uuid.UUID) (store.Agent, error) {
	defer s.lock()()
	a, ok := s.st.agents[id]
	if !ok || a.TenantID != tenantID {
		return store.Agent{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListAgents(_ context.Context, tenantID uuid.UUID) ([]store.Agent, error) {
	defer s.lock()()
	return values(s.st, s.st.agents, func(a store.Agent) bool { return a.TenantID == tenantID }), nil
}

func (s *Store) UpdateAgent(_ context.Context, a store.Agent) (store.Agent, error) {
	defer s.lock()()
	existing, ok := s.st.agents[a.ID]
	if !ok || existing.TenantID != a.TenantID {
		return store.Agent{}, store.ErrNotFound
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = s.now()
	s.st.agents[a.ID] = a
	return a, nil
}

func (s *Store) DeleteAgent(_ context.Context, tenantID, id uuid.UUID) error {
	defer s.lock()()
	a, ok := s.st.agents[id]
	if !ok || a.TenantID != tenantID {
		return store.ErrNotFound
	}
	for _, t := range s.st.tasks {
		if t.AssignedAgentID == id {
			return store.ErrConflict
		}
	}
	for key := range s.st.members {
		if key.agent == id {
			delete(s.st.members, key)
		}
	}
	for rid, r := range s.st.relationships {
		if r.FromAgentID == id || r.ToAgentID == id {
			delete(s.st.relationships, rid)
		}
	}
	for sid, sk := range s.st.agentSkills {
		if sk.AgentID == id {
			delete(s.st.agentSkills, sid)
		}
	}
	delete(s.st.agents, id)
	return nil
}

func (s *Store) CreateAgentSkill(_ context.Context, sk store.AgentSkill) (store.AgentSkill, error) {
	defer s.lock()()
	a, ok := s.st.agents[sk.AgentID]
	if !ok || a.TenantID != sk.TenantID {
		return store.AgentSkill{}, store.ErrNotFound
	}
	for _, existing := range s.st.agentSkills {
		if existing.AgentID == sk.AgentID && existing.SkillName == sk.SkillName {
			return store.AgentSkill{}, store.ErrDuplicate
		}
	}
	sk.ID = newID(sk.ID)
	sk.CreatedAt = stamp(sk.CreatedAt, s.now())
	s.st.agentSkills[sk.ID] = sk
	s.st.track(sk.ID)
	return sk, nil
}

func (s *Store) GetAgentSkill(_ context.Context, tenantID, id uuid.UUID) (store.AgentSkill, error) {
	defer s.lock()()
	sk, ok := s.st.agentSkills[id]
	if !ok || sk.TenantID != tenantID {
		return store.AgentSkill{}, store.ErrNotFound
	}
	return sk, nil
}

func (s *Store) GetAgentSkillByName(_ context.Context, tenantID, agentID uuid.UUID, skillName string) (store.AgentSkill, error) {
	defer s.lock()()
	for _, sk := range s.st.agentSkills {
		if sk.TenantID == tenantID && sk.AgentID == agentID && sk.SkillName == skillName {
			return sk, nil
		}
	}
	return store.AgentSkill{}, store.ErrNotFound
}

func (s *Store) ListAgentSkills(_ context.Context, tenantID uuid.UUID, agentID *uuid.UUID) ([]store.AgentSkill, error) {
	defer s.lock()()
	return values(s.st, s.st.agentSkills, func(sk store.AgentSkill) bool {
		return sk.TenantID == tenantID && (agentID == nil || sk.AgentID == *agentID)
	}), nil
}

func (s *Store) UpdateAgentSkill(_ context.Context, sk store.AgentSkill) (store.AgentSkill, error) {
	defer s.lock()()
	existing, ok := s.st.agentSkills[sk.ID]
	if !ok || existing.TenantID != sk.TenantID {
		return store.AgentSkill{}, store.ErrNotFound
	}
	sk.AgentID = existing.AgentID
	sk.CreatedAt = existing.CreatedAt
	s.st.agentSkills[sk.ID] = sk
	return sk, nil
}

func (s *Store) DeleteAgentSkill(_ context.Context, tenantID, id uuid.UUID) error {
	defer s.lock()()
	sk, ok := s.st.agentSkills[id]
	if !ok || sk.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(s.st.agentSkills, id)
	return nil
}

func (s *Store) CreateGroup(_ context.Context, g store.AgentGroup) (store.AgentGroup, error) {
	defer s.lock()()
	if _, ok := s.st.tenants[g.TenantID]; !ok {
		return store.AgentGroup{}, store.ErrNotFound
	}
	g.ID = newID(g.ID)
	now := s.now()
	g.CreatedAt = stamp(g.CreatedAt, now)
	g.UpdatedAt = now
	s.st.groups[g.ID] = g
	s.st.track(g.ID)
	return g, nil
}

func (s *Store) GetGroup(_ context.Context, tenantID, id uuid.UUID) (store.AgentGroup, error) {
	defer s.lock()()
	g, ok := s.st.groups[id]
	if !ok || g.TenantID != tenantID {
		return store.AgentGroup{}, store.ErrNotFound
	}
	return g, nil
}

func (s *Store) ListGroups(_ context.Context, tenantID uuid.UUID) ([]store.AgentGroup, error) {
	defer s.lock()()
	return values(s.st, s.st.groups, func(g store.AgentGroup) bool { return g.TenantID == tenantID }), nil
}

func (s *Store) UpdateGroup(_ context.Context, g store.AgentGroup) (store.AgentGroup, error) {
	defer s.lock()()
	existing, ok := s.st.groups[g.ID]
	if !ok || existing.TenantID != g.TenantID {
		return store.AgentGroup{}, store.ErrNotFound
	}
	g.CreatedAt = existing.CreatedAt
	g.UpdatedAt = s.now()
	s.st.groups[g.ID] = g
	return g, nil
}

func (s *Store) DeleteGroup(_ context.Context, tenantID, id uuid.UUID) error {
	defer s.lock()()
	g, ok := s.st.groups[id]
	if !ok || g.TenantID != tenantID {
		return store.ErrNotFound
	}
	for key := range s.st.members {
		if key.group == id {
			delete(s.st.members, key)
		}
	}
	for rid, r := range s.st.relationships {
		if r.GroupID == id {
			delete(s.st.relationships, rid)
		}
	}
	delete(s.st.groups, id)
	return nil
}

func (s *Store) AddGroupMember(_ context.Context, m store.GroupMember) (store.GroupMember, error) {
	defer s.lock()()
	g, ok := s.st.groups[m.GroupID]
	if !ok || g.TenantID != m.TenantID {
		return store.GroupMember{}, store.ErrNotFound
	}
	a, ok := s.st.agents[m.AgentID]
	if !ok || a.TenantID != m.TenantID {
		return store.GroupMember{}, store.ErrNotFound
	}
	key := memberKey{group: m.GroupID, agent: m.AgentID}
	if _, exists := s.st.members[key]; exists {
		return store.GroupMember{}, store.ErrDuplicate
	}
	m.JoinedAt = stamp(m.JoinedAt, s.now())
	s.st.members[key] = m
	return m, nil
}

func (s *Store) RemoveGroupMember(_ context.Context, tenantID, groupID, agentID uuid.UUID) error {
	defer s.lock()()
	key := memberKey{group: groupID, agent: agentID}
	m, ok := s.st.members[key]
	if !ok || m.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(s.st.members, key)
	for rid, r := range s.st.relationships {
		if r.GroupID == groupID && (r.FromAgentID == agentID || r.ToAgentID == agentID) {
			delete(s.st.relationships, rid)
		}
	}
	return nil
}

func (s *Store) ListGroupMembers(_ context.Context, tenantID, groupID uuid.UUID) ([]store.GroupMember, error) {
	defer s.lock()()
	out := make([]store.GroupMember, 0)
	for key, m := range s.st.members {
		if key.group == groupID && m.TenantID == tenantID {
			out = append(out, m)
		}
	}
	sortMembers(out)
	return out, nil
}

func (s *Store) IsGroupMember(_ context.Context, tenantID, groupID, agentID uuid.UUID) (bool, error) {
	defer s.lock()()
	m, ok := s.st.members[memberKey{group: groupID, agent: agentID}]
	return ok && m.TenantID == tenantID, nil
}

func (s *Store) CreateRelationship(_ context.Context, r store.AgentRelationship) (store.AgentRelationship, error) {
	defer s.lock()()
	g, ok := s.st.groups[r.GroupID]
	if !ok || g.TenantID != r.TenantID {
		return store.AgentRelationship{}, store.ErrNotFound
	}
	for _, existing := range s.st.relationships {
		if existing.GroupID == r.GroupID && existing.FromAgentID == r.FromAgentID &&
			existing.ToAgentID == r.ToAgentID && existing.RelationshipType == r.RelationshipType {
			return store.AgentRelationship{}, store.ErrDuplicate
		}
	}
	r.ID = newID(r.ID)
	r.CreatedAt = stamp(r.CreatedAt, s.now())
	s.st.relationships[r.ID] = r
	s.st.track(r.ID)
	return r, nil
}

func (s *Store) GetRelationship(_ context.Context, tenantID, id uuid.UUID) (store.AgentRelationship, error) {
	defer s.lock()()
	r, ok := s.st.relationships[id]
	if !ok || r.TenantID != tenantID {
		return store.AgentRelationship{}, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) ListRelationships(_ context.Context, tenantID uuid.UUID, groupID *uuid.UUID) ([]store.AgentRelationship, error) {
	defer s.lock()()
	return values(s.st, s.st.relationships, func(r store.AgentRelationship) bool {
		return r.TenantID == tenantID && (groupID == nil || r.GroupID == *groupID)
	}), nil
}

func (s *Store) UpdateRelationship(_ context.Context, r store.AgentRelationship) (store.AgentRelationship, error) {
	defer s.lock()()
	existing, ok := s.st.relationships[r.ID]
	if !ok || existing.TenantID != r.TenantID {
		return store.AgentRelationship{}, store.ErrNotFound
	}
	r.GroupID = existing.GroupID
	r.FromAgentID = existing.FromAgentID
	r.ToAgentID = existing.ToAgentID
	r.CreatedAt = existing.CreatedAt
	s.st.relationships[r.ID] = r
	return r, nil
}

func (s *Store) DeleteRelationship(_ context.Context, tenantID, id uuid.UUID) error {
	defer s.lock()()
	r, ok := s.st.relationships[id]
	if !ok || r.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(s.st.relationships, id)
	return nil
}
