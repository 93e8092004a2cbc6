package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

func (s *Store) CreateSkillConfig(_ context.Context, c store.SkillConfig) (store.SkillConfig, error) {
	defer s.lock()()
	if _, ok := s.st.tenants[c.TenantID]; !ok {
		return store.SkillConfig{}, store.ErrNotFound
	}
	for _, existing := range s.st.skillConfigs {
		if existing.TenantID == c.TenantID && existing.SkillName == c.SkillName {
			return store.SkillConfig{}, store.ErrDuplicate
		}
	}
	c.ID = newID(c.ID)
	now := s.now()
	c.CreatedAt = stamp(c.CreatedAt, now)
	c.UpdatedAt = now
	s.st.skillConfigs[c.ID] = c
	s.st.track(c.ID)
	return c, nil
}

func (s *Store) GetSkillConfig(_ context.Context, tenantID, id uuid.UUID) (store.SkillConfig, error) {
	defer s.lock()()
	c, ok := s.st.skillConfigs[id]
	if !ok || c.TenantID != tenantID {
		return store.SkillConfig{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) LookupSkillConfig(_ context.Context, id uuid.UUID) (store.SkillConfig, error) {
	defer s.lock()()
	c, ok := s.st.skillConfigs[id]
	if !ok {
		return store.SkillConfig{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) GetSkillConfigByName(_ context.Context, tenantID uuid.UUID, skillName string) (store.SkillConfig, error) {
	defer s.lock()()
	for _, c := range s.st.skillConfigs {
		if c.TenantID == tenantID && c.SkillName == skillName {
			return c, nil
		}
	}
	return store.SkillConfig{}, store.ErrNotFound
}

func (s *Store) ListSkillConfigs(_ context.Context, tenantID uuid.UUID) ([]store.SkillConfig, error) {
	defer s.lock()()
	return values(s.st, s.st.skillConfigs, func(c store.SkillConfig) bool { return c.TenantID == tenantID }), nil
}

func (s *Store) UpdateSkillConfig(_ context.Context, c store.SkillConfig) (store.SkillConfig, error) {
	defer s.lock()()
	existing, ok := s.st.skillConfigs[c.ID]
	if !ok || existing.TenantID != c.TenantID {
		return store.SkillConfig{}, store.ErrNotFound
	}
	c.SkillName = existing.SkillName
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.now()
	s.st.skillConfigs[c.ID] = c
	return c, nil
}

func (s *Store) DeleteSkillConfig(_ context.Context, tenantID, id uuid.UUID) error {
	defer s.lock()()
	c, ok := s.st.skillConfigs[id]
	if !ok || c.TenantID != tenantID {
		return store.ErrNotFound
	}
	for cid, cred := range s.st.credentials {
		if cred.SkillConfigID == id {
			delete(s.st.credentials, cid)
		}
	}
	delete(s.st.skillConfigs, id)
	return nil
}

func (s *Store) ReserveSkillCall(_ context.Context, e store.SkillExecution, since time.Time, max int) (store.SkillExecution, error) {
	defer s.lock()()
	if max > 0 && s.st.countExecutions(e.TenantID, e.SkillName, since) >= max {
		return store.SkillExecution{}, store.ErrLimitReached
	}
	e.ID = newID(e.ID)
	e.CreatedAt = stamp(e.CreatedAt, s.now())
	s.st.executions = append(s.st.executions, e)
	return e, nil
}

func (s *Store) ReleaseSkillCall(_ context.Context, tenantID, id uuid.UUID) error {
	defer s.lock()()
	for i, e := range s.st.executions {
		if e.ID == id && e.TenantID == tenantID {
			s.st.executions = append(s.st.executions[:i], s.st.executions[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) CountSkillCalls(_ context.Context, tenantID uuid.UUID, skillName string, since time.Time) (int, error) {
	defer s.lock()()
	return s.st.countExecutions(tenantID, skillName, since), nil
}

func (st *state) countExecutions(tenantID uuid.UUID, skillName string, since time.Time) int {
	n := 0
	for _, e := range st.executions {
		if e.TenantID == tenantID && e.SkillName == skillName && e.CreatedAt.After(since) {
			n++
		}
	}
	return n
}

func (s *Store) CreateCredential(_ context.Context, c store.SkillCredential) (store.SkillCredential, error) {
	defer s.lock()()
	cfg, ok := s.st.skillConfigs[c.SkillConfigID]
	if !ok || cfg.TenantID != c.TenantID {
		return store.SkillCredential{}, store.ErrNotFound
	}
	c.ID = newID(c.ID)
	c.CreatedAt = stamp(c.CreatedAt, s.now())
	s.st.credentials[c.ID] = c
	s.st.track(c.ID)
	return c, nil
}

func (s *Store) LookupCredential(_ context.Context, id uuid.UUID) (store.SkillCredential, error) {
	defer s.lock()()
	c, ok := s.st.credentials[id]
	if !ok {
		return store.SkillCredential{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) GetLatestCredential(_ context.Context, tenantID, skillConfigID uuid.UUID, key string) (store.SkillCredential, error) {
	defer s.lock()()
	var (
		best  store.SkillCredential
		found bool
	)
	for id, c := range s.st.credentials {
		if c.TenantID != tenantID || c.SkillConfigID != skillConfigID || c.CredentialKey != key {
			continue
		}
		if c.Status == store.CredentialRevoked {
			continue
		}
		if !found || s.st.order[id] > s.st.order[best.ID] {
			best, found = c, true
		}
	}
	if !found {
		return store.SkillCredential{}, store.ErrNotFound
	}
	return best, nil
}

func (s *Store) ListCredentials(_ context.Context, tenantID, skillConfigID uuid.UUID) ([]store.SkillCredential, error) {
	defer s.lock()()
	return values(s.st, s.st.credentials, func(c store.SkillCredential) bool {
		return c.TenantID == tenantID && c.SkillConfigID == skillConfigID
	}), nil
}

func (s *Store) SetCredentialStatus(_ context.Context, id uuid.UUID, status store.CredentialStatus) error {
	defer s.lock()()
	c, ok := s.st.credentials[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = status
	s.st.credentials[id] = c
	return nil
}

func (s *Store) TouchCredential(_ context.Context, id uuid.UUID, at time.Time) error {
	defer s.lock()()
	c, ok := s.st.credentials[id]
	if !ok {
		return store.ErrNotFound
	}
	c.LastUsedAt = &at
	s.st.credentials[id] = c
	return nil
}

func (s *Store) CreateInstance(_ context.Context, i store.TenantInstance) (store.TenantInstance, error) {
	defer s.lock()()
	if _, ok := s.st.tenants[i.TenantID]; !ok {
		return store.TenantInstance{}, store.ErrNotFound
	}
	i.ID = newID(i.ID)
	now := s.now()
	i.CreatedAt = stamp(i.CreatedAt, now)
	i.UpdatedAt = now
	s.st.instances[i.ID] = i
	s.st.track(i.ID)
	return i, nil
}

func (s *Store) GetInstance(_ context.Context, tenantID, id uuid.UUID) (store.TenantInstance, error) {
	defer s.lock()()
	i, ok := s.st.instances[id]
	if !ok || i.TenantID != tenantID {
		return store.TenantInstance{}, store.ErrNotFound
	}
	return i, nil
}

func (s *Store) ListInstances(_ context.Context, tenantID uuid.UUID) ([]store.TenantInstance, error) {
	defer s.lock()()
	return values(s.st, s.st.instances, func(i store.TenantInstance) bool { return i.TenantID == tenantID }), nil
}

func (s *Store) ListAllInstances(_ context.Context) ([]store.TenantInstance, error) {
	defer s.lock()()
	return values(s.st, s.st.instances, nil), nil
}

func (s *Store) SetInstanceStatus(_ context.Context, tenantID, id uuid.UUID, status store.InstanceStatus) (store.TenantInstance, error) {
	defer s.lock()()
	i, ok := s.st.instances[id]
	if !ok || i.TenantID != tenantID {
		return store.TenantInstance{}, store.ErrNotFound
	}
	i.Status = status
	i.UpdatedAt = s.now()
	s.st.instances[id] = i
	return i, nil
}

func (s *Store) SetInstanceHealth(_ context.Context, id uuid.UUID, h store.InstanceHealth) error {
	defer s.lock()()
	i, ok := s.st.instances[id]
	if !ok {
		return store.ErrNotFound
	}
	i.Health = h
	i.UpdatedAt = s.now()
	s.st.instances[id] = i
	return nil
}
