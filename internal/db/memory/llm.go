package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

func (s *Store) CreateProvider(_ context.Context, p store.LLMProvider) (store.LLMProvider, error) {
	defer s.lock()()
	for _, existing := range s.st.providers {
		if existing.Name == p.Name {
			return store.LLMProvider{}, store.ErrDuplicate
		}
	}
	p.ID = newID(p.ID)
	p.CreatedAt = stamp(p.CreatedAt, s.now())
	s.st.providers[p.ID] = p
	s.st.track(p.ID)
	return p, nil
}

func (s *Store) GetProvider(_ context.Context, id uuid.UUID) (store.LLMProvider, error) {
	defer s.lock()()
	p, ok := s.st.providers[id]
	if !ok {
		return store.LLMProvider{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListProviders(_ context.Context) ([]store.LLMProvider, error) {
	defer s.lock()()
	return values(s.st, s.st.providers, nil), nil
}

func (s *Store) UpdateProvider(_ context.Context, p store.LLMProvider) (store.LLMProvider, error) {
	defer s.lock()()
	existing, ok := s.st.providers[p.ID]
	if !ok {
		return store.LLMProvider{}, store.ErrNotFound
	}
	for id, other := range s.st.providers {
		if id != p.ID && other.Name == p.Name {
			return store.LLMProvider{}, store.ErrDuplicate
		}
	}
	p.CreatedAt = existing.CreatedAt
	s.st.providers[p.ID] = p
	return p, nil
}

func (s *Store) DeleteProvider(_ context.Context, id uuid.UUID) error {
	defer s.lock()()
	if _, ok := s.st.providers[id]; !ok {
		return store.ErrNotFound
	}
	for _, m := range s.st.models {
		if m.ProviderID == id {
			return store.ErrConflict
		}
	}
	delete(s.st.providers, id)
	return nil
}

func (s *Store) CreateModel(_ context.Context, m store.LLMModel) (store.LLMModel, error) {
	defer s.lock()()
	if _, ok := s.st.providers[m.ProviderID]; !ok {
		return store.LLMModel{}, store.ErrNotFound
	}
	for _, existing := range s.st.models {
		if existing.ProviderID == m.ProviderID && existing.ModelID == m.ModelID {
			return store.LLMModel{}, store.ErrDuplicate
		}
	}
	m.ID = newID(m.ID)
	m.CreatedAt = stamp(m.CreatedAt, s.now())
	s.st.models[m.ID] = m
	s.st.track(m.ID)
	return m, nil
}

func (s *Store) GetModel(_ context.Context, id uuid.UUID) (store.LLMModel, error) {
	defer s.lock()()
	m, ok := s.st.models[id]
	if !ok {
		return store.LLMModel{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) GetModelByModelID(_ context.Context, providerID uuid.UUID, modelID string) (store.LLMModel, error) {
	defer s.lock()()
	for _, m := range s.st.models {
		if m.ProviderID == providerID && m.ModelID == modelID {
			return m, nil
		}
	}
	return store.LLMModel{}, store.ErrNotFound
}

func (s *Store) ListModels(_ context.Context, providerID *uuid.UUID) ([]store.LLMModel, error) {
	defer s.lock()()
	return values(s.st, s.st.models, func(m store.LLMModel) bool {
		return providerID == nil || m.ProviderID == *providerID
	}), nil
}

func (s *Store) UpdateModel(_ context.Context, m store.LLMModel) (store.LLMModel, error) {
	defer s.lock()()
	existing, ok := s.st.models[m.ID]
	if !ok {
		return store.LLMModel{}, store.ErrNotFound
	}
	m.ProviderID = existing.ProviderID
	m.CreatedAt = existing.CreatedAt
	s.st.models[m.ID] = m
	return m, nil
}

func (s *Store) DeleteModel(_ context.Context, id uuid.UUID) error {
	defer s.lock()()
	if _, ok := s.st.models[id]; !ok {
		return store.ErrNotFound
	}
	for _, c := range s.st.llmConfigs {
		if c.PrimaryModelID == id || (c.FallbackModelID != nil && *c.FallbackModelID == id) {
			return store.ErrConflict
		}
	}
	delete(s.st.models, id)
	return nil
}

func (s *Store) CreateLLMConfig(_ context.Context, c store.LLMConfig) (store.LLMConfig, error) {
	defer s.lock()()
	if _, ok := s.st.tenants[c.TenantID]; !ok {
		return store.LLMConfig{}, store.ErrNotFound
	}
	if _, ok := s.st.models[c.PrimaryModelID]; !ok {
		return store.LLMConfig{}, store.ErrNotFound
	}
	c.ID = newID(c.ID)
	now := s.now()
	c.CreatedAt = stamp(c.CreatedAt, now)
	c.UpdatedAt = now
	s.st.llmConfigs[c.ID] = c
	s.st.track(c.ID)
	return c, nil
}

func (s *Store) GetLLMConfig(_ context.Context, tenantID, id uuid.UUID) (store.LLMConfig, error) {
	defer s.lock()()
	c, ok := s.st.llmConfigs[id]
	if !ok || c.TenantID != tenantID {
		return store.LLMConfig{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListLLMConfigs(_ context.Context, tenantID uuid.UUID) ([]store.LLMConfig, error) {
	defer s.lock()()
	return values(s.st, s.st.llmConfigs, func(c store.LLMConfig) bool { return c.TenantID == tenantID }), nil
}

func (s *Store) UpdateLLMConfig(_ context.Context, c store.LLMConfig) (store.LLMConfig, error) {
	defer s.lock()()
	existing, ok := s.st.llmConfigs[c.ID]
	if !ok || existing.TenantID != c.TenantID {
		return store.LLMConfig{}, store.ErrNotFound
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.now()
	s.st.llmConfigs[c.ID] = c
	return c, nil
}

func (s *Store) DeleteLLMConfig(_ context.Context, tenantID, id uuid.UUID) error {
	defer s.lock()()
	c, ok := s.st.llmConfigs[id]
	if !ok || c.TenantID != tenantID {
		return store.ErrNotFound
	}
	for tid, t := range s.st.tenants {
		if t.DefaultLLMConfigID != nil && *t.DefaultLLMConfigID == id {
			t.DefaultLLMConfigID = nil
			s.st.tenants[tid] = t
		}
	}
	for aid, a := range s.st.agents {
		if a.LLMConfigID != nil && *a.LLMConfigID == id {
			a.LLMConfigID = nil
			s.st.agents[aid] = a
		}
	}
	delete(s.st.llmConfigs, id)
	return nil
}
