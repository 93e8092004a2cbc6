package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

func (s *Store) CreateTenant(_ context.Context, t store.Tenant) (store.Tenant, error) {
	defer s.lock()()
	for _, existing := range s.st.tenants {
		if existing.Slug == t.Slug {
			return store.Tenant{}, store.ErrDuplicate
		}
	}
	t.ID = newID(t.ID)
	t.CreatedAt = stamp(t.CreatedAt, s.now())
	s.st.tenants[t.ID] = t
	s.st.track(t.ID)
	return t, nil
}

func (s *Store) GetTenant(_ context.Context, id uuid.UUID) (store.Tenant, error) {
	defer s.lock()()
	t, ok := s.st.tenants[id]
	if !ok {
		return store.Tenant{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) SetTenantDefaultLLMConfig(_ context.Context, tenantID uuid.UUID, configID *uuid.UUID) error {
	defer s.lock()()
	t, ok := s.st.tenants[tenantID]
	if !ok {
		return store.ErrNotFound
	}
	if configID != nil {
		cfg, ok := s.st.llmConfigs[*configID]
		if !ok || cfg.TenantID != tenantID {
			return store.ErrNotFound
		}
	}
	t.DefaultLLMConfigID = configID
	s.st.tenants[tenantID] = t
	return nil
}

func (s *Store) CreateUser(_ context.Context, u store.User) (store.User, error) {
	defer s.lock()()
	if _, ok := s.st.tenants[u.TenantID]; !ok {
		return store.User{}, store.ErrNotFound
	}
	for _, existing := range s.st.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return store.User{}, store.ErrDuplicate
		}
	}
	u.ID = newID(u.ID)
	u.CreatedAt = stamp(u.CreatedAt, s.now())
	s.st.users[u.ID] = u
	s.st.track(u.ID)
	return u, nil
}

func (s *Store) GetUserByID(_ context.Context, id uuid.UUID) (store.User, error) {
	defer s.lock()()
	u, ok := s.st.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	defer s.lock()()
	for _, u := range s.st.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context, tenantID uuid.UUID) ([]store.User, error) {
	defer s.lock()()
	return values(s.st, s.st.users, func(u store.User) bool { return u.TenantID == tenantID }), nil
}

func (s *Store) SetUserActive(_ context.Context, tenantID, userID uuid.UUID, active bool) (store.User, error) {
	defer s.lock()()
	u, ok := s.st.users[userID]
	if !ok || u.TenantID != tenantID {
		return store.User{}, store.ErrNotFound
	}
	u.IsActive = active
	s.st.users[userID] = u
	return u, nil
}
