package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

func newID(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}

const tenantColumns = `id, name, slug, default_llm_config_id, created_at`

func scanTenant(row pgx.Row) (store.Tenant, error) {
	var t store.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.DefaultLLMConfigID, &t.CreatedAt)
	return t, err
}

func (s *Store) CreateTenant(ctx context.Context, t store.Tenant) (store.Tenant, error) {
	return one(s.q.QueryRow(ctx,
		`INSERT INTO tenants (id, name, slug, default_llm_config_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+tenantColumns,
		newID(t.ID), t.Name, t.Slug, t.DefaultLLMConfigID,
	), scanTenant)
}

func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (store.Tenant, error) {
	return one(s.q.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id), scanTenant)
}

func (s *Store) SetTenantDefaultLLMConfig(ctx context.Context, tenantID uuid.UUID, configID *uuid.UUID) error {
	if configID != nil {
		var owned bool
		err := s.q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM llm_configs WHERE id = $1 AND tenant_id = $2)`,
			*configID, tenantID,
		).Scan(&owned)
		if err != nil {
			return mapError(err)
		}
		if !owned {
			return store.ErrNotFound
		}
	}
	return expectOne(s.q.Exec(ctx,
		`UPDATE tenants SET default_llm_config_id = $2 WHERE id = $1`, tenantID, configID))
}

const userColumns = `id, tenant_id, email, full_name, hashed_password, is_active, is_superuser, created_at`

func scanUser(row pgx.Row) (store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.FullName, &u.HashedPassword, &u.IsActive, &u.IsSuperuser, &u.CreatedAt)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, u store.User) (store.User, error) {
	return one(s.q.QueryRow(ctx,
		`INSERT INTO users (id, tenant_id, email, full_name, hashed_password, is_active, is_superuser)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+userColumns,
		newID(u.ID), u.TenantID, u.Email, u.FullName, u.HashedPassword, u.IsActive, u.IsSuperuser,
	), scanUser)
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (store.User, error) {
	return one(s.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id), scanUser)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	return one(s.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email), scanUser)
}

func (s *Store) ListUsers(ctx context.Context, tenantID uuid.UUID) ([]store.User, error) {
	rows, err := s.q.Query(ctx, `SELECT `+userColumns+` FROM users WHERE tenant_id = $1 ORDER BY created_at, id`, tenantID)
	return collect(rows, err, scanUser)
}

func (s *Store) SetUserActive(ctx context.Context, tenantID, userID uuid.UUID, active bool) (store.User, error) {
	return one(s.q.QueryRow(ctx,
		`UPDATE users SET is_active = $3 WHERE id = $2 AND tenant_id = $1 RETURNING `+userColumns,
		tenantID, userID, active,
	), scanUser)
}
