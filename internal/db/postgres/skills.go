package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

const skillConfigColumns = `id, tenant_id, skill_name, enabled, requires_approval, rate_limit_max_calls,
	rate_limit_window_seconds, allowed_scopes, credential_keys, llm_config_id, created_at, updated_at`

func scanSkillConfig(row pgx.Row) (store.SkillConfig, error) {
	var c store.SkillConfig
	err := row.Scan(&c.ID, &c.TenantID, &c.SkillName, &c.Enabled, &c.RequiresApproval, &c.RateLimitMaxCalls,
		&c.RateLimitWindowSeconds, &c.AllowedScopes, &c.CredentialKeys, &c.LLMConfigID, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) CreateSkillConfig(ctx context.Context, c store.SkillConfig) (store.SkillConfig, error) {
	return one(s.q.QueryRow(ctx,
		`INSERT INTO skill_configs (id, tenant_id, skill_name, enabled, requires_approval, rate_limit_max_calls,
			rate_limit_window_seconds, allowed_scopes, credential_keys, llm_config_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+skillConfigColumns,
		newID(c.ID), c.TenantID, c.SkillName, c.Enabled, c.RequiresApproval, c.RateLimitMaxCalls,
		c.RateLimitWindowSeconds, stringsOrEmpty(c.AllowedScopes), stringsOrEmpty(c.CredentialKeys), c.LLMConfigID,
	), scanSkillConfig)
}

func (s *Store) GetSkillConfig(ctx context.Context, tenantID, id uuid.UUID) (store.SkillConfig, error) {
	return one(s.q.QueryRow(ctx,
		`SELECT `+skillConfigColumns+` FROM skill_configs WHERE tenant_id = $1 AND id = $2`, tenantID, id),
		scanSkillConfig)
}

func (s *Store) LookupSkillConfig(ctx context.Context, id uuid.UUID) (store.SkillConfig, error) {
	return one(s.q.QueryRow(ctx, `SELECT `+skillConfigColumns+` FROM skill_configs WHERE id = $1`, id),
		scanSkillConfig)
}

func (s *Store) GetSkillConfigByName(ctx context.Context, tenantID uuid.UUID, skillName string) (store.SkillConfig, error) {
	return one(s.q.QueryRow(ctx,
		`SELECT `+skillConfigColumns+` FROM skill_configs WHERE tenant_id = $1 AND skill_name = $2`,
		tenantID, skillName), scanSkillConfig)
}

func (s *Store) ListSkillConfigs(ctx context.Context, tenantID uuid.UUID) ([]store.SkillConfig, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+skillConfigColumns+` FROM skill_configs WHERE tenant_id = $1 ORDER BY skill_name`, tenantID)
	return collect(rows, err, scanSkillConfig)
}

func (s *Store) UpdateSkillConfig(ctx context.Context, c store.SkillConfig) (store.SkillConfig, error) {
	return one(s.q.QueryRow(ctx,
		`UPDATE skill_configs SET enabled = $3, requires_approval = $4, rate_limit_max_calls = $5,
			rate_limit_window_seconds = $6, allowed_scopes = $7, credential_keys = $8, llm_config_id = $9,
			updated_at = now()
		 WHERE tenant_id = $1 AND id = $2
		 RETURNING `+skillConfigColumns,
		c.TenantID, c.ID, c.Enabled, c.RequiresApproval, c.RateLimitMaxCalls, c.RateLimitWindowSeconds,
		stringsOrEmpty(c.AllowedScopes), stringsOrEmpty(c.CredentialKeys), c.LLMConfigID,
	), scanSkillConfig)
}

func (s *Store) DeleteSkillConfig(ctx context.Context, tenantID, id uuid.UUID) error {
	return expectOne(s.q.Exec(ctx, `DELETE FROM skill_configs WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

// ReserveSkillCall serialises reservations per (tenant, skill) with a
// transaction-scoped advisory lock, then counts and inserts.
func (s *Store) ReserveSkillCall(ctx context.Context, e store.SkillExecution, since time.Time, max int) (store.SkillExecution, error) {
	var out store.SkillExecution
	err := s.InTx(ctx, func(tx store.Store) error {
		q := tx.(*Store).q
		if _, err := q.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			e.TenantID.String()+"/"+e.SkillName); err != nil {
			return mapError(err)
		}
		if max > 0 {
			var n int
			if err := q.QueryRow(ctx,
				`SELECT COUNT(*) FROM skill_executions WHERE tenant_id = $1 AND skill_name = $2 AND created_at > $3`,
				e.TenantID, e.SkillName, since).Scan(&n); err != nil {
				return mapError(err)
			}
			if n >= max {
				return store.ErrLimitReached
			}
		}
		var err error
		out, err = one(q.QueryRow(ctx,
			`INSERT INTO skill_executions (id, tenant_id, skill_name, task_id, agent_id)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, tenant_id, skill_name, task_id, agent_id, created_at`,
			newID(e.ID), e.TenantID, e.SkillName, e.TaskID, e.AgentID,
		), func(row pgx.Row) (store.SkillExecution, error) {
			var x store.SkillExecution
			err := row.Scan(&x.ID, &x.TenantID, &x.SkillName, &x.TaskID, &x.AgentID, &x.CreatedAt)
			return x, err
		})
		return err
	})
	return out, err
}

func (s *Store) ReleaseSkillCall(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM skill_executions WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountSkillCalls(ctx context.Context, tenantID uuid.UUID, skillName string, since time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM skill_executions WHERE tenant_id = $1 AND skill_name = $2 AND created_at > $3`,
		tenantID, skillName, since).Scan(&n)
	return n, mapError(err)
}

const credentialColumns = `id, tenant_id, skill_config_id, credential_key, encrypted_value, credential_type,
	status, expires_at, last_used_at, created_at`

func scanCredential(row pgx.Row) (store.SkillCredential, error) {
	var c store.SkillCredential
	err := row.Scan(&c.ID, &c.TenantID, &c.SkillConfigID, &c.CredentialKey, &c.EncryptedValue, &c.CredentialType,
		&c.Status, &c.ExpiresAt, &c.LastUsedAt, &c.CreatedAt)
	return c, err
}

func (s *Store) CreateCredential(ctx context.Context, c store.SkillCredential) (store.SkillCredential, error) {
	return one(s.q.QueryRow(ctx,
		`INSERT INTO skill_credentials (id, tenant_id, skill_config_id, credential_key, encrypted_value,
			credential_type, status, expires_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8
		 WHERE EXISTS (SELECT 1 FROM skill_configs WHERE id = $3 AND tenant_id = $2)
		 RETURNING `+credentialColumns,
		newID(c.ID), c.TenantID, c.SkillConfigID, c.CredentialKey, c.EncryptedValue,
		c.CredentialType, c.Status, c.ExpiresAt,
	), scanCredential)
}

func (s *Store) LookupCredential(ctx context.Context, id uuid.UUID) (store.SkillCredential, error) {
	return one(s.q.QueryRow(ctx, `SELECT `+credentialColumns+` FROM skill_credentials WHERE id = $1`, id),
		scanCredential)
}

func (s *Store) GetLatestCredential(ctx context.Context, tenantID, skillConfigID uuid.UUID, key string) (store.SkillCredential, error) {
	return one(s.q.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM skill_credentials
		 WHERE tenant_id = $1 AND skill_config_id = $2 AND credential_key = $3 AND status <> 'revoked'
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, tenantID, skillConfigID, key), scanCredential)
}

func (s *Store) ListCredentials(ctx context.Context, tenantID, skillConfigID uuid.UUID) ([]store.SkillCredential, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+credentialColumns+` FROM skill_credentials
		 WHERE tenant_id = $1 AND skill_config_id = $2 ORDER BY created_at, id`, tenantID, skillConfigID)
	return collect(rows, err, scanCredential)
}

func (s *Store) SetCredentialStatus(ctx context.Context, id uuid.UUID, status store.CredentialStatus) error {
	return expectOne(s.q.Exec(ctx, `UPDATE skill_credentials SET status = $2 WHERE id = $1`, id, status))
}

func (s *Store) TouchCredential(ctx context.Context, id uuid.UUID, at time.Time) error {
	return expectOne(s.q.Exec(ctx, `UPDATE skill_credentials SET last_used_at = $2 WHERE id = $1`, id, at))
}

const instanceColumns = `id, tenant_id, instance_type, status, internal_url, health, resource_config,
	created_at, updated_at`

func scanInstance(row pgx.Row) (store.TenantInstance, error) {
	var i store.TenantInstance
	err := row.Scan(&i.ID, &i.TenantID, &i.InstanceType, &i.Status, &i.InternalURL, &i.Health,
		&i.ResourceConfig, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

func (s *Store) CreateInstance(ctx context.Context, i store.TenantInstance) (store.TenantInstance, error) {
	return one(s.q.QueryRow(ctx,
		`INSERT INTO tenant_instances (id, tenant_id, instance_type, status, internal_url, health, resource_config)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+instanceColumns,
		newID(i.ID), i.TenantID, i.InstanceType, i.Status, i.InternalURL, i.Health, i.ResourceConfig,
	), scanInstance)
}

func (s *Store) GetInstance(ctx context.Context, tenantID, id uuid.UUID) (store.TenantInstance, error) {
	return one(s.q.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM tenant_instances WHERE tenant_id = $1 AND id = $2`, tenantID, id),
		scanInstance)
}

func (s *Store) ListInstances(ctx context.Context, tenantID uuid.UUID) ([]store.TenantInstance, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+instanceColumns+` FROM tenant_instances WHERE tenant_id = $1 ORDER BY created_at, id`, tenantID)
	return collect(rows, err, scanInstance)
}

func (s *Store) ListAllInstances(ctx context.Context) ([]store.TenantInstance, error) {
	rows, err := s.q.Query(ctx, `SELECT `+instanceColumns+` FROM tenant_instances ORDER BY created_at, id`)
	return collect(rows, err, scanInstance)
}

func (s *Store) SetInstanceStatus(ctx context.Context, tenantID, id uuid.UUID, status store.InstanceStatus) (store.TenantInstance, error) {
	return one(s.q.QueryRow(ctx,
		`UPDATE tenant_instances SET status = $3, updated_at = now()
		 WHERE tenant_id = $1 AND id = $2
		 RETURNING `+instanceColumns, tenantID, id, status), scanInstance)
}

func (s *Store) SetInstanceHealth(ctx context.Context, id uuid.UUID, h store.InstanceHealth) error {
	return expectOne(s.q.Exec(ctx,
		`UPDATE tenant_instances SET health = $2, updated_at = now() WHERE id = $1`, id, h))
}
