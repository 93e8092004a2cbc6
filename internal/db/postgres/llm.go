package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

const providerColumns = `id, name, client_type, base_url, is_active, metadata, created_at`

func scanProvider(row pgx.Row) (store.LLMProvider, error) {
	var p store.LLMProvider
	err := row.Scan(&p.ID, &p.Name, &p.ClientType, &p.BaseURL, &p.IsActive, &p.Metadata, &p.CreatedAt)
	return p, err
}

func (s *Store) CreateProvider(ctx context.Context, p store.LLMProvider) (store.LLMProvider, error) {
	return one(s.q.QueryRow(ctx,
		`INSERT INTO llm_providers (id, name, client_type, base_url, is_active, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+providerColumns,
		newID(p.ID), p.Name, p.ClientType, p.BaseURL, p.IsActive, p.Metadata,
	), scanProvider)
}

func (s *Store) GetProvider(ctx context.Context, id uuid.UUID) (store.LLMProvider, error) {
	return one(s.q.QueryRow(ctx, `SELECT `+providerColumns+` FROM llm_providers WHERE id = $1`, id), scanProvider)
}

func (s *Store) ListProviders(ctx context.Context) ([]store.LLMProvider, error) {
	rows, err := s.q.Query(ctx, `SELECT `+providerColumns+` FROM llm_providers ORDER BY name`)
	return collect(rows, err, scanProvider)
}

func (s *Store) UpdateProvider(ctx context.Context, p store.LLMProvider) (store.LLMProvider, error) {
	return one(s.q.QueryRow(ctx,
		`UPDATE llm_providers SET name = $2, client_type = $3, base_url = $4, is_active = $5, metadata = $6
		 WHERE id = $1
		 RETURNING `+providerColumns,
		p.ID, p.Name, p.ClientType, p.BaseURL, p.IsActive, p.Metadata,
	), scanProvider)
}

func (s *Store) DeleteProvider(ctx context.Context, id uuid.UUID) error {
	return expectOne(s.q.Exec(ctx, `DELETE FROM llm_providers WHERE id = $1`, id))
}

const modelColumns = `id, provider_id, model_id, name, size_category, quality_tier, input_cost_per_1k,
	output_cost_per_1k, context_window, is_active, created_at`

func scanModel(row pgx.Row) (store.LLMModel, error) {
	var m store.LLMModel
	err := row.Scan(&m.ID, &m.ProviderID, &m.ModelID, &m.Name, &m.SizeCategory, &m.QualityTier,
		&m.InputCostPer1K, &m.OutputCostPer1K, &m.ContextWindow, &m.IsActive, &m.CreatedAt)
	return m, err
}

func (s *Store) CreateModel(ctx context.Context, m store.LLMModel) (store.LLMModel, error) {
	return one(s.q.QueryRow(ctx,
		`INSERT INTO llm_models (id, provider_id, model_id, name, size_category, quality_tier, input_cost_per_1k,
			output_cost_per_1k, context_window, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+modelColumns,
		newID(m.ID), m.ProviderID, m.ModelID, m.Name, m.SizeCategory, m.QualityTier, m.InputCostPer1K,
		m.OutputCostPer1K, m.ContextWindow, m.IsActive,
	), scanModel)
}

func (s *Store) GetModel(ctx context.Context, id uuid.UUID) (store.LLMModel, error) {
	return one(s.q.QueryRow(ctx, `SELECT `+modelColumns+` FROM llm_models WHERE id = $1`, id), scanModel)
}

func (s *Store) GetModelByModelID(ctx context.Context, providerID uuid.UUID, modelID string) (store.LLMModel, error) {
	return one(s.q.QueryRow(ctx,
		`SELECT `+modelColumns+` FROM llm_models WHERE provider_id = $1 AND model_id = $2`, providerID, modelID),
		scanModel)
}

func (s *Store) ListModels(ctx context.Context, providerID *uuid.UUID) ([]store.LLMModel, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+modelColumns+` FROM llm_models WHERE ($1::uuid IS NULL OR provider_id = $1)
		 ORDER BY created_at, id`, providerID)
	return collect(rows, err, scanModel)
}

func (s *Store) UpdateModel(ctx context.Context, m store.LLMModel) (store.LLMModel, error) {
	return one(s.q.QueryRow(ctx,
		`UPDATE llm_models SET model_id = $2, name = $3, size_category = $4, quality_tier = $5,
			input_cost_per_1k = $6, output_cost_per_1k = $7, context_window = $8, is_active = $9
		 WHERE id = $1
		 RETURNING `+modelColumns,
		m.ID, m.ModelID, m.Name, m.SizeCategory, m.QualityTier, m.InputCostPer1K, m.OutputCostPer1K,
		m.ContextWindow, m.IsActive,
	), scanModel)
}

func (s *Store) DeleteModel(ctx context.Context, id uuid.UUID) error {
	return expectOne(s.q.Exec(ctx, `DELETE FROM llm_models WHERE id = $1`, id))
}

const llmConfigColumns = `id, tenant_id, name, primary_model_id, fallback_model_id, use_platform_key,
	api_key_encrypted, temperature, max_tokens, routing_rules, budget_limit_daily, budget_limit_monthly,
	created_at, updated_at`

func scanLLMConfig(row pgx.Row) (store.LLMConfig, error) {
	var c store.LLMConfig
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.PrimaryModelID, &c.FallbackModelID, &c.UsePlatformKey,
		&c.APIKeyEncrypted, &c.Temperature, &c.MaxTokens, &c.RoutingRules, &c.BudgetLimitDaily,
		&c.BudgetLimitMonthly, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func rulesOrEmpty(rules []store.RoutingRule) []store.RoutingRule {
	if rules == nil {
		return []store.RoutingRule{}
	}
	return rules
}

func (s *Store) CreateLLMConfig(ctx context.Context, c store.LLMConfig) (store.LLMConfig, error) {
	return one(s.q.QueryRow(ctx,
		`INSERT INTO llm_configs (id, tenant_id, name, primary_model_id, fallback_model_id, use_platform_key,
			api_key_encrypted, temperature, max_tokens, routing_rules, budget_limit_daily, budget_limit_monthly)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING `+llmConfigColumns,
		newID(c.ID), c.TenantID, c.Name, c.PrimaryModelID, c.FallbackModelID, c.UsePlatformKey,
		c.APIKeyEncrypted, c.Temperature, c.MaxTokens, rulesOrEmpty(c.RoutingRules), c.BudgetLimitDaily,
		c.BudgetLimitMonthly,
	), scanLLMConfig)
}

func (s *Store) GetLLMConfig(ctx context.Context, tenantID, id uuid.UUID) (store.LLMConfig, error) {
	return one(s.q.QueryRow(ctx,
		`SELECT `+llmConfigColumns+` FROM llm_configs WHERE tenant_id = $1 AND id = $2`, tenantID, id),
		scanLLMConfig)
}

func (s *Store) ListLLMConfigs(ctx context.Context, tenantID uuid.UUID) ([]store.LLMConfig, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+llmConfigColumns+` FROM llm_configs WHERE tenant_id = $1 ORDER BY created_at, id`, tenantID)
	return collect(rows, err, scanLLMConfig)
}

func (s *Store) UpdateLLMConfig(ctx context.Context, c store.LLMConfig) (store.LLMConfig, error) {
	return one(s.q.QueryRow(ctx,
		`UPDATE llm_configs SET name = $3, primary_model_id = $4, fallback_model_id = $5, use_platform_key = $6,
			api_key_encrypted = $7, temperature = $8, max_tokens = $9, routing_rules = $10,
			budget_limit_daily = $11, budget_limit_monthly = $12, updated_at = now()
		 WHERE tenant_id = $1 AND id = $2
		 RETURNING `+llmConfigColumns,
		c.TenantID, c.ID, c.Name, c.PrimaryModelID, c.FallbackModelID, c.UsePlatformKey,
		c.APIKeyEncrypted, c.Temperature, c.MaxTokens, rulesOrEmpty(c.RoutingRules), c.BudgetLimitDaily,
		c.BudgetLimitMonthly,
	), scanLLMConfig)
}

func (s *Store) DeleteLLMConfig(ctx context.Context, tenantID, id uuid.UUID) error {
	return expectOne(s.q.Exec(ctx, `DELETE FROM llm_configs WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}
