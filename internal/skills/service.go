// Package skills manages per-tenant skill configuration and dispatches skill
// calls to the tenant's skill runtime.
package skills

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
)

type Service struct {
	store   store.Store
	catalog *Catalog
	logger  *slog.Logger
}

func NewService(log *slog.Logger, st store.Store, catalog *Catalog) *Service {
	return &Service{
		store:   st,
		catalog: catalog,
		logger:  log.With(slog.String("service", "skills")),
	}
}

func (s *Service) Catalog() []CatalogEntry {
	return s.catalog.List()
}

func (s *Service) CreateConfig(ctx context.Context, tenantID uuid.UUID, req CreateConfigRequest) (store.SkillConfig, error) {
	name := strings.TrimSpace(req.SkillName)
	if name == "" {
		return store.SkillConfig{}, failure.New(failure.Validation, "skill_name is required")
	}
	c := store.SkillConfig{
		TenantID:    tenantID,
		SkillName:   name,
		Enabled:     true,
		LLMConfigID: req.LLMConfigID,
	}
	if entry, ok := s.catalog.Lookup(name); ok {
		c.RequiresApproval = entry.RequiresApproval
		c.RateLimitMaxCalls = entry.RateLimit.MaxCalls
		c.RateLimitWindowSeconds = entry.RateLimit.WindowSeconds
		c.AllowedScopes = slices.Clone(entry.DefaultScopes)
		c.CredentialKeys = slices.Clone(entry.CredentialKeys)
	}
	if req.Enabled != nil {
		c.Enabled = *req.Enabled
	}
	if req.RequiresApproval != nil {
		c.RequiresApproval = *req.RequiresApproval
	}
	if req.RateLimit != nil {
		c.RateLimitMaxCalls = req.RateLimit.MaxCalls
		c.RateLimitWindowSeconds = req.RateLimit.WindowSeconds
	}
	if req.AllowedScopes != nil {
		c.AllowedScopes = clean(req.AllowedScopes)
	}
	if req.CredentialKeys != nil {
		c.CredentialKeys = clean(req.CredentialKeys)
	}
	if err := s.validate(ctx, c); err != nil {
		return store.SkillConfig{}, err
	}
	out, err := s.store.CreateSkillConfig(ctx, c)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.SkillConfig{}, failure.New(failure.Conflict, "skill %s is already configured", name)
		}
		return store.SkillConfig{}, failure.Wrap(failure.Internal, err, "create skill config")
	}
	s.logger.Info("skill configured", slog.String("tenant_id", tenantID.String()), slog.String("skill", name))
	return out, nil
}

func (s *Service) GetConfig(ctx context.Context, tenantID, id uuid.UUID) (store.SkillConfig, error) {
	c, err := s.store.GetSkillConfig(ctx, tenantID, id)
	if err != nil {
		return store.SkillConfig{}, notFound(err, "skill config")
	}
	return c, nil
}

func (s *Service) ListConfigs(ctx context.Context, tenantID uuid.UUID) ([]store.SkillConfig, error) {
	rows, err := s.store.ListSkillConfigs(ctx, tenantID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list skill configs")
	}
	return rows, nil
}

func (s *Service) UpdateConfig(ctx context.Context, tenantID, id uuid.UUID, req UpdateConfigRequest) (store.SkillConfig, error) {
	c, err := s.GetConfig(ctx, tenantID, id)
	if err != nil {
		return store.SkillConfig{}, err
	}
	if req.Enabled != nil {
		c.Enabled = *req.Enabled
	}
	if req.RequiresApproval != nil {
		c.RequiresApproval = *req.RequiresApproval
	}
	if req.RateLimit != nil {
		c.RateLimitMaxCalls = req.RateLimit.MaxCalls
		c.RateLimitWindowSeconds = req.RateLimit.WindowSeconds
	}
	if req.AllowedScopes != nil {
		c.AllowedScopes = clean(req.AllowedScopes)
	}
	if req.CredentialKeys != nil {
		c.CredentialKeys = clean(req.CredentialKeys)
	}
	if req.ClearLLMConfig {
		c.LLMConfigID = nil
	} else if req.LLMConfigID != nil {
		c.LLMConfigID = req.LLMConfigID
	}
	if err := s.validate(ctx, c); err != nil {
		return store.SkillConfig{}, err
	}
	out, err := s.store.UpdateSkillConfig(ctx, c)
	if err != nil {
		return store.SkillConfig{}, notFound(err, "skill config")
	}
	return out, nil
}

func (s *Service) DeleteConfig(ctx context.Context, tenantID, id uuid.UUID) error {
	if err := s.store.DeleteSkillConfig(ctx, tenantID, id); err != nil {
		return notFound(err, "skill config")
	}
	return nil
}

func (s *Service) validate(ctx context.Context, c store.SkillConfig) error {
	if c.RateLimitMaxCalls < 0 {
		return failure.New(failure.Validation, "rate_limit.max_calls must not be negative")
	}
	if c.RateLimitMaxCalls > 0 && c.RateLimitWindowSeconds <= 0 {
		return failure.New(failure.Validation, "rate_limit.window_seconds must be positive")
	}
	if c.LLMConfigID != nil {
		if _, err := s.store.GetLLMConfig(ctx, c.TenantID, *c.LLMConfigID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return failure.New(failure.Validation, "llm_config_id does not exist")
			}
			return failure.Wrap(failure.Internal, err, "load llm config")
		}
	}
	return nil
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return failure.New(failure.NotFound, "%s not found", what)
	}
	return failure.Wrap(failure.Internal, err, "load %s", what)
}
