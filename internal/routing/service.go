// Package routing owns tenant LLM configs and resolves which provider,
// model and key a piece of work should use.
package routing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
)

// KeySealer seals tenant API keys at rest.
type KeySealer interface {
	SealAPIKey(tenantID uuid.UUID, plaintext string) (string, error)
	OpenAPIKey(tenantID uuid.UUID, sealed string) (string, error)
}

type Service struct {
	store  store.Store
	keys   KeySealer
	llm    config.LLMConfig
	now    func() time.Time
	logger *slog.Logger
}

func NewService(log *slog.Logger, st store.Store, keys KeySealer, cfg config.Config) *Service {
	return &Service{
		store:  st,
		keys:   keys,
		llm:    cfg.LLM,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.With(slog.String("service", "routing")),
	}
}

func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, req ConfigRequest) (ConfigResponse, error) {
	c := store.LLMConfig{
		TenantID:       tenantID,
		UsePlatformKey: true,
		Temperature:    s.llm.DefaultTemperature,
		MaxTokens:      s.llm.DefaultMaxTokens,
	}
	if err := s.apply(ctx, &c, req); err != nil {
		return ConfigResponse{}, err
	}
	created, err := s.store.CreateLLMConfig(ctx, c)
	if err != nil {
		return ConfigResponse{}, failure.Wrap(failure.Internal, err, "create llm config")
	}
	return toResponse(created), nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (ConfigResponse, error) {
	c, err := s.store.GetLLMConfig(ctx, tenantID, id)
	if err != nil {
		return ConfigResponse{}, notFound(err, "llm config")
	}
	return toResponse(c), nil
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]ConfigResponse, error) {
	rows, err := s.store.ListLLMConfigs(ctx, tenantID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list llm configs")
	}
	out := make([]ConfigResponse, 0, len(rows))
	for _, c := range rows {
		out = append(out, toResponse(c))
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, tenantID, id uuid.UUID, req ConfigRequest) (ConfigResponse, error) {
	c, err := s.store.GetLLMConfig(ctx, tenantID, id)
	if err != nil {
		return ConfigResponse{}, notFound(err, "llm config")
	}
	if err := s.apply(ctx, &c, req); err != nil {
		return ConfigResponse{}, err
	}
	updated, err := s.store.UpdateLLMConfig(ctx, c)
	if err != nil {
		return ConfigResponse{}, notFound(err, "llm config")
	}
	return toResponse(updated), nil
}

func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	if err := s.store.DeleteLLMConfig(ctx, tenantID, id); err != nil {
		return notFound(err, "llm config")
	}
	return nil
}

// SetTenantDefault points the tenant's default at one of its configs, or
// clears it when configID is nil.
func (s *Service) SetTenantDefault(ctx context.Context, tenantID uuid.UUID, configID *uuid.UUID) (store.Tenant, error) {
	if configID != nil {
		if _, err := s.store.GetLLMConfig(ctx, tenantID, *configID); err != nil {
			return store.Tenant{}, notFound(err, "llm config")
		}
	}
	if err := s.store.SetTenantDefaultLLMConfig(ctx, tenantID, configID); err != nil {
		return store.Tenant{}, failure.Wrap(failure.Internal, err, "set default llm config")
	}
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return store.Tenant{}, failure.Wrap(failure.Internal, err, "load tenant")
	}
	return tenant, nil
}

func (s *Service) apply(ctx context.Context, c *store.LLMConfig, req ConfigRequest) error {
	if req.Name != "" {
		c.Name = strings.TrimSpace(req.Name)
	}
	if req.PrimaryModelID == uuid.Nil {
		return failure.New(failure.Validation, "primary_model_id is required")
	}
	if err := s.requireModel(ctx, req.PrimaryModelID); err != nil {
		return err
	}
	c.PrimaryModelID = req.PrimaryModelID
	if req.FallbackModelID != nil {
		if err := s.requireModel(ctx, *req.FallbackModelID); err != nil {
			return err
		}
	}
	c.FallbackModelID = req.FallbackModelID
	if req.UsePlatformKey != nil {
		c.UsePlatformKey = *req.UsePlatformKey
	}
	if req.APIKey != nil {
		if *req.APIKey == "" {
			c.APIKeyEncrypted = ""
		} else {
			sealed, err := s.keys.SealAPIKey(c.TenantID, *req.APIKey)
			if err != nil {
				return err
			}
			c.APIKeyEncrypted = sealed
		}
	}
	if !c.UsePlatformKey && c.APIKeyEncrypted == "" {
		return failure.New(failure.Validation, "api_key is required when use_platform_key is false")
	}
	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > 2 {
			return failure.New(failure.Validation, "temperature must be within [0, 2]")
		}
		c.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		if *req.MaxTokens <= 0 {
			return failure.New(failure.Validation, "max_tokens must be positive")
		}
		c.MaxTokens = *req.MaxTokens
	}
	if req.RoutingRules != nil {
		for i, rule := range req.RoutingRules {
			if rule.ModelID == uuid.Nil {
				return failure.New(failure.Validation, "routing_rules[%d].model_id is required", i)
			}
			if err := s.requireModel(ctx, rule.ModelID); err != nil {
				return err
			}
		}
		c.RoutingRules = req.RoutingRules
	}
	for _, limit := range []*float64{req.BudgetLimitDaily, req.BudgetLimitMonthly} {
		if limit != nil && *limit < 0 {
			return failure.New(failure.Validation, "budget limits must not be negative")
		}
	}
	c.BudgetLimitDaily = req.BudgetLimitDaily
	c.BudgetLimitMonthly = req.BudgetLimitMonthly
	return nil
}

func (s *Service) requireModel(ctx context.Context, id uuid.UUID) error {
	if _, err := s.store.GetModel(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failure.New(failure.Validation, "model %s does not exist", id)
		}
		return failure.Wrap(failure.Internal, err, "load model")
	}
	return nil
}

func toResponse(c store.LLMConfig) ConfigResponse {
	if c.RoutingRules == nil {
		c.RoutingRules = []store.RoutingRule{}
	}
	return ConfigResponse{LLMConfig: c, HasAPIKey: c.APIKeyEncrypted != ""}
}

func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return failure.New(failure.NotFound, "%s not found", what)
	}
	return failure.Wrap(failure.Internal, err, "load %s", what)
}
