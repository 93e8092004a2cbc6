package routing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
)

// Resolve picks the effective LLM config (agent, then tenant default, then
// platform default), applies routing rules and budget gates, and resolves
// the API key.
func (s *Service) Resolve(ctx context.Context, tenantID uuid.UUID, req ResolveRequest) (Resolved, error) {
	cfg, source, err := s.effectiveConfig(ctx, tenantID, req.AgentID)
	if err != nil {
		return Resolved{}, err
	}
	if cfg == nil {
		return s.platformDefault(ctx)
	}

	out := Resolved{
		ConfigID:    &cfg.ID,
		Source:      source,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	modelID := cfg.PrimaryModelID
	if idx, ok := matchRule(cfg.RoutingRules, req); ok {
		modelID = cfg.RoutingRules[idx].ModelID
		out.MatchedRule = &idx
	}
	model, err := s.loadModel(ctx, modelID)
	if err != nil {
		return Resolved{}, err
	}

	if over, details, err := s.overBudget(ctx, tenantID, *cfg); err != nil {
		return Resolved{}, err
	} else if over {
		fallback, ok, err := s.cheaperFallback(ctx, *cfg, model)
		if err != nil {
			return Resolved{}, err
		}
		if !ok {
			return Resolved{}, failure.New(failure.BudgetExceeded, "llm budget exceeded").WithDetails(details)
		}
		s.logger.Info("budget exceeded, using fallback model",
			slog.String("tenant_id", tenantID.String()),
			slog.String("model_id", fallback.ModelID))
		model = fallback
		out.UsedFallback = true
	}

	if !model.IsActive && !out.UsedFallback && cfg.FallbackModelID != nil {
		fallback, err := s.loadModel(ctx, *cfg.FallbackModelID)
		if err != nil {
			return Resolved{}, err
		}
		model = fallback
		out.UsedFallback = true
	}
	if !model.IsActive {
		return Resolved{}, failure.New(failure.LLMError, "model %s is not active", model.ModelID)
	}

	provider, err := s.store.GetProvider(ctx, model.ProviderID)
	if err != nil {
		return Resolved{}, notFound(err, "llm provider")
	}
	if !provider.IsActive {
		return Resolved{}, failure.New(failure.LLMError, "provider %s is not active", provider.Name)
	}
	out.Model = model
	out.Provider = provider

	if cfg.UsePlatformKey {
		out.APIKey, err = s.platformKey(provider)
	} else {
		out.APIKey, err = s.tenantKey(tenantID, *cfg)
	}
	if err != nil {
		return Resolved{}, err
	}
	return out, nil
}

func (s *Service) effectiveConfig(ctx context.Context, tenantID uuid.UUID, agentID *uuid.UUID) (*store.LLMConfig, Source, error) {
	if agentID != nil {
		agent, err := s.store.GetAgent(ctx, tenantID, *agentID)
		if err != nil {
			return nil, "", notFound(err, "agent")
		}
		if agent.LLMConfigID != nil {
			cfg, err := s.store.GetLLMConfig(ctx, tenantID, *agent.LLMConfigID)
			if err == nil {
				return &cfg, SourceAgent, nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, "", failure.Wrap(failure.Internal, err, "load agent llm config")
			}
		}
	}
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, "", notFound(err, "tenant")
	}
	if tenant.DefaultLLMConfigID != nil {
		cfg, err := s.store.GetLLMConfig(ctx, tenantID, *tenant.DefaultLLMConfigID)
		if err == nil {
			return &cfg, SourceTenant, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, "", failure.Wrap(failure.Internal, err, "load tenant llm config")
		}
	}
	return nil, SourcePlatform, nil
}

func (s *Service) platformDefault(ctx context.Context) (Resolved, error) {
	providers, err := s.store.ListProviders(ctx)
	if err != nil {
		return Resolved{}, failure.Wrap(failure.Internal, err, "list providers")
	}
	for _, p := range providers {
		if !strings.EqualFold(p.Name, s.llm.DefaultProvider) {
			continue
		}
		model, err := s.store.GetModelByModelID(ctx, p.ID, s.llm.DefaultModel)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}
			return Resolved{}, failure.Wrap(failure.Internal, err, "load default model")
		}
		key, err := s.platformKey(p)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{
			Source:      SourcePlatform,
			Provider:    p,
			Model:       model,
			Temperature: s.llm.DefaultTemperature,
			MaxTokens:   s.llm.DefaultMaxTokens,
			APIKey:      key,
		}, nil
	}
	return Resolved{}, failure.New(failure.NotFound, "no llm config and platform default %s/%s is not registered",
		s.llm.DefaultProvider, s.llm.DefaultModel)
}

// matchRule returns the first rule whose non-empty predicates all equal the
// request's values.
func matchRule(rules []store.RoutingRule, req ResolveRequest) (int, bool) {
	for i, rule := range rules {
		if rule.TaskType == "" && rule.SizeCategory == "" && rule.QualityTier == "" {
			continue
		}
		if rule.TaskType != "" && rule.TaskType != req.TaskType {
			continue
		}
		if rule.SizeCategory != "" && rule.SizeCategory != req.SizeCategory {
			continue
		}
		if rule.QualityTier != "" && rule.QualityTier != req.QualityTier {
			continue
		}
		return i, true
	}
	return 0, false
}

// overBudget compares spend since the start of the current UTC day and
// month against the config's limits.
func (s *Service) overBudget(ctx context.Context, tenantID uuid.UUID, cfg store.LLMConfig) (bool, map[string]any, error) {
	now := s.now()
	windows := []struct {
		name  string
		limit *float64
		since time.Time
	}{
		{"daily", cfg.BudgetLimitDaily, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)},
		{"monthly", cfg.BudgetLimitMonthly, time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, w := range windows {
		if w.limit == nil {
			continue
		}
		spent, err := s.store.SumTaskCost(ctx, tenantID, w.since)
		if err != nil {
			return false, nil, failure.Wrap(failure.Internal, err, "sum task cost")
		}
		if spent >= *w.limit {
			return true, map[string]any{"window": w.name, "limit": *w.limit, "spent": spent}, nil
		}
	}
	return false, nil, nil
}

func (s *Service) cheaperFallback(ctx context.Context, cfg store.LLMConfig, current store.LLMModel) (store.LLMModel, bool, error) {
	if cfg.FallbackModelID == nil {
		return store.LLMModel{}, false, nil
	}
	fallback, err := s.loadModel(ctx, *cfg.FallbackModelID)
	if err != nil {
		return store.LLMModel{}, false, err
	}
	if !fallback.IsActive || fallback.UnitCost() >= current.UnitCost() {
		return store.LLMModel{}, false, nil
	}
	return fallback, true, nil
}

func (s *Service) loadModel(ctx context.Context, id uuid.UUID) (store.LLMModel, error) {
	m, err := s.store.GetModel(ctx, id)
	if err != nil {
		return store.LLMModel{}, notFound(err, "llm model")
	}
	return m, nil
}

func (s *Service) platformKey(p store.LLMProvider) (string, error) {
	for _, name := range []string{p.Name, p.ClientType} {
		if key := s.llm.PlatformKeys[name]; key != "" {
			return key, nil
		}
	}
	return "", failure.New(failure.CredentialMissing, "no platform key configured for provider %s", p.Name)
}

func (s *Service) tenantKey(tenantID uuid.UUID, cfg store.LLMConfig) (string, error) {
	if cfg.APIKeyEncrypted == "" {
		return "", failure.New(failure.CredentialMissing, "llm config has no api key")
	}
	return s.keys.OpenAPIKey(tenantID, cfg.APIKeyEncrypted)
}
