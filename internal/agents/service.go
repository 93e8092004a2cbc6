// Package agents manages agents and the skills they know.
package agents

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

const (
	defaultRole  = "specialist"
	defaultDepth = 2
)

type Service struct {
	store  store.Store
	now    func() time.Time
	logger *slog.Logger
}

func NewService(log *slog.Logger, st store.Store) *Service {
	return &Service{
		store:  st,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.With(slog.String("service", "agents")),
	}
}

func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, req CreateRequest) (store.Agent, error) {
	a := store.Agent{
		TenantID:           tenantID,
		Name:               strings.TrimSpace(req.Name),
		Description:        req.Description,
		Role:               strings.TrimSpace(req.Role),
		Capabilities:       dedupe(req.Capabilities),
		Personality:        req.Personality,
		AutonomyLevel:      req.AutonomyLevel,
		MaxDelegationDepth: defaultDepth,
		LLMConfigID:        req.LLMConfigID,
		Config:             req.Config,
	}
	if a.Role == "" {
		a.Role = defaultRole
	}
	if a.AutonomyLevel == "" {
		a.AutonomyLevel = store.AutonomySupervised
	}
	if req.MaxDelegationDepth != nil {
		a.MaxDelegationDepth = *req.MaxDelegationDepth
	}
	if err := s.validate(ctx, a); err != nil {
		return store.Agent{}, err
	}
	created, err := s.store.CreateAgent(ctx, a)
	if err != nil {
		return store.Agent{}, failure.Wrap(failure.Internal, err, "create agent")
	}
	s.logger.Info("agent created", slog.String("tenant_id", tenantID.String()), slog.String("agent_id", created.ID.String()))
	return created, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (store.Agent, error) {
	a, err := s.store.GetAgent(ctx, tenantID, id)
	if err != nil {
		return store.Agent{}, notFound(err, "agent")
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]store.Agent, error) {
	rows, err := s.store.ListAgents(ctx, tenantID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list agents")
	}
	return rows, nil
}

func (s *Service) Update(ctx context.Context, tenantID, id uuid.UUID, req UpdateRequest) (store.Agent, error) {
	a, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return store.Agent{}, err
	}
	if req.Name != nil {
		a.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		a.Description = *req.Description
	}
	if req.Role != nil {
		a.Role = strings.TrimSpace(*req.Role)
	}
	if req.Capabilities != nil {
		a.Capabilities = dedupe(req.Capabilities)
	}
	if req.Personality != nil {
		a.Personality = *req.Personality
	}
	if req.AutonomyLevel != nil {
		a.AutonomyLevel = *req.AutonomyLevel
	}
	if req.MaxDelegationDepth != nil {
		a.MaxDelegationDepth = *req.MaxDelegationDepth
	}
	switch {
	case req.ClearLLMConfig:
		a.LLMConfigID = nil
	case req.LLMConfigID != nil:
		a.LLMConfigID = req.LLMConfigID
	}
	if req.Config != nil {
		a.Config = req.Config
	}
	if err := s.validate(ctx, a); err != nil {
		return store.Agent{}, err
	}
	updated, err := s.store.UpdateAgent(ctx, a)
	if err != nil {
		return store.Agent{}, notFound(err, "agent")
	}
	return updated, nil
}

// Delete removes an agent with its memberships, relationships and skills.
// Agents that still own tasks cannot be deleted.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	if err := s.store.DeleteAgent(ctx, tenantID, id); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return failure.New(failure.Conflict, "agent still has tasks")
		}
		return notFound(err, "agent")
	}
	return nil
}

func (s *Service) validate(ctx context.Context, a store.Agent) error {
	if a.Name == "" {
		return failure.New(failure.Validation, "name is required")
	}
	if !a.AutonomyLevel.Valid() {
		return failure.New(failure.Validation, "invalid autonomy_level: %s", a.AutonomyLevel)
	}
	if a.MaxDelegationDepth < 0 {
		return failure.New(failure.Validation, "max_delegation_depth must not be negative")
	}
	if a.LLMConfigID != nil {
		if _, err := s.store.GetLLMConfig(ctx, a.TenantID, *a.LLMConfigID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return failure.New(failure.Validation, "llm_config_id does not exist")
			}
			return failure.Wrap(failure.Internal, err, "load llm config")
		}
	}
	return nil
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return failure.New(failure.NotFound, "%s not found", what)
	}
	return failure.Wrap(failure.Internal, err, "load %s", what)
}
