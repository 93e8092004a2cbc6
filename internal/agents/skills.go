package agents

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
)

func (s *Service) CreateSkill(ctx context.Context, tenantID uuid.UUID, req CreateSkillRequest) (store.AgentSkill, error) {
	name := strings.TrimSpace(req.SkillName)
	if name == "" {
		return store.AgentSkill{}, failure.New(failure.Validation, "skill_name is required")
	}
	sk := store.AgentSkill{
		TenantID:    tenantID,
		AgentID:     req.AgentID,
		SkillName:   name,
		Proficiency: 0.5,
		LearnedFrom: req.LearnedFrom,
		Examples:    req.Examples,
	}
	if req.Proficiency != nil {
		sk.Proficiency = *req.Proficiency
	}
	if sk.Proficiency < 0 || sk.Proficiency > 1 {
		return store.AgentSkill{}, failure.New(failure.Validation, "proficiency must be within [0, 1]")
	}
	created, err := s.store.CreateAgentSkill(ctx, sk)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return store.AgentSkill{}, failure.New(failure.Conflict, "agent already has skill %q", name)
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrConflict):
			return store.AgentSkill{}, failure.New(failure.NotFound, "agent not found")
		}
		return store.AgentSkill{}, failure.Wrap(failure.Internal, err, "create agent skill")
	}
	return created, nil
}

func (s *Service) GetSkill(ctx context.Context, tenantID, id uuid.UUID) (store.AgentSkill, error) {
	sk, err := s.store.GetAgentSkill(ctx, tenantID, id)
	if err != nil {
		return store.AgentSkill{}, notFound(err, "agent skill")
	}
	return sk, nil
}

func (s *Service) ListSkills(ctx context.Context, tenantID uuid.UUID, agentID *uuid.UUID) ([]store.AgentSkill, error) {
	rows, err := s.store.ListAgentSkills(ctx, tenantID, agentID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list agent skills")
	}
	return rows, nil
}

func (s *Service) UpdateSkill(ctx context.Context, tenantID, id uuid.UUID, req UpdateSkillRequest) (store.AgentSkill, error) {
	sk, err := s.GetSkill(ctx, tenantID, id)
	if err != nil {
		return store.AgentSkill{}, err
	}
	if req.Proficiency != nil {
		if *req.Proficiency < 0 || *req.Proficiency > 1 {
			return store.AgentSkill{}, failure.New(failure.Validation, "proficiency must be within [0, 1]")
		}
		sk.Proficiency = *req.Proficiency
	}
	if req.LearnedFrom != nil {
		sk.LearnedFrom = *req.LearnedFrom
	}
	if req.Examples != nil {
		sk.Examples = req.Examples
	}
	updated, err := s.store.UpdateAgentSkill(ctx, sk)
	if err != nil {
		return store.AgentSkill{}, notFound(err, "agent skill")
	}
	return updated, nil
}

func (s *Service) DeleteSkill(ctx context.Context, tenantID, id uuid.UUID) error {
	if err := s.store.DeleteAgentSkill(ctx, tenantID, id); err != nil {
		return notFound(err, "agent skill")
	}
	return nil
}

// RecordUsage folds one skill dispatch outcome into the agent's statistics.
// Agents without a row for the skill are left alone.
func (s *Service) RecordUsage(ctx context.Context, tenantID, agentID uuid.UUID, skillName string, success bool) error {
	return s.store.InTx(ctx, func(tx store.Store) error {
		sk, err := tx.GetAgentSkillByName(ctx, tenantID, agentID, skillName)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		outcome := 0.0
		if success {
			outcome = 1
		}
		sk.SuccessRate = (sk.SuccessRate*float64(sk.TimesUsed) + outcome) / float64(sk.TimesUsed+1)
		sk.TimesUsed++
		now := s.now()
		sk.LastUsedAt = &now
		if _, err := tx.UpdateAgentSkill(ctx, sk); err != nil {
			return err
		}
		s.logger.Debug("skill usage recorded",
			slog.String("agent_id", agentID.String()),
			slog.String("skill", skillName),
			slog.Bool("success", success))
		return nil
	})
}
