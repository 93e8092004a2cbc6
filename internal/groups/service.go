// Package groups manages agent groups, their membership and the directed
// relationship graph that governs delegation and messaging.
package groups

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
)

type Service struct {
	store  store.Store
	cache  *graphCache
	logger *slog.Logger
}

func NewService(log *slog.Logger, st store.Store) *Service {
	return &Service{
		store:  st,
		cache:  newGraphCache(),
		logger: log.With(slog.String("service", "groups")),
	}
}

func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, req CreateRequest) (store.AgentGroup, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return store.AgentGroup{}, failure.New(failure.Validation, "name is required")
	}
	g, err := s.store.CreateGroup(ctx, store.AgentGroup{
		TenantID:        tenantID,
		Name:            name,
		Description:     req.Description,
		Goal:            req.Goal,
		Strategy:        req.Strategy,
		SharedContext:   req.SharedContext,
		EscalationRules: req.EscalationRules,
	})
	if err != nil {
		return store.AgentGroup{}, failure.Wrap(failure.Internal, err, "create group")
	}
	return g, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (store.AgentGroup, error) {
	g, err := s.store.GetGroup(ctx, tenantID, id)
	if err != nil {
		return store.AgentGroup{}, notFound(err, "agent group")
	}
	return g, nil
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]store.AgentGroup, error) {
	rows, err := s.store.ListGroups(ctx, tenantID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list groups")
	}
	return rows, nil
}

func (s *Service) Update(ctx context.Context, tenantID, id uuid.UUID, req UpdateRequest) (store.AgentGroup, error) {
	g, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return store.AgentGroup{}, err
	}
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return store.AgentGroup{}, failure.New(failure.Validation, "name must not be empty")
		}
		g.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		g.Description = *req.Description
	}
	if req.Goal != nil {
		g.Goal = *req.Goal
	}
	if req.Strategy != nil {
		g.Strategy = req.Strategy
	}
	if req.SharedContext != nil {
		g.SharedContext = req.SharedContext
	}
	if req.EscalationRules != nil {
		g.EscalationRules = req.EscalationRules
	}
	updated, err := s.store.UpdateGroup(ctx, g)
	if err != nil {
		return store.AgentGroup{}, notFound(err, "agent group")
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	if err := s.store.DeleteGroup(ctx, tenantID, id); err != nil {
		return notFound(err, "agent group")
	}
	s.cache.invalidate(graphKey{tenantID, id})
	return nil
}

func (s *Service) AddMember(ctx context.Context, tenantID, groupID uuid.UUID, req AddMemberRequest) (store.GroupMember, error) {
	m, err := s.store.AddGroupMember(ctx, store.GroupMember{
		GroupID:  groupID,
		AgentID:  req.AgentID,
		TenantID: tenantID,
		Role:     req.Role,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return store.GroupMember{}, failure.New(failure.Conflict, "agent is already a member")
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrConflict):
			return store.GroupMember{}, failure.New(failure.NotFound, "group or agent not found")
		}
		return store.GroupMember{}, failure.Wrap(failure.Internal, err, "add member")
	}
	s.cache.invalidate(graphKey{tenantID, groupID})
	return m, nil
}

// RemoveMember drops the agent and every relationship it has in the group.
func (s *Service) RemoveMember(ctx context.Context, tenantID, groupID, agentID uuid.UUID) error {
	if err := s.store.RemoveGroupMember(ctx, tenantID, groupID, agentID); err != nil {
		return notFound(err, "group member")
	}
	s.cache.invalidate(graphKey{tenantID, groupID})
	return nil
}

func (s *Service) ListMembers(ctx context.Context, tenantID, groupID uuid.UUID) ([]store.GroupMember, error) {
	if _, err := s.Get(ctx, tenantID, groupID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListGroupMembers(ctx, tenantID, groupID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list members")
	}
	return rows, nil
}

func (s *Service) CreateRelationship(ctx context.Context, tenantID uuid.UUID, req CreateRelationshipRequest) (store.AgentRelationship, error) {
	r := store.AgentRelationship{
		TenantID:           tenantID,
		GroupID:            req.GroupID,
		FromAgentID:        req.FromAgentID,
		ToAgentID:          req.ToAgentID,
		RelationshipType:   req.RelationshipType,
		TrustLevel:         0.5,
		CommunicationStyle: req.CommunicationStyle,
		HandoffRules:       req.HandoffRules,
	}
	if req.TrustLevel != nil {
		r.TrustLevel = *req.TrustLevel
	}
	if r.CommunicationStyle == "" {
		r.CommunicationStyle = store.StyleAsync
	}
	if err := validateRelationship(r); err != nil {
		return store.AgentRelationship{}, err
	}
	if r.FromAgentID == r.ToAgentID {
		return store.AgentRelationship{}, failure.New(failure.Validation, "an agent cannot relate to itself")
	}
	graph, err := s.Graph(ctx, tenantID, r.GroupID)
	if err != nil {
		return store.AgentRelationship{}, err
	}
	if !graph.IsMember(r.FromAgentID) || !graph.IsMember(r.ToAgentID) {
		return store.AgentRelationship{}, failure.New(failure.Validation, "both agents must be members of the group")
	}
	created, err := s.store.CreateRelationship(ctx, r)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return store.AgentRelationship{}, failure.New(failure.Conflict, "relationship already exists")
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrConflict):
			return store.AgentRelationship{}, failure.New(failure.Validation, "both agents must be members of the group")
		}
		return store.AgentRelationship{}, failure.Wrap(failure.Internal, err, "create relationship")
	}
	s.cache.invalidate(graphKey{tenantID, r.GroupID})
	return created, nil
}

func (s *Service) GetRelationship(ctx context.Context, tenantID, id uuid.UUID) (store.AgentRelationship, error) {
	r, err := s.store.GetRelationship(ctx, tenantID, id)
	if err != nil {
		return store.AgentRelationship{}, notFound(err, "relationship")
	}
	return r, nil
}

func (s *Service) ListRelationships(ctx context.Context, tenantID uuid.UUID, groupID *uuid.UUID) ([]store.AgentRelationship, error) {
	rows, err := s.store.ListRelationships(ctx, tenantID, groupID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list relationships")
	}
	return rows, nil
}

func (s *Service) UpdateRelationship(ctx context.Context, tenantID, id uuid.UUID, req UpdateRelationshipRequest) (store.AgentRelationship, error) {
	r, err := s.GetRelationship(ctx, tenantID, id)
	if err != nil {
		return store.AgentRelationship{}, err
	}
	if req.RelationshipType != nil {
		r.RelationshipType = *req.RelationshipType
	}
	if req.TrustLevel != nil {
		r.TrustLevel = *req.TrustLevel
	}
	if req.CommunicationStyle != nil {
		r.CommunicationStyle = *req.CommunicationStyle
	}
	if req.HandoffRules != nil {
		r.HandoffRules = req.HandoffRules
	}
	if err := validateRelationship(r); err != nil {
		return store.AgentRelationship{}, err
	}
	updated, err := s.store.UpdateRelationship(ctx, r)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.AgentRelationship{}, failure.New(failure.Conflict, "relationship already exists")
		}
		return store.AgentRelationship{}, notFound(err, "relationship")
	}
	s.cache.invalidate(graphKey{tenantID, r.GroupID})
	return updated, nil
}

func (s *Service) DeleteRelationship(ctx context.Context, tenantID, id uuid.UUID) error {
	r, err := s.GetRelationship(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRelationship(ctx, tenantID, id); err != nil {
		return notFound(err, "relationship")
	}
	s.cache.invalidate(graphKey{tenantID, r.GroupID})
	return nil
}

// Graph returns the relationship graph for a group, building it from the
// store on a cache miss.
func (s *Service) Graph(ctx context.Context, tenantID, groupID uuid.UUID) (*Graph, error) {
	key := graphKey{tenantID, groupID}
	g, gen, ok := s.cache.get(key)
	if ok {
		return g, nil
	}
	if _, err := s.Get(ctx, tenantID, groupID); err != nil {
		return nil, err
	}
	members, err := s.store.ListGroupMembers(ctx, tenantID, groupID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list members")
	}
	rels, err := s.store.ListRelationships(ctx, tenantID, &groupID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list relationships")
	}
	g = newGraph(groupID, members, rels)
	s.cache.put(key, g, gen)
	return g, nil
}

func validateRelationship(r store.AgentRelationship) error {
	if !r.RelationshipType.Valid() {
		return failure.New(failure.Validation, "invalid relationship_type: %s", r.RelationshipType)
	}
	if !r.CommunicationStyle.Valid() {
		return failure.New(failure.Validation, "invalid communication_style: %s", r.CommunicationStyle)
	}
	if r.TrustLevel < 0 || r.TrustLevel > 1 {
		return failure.New(failure.Validation, "trust_level must be within [0, 1]")
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return failure.New(failure.NotFound, "%s not found", what)
	}
	return failure.Wrap(failure.Internal, err, "load %s", what)
}
