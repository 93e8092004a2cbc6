package models

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
)

// Service provides CRUD over the shared model registry.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

func NewService(log *slog.Logger, st store.Store) *Service {
	return &Service{
		store:  st,
		logger: log.With(slog.String("service", "models")),
	}
}

// Create adds a model to a provider.
func (s *Service) Create(ctx context.Context, req AddRequest) (GetResponse, error) {
	model := Model(req)
	if err := model.Validate(); err != nil {
		return GetResponse{}, failure.New(failure.Validation, "%s", err.Error())
	}
	providerID := uuid.MustParse(model.ProviderID)
	created, err := s.store.CreateModel(ctx, store.LLMModel{
		ProviderID:      providerID,
		ModelID:         model.ModelID,
		Name:            model.Name,
		SizeCategory:    string(model.SizeCategory),
		QualityTier:     string(model.QualityTier),
		InputCostPer1K:  model.InputCostPer1K,
		OutputCostPer1K: model.OutputCostPer1K,
		ContextWindow:   model.ContextWindow,
		IsActive:        true,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return GetResponse{}, failure.New(failure.Conflict, "model %q already exists for provider", model.ModelID)
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrConflict):
			return GetResponse{}, failure.New(failure.Validation, "provider %s does not exist", model.ProviderID)
		}
		return GetResponse{}, failure.Wrap(failure.Internal, err, "create model")
	}
	s.logger.Info("model created", slog.String("model_id", created.ModelID), slog.String("provider_id", model.ProviderID))
	return convertToGetResponse(created), nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (GetResponse, error) {
	m, err := s.store.GetModel(ctx, id)
	if err != nil {
		return GetResponse{}, notFound(err)
	}
	return convertToGetResponse(m), nil
}

// List returns every model, or those of one provider when providerID is set.
func (s *Service) List(ctx context.Context, providerID *uuid.UUID) ([]GetResponse, error) {
	rows, err := s.store.ListModels(ctx, providerID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list models")
	}
	out := make([]GetResponse, 0, len(rows))
	for _, m := range rows {
		out = append(out, convertToGetResponse(m))
	}
	return out, nil
}

func (s *Service) UpdateByID(ctx context.Context, id uuid.UUID, req UpdateRequest) (GetResponse, error) {
	existing, err := s.store.GetModel(ctx, id)
	if err != nil {
		return GetResponse{}, notFound(err)
	}
	model := req.Model
	model.ProviderID = existing.ProviderID.String()
	if model.ModelID == "" {
		model.ModelID = existing.ModelID
	}
	if err := model.Validate(); err != nil {
		return GetResponse{}, failure.New(failure.Validation, "%s", err.Error())
	}
	existing.ModelID = model.ModelID
	if model.Name != "" {
		existing.Name = model.Name
	}
	if model.SizeCategory != "" {
		existing.SizeCategory = string(model.SizeCategory)
	}
	if model.QualityTier != "" {
		existing.QualityTier = string(model.QualityTier)
	}
	existing.InputCostPer1K = model.InputCostPer1K
	existing.OutputCostPer1K = model.OutputCostPer1K
	if model.ContextWindow > 0 {
		existing.ContextWindow = model.ContextWindow
	}
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}
	updated, err := s.store.UpdateModel(ctx, existing)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return GetResponse{}, failure.New(failure.Conflict, "model %q already exists for provider", existing.ModelID)
		}
		return GetResponse{}, failure.Wrap(failure.Internal, err, "update model")
	}
	return convertToGetResponse(updated), nil
}

// DeleteByID removes a model. Models referenced by an LLM config are kept.
func (s *Service) DeleteByID(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteModel(ctx, id); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return failure.New(failure.Conflict, "model is referenced by an llm config")
		}
		return notFound(err)
	}
	return nil
}

func convertToGetResponse(m store.LLMModel) GetResponse {
	return GetResponse{
		ID:        m.ID.String(),
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
		Model: Model{
			ModelID:         m.ModelID,
			Name:            m.Name,
			ProviderID:      m.ProviderID.String(),
			SizeCategory:    SizeCategory(m.SizeCategory),
			QualityTier:     QualityTier(m.QualityTier),
			InputCostPer1K:  m.InputCostPer1K,
			OutputCostPer1K: m.OutputCostPer1K,
			ContextWindow:   m.ContextWindow,
		},
	}
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return failure.New(failure.NotFound, "model not found")
	}
	return failure.Wrap(failure.Internal, err, "load model")
}
