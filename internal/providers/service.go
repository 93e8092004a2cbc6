package providers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
)

// Service handles provider operations
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates a new provider service
func NewService(log *slog.Logger, st store.Store) *Service {
	return &Service{
		store:  st,
		logger: log.With(slog.String("service", "providers")),
	}
}

// Create registers a new LLM provider
func (s *Service) Create(ctx context.Context, req CreateRequest) (GetResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return GetResponse{}, failure.New(failure.Validation, "name is required")
	}
	if !isValidClientType(req.ClientType) {
		return GetResponse{}, failure.New(failure.Validation, "invalid client_type: %s", req.ClientType)
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	provider, err := s.store.CreateProvider(ctx, store.LLMProvider{
		Name:       strings.TrimSpace(req.Name),
		ClientType: string(req.ClientType),
		BaseURL:    req.BaseURL,
		IsActive:   active,
		Metadata:   req.Metadata,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return GetResponse{}, failure.New(failure.Conflict, "provider %q already exists", req.Name)
		}
		return GetResponse{}, failure.Wrap(failure.Internal, err, "create provider")
	}
	s.logger.Info("provider created", slog.String("name", provider.Name), slog.String("client_type", provider.ClientType))
	return toGetResponse(provider), nil
}

// Get retrieves a provider by ID
func (s *Service) Get(ctx context.Context, id uuid.UUID) (GetResponse, error) {
	provider, err := s.store.GetProvider(ctx, id)
	if err != nil {
		return GetResponse{}, notFound(err, "provider")
	}
	return toGetResponse(provider), nil
}

// List retrieves all providers
func (s *Service) List(ctx context.Context) ([]GetResponse, error) {
	providers, err := s.store.ListProviders(ctx)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list providers")
	}
	results := make([]GetResponse, 0, len(providers))
	for _, p := range providers {
		results = append(results, toGetResponse(p))
	}
	return results, nil
}

// Update updates an existing provider
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (GetResponse, error) {
	existing, err := s.store.GetProvider(ctx, id)
	if err != nil {
		return GetResponse{}, notFound(err, "provider")
	}
	if req.Name != nil {
		existing.Name = strings.TrimSpace(*req.Name)
	}
	if req.ClientType != nil {
		if !isValidClientType(*req.ClientType) {
			return GetResponse{}, failure.New(failure.Validation, "invalid client_type: %s", *req.ClientType)
		}
		existing.ClientType = string(*req.ClientType)
	}
	if req.BaseURL != nil {
		existing.BaseURL = *req.BaseURL
	}
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}
	if req.Metadata != nil {
		existing.Metadata = req.Metadata
	}
	updated, err := s.store.UpdateProvider(ctx, existing)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return GetResponse{}, failure.New(failure.Conflict, "provider %q already exists", existing.Name)
		}
		return GetResponse{}, failure.Wrap(failure.Internal, err, "update provider")
	}
	return toGetResponse(updated), nil
}

// Delete deletes a provider by ID. Providers with models cannot be deleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteProvider(ctx, id); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return failure.New(failure.Conflict, "provider still has models")
		}
		return notFound(err, "provider")
	}
	return nil
}

func toGetResponse(p store.LLMProvider) GetResponse {
	return GetResponse{
		ID:         p.ID.String(),
		Name:       p.Name,
		ClientType: p.ClientType,
		BaseURL:    p.BaseURL,
		IsActive:   p.IsActive,
		Metadata:   p.Metadata,
		CreatedAt:  p.CreatedAt,
	}
}

func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return failure.New(failure.NotFound, "%s not found", what)
	}
	return failure.Wrap(failure.Internal, err, "load %s", what)
}

// isValidClientType checks if a client type is valid
func isValidClientType(clientType ClientType) bool {
	switch clientType {
	case ClientTypeOpenAI, ClientTypeOpenAICompat, ClientTypeAnthropic, ClientTypeGoogle,
		ClientTypeAzure, ClientTypeBedrock, ClientTypeMistral, ClientTypeXAI, ClientTypeOllama:
		return true
	default:
		return false
	}
}

// MaskAPIKey masks an API key for display (show only first 8 characters)
func MaskAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	if len(apiKey) <= 8 {
		return strings.Repeat("*", len(apiKey))
	}
	return apiKey[:8] + strings.Repeat("*", len(apiKey)-8)
}
