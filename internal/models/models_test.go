package models

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentprovision/agentprovision/internal/db/memory"
	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/logger"
)

func TestModelValidate(t *testing.T) {
	providerID := uuid.NewString()
	tests := []struct {
		name    string
		model   Model
		wantErr bool
	}{
		{"valid", Model{ModelID: "claude-sonnet", ProviderID: providerID, SizeCategory: SizeLarge, QualityTier: QualityPremium}, false},
		{"missing model id", Model{ProviderID: providerID}, true},
		{"bad provider", Model{ModelID: "m", ProviderID: "nope"}, true},
		{"bad size", Model{ModelID: "m", ProviderID: providerID, SizeCategory: "huge"}, true},
		{"bad tier", Model{ModelID: "m", ProviderID: providerID, QualityTier: "gold"}, true},
		{"negative cost", Model{ModelID: "m", ProviderID: providerID, InputCostPer1K: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.model.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateListDelete(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	provider, err := st.CreateProvider(ctx, store.LLMProvider{Name: "anthropic", ClientType: "anthropic", IsActive: true})
	require.NoError(t, err)
	svc := NewService(logger.Discard(), st)

	created, err := svc.Create(ctx, AddRequest{ModelID: "claude-haiku", ProviderID: provider.ID.String(), SizeCategory: SizeSmall, InputCostPer1K: 0.25})
	require.NoError(t, err)
	assert.True(t, created.IsActive)

	_, err = svc.Create(ctx, AddRequest{ModelID: "claude-haiku", ProviderID: provider.ID.String()})
	assert.True(t, failure.IsKind(err, failure.Conflict))
	_, err = svc.Create(ctx, AddRequest{ModelID: "x", ProviderID: uuid.NewString()})
	assert.True(t, failure.IsKind(err, failure.Validation))

	list, err := svc.List(ctx, &provider.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	id := uuid.MustParse(created.ID)
	off := false
	updated, err := svc.UpdateByID(ctx, id, UpdateRequest{Model: Model{InputCostPer1K: 0.5}, IsActive: &off})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "claude-haiku", updated.ModelID)
	assert.InDelta(t, 0.5, updated.InputCostPer1K, 1e-9)

	require.NoError(t, svc.DeleteByID(ctx, id))
	_, err = svc.GetByID(ctx, id)
	assert.True(t, failure.IsKind(err, failure.NotFound))
}
