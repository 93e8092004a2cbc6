package routing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/db/memory"
	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/logger"
)

type fakeSealer struct{}

func (fakeSealer) SealAPIKey(tenantID uuid.UUID, plaintext string) (string, error) {
	return "sealed:" + tenantID.String() + ":" + plaintext, nil
}

func (fakeSealer) OpenAPIKey(tenantID uuid.UUID, sealed string) (string, error) {
	prefix := "sealed:" + tenantID.String() + ":"
	if !strings.HasPrefix(sealed, prefix) {
		return "", errors.New("wrong tenant")
	}
	return strings.TrimPrefix(sealed, prefix), nil
}

type fixture struct {
	svc     *Service
	st      *memory.Store
	tenant  store.Tenant
	agent   store.Agent
	premium store.LLMModel
	cheap   store.LLMModel
	pricey  store.LLMModel
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	cfg := config.Defaults()
	cfg.LLM.DefaultProvider = "anthropic"
	cfg.LLM.DefaultModel = "claude-haiku"
	cfg.LLM.PlatformKeys = map[string]string{"anthropic": "platform-key"}

	provider, err := st.CreateProvider(ctx, store.LLMProvider{Name: "anthropic", ClientType: "anthropic", IsActive: true})
	require.NoError(t, err)
	mk := func(id string, in, out float64) store.LLMModel {
		m, err := st.CreateModel(ctx, store.LLMModel{ProviderID: provider.ID, ModelID: id, InputCostPer1K: in, OutputCostPer1K: out, IsActive: true})
		require.NoError(t, err)
		return m
	}
	tenant, err := st.CreateTenant(ctx, store.Tenant{Name: "T", Slug: "t"})
	require.NoError(t, err)
	agent, err := st.CreateAgent(ctx, store.Agent{TenantID: tenant.ID, Name: "a", AutonomyLevel: store.AutonomyFull})
	require.NoError(t, err)
	return fixture{
		svc:     NewService(logger.Discard(), st, fakeSealer{}, cfg),
		st:      st,
		tenant:  tenant,
		agent:   agent,
		premium: mk("claude-opus", 15, 75),
		cheap:   mk("claude-haiku", 0.25, 1.25),
		pricey:  mk("giant", 100, 100),
	}
}

func (f fixture) spend(t *testing.T, cost float64) {
	t.Helper()
	ctx := context.Background()
	task, err := f.st.CreateTask(ctx, store.AgentTask{TenantID: f.tenant.ID, AssignedAgentID: f.agent.ID, Objective: "o", Status: store.TaskPending, Priority: store.PriorityNormal})
	require.NoError(t, err)
	task.Cost = cost
	_, err = f.st.UpdateTask(ctx, task, store.TaskPending, task.Version)
	require.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }

func TestResolveFallsBackToPlatformDefault(t *testing.T) {
	f := newFixture(t)
	got, err := f.svc.Resolve(context.Background(), f.tenant.ID, ResolveRequest{})
	require.NoError(t, err)
	assert.Equal(t, SourcePlatform, got.Source)
	assert.Equal(t, "claude-haiku", got.Model.ModelID)
	assert.Equal(t, "platform-key", got.APIKey)
	assert.Nil(t, got.ConfigID)
}

func TestResolvePrefersAgentThenTenantConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tenantCfg, err := f.svc.Create(ctx, f.tenant.ID, ConfigRequest{Name: "tenant", PrimaryModelID: f.cheap.ID})
	require.NoError(t, err)
	_, err = f.svc.SetTenantDefault(ctx, f.tenant.ID, &tenantCfg.ID)
	require.NoError(t, err)

	agentCfg, err := f.svc.Create(ctx, f.tenant.ID, ConfigRequest{Name: "agent", PrimaryModelID: f.premium.ID, UsePlatformKey: ptr(false), APIKey: ptr("sk-tenant")})
	require.NoError(t, err)
	assert.True(t, agentCfg.HasAPIKey)

	got, err := f.svc.Resolve(ctx, f.tenant.ID, ResolveRequest{AgentID: &f.agent.ID})
	require.NoError(t, err)
	assert.Equal(t, SourceTenant, got.Source)
	assert.Equal(t, f.cheap.ID, got.Model.ID)

	f.agent.LLMConfigID = &agentCfg.ID
	_, err = f.st.UpdateAgent(ctx, f.agent)
	require.NoError(t, err)

	got, err = f.svc.Resolve(ctx, f.tenant.ID, ResolveRequest{AgentID: &f.agent.ID})
	require.NoError(t, err)
	assert.Equal(t, SourceAgent, got.Source)
	assert.Equal(t, f.premium.ID, got.Model.ID)
	assert.Equal(t, "sk-tenant", got.APIKey)
}

func TestRoutingRulesFirstMatchWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg, err := f.svc.Create(ctx, f.tenant.ID, ConfigRequest{
		PrimaryModelID: f.premium.ID,
		RoutingRules: []store.RoutingRule{
			{TaskType: "summarize", ModelID: f.cheap.ID},
			{TaskType: "summarize", QualityTier: "premium", ModelID: f.pricey.ID},
			{SizeCategory: "large", ModelID: f.pricey.ID},
		},
	})
	require.NoError(t, err)
	_, err = f.svc.SetTenantDefault(ctx, f.tenant.ID, &cfg.ID)
	require.NoError(t, err)

	cases := []struct {
		req  ResolveRequest
		want uuid.UUID
		rule *int
	}{
		{ResolveRequest{TaskType: "summarize", QualityTier: "premium"}, f.cheap.ID, ptr(0)},
		{ResolveRequest{TaskType: "analyze", SizeCategory: "large"}, f.pricey.ID, ptr(2)},
		{ResolveRequest{TaskType: "analyze"}, f.premium.ID, nil},
	}
	for _, tc := range cases {
		got, err := f.svc.Resolve(ctx, f.tenant.ID, tc.req)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.Model.ID, "%+v", tc.req)
		assert.Equal(t, tc.rule, got.MatchedRule, "%+v", tc.req)
	}
}

func TestBudgetGate(t *testing.T) {
	ctx := context.Background()

	t.Run("no fallback rejects", func(t *testing.T) {
		f := newFixture(t)
		cfg, err := f.svc.Create(ctx, f.tenant.ID, ConfigRequest{PrimaryModelID: f.premium.ID, BudgetLimitDaily: ptr(10.0)})
		require.NoError(t, err)
		_, err = f.svc.SetTenantDefault(ctx, f.tenant.ID, &cfg.ID)
		require.NoError(t, err)

		_, err = f.svc.Resolve(ctx, f.tenant.ID, ResolveRequest{})
		require.NoError(t, err)

		f.spend(t, 10)
		_, err = f.svc.Resolve(ctx, f.tenant.ID, ResolveRequest{})
		require.True(t, failure.IsKind(err, failure.BudgetExceeded))
		assert.Equal(t, "daily", failure.As(err).Details["window"])
	})

	t.Run("cheaper fallback is used", func(t *testing.T) {
		f := newFixture(t)
		cfg, err := f.svc.Create(ctx, f.tenant.ID, ConfigRequest{PrimaryModelID: f.premium.ID, FallbackModelID: &f.cheap.ID, BudgetLimitMonthly: ptr(5.0)})
		require.NoError(t, err)
		_, err = f.svc.SetTenantDefault(ctx, f.tenant.ID, &cfg.ID)
		require.NoError(t, err)
		f.spend(t, 6)

		got, err := f.svc.Resolve(ctx, f.tenant.ID, ResolveRequest{})
		require.NoError(t, err)
		assert.True(t, got.UsedFallback)
		assert.Equal(t, f.cheap.ID, got.Model.ID)
	})

	t.Run("pricier fallback still rejects", func(t *testing.T) {
		f := newFixture(t)
		cfg, err := f.svc.Create(ctx, f.tenant.ID, ConfigRequest{PrimaryModelID: f.premium.ID, FallbackModelID: &f.pricey.ID, BudgetLimitDaily: ptr(1.0)})
		require.NoError(t, err)
		_, err = f.svc.SetTenantDefault(ctx, f.tenant.ID, &cfg.ID)
		require.NoError(t, err)
		f.spend(t, 2)

		_, err = f.svc.Resolve(ctx, f.tenant.ID, ResolveRequest{})
		assert.True(t, failure.IsKind(err, failure.BudgetExceeded))
	})
}

func TestMissingPlatformKey(t *testing.T) {
	f := newFixture(t)
	f.svc.llm.PlatformKeys = nil
	_, err := f.svc.Resolve(context.Background(), f.tenant.ID, ResolveRequest{})
	assert.True(t, failure.IsKind(err, failure.CredentialMissing))
}

func TestConfigValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, req := range []ConfigRequest{
		{},
		{PrimaryModelID: uuid.New()},
		{PrimaryModelID: f.cheap.ID, UsePlatformKey: ptr(false)},
		{PrimaryModelID: f.cheap.ID, Temperature: ptr(3.0)},
		{PrimaryModelID: f.cheap.ID, RoutingRules: []store.RoutingRule{{TaskType: "x"}}},
	} {
		_, err := f.svc.Create(ctx, f.tenant.ID, req)
		assert.True(t, failure.IsKind(err, failure.Validation), "%+v", req)
	}
}

func TestSetTenantDefaultRejectsForeignConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, err := f.st.CreateTenant(ctx, store.Tenant{Name: "O", Slug: "o"})
	require.NoError(t, err)
	cfg, err := f.svc.Create(ctx, other.ID, ConfigRequest{PrimaryModelID: f.cheap.ID})
	require.NoError(t, err)

	_, err = f.svc.SetTenantDefault(ctx, f.tenant.ID, &cfg.ID)
	assert.True(t, failure.IsKind(err, failure.NotFound))
}

func TestResolvedViewMasksKey(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"abc":          "****",
		"sk-123456789": "****6789",
	}
	for key, want := range cases {
		view := Resolved{APIKey: key}.View()
		assert.Equal(t, want, view.APIKeyMasked)
		if key != "" {
			raw, err := json.Marshal(view)
			require.NoError(t, err)
			assert.NotContains(t, string(raw), key)
		}
	}
}
