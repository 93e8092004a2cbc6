package postgres

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentprovision/agentprovision/internal/db"
	"github.com/agentprovision/agentprovision/internal/db/store"
)

// openTestStore connects to TEST_POSTGRES_DSN and applies migrations.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	require.NoError(t, db.MigrateUp(slog.New(slog.DiscardHandler), dsn))
	pool, err := db.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return New(pool)
}

func seed(t *testing.T, s *Store) (store.Tenant, store.Agent) {
	t.Helper()
	ctx := context.Background()
	tenant, err := s.CreateTenant(ctx, store.Tenant{Name: "T", Slug: "pg-" + uuid.NewString()[:12]})
	require.NoError(t, err)
	agent, err := s.CreateAgent(ctx, store.Agent{TenantID: tenant.ID, Name: "a", Role: "specialist", AutonomyLevel: store.AutonomyFull})
	require.NoError(t, err)
	return tenant, agent
}

func TestPostgresTaskLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tenant, agent := seed(t, s)

	task, err := s.CreateTask(ctx, store.AgentTask{
		TenantID: tenant.ID, AssignedAgentID: agent.ID, Objective: "o",
		Status: store.TaskPending, Priority: store.PriorityNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, task.ID, task.RootTaskID)

	next := task
	next.Status = store.TaskRunning
	updated, err := s.UpdateTask(ctx, next, store.TaskPending, task.Version)
	require.NoError(t, err)
	assert.Equal(t, task.Version+1, updated.Version)

	_, err = s.UpdateTask(ctx, next, store.TaskPending, task.Version)
	require.ErrorIs(t, err, store.ErrConflict)

	other, _ := seed(t, s)
	_, err = s.GetTask(ctx, other.ID, task.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresTraceOrderIsDense(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tenant, agent := seed(t, s)
	task, err := s.CreateTask(ctx, store.AgentTask{
		TenantID: tenant.ID, AssignedAgentID: agent.ID, Objective: "o",
		Status: store.TaskPending, Priority: store.PriorityNormal,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendTrace(ctx, store.ExecutionTrace{TaskID: task.ID, TenantID: tenant.ID, StepType: store.StepExecuting})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	traces, err := s.ListTraces(ctx, tenant.ID, task.ID)
	require.NoError(t, err)
	require.Len(t, traces, 10)
	for i, tr := range traces {
		assert.Equal(t, i, tr.StepOrder)
	}
}

func TestPostgresReserveSkillCallHonoursLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tenant, _ := seed(t, s)
	since := time.Now().Add(-time.Minute)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok, cut int
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ReserveSkillCall(ctx, store.SkillExecution{TenantID: tenant.ID, SkillName: "web_search"}, since, 3)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, store.ErrLimitReached) {
				cut++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, ok)
	assert.Equal(t, 3, cut)
}
