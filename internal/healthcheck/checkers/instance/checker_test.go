package instancechecker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/healthcheck"
	"github.com/agentprovision/agentprovision/internal/logger"
)

type fakeLister struct {
	items []store.TenantInstance
	err   error
}

func (f *fakeLister) List(ctx context.Context, tenantID uuid.UUID) ([]store.TenantInstance, error) {
	return f.items, f.err
}

func TestCheckerStatuses(t *testing.T) {
	t.Parallel()

	now := time.Now()
	items := []store.TenantInstance{
		{ID: uuid.New(), InstanceType: "a", Status: store.InstanceRunning, Health: store.InstanceHealth{Healthy: true, LastCheck: &now}},
		{ID: uuid.New(), InstanceType: "b", Status: store.InstanceRunning},
		{ID: uuid.New(), InstanceType: "c", Status: store.InstanceUpgrading},
		{ID: uuid.New(), InstanceType: "d", Status: store.InstanceRunning, Health: store.InstanceHealth{LastCheck: &now, Error: "503"}},
		{ID: uuid.New(), InstanceType: "e", Status: store.InstanceStopped},
	}
	want := []string{healthcheck.StatusOK, healthcheck.StatusUnknown, healthcheck.StatusWarn, healthcheck.StatusError, healthcheck.StatusError}

	got := NewChecker(logger.Discard(), &fakeLister{items: items}).ListChecks(context.Background(), uuid.New())
	if len(got) != len(want) {
		t.Fatalf("expected %d checks, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Status != want[i] {
			t.Fatalf("check %d (%s): expected %s, got %s", i, got[i].Subtitle, want[i], got[i].Status)
		}
	}
	if got[3].Detail != "503" {
		t.Fatalf("expected probe error in detail, got %q", got[3].Detail)
	}
}

func TestCheckerNoInstancesOrError(t *testing.T) {
	t.Parallel()

	got := NewChecker(logger.Discard(), &fakeLister{}).ListChecks(context.Background(), uuid.New())
	if len(got) != 1 || got[0].Status != healthcheck.StatusError {
		t.Fatalf("expected one error check, got %+v", got)
	}
	got = NewChecker(logger.Discard(), &fakeLister{err: errors.New("boom")}).ListChecks(context.Background(), uuid.New())
	if len(got) != 1 || got[0].Detail != "boom" {
		t.Fatalf("expected list failure check, got %+v", got)
	}
}
