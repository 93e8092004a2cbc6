package providers

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/memory"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/logger"
)

func TestMaskAPIKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "*****"},
		{"sk-1234567890abcdef", "sk-12345***********"},
	}
	for _, tc := range cases {
		if got := MaskAPIKey(tc.in); got != tc.want {
			t.Fatalf("MaskAPIKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCreateValidatesClientType(t *testing.T) {
	t.Parallel()
	svc := NewService(logger.Discard(), memory.New())

	_, err := svc.Create(context.Background(), CreateRequest{Name: "x", ClientType: "carrier-pigeon"})
	if !failure.IsKind(err, failure.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateUpdateDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(logger.Discard(), memory.New())

	created, err := svc.Create(ctx, CreateRequest{Name: "anthropic", ClientType: ClientTypeAnthropic})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created.IsActive {
		t.Fatalf("expected new provider to be active")
	}
	if _, err := svc.Create(ctx, CreateRequest{Name: "anthropic", ClientType: ClientTypeAnthropic}); !failure.IsKind(err, failure.Conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	off := false
	list, err := svc.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %d", err, len(list))
	}
	id := mustParse(t, created.ID)
	updated, err := svc.Update(ctx, id, UpdateRequest{IsActive: &off})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.IsActive {
		t.Fatalf("expected provider to be deactivated")
	}
	if err := svc.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, id); !failure.IsKind(err, failure.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func mustParse(t *testing.T, id string) uuid.UUID {
	t.Helper()
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse id: %v", err)
	}
	return parsed
}
