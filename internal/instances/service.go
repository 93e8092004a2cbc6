// Package instances tracks each tenant's skill-runtime instances and probes
// their health.
package instances

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
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
		logger: log.With(slog.String("service", "instances")),
	}
}

// Register records a new instance. It starts provisioning and unhealthy
// until a probe or a report says otherwise.
func (s *Service) Register(ctx context.Context, tenantID uuid.UUID, req RegisterRequest) (store.TenantInstance, error) {
	typ := strings.TrimSpace(req.InstanceType)
	if typ == "" {
		return store.TenantInstance{}, failure.New(failure.Validation, "instance_type is required")
	}
	raw := strings.TrimSpace(req.InternalURL)
	if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return store.TenantInstance{}, failure.New(failure.Validation, "internal_url must be an http(s) URL")
	}
	status := req.Status
	if status == "" {
		status = store.InstanceProvisioning
	}
	if !status.Valid() {
		return store.TenantInstance{}, failure.New(failure.Validation, "invalid status: %s", status)
	}
	inst, err := s.store.CreateInstance(ctx, store.TenantInstance{
		TenantID:       tenantID,
		InstanceType:   typ,
		Status:         status,
		InternalURL:    strings.TrimRight(raw, "/"),
		ResourceConfig: req.ResourceConfig,
	})
	if err != nil {
		return store.TenantInstance{}, notFound(err, "tenant")
	}
	s.logger.Info("instance registered",
		slog.String("tenant_id", tenantID.String()),
		slog.String("instance_id", inst.ID.String()),
		slog.String("type", typ))
	return inst, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (store.TenantInstance, error) {
	inst, err := s.store.GetInstance(ctx, tenantID, id)
	if err != nil {
		return store.TenantInstance{}, notFound(err, "instance")
	}
	return inst, nil
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]store.TenantInstance, error) {
	rows, err := s.store.ListInstances(ctx, tenantID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list instances")
	}
	return rows, nil
}

func (s *Service) SetStatus(ctx context.Context, tenantID, id uuid.UUID, status store.InstanceStatus) (store.TenantInstance, error) {
	if !status.Valid() {
		return store.TenantInstance{}, failure.New(failure.Validation, "invalid status: %s", status)
	}
	inst, err := s.store.SetInstanceStatus(ctx, tenantID, id, status)
	if err != nil {
		return store.TenantInstance{}, notFound(err, "instance")
	}
	s.logger.Info("instance status changed",
		slog.String("instance_id", id.String()),
		slog.String("status", string(status)))
	return inst, nil
}

// ReportHealth stores a health report pushed by the instance itself.
func (s *Service) ReportHealth(ctx context.Context, tenantID, id uuid.UUID, report HealthReport) (store.TenantInstance, error) {
	if _, err := s.store.GetInstance(ctx, tenantID, id); err != nil {
		return store.TenantInstance{}, notFound(err, "instance")
	}
	if err := s.record(ctx, id, report); err != nil {
		return store.TenantInstance{}, err
	}
	return s.Get(ctx, tenantID, id)
}

func (s *Service) record(ctx context.Context, id uuid.UUID, report HealthReport) error {
	now := s.now()
	err := s.store.SetInstanceHealth(ctx, id, store.InstanceHealth{
		LastCheck:     &now,
		Healthy:       report.Healthy,
		UptimeSeconds: report.UptimeSeconds,
		CPUPct:        report.CPUPct,
		MemoryPct:     report.MemoryPct,
		Error:         report.Error,
	})
	if err != nil {
		return notFound(err, "instance")
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return failure.New(failure.NotFound, "%s not found", what)
	}
	return failure.Wrap(failure.Internal, err, "load %s", what)
}
