package instancechecker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/healthcheck"
)

const checkTypeInstance = "skill.instance"

// InstanceLister lists a tenant's skill-runtime instances.
type InstanceLister interface {
	List(ctx context.Context, tenantID uuid.UUID) ([]store.TenantInstance, error)
}

// Checker reports whether each instance can take skill calls.
type Checker struct {
	logger    *slog.Logger
	instances InstanceLister
}

func NewChecker(log *slog.Logger, instances InstanceLister) *Checker {
	return &Checker{
		logger:    log.With(slog.String("checker", "healthcheck_instance")),
		instances: instances,
	}
}

func (c *Checker) ListChecks(ctx context.Context, tenantID uuid.UUID) []healthcheck.CheckResult {
	items, err := c.instances.List(ctx, tenantID)
	if err != nil {
		c.logger.Warn("list instances failed", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		return []healthcheck.CheckResult{{
			ID:      checkTypeInstance + ".list",
			Type:    checkTypeInstance,
			Status:  healthcheck.StatusError,
			Summary: "Failed to list skill instances.",
			Detail:  err.Error(),
		}}
	}
	if len(items) == 0 {
		return []healthcheck.CheckResult{{
			ID:      checkTypeInstance + ".none",
			Type:    checkTypeInstance,
			Status:  healthcheck.StatusError,
			Summary: "No skill instance is registered for this tenant.",
		}}
	}

	results := make([]healthcheck.CheckResult, 0, len(items))
	for _, inst := range items {
		item := healthcheck.CheckResult{
			ID:       checkTypeInstance + "." + inst.ID.String(),
			Type:     checkTypeInstance,
			Subtitle: inst.InstanceType,
			Metadata: map[string]any{
				"instance_id": inst.ID.String(),
				"status":      string(inst.Status),
				"healthy":     inst.Health.Healthy,
				"uptime":      inst.Health.UptimeSeconds,
				"cpu_pct":     inst.Health.CPUPct,
				"memory_pct":  inst.Health.MemoryPct,
			},
		}
		if inst.Health.LastCheck != nil {
			item.Metadata["last_check"] = inst.Health.LastCheck
		}
		switch {
		case inst.Dispatchable():
			item.Status = healthcheck.StatusOK
			item.Summary = fmt.Sprintf("Instance %s is running and healthy.", inst.InstanceType)
		case inst.Status == store.InstanceRunning && inst.Health.LastCheck == nil:
			item.Status = healthcheck.StatusUnknown
			item.Summary = fmt.Sprintf("Instance %s has not been probed yet.", inst.InstanceType)
		case inst.Status == store.InstanceProvisioning || inst.Status == store.InstanceUpgrading:
			item.Status = healthcheck.StatusWarn
			item.Summary = fmt.Sprintf("Instance %s is %s.", inst.InstanceType, inst.Status)
		default:
			item.Status = healthcheck.StatusError
			item.Summary = fmt.Sprintf("Instance %s cannot take skill calls.", inst.InstanceType)
			item.Detail = inst.Health.Error
		}
		results = append(results, item)
	}
	return results
}
