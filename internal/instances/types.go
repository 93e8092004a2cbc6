package instances

import (
	"github.com/agentprovision/agentprovision/internal/db/store"
)

type RegisterRequest struct {
	InstanceType   string               `json:"instance_type" validate:"required"`
	InternalURL    string               `json:"internal_url" validate:"required,url"`
	Status         store.InstanceStatus `json:"status,omitempty"`
	ResourceConfig map[string]any       `json:"resource_config,omitempty"`
}

type StatusRequest struct {
	Status store.InstanceStatus `json:"status" validate:"required"`
}

// HealthReport is what an instance reports about itself, either pushed to
// the API or returned from its /health endpoint.
type HealthReport struct {
	Healthy       bool    `json:"healthy"`
	UptimeSeconds float64 `json:"uptime"`
	CPUPct        float64 `json:"cpu_pct"`
	MemoryPct     float64 `json:"memory_pct"`
	Error         string  `json:"error,omitempty"`
}

type ListResponse struct {
	Items []store.TenantInstance `json:"items"`
}
