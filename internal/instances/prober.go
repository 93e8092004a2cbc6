package instances

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/db/store"
)

const maxHealthBody = 64 << 10

// ProbeResult summarises one probe round.
type ProbeResult struct {
	Probed  int
	Healthy int
}

// Prober polls every instance's /health endpoint and records the outcome.
type Prober struct {
	svc         *Service
	client      *http.Client
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
}

func NewProber(log *slog.Logger, svc *Service, cfg config.Config) *Prober {
	timeout := time.Duration(cfg.Instances.ProbeTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		svc:         svc,
		client:      &http.Client{},
		timeout:     timeout,
		concurrency: max(cfg.Instances.ProbeConcurrency, 1),
		logger:      log.With(slog.String("service", "instance_prober")),
	}
}

// ProbeAll checks all probe-able instances across tenants. A failing probe
// marks the instance unhealthy; it is not an error of the round.
func (p *Prober) ProbeAll(ctx context.Context) (ProbeResult, error) {
	rows, err := p.svc.store.ListAllInstances(ctx)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("list instances: %w", err)
	}
	var probed, healthy atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, inst := range rows {
		if !probeable(inst.Status) {
			continue
		}
		g.Go(func() error {
			report := p.probe(gctx, inst.InternalURL)
			if err := p.svc.record(gctx, inst.ID, report); err != nil {
				p.logger.Warn("record instance health failed", slog.String("instance_id", inst.ID.String()), slog.Any("error", err))
				return nil
			}
			probed.Add(1)
			if report.Healthy {
				healthy.Add(1)
			}
			if report.Healthy != inst.Health.Healthy {
				p.logger.Info("instance health changed",
					slog.String("tenant_id", inst.TenantID.String()),
					slog.String("instance_id", inst.ID.String()),
					slog.Bool("healthy", report.Healthy),
					slog.String("error", report.Error))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ProbeResult{}, err
	}
	return ProbeResult{Probed: int(probed.Load()), Healthy: int(healthy.Load())}, nil
}

func (p *Prober) probe(ctx context.Context, baseURL string) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return HealthReport{Error: err.Error()}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return HealthReport{Error: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return HealthReport{Error: fmt.Sprintf("health endpoint returned %d", resp.StatusCode)}
	}
	// An empty or non-JSON 2xx body still counts as healthy.
	report := HealthReport{Healthy: true}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHealthBody))
	if err == nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, &report)
	}
	return report
}

func probeable(s store.InstanceStatus) bool {
	switch s {
	case store.InstanceStopped, store.InstanceDestroying:
		return false
	}
	return true
}
