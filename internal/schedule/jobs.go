package schedule

import (
	"context"
	"log/slog"

	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/instances"
)

// Sweeper enforces task deadlines.
type Sweeper interface {
	ExpireApprovals(ctx context.Context) (int, error)
	FailOverdueResponses(ctx context.Context) (int, error)
}

type Prober interface {
	ProbeAll(ctx context.Context) (instances.ProbeResult, error)
}

// Jobs returns the maintenance jobs with their configured schedules.
func Jobs(log *slog.Logger, sweeper Sweeper, prober Prober, cfg config.Config) []Job {
	return []Job{
		{
			Name:     "expire_approvals",
			Schedule: cfg.Orchestrator.SweepSchedule,
			Run: func(ctx context.Context) error {
				n, err := sweeper.ExpireApprovals(ctx)
				if n > 0 {
					log.Info("expired pending approvals", slog.Int("count", n))
				}
				return err
			},
		},
		{
			Name:     "fail_overdue_responses",
			Schedule: cfg.Orchestrator.SweepSchedule,
			Run: func(ctx context.Context) error {
				n, err := sweeper.FailOverdueResponses(ctx)
				if n > 0 {
					log.Info("failed tasks with overdue responses", slog.Int("count", n))
				}
				return err
			},
		},
		{
			Name:       "probe_instances",
			Schedule:   cfg.Instances.ProbeSchedule,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				res, err := prober.ProbeAll(ctx)
				if err != nil {
					return err
				}
				log.Debug("instance probe round",
					slog.Int("probed", res.Probed),
					slog.Int("healthy", res.Healthy))
				return nil
			},
		},
	}
}
