package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/instances"
	"github.com/agentprovision/agentprovision/internal/logger"
)

func TestAddRejectsBadJobs(t *testing.T) {
	s := NewScheduler(logger.Discard())
	err := s.Add(Job{Name: "x", Schedule: "every now and then", Run: func(context.Context) error { return nil }})
	assert.Error(t, err)
	err = s.Add(Job{Name: "y", Schedule: "@every 1m"})
	assert.Error(t, err)
	assert.NoError(t, s.Add(Job{Name: "z", Schedule: "*/5 * * * *", Run: func(context.Context) error { return nil }}))
}

func TestRunOnStartAndStop(t *testing.T) {
	s := NewScheduler(logger.Discard())
	ran := make(chan struct{}, 1)
	var cancelled atomic.Bool
	require.NoError(t, s.Add(Job{
		Name:       "probe",
		Schedule:   "@every 1h",
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			ran <- struct{}{}
			<-ctx.Done()
			cancelled.Store(true)
			return ctx.Err()
		},
	}))
	require.NoError(t, s.Add(Job{Name: "idle", Schedule: "@every 1h", Run: func(context.Context) error {
		t.Error("idle job should not run on start")
		return nil
	}}))

	s.Start(context.Background())
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("run-on-start job did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.True(t, cancelled.Load())
}

type fakeSweeper struct {
	approvals, responses atomic.Int32
}

func (f *fakeSweeper) ExpireApprovals(context.Context) (int, error) {
	f.approvals.Add(1)
	return 2, nil
}

func (f *fakeSweeper) FailOverdueResponses(context.Context) (int, error) {
	f.responses.Add(1)
	return 0, errors.New("db down")
}

type fakeProber struct{ calls atomic.Int32 }

func (f *fakeProber) ProbeAll(context.Context) (instances.ProbeResult, error) {
	f.calls.Add(1)
	return instances.ProbeResult{Probed: 1, Healthy: 1}, nil
}

func TestJobsWiring(t *testing.T) {
	sw := &fakeSweeper{}
	pr := &fakeProber{}
	jobs := Jobs(logger.Discard(), sw, pr, config.Defaults())
	require.Len(t, jobs, 3)

	s := NewScheduler(logger.Discard())
	for _, j := range jobs {
		require.NoError(t, s.Add(j), j.Name)
	}

	ctx := context.Background()
	assert.NoError(t, jobs[0].Run(ctx))
	assert.EqualError(t, jobs[1].Run(ctx), "db down")
	assert.NoError(t, jobs[2].Run(ctx))
	assert.True(t, jobs[2].RunOnStart)
	assert.EqualValues(t, 1, sw.approvals.Load())
	assert.EqualValues(t, 1, sw.responses.Load())
	assert.EqualValues(t, 1, pr.calls.Load())
}
