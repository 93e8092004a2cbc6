// Package traces appends and reads the per-task execution trace. Step orders
// are assigned by the store so they stay dense under concurrent writers.
package traces

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
)

// Store is the slice of the persistence contract the recorder needs.
type Store interface {
	GetTask(ctx context.Context, tenantID, id uuid.UUID) (store.AgentTask, error)
	AppendTrace(ctx context.Context, t store.ExecutionTrace) (store.ExecutionTrace, error)
	ListTraces(ctx context.Context, tenantID, taskID uuid.UUID) ([]store.ExecutionTrace, error)
	HasTraceStep(ctx context.Context, tenantID, taskID uuid.UUID, step store.StepType) (bool, error)
}

// Step describes one trace entry before it is numbered.
type Step struct {
	Type     store.StepType
	AgentID  *uuid.UUID
	Details  map[string]any
	Duration time.Duration
	// Timed marks Duration as meaningful even when it is zero.
	Timed bool
}

type Recorder struct {
	store  Store
	logger *slog.Logger
}

func NewRecorder(log *slog.Logger, st Store) *Recorder {
	return &Recorder{
		store:  st,
		logger: log.With(slog.String("service", "traces")),
	}
}

// In returns a recorder that writes through st, typically a transaction.
func (r *Recorder) In(st Store) *Recorder {
	return &Recorder{store: st, logger: r.logger}
}

// Append writes step for the task with the next step order.
func (r *Recorder) Append(ctx context.Context, tenantID, taskID uuid.UUID, step Step) (store.ExecutionTrace, error) {
	if !step.Type.Valid() {
		return store.ExecutionTrace{}, failure.New(failure.Validation, "invalid step_type: %s", step.Type)
	}
	rec := store.ExecutionTrace{
		TaskID:   taskID,
		TenantID: tenantID,
		StepType: step.Type,
		AgentID:  step.AgentID,
		Details:  step.Details,
	}
	if step.Timed || step.Duration > 0 {
		ms := step.Duration.Milliseconds()
		rec.DurationMS = &ms
	}
	out, err := r.store.AppendTrace(ctx, rec)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ExecutionTrace{}, failure.New(failure.NotFound, "task not found")
		}
		return store.ExecutionTrace{}, failure.Wrap(failure.Internal, err, "append trace")
	}
	r.logger.Debug("trace appended",
		slog.String("task_id", taskID.String()),
		slog.String("step_type", string(step.Type)),
		slog.Int("step_order", out.StepOrder),
	)
	return out, nil
}

// List returns the task's trace ordered by step order.
func (r *Recorder) List(ctx context.Context, tenantID, taskID uuid.UUID) ([]store.ExecutionTrace, error) {
	if _, err := r.store.GetTask(ctx, tenantID, taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, failure.New(failure.NotFound, "task not found")
		}
		return nil, failure.Wrap(failure.Internal, err, "load task")
	}
	rows, err := r.store.ListTraces(ctx, tenantID, taskID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list traces")
	}
	return rows, nil
}

// Has reports whether the task's trace contains a step of the given type.
func (r *Recorder) Has(ctx context.Context, tenantID, taskID uuid.UUID, step store.StepType) (bool, error) {
	ok, err := r.store.HasTraceStep(ctx, tenantID, taskID, step)
	if err != nil {
		return false, failure.Wrap(failure.Internal, err, "read trace")
	}
	return ok, nil
}
