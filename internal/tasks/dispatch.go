package tasks

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrTaskCancelled is the cancellation cause given to in-flight dispatches
// when their task leaves the running states.
var ErrTaskCancelled = errors.New("task cancelled")

// dispatches tracks the contexts of outbound calls made on behalf of a task
// so that cancelling the task aborts them.
type dispatches struct {
	mu     sync.Mutex
	next   uint64
	byTask map[uuid.UUID]map[uint64]context.CancelCauseFunc
}

func newDispatches() *dispatches {
	return &dispatches{byTask: make(map[uuid.UUID]map[uint64]context.CancelCauseFunc)}
}

func (d *dispatches) track(ctx context.Context, taskID uuid.UUID) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	d.mu.Lock()
	d.next++
	id := d.next
	if d.byTask[taskID] == nil {
		d.byTask[taskID] = make(map[uint64]context.CancelCauseFunc)
	}
	d.byTask[taskID][id] = cancel
	d.mu.Unlock()

	return ctx, func() {
		d.mu.Lock()
		delete(d.byTask[taskID], id)
		if len(d.byTask[taskID]) == 0 {
			delete(d.byTask, taskID)
		}
		d.mu.Unlock()
		cancel(nil)
	}
}

func (d *dispatches) abort(taskID uuid.UUID) int {
	d.mu.Lock()
	fns := d.byTask[taskID]
	delete(d.byTask, taskID)
	d.mu.Unlock()
	for _, cancel := range fns {
		cancel(ErrTaskCancelled)
	}
	return len(fns)
}
