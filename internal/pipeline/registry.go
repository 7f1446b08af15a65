package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"
)

// Task is the handle of one detached job run.
type Task struct {
	JobID     uuid.UUID
	StartedAt time.Time
	done      chan struct{}
}

// Done is closed when the task has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task returns or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Registry tracks the detached tasks of a process. Tasks run on their own
// goroutine with a context that outlives the request that spawned them.
type Registry struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
	wg    sync.WaitGroup
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[uuid.UUID]*Task)}
}

// Spawn starts fn for jobID detached from ctx's cancellation and returns its handle.
// Values carried by ctx stay visible to fn.
func (r *Registry) Spawn(ctx context.Context, jobID uuid.UUID, fn func(ctx context.Context)) *Task {
	t := &Task{JobID: jobID, StartedAt: time.Now(), done: make(chan struct{})}

	r.mu.Lock()
	r.tasks[jobID] = t
	r.mu.Unlock()

	r.wg.Add(1)
	taskCtx := context.WithoutCancel(ctx)

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			if r.tasks[jobID] == t {
				delete(r.tasks, jobID)
			}
			r.mu.Unlock()
			close(t.done)
		}()
		defer func() {
			if p := recover(); p != nil {
				zlog.Logger.Error().
					Str("job_id", jobID.String()).
					Err(fmt.Errorf("panic: %v", p)).
					Msg("job task panicked")
			}
		}()

		fn(taskCtx)
	}()

	return t
}

// Wait blocks until the task for jobID returns. Unknown or finished jobs return immediately.
func (r *Registry) Wait(ctx context.Context, jobID uuid.UUID) error {
	r.mu.Lock()
	t, ok := r.tasks[jobID]
	r.mu.Unlock()

	if !ok {
		return nil
	}

	return t.Wait(ctx)
}

// WaitAll blocks until every spawned task has returned or ctx is done.
func (r *Registry) WaitAll(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running returns the number of tasks that have not returned yet.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.tasks)
}
