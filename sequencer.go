package rivet

import (
	"context"

	"github.com/statefold/rivet/internal"
)

// Task is one tracked fire-and-forget operation.
type Task struct {
	t *internal.Task
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.t.Done()
}

// Err returns the task's failure, valid only after Done is closed.
func (t *Task) Err() error {
	return t.t.Err()
}

// Wait blocks until the task finishes or ctx is canceled.
func (t *Task) Wait(ctx context.Context) error {
	return t.t.Wait(ctx)
}

// TaskSequencer tracks batches of fire-and-forget tasks: a batch opens on
// the first task added and stays open until every task added during its
// window has completed, at which point the completion callback fires exactly
// once and the batch's awaitable resolves with the aggregated failures.
// Every base object carries one internally; standalone use is for callers
// coordinating their own async work the same way.
type TaskSequencer struct {
	s *internal.Sequencer
}

// NewTaskSequencer creates a sequencer. onComplete may be nil.
func NewTaskSequencer(onComplete func()) *TaskSequencer {
	return &TaskSequencer{s: internal.NewSequencer(onComplete)}
}

// AddTask records fn under a fresh id and runs it, opening a batch if none
// is open. Adding a task after a batch fully drained starts a new batch; a
// new batch never inherits a previous batch's fault.
func (q *TaskSequencer) AddTask(fn func(ctx context.Context) error) *Task {
	return &Task{t: q.s.Add(context.Background(), fn)}
}

// IsRunning reports whether a batch is open.
func (q *TaskSequencer) IsRunning() bool {
	return q.s.Running()
}

// AllDone returns the open batch's awaitable, or an already-closed channel
// when no batch is open.
func (q *TaskSequencer) AllDone() <-chan struct{} {
	return q.s.AllDone()
}

// Wait blocks until the current batch drains and returns its failures
// joined together. Returns nil when no batch is open.
func (q *TaskSequencer) Wait(ctx context.Context) error {
	return q.s.Wait(ctx)
}
