package internal

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Task is the handle for one fire-and-forget operation tracked by a Sequencer.
type Task struct {
	done chan struct{}
	err  error
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's failure, valid only after Done is closed.
func (t *Task) Err() error { return t.err }

// Wait blocks until the task finishes or ctx is canceled.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.err
	}
}

// batch is one open window of in-flight tasks. It is open from the first task
// added until every task added during the window has completed.
type batch struct {
	done chan struct{}
	errs []error
}

// Sequencer tracks batches of fire-and-forget tasks and exposes a single
// awaitable per batch. A new batch starting after a faulted one drained does
// not inherit the old fault.
type Sequencer struct {
	mu         sync.Mutex
	onComplete func()

	tasks map[uuid.UUID]*Task
	cur   *batch
}

func NewSequencer(onComplete func()) *Sequencer {
	return &Sequencer{
		onComplete: onComplete,
		tasks:      make(map[uuid.UUID]*Task),
	}
}

// Running reports whether a batch is currently open.
func (s *Sequencer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// Add records fn under a fresh id and runs it on its own goroutine.
// If no batch is open, one opens; it closes once every task added during its
// window has finished, invoking the completion callback exactly once and then
// resolving the batch's awaitable with the aggregated failures.
func (s *Sequencer) Add(ctx context.Context, fn func(context.Context) error) *Task {
	s.mu.Lock()

	if s.cur == nil {
		s.cur = &batch{done: make(chan struct{})}
	}
	b := s.cur

	id := uuid.New()
	task := &Task{done: make(chan struct{})}
	s.tasks[id] = task

	s.mu.Unlock()

	go func() {
		bindCurrent(s)
		defer unbindCurrent()

		err := fn(ctx)
		s.finish(b, id, task, err)
	}()

	return task
}

func (s *Sequencer) finish(b *batch, id uuid.UUID, task *Task, err error) {
	s.mu.Lock()

	task.err = err
	if err != nil {
		b.errs = append(b.errs, err)
	}
	delete(s.tasks, id)

	drained := len(s.tasks) == 0
	if drained {
		s.cur = nil
	}

	s.mu.Unlock()

	close(task.done)

	if drained {
		if s.onComplete != nil {
			s.onComplete()
		}
		close(b.done)
	}
}

// AllDone returns the open batch's awaitable, or an already-closed channel
// when no batch is open.
func (s *Sequencer) AllDone() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil {
		return closedChan
	}
	return s.cur.done
}

// Wait blocks until the current batch drains (or ctx is canceled) and returns
// that batch's failures joined together. Returns nil when no batch is open.
func (s *Sequencer) Wait(ctx context.Context) error {
	s.mu.Lock()
	b := s.cur
	s.mu.Unlock()

	if b == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return errors.Join(b.errs...)
	}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
