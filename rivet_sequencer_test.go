package rivet

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskSequencer(t *testing.T) {
	ctx := context.Background()

	t.Run("idle sequencer resolves immediately", func(t *testing.T) {
		q := NewTaskSequencer(nil)

		assert.False(t, q.IsRunning())
		assert.NoError(t, q.Wait(ctx))

		select {
		case <-q.AllDone():
		default:
			t.Fatal("AllDone must be closed while idle")
		}
	})

	t.Run("a batch stays open until every task drains", func(t *testing.T) {
		var completions atomic.Int64
		q := NewTaskSequencer(func() { completions.Add(1) })

		gate := make(chan struct{})
		for i := 0; i < 3; i++ {
			q.AddTask(func(ctx context.Context) error {
				<-gate
				return nil
			})
		}
		assert.True(t, q.IsRunning())
		assert.Equal(t, int64(0), completions.Load())

		close(gate)
		require.NoError(t, q.Wait(ctx))

		assert.False(t, q.IsRunning())
		assert.Equal(t, int64(1), completions.Load(), "one completion per batch")
	})

	t.Run("task failures aggregate into the batch result", func(t *testing.T) {
		q := NewTaskSequencer(nil)
		first := errors.New("first failure")
		second := errors.New("second failure")

		tk := q.AddTask(func(ctx context.Context) error { return first })
		q.AddTask(func(ctx context.Context) error { return second })
		q.AddTask(func(ctx context.Context) error { return nil })

		err := q.Wait(ctx)
		assert.ErrorIs(t, err, first)
		assert.ErrorIs(t, err, second)

		<-tk.Done()
		assert.ErrorIs(t, tk.Err(), first)
	})

	t.Run("a new batch does not inherit the previous fault", func(t *testing.T) {
		q := NewTaskSequencer(nil)

		q.AddTask(func(ctx context.Context) error { return errors.New("stale") })
		require.Error(t, q.Wait(ctx))

		q.AddTask(func(ctx context.Context) error { return nil })
		assert.NoError(t, q.Wait(ctx))
	})

	t.Run("waiting respects cancellation", func(t *testing.T) {
		q := NewTaskSequencer(nil)
		gate := make(chan struct{})
		defer close(gate)

		q.AddTask(func(ctx context.Context) error {
			<-gate
			return nil
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, q.Wait(ctx), context.DeadlineExceeded)
	})

	t.Run("individual tasks are awaitable", func(t *testing.T) {
		q := NewTaskSequencer(nil)

		tk := q.AddTask(func(ctx context.Context) error { return nil })
		require.NoError(t, tk.Wait(ctx))
		assert.NoError(t, tk.Err())
	})
}

func TestAddTask(t *testing.T) {
	p := newPerson(t)
	ctx := context.Background()

	done := make(chan struct{})
	p.AddTask(func(ctx context.Context) error {
		close(done)
		return nil
	})

	require.NoError(t, p.WaitForTasks(ctx))
	select {
	case <-done:
	default:
		t.Fatal("task did not run before WaitForTasks returned")
	}
}
