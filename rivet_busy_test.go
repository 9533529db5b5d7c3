package rivet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusyRoundTrip(t *testing.T) {
	p := newPerson(t)
	p.emailGate = make(chan struct{})
	p.emailStarted = make(chan struct{}, 1)
	ctx := context.Background()

	require.NoError(t, Set(p, "Email", "ann@x.dev"))

	// the batch opens as soon as the write schedules its rules
	assert.True(t, p.IsBusy())

	<-p.emailStarted

	prop, err := p.Property("Email")
	require.NoError(t, err)
	assert.True(t, prop.IsBusy())
	assert.False(t, p.IsSavable())

	close(p.emailGate)
	require.NoError(t, p.WaitForTasks(ctx))

	// no busy marker may survive the rule's completion
	assert.False(t, prop.IsBusy())
	assert.False(t, p.IsBusy())
}

func TestReparentGuard(t *testing.T) {
	ctx := context.Background()

	p := newPerson(t)
	a, err := newAddress()
	require.NoError(t, err)
	a.gate = make(chan struct{})
	a.started = make(chan struct{}, 1)

	require.NoError(t, Set(a, "City", "Lyon"))
	<-a.started
	require.True(t, a.IsBusy())

	t.Run("a busy object cannot be adopted", func(t *testing.T) {
		assert.ErrorIs(t, Set(p, "Address", a), ErrChildBusy)
	})

	close(a.gate)
	require.NoError(t, a.WaitForTasks(ctx))

	t.Run("a settled object can", func(t *testing.T) {
		require.NoError(t, Set(p, "Address", a))
		assert.True(t, a.IsChild())
		assert.Same(t, p, a.Parent())
		assert.Same(t, p, a.Root())
	})

	t.Run("a busy child cannot be detached either", func(t *testing.T) {
		a.gate = make(chan struct{})
		a.started = make(chan struct{}, 1)
		require.NoError(t, Set(a, "City", "Paris"))
		<-a.started

		prop, err := p.Property("Address")
		require.NoError(t, err)
		assert.ErrorIs(t, prop.Set(nil), ErrChildBusy)

		close(a.gate)
		require.NoError(t, p.WaitForTasks(ctx))

		require.NoError(t, prop.Set(nil))
		assert.False(t, a.IsChild())
		assert.Nil(t, a.Parent())
	})
}

func TestForeignBatchWait(t *testing.T) {
	ctx := context.Background()

	p := newPerson(t)
	a, err := newAddress()
	require.NoError(t, err)
	require.NoError(t, Set(p, "Address", a))
	require.NoError(t, p.WaitForTasks(ctx))

	// a parent rule writing into the child makes the child's rules join the
	// parent's batch, leaving the child's own sequencer idle while its
	// containers are busy
	require.NoError(t, p.RegisterRule(NewRule("copy-city", func(ctx context.Context, p *person) ([]Message, error) {
		child := MustGet[*address](p, "Address")
		if child == nil {
			return nil, nil
		}
		return nil, Set(child, "City", MustGet[string](p, "Email"))
	}, Triggers("Email"))))

	a.gate = make(chan struct{})
	a.started = make(chan struct{}, 1)

	require.NoError(t, Set(p, "Email", "Lyon"))
	<-a.started
	require.True(t, a.IsBusy())

	done := make(chan error, 1)
	go func() { done <- a.WaitForTasks(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("wait returned while the child was still busy: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(a.gate)
	require.NoError(t, <-done)
	assert.False(t, a.IsBusy())
	require.NoError(t, p.WaitForTasks(ctx))
}

func TestChildBusyPropagates(t *testing.T) {
	ctx := context.Background()

	p := newPerson(t)
	a, err := newAddress()
	require.NoError(t, err)
	require.NoError(t, Set(p, "Address", a))
	require.NoError(t, p.WaitForTasks(ctx))

	a.gate = make(chan struct{})
	a.started = make(chan struct{}, 1)
	require.NoError(t, Set(a, "City", "Lyon"))
	<-a.started

	prop, err := p.Property("Address")
	require.NoError(t, err)
	assert.True(t, prop.IsBusy())
	assert.True(t, p.IsBusy())

	close(a.gate)

	// waiting on the parent settles the child's work too
	require.NoError(t, p.WaitForTasks(ctx))
	assert.False(t, p.IsBusy())
	assert.False(t, a.IsBusy())
}
