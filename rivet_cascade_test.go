package rivet

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParentChildCascade(t *testing.T) {
	ctx := context.Background()

	attach := func(t *testing.T) (*person, *address) {
		t.Helper()
		p := newPerson(t)
		a, err := newAddress()
		require.NoError(t, err)
		require.NoError(t, Set(p, "Address", a))
		require.NoError(t, p.WaitForTasks(ctx))
		return p, a
	}

	t.Run("child invalidity bubbles, self-validity does not", func(t *testing.T) {
		p, a := attach(t)

		require.NoError(t, a.RunAllRules(ctx, RunAll))
		require.False(t, a.IsValid())

		assert.False(t, p.IsValid())
		assert.True(t, p.IsSelfValid())

		prop, err := p.Property("Address")
		require.NoError(t, err)
		assert.False(t, prop.IsValid())
		assert.True(t, prop.IsSelfValid())

		require.NoError(t, Set(a, "City", "Lyon"))
		require.NoError(t, p.WaitForTasks(ctx))
		assert.True(t, a.IsValid())
		assert.True(t, p.IsValid())
	})

	t.Run("child flag flips raise a parent notification", func(t *testing.T) {
		p, a := attach(t)

		flips := 0
		cancel := p.Subscribe(func(ch Change) {
			if ch.Kind == ChangeFlags {
				flips++
			}
		})
		defer cancel()

		require.NoError(t, a.RunAllRules(ctx, RunAll))
		assert.Positive(t, flips)
	})

	t.Run("run-all cascades into children", func(t *testing.T) {
		p, a := attach(t)

		require.NoError(t, p.RunAllRules(ctx, RunAll))
		assert.False(t, a.IsValid(), "the child's required rule must have run")
		assert.False(t, p.IsValid())

		msgs := messagesFor(a, "City")
		require.Len(t, msgs, 1)
		assert.Equal(t, "City is required", msgs[0].Text)
	})

	t.Run("run-self stays on the parent", func(t *testing.T) {
		p, a := attach(t)

		require.NoError(t, p.RunAllRules(ctx, RunSelf))
		assert.Empty(t, a.RuleMessages())
		assert.True(t, a.IsValid())
	})

	t.Run("dotted triggers follow the nested property", func(t *testing.T) {
		p := newPerson(t)
		a, err := newAddress()
		require.NoError(t, err)

		var runs atomic.Int32
		require.NoError(t, p.RegisterRule(NewRule("city-watch", func(ctx context.Context, p *person) ([]Message, error) {
			runs.Add(1)
			return nil, nil
		}, Triggers("Address.City"))))

		require.NoError(t, Set(p, "Address", a))
		require.NoError(t, p.WaitForTasks(ctx))
		assert.Equal(t, int32(1), runs.Load(), "replacing the root runs the rule")

		require.NoError(t, Set(a, "City", "Lyon"))
		require.NoError(t, p.WaitForTasks(ctx))
		assert.Equal(t, int32(2), runs.Load(), "a change inside the child runs it too")
	})

	t.Run("child modification bubbles, self-modification does not", func(t *testing.T) {
		p, a := attach(t)
		p.MarkUnmodified()
		require.False(t, p.IsModified())

		require.NoError(t, Set(a, "City", "Lyon"))
		require.NoError(t, p.WaitForTasks(ctx))

		assert.True(t, a.IsSelfModified())
		assert.True(t, p.IsModified())
		assert.False(t, p.IsSelfModified())

		p.MarkUnmodified()
		assert.False(t, a.IsModified())
		assert.False(t, p.IsModified())
	})
}
