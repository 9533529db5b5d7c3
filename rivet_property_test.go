package rivet

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Run("nil owner fails fast", func(t *testing.T) {
		p := &person{}
		assert.ErrorIs(t, InitEntity(&p.EntityBase, personMeta, nil), ErrNilTarget)
	})

	t.Run("double init fails fast", func(t *testing.T) {
		p := newPerson(t)
		assert.Error(t, InitEntity(&p.EntityBase, personMeta, p))
	})

	t.Run("use before init panics", func(t *testing.T) {
		p := &person{}
		assert.Panics(t, func() { _ = MustGet[string](p, "Name") })
	})
}

func TestPropertyAccess(t *testing.T) {
	t.Run("get returns the zero value before any write", func(t *testing.T) {
		p := newPerson(t)

		name, err := Get[string](p, "Name")
		assert.NoError(t, err)
		assert.Equal(t, "", name)

		age, err := Get[int](p, "Age")
		assert.NoError(t, err)
		assert.Equal(t, 0, age)
	})

	t.Run("set then get round-trips", func(t *testing.T) {
		p := newPerson(t)

		require.NoError(t, Set(p, "Name", "Ann"))
		require.NoError(t, Set(p, "Age", 41))

		assert.Equal(t, "Ann", MustGet[string](p, "Name"))
		assert.Equal(t, 41, MustGet[int](p, "Age"))
	})

	t.Run("unknown property", func(t *testing.T) {
		p := newPerson(t)

		err := Set(p, "Nope", "x")
		assert.ErrorIs(t, err, ErrPropertyNotFound)

		var perr *PropertyError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "test.Person", perr.TypeName)
		assert.Equal(t, "Nope", perr.Property)

		_, err = p.Property("Nope")
		assert.ErrorIs(t, err, ErrPropertyNotFound)
	})

	t.Run("type mismatch on write", func(t *testing.T) {
		p := newPerson(t)

		err := Set(p, "Name", 42)
		assert.ErrorIs(t, err, ErrTypeMismatch)

		// the failed write leaves the slot untouched
		assert.Equal(t, "", MustGet[string](p, "Name"))
	})

	t.Run("type mismatch on read", func(t *testing.T) {
		p := newPerson(t)
		require.NoError(t, Set(p, "Name", "Ann"))

		_, err := Get[int](p, "Name")
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("read-only rejects set but accepts load", func(t *testing.T) {
		p := newPerson(t)

		assert.ErrorIs(t, Set(p, "Code", "abc"), ErrReadOnly)
		require.NoError(t, Load(p, "Code", "abc"))
		assert.Equal(t, "abc", MustGet[string](p, "Code"))

		prop, err := p.Property("Code")
		require.NoError(t, err)
		assert.True(t, prop.IsReadOnly())
	})

	t.Run("clearing with nil resets to zero", func(t *testing.T) {
		p := newPerson(t)
		require.NoError(t, Set(p, "Name", "Ann"))

		prop, err := p.Property("Name")
		require.NoError(t, err)
		require.NoError(t, prop.Set(nil))

		assert.Equal(t, "", MustGet[string](p, "Name"))
	})
}

func TestChangeNotifications(t *testing.T) {
	t.Run("set raises a value change for the property", func(t *testing.T) {
		p := newPerson(t)

		events := []Change{}
		cancel := p.Subscribe(func(ch Change) {
			events = append(events, ch)
		})
		defer cancel()

		require.NoError(t, Set(p, "Age", 7))
		require.NoError(t, p.WaitForTasks(context.Background()))

		require.NotEmpty(t, events)
		assert.Equal(t, Change{Property: "Age", Kind: ChangeValue}, events[0])
	})

	t.Run("writing an equal value is a no-op", func(t *testing.T) {
		p := newPerson(t)
		require.NoError(t, Set(p, "Age", 7))
		require.NoError(t, p.WaitForTasks(context.Background()))

		count := 0
		cancel := p.Subscribe(func(Change) { count++ })
		defer cancel()

		require.NoError(t, Set(p, "Age", 7))
		require.NoError(t, p.WaitForTasks(context.Background()))
		assert.Zero(t, count)

		// setting the zero value on an untouched slot is a no-op too
		require.NoError(t, Set(p, "Email", ""))
		assert.Zero(t, count)
	})

	t.Run("zero write to an untouched slot fires nothing", func(t *testing.T) {
		p := newPerson(t)

		count := 0
		cancel := p.Subscribe(func(Change) { count++ })
		defer cancel()

		require.NoError(t, Set(p, "Email", ""))
		require.NoError(t, p.WaitForTasks(context.Background()))

		assert.Zero(t, count)
		assert.False(t, p.IsModified())
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		p := newPerson(t)

		count := 0
		cancel := p.Subscribe(func(Change) { count++ })
		cancel()

		require.NoError(t, Set(p, "Age", 7))
		require.NoError(t, p.WaitForTasks(context.Background()))
		assert.Zero(t, count)
	})
}

func TestModifiedTracking(t *testing.T) {
	t.Run("set marks modified, load does not", func(t *testing.T) {
		p := newPerson(t)
		assert.False(t, p.IsModified())

		require.NoError(t, Load(p, "Name", "Ann"))
		assert.False(t, p.IsModified())

		require.NoError(t, Set(p, "Age", 3))
		assert.True(t, p.IsModified())
		assert.True(t, p.IsSelfModified())

		prop, err := p.Property("Age")
		require.NoError(t, err)
		assert.True(t, prop.IsSelfModified())
	})

	t.Run("mark unmodified clears every slot", func(t *testing.T) {
		p := newPerson(t)
		require.NoError(t, Set(p, "Name", "Ann"))
		require.NoError(t, Set(p, "Age", 3))
		require.NoError(t, p.WaitForTasks(context.Background()))
		require.True(t, p.IsModified())

		p.MarkUnmodified()
		assert.False(t, p.IsModified())
		assert.False(t, p.IsSelfModified())
	})

	t.Run("new and old marks", func(t *testing.T) {
		p := newPerson(t)
		assert.False(t, p.IsNew())

		p.MarkNew()
		assert.True(t, p.IsNew())
		p.MarkOld()
		assert.False(t, p.IsNew())
	})
}

func TestLazyLoad(t *testing.T) {
	var calls atomic.Int64
	meta := NewTypeMeta("test.LazyDoc",
		Prop[string]("Body", LazyLoad(func(ctx context.Context) (string, error) {
			calls.Add(1)
			return "loaded", nil
		})),
		Prop[string]("Broken", LazyLoad(func(ctx context.Context) (string, error) {
			return "", errors.New("backend down")
		})),
	)

	type doc struct{ Base }
	d := &doc{}
	require.NoError(t, InitBase(&d.Base, meta, d))

	t.Run("first read triggers the loader once", func(t *testing.T) {
		// the value is not there yet; the read kicks off the load
		body, err := Get[string](d, "Body")
		require.NoError(t, err)
		assert.Equal(t, "", body)

		require.NoError(t, d.WaitForTasks(context.Background()))
		assert.Equal(t, "loaded", MustGet[string](d, "Body"))

		_ = MustGet[string](d, "Body")
		assert.Equal(t, int64(1), calls.Load())
	})

	t.Run("loader failure surfaces through the task batch", func(t *testing.T) {
		_, err := Get[string](d, "Broken")
		require.NoError(t, err)

		err = d.WaitForTasks(context.Background())
		assert.ErrorContains(t, err, "backend down")
	})
}
