package rivet

import (
	"github.com/statefold/rivet/internal"
)

// Message is a single validation finding, tagged with the rule that produced
// it. An empty Text clears.
type Message = internal.Message

// Msg builds a finding for one property.
func Msg(property, text string) Message {
	return Message{Property: property, Text: text}
}

// ObjectMsg builds a finding attributed to the object itself rather than a
// property.
func ObjectMsg(text string) Message {
	return Message{Text: text}
}

// Change is a change notification raised by an object.
type Change = internal.Change

// ChangeKind values carried by Change.
const (
	ChangeValue    = internal.ChangeValue
	ChangeFlags    = internal.ChangeFlags
	ChangeMessages = internal.ChangeMessages
)

// Get reads the named property's current value, triggering a configured lazy
// loader on first access.
func Get[T any](o Object, name string) (T, error) {
	var zero T

	c, err := o.props().GetProperty(name)
	if err != nil {
		return zero, err
	}

	v := c.Value()
	if v == nil {
		return zero, nil
	}

	t, ok := v.(T)
	if !ok {
		return zero, &PropertyError{TypeName: o.TypeName(), Property: name, Err: ErrTypeMismatch}
	}
	return t, nil
}

// MustGet is Get for generated accessors where the property name and type
// are known correct at generation time.
func MustGet[T any](o Object, name string) T {
	v, err := Get[T](o, name)
	if err != nil {
		panic(err)
	}
	return v
}

// Set writes the named property, firing change notifications and triggering
// any rules whose trigger properties include it.
func Set[T any](o Object, name string, v T) error {
	c, err := o.props().GetProperty(name)
	if err != nil {
		return err
	}
	return c.Set(v)
}

// Load writes the named property the way Set does but bypasses dirty
// tracking and rule triggering. Used when hydrating from storage.
func Load[T any](o Object, name string, v T) error {
	c, err := o.props().GetProperty(name)
	if err != nil {
		return err
	}
	return c.Load(v)
}

// isEqual compares two dynamic values, treating non-comparable types as
// never equal.
func isEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()

	return a == b
}
