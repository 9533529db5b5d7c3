package rivet

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/statefold/rivet/internal"
)

// TypeMeta is the process-wide, read-only property table for one declaring
// type. Built once and shared by every instance of the type.
type TypeMeta struct {
	inner *internal.TypeMeta
}

// NewTypeMeta declares a type's properties and registers them process-wide.
// Declaring the same type name twice, or the same property twice, panics:
// metadata registration is package-init code and a duplicate is always a
// programming error.
func NewTypeMeta(name string, props ...PropertyDef) *TypeMeta {
	ms := make([]*internal.PropertyMeta, len(props))
	for i, p := range props {
		ms[i] = p.meta
	}

	tm := internal.NewTypeMeta(name, ms)
	internal.RegisterTypeMeta(tm)
	return &TypeMeta{inner: tm}
}

func (tm *TypeMeta) Name() string {
	return tm.inner.Name
}

// LookupTypeMeta finds a previously registered type table by name.
func LookupTypeMeta(name string) (*TypeMeta, bool) {
	tm, ok := internal.LookupTypeMeta(name)
	if !ok {
		return nil, false
	}
	return &TypeMeta{inner: tm}, true
}

// PropertyDef is one property declaration inside NewTypeMeta.
type PropertyDef struct {
	meta *internal.PropertyMeta
}

// PropOption configures a property declaration.
type PropOption func(*internal.PropertyMeta)

// Prop declares a property of element type T. The type tag is captured here
// once: containers type-check writes against it without any reflection over
// the owning struct.
func Prop[T any](name string, opts ...PropOption) PropertyDef {
	var zero T
	typeName := reflect.TypeOf((*T)(nil)).Elem().String()

	m := &internal.PropertyMeta{
		Name:     name,
		TypeName: typeName,
		Check: func(v any) error {
			if _, ok := v.(T); !ok {
				return fmt.Errorf("%w: cannot assign %T to %s", ErrTypeMismatch, v, typeName)
			}
			return nil
		},
		// a never-written slot holds untyped nil; compare it as the zero
		// value so writing the zero to an untouched slot stays a no-op
		Equal: func(a, b any) bool {
			if a == nil {
				a = zero
			}
			if b == nil {
				b = zero
			}
			return isEqual(a, b)
		},
		Empty: func(v any) bool {
			if v == nil {
				return true
			}
			return isEqual(v, zero)
		},
		Encode: func(v any) ([]byte, error) {
			return json.Marshal(v)
		},
		Decode: func(data []byte) (any, error) {
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return PropertyDef{meta: m}
}

// ReadOnly marks the property as not writable through Set. Load still works.
func ReadOnly() PropOption {
	return func(m *internal.PropertyMeta) {
		m.ReadOnly = true
	}
}

// Required attaches a required-field validation attribute. It is materialized
// into a rule (key "required:<name>") when the owning object's rules are
// constructed, and feeds the object-level required-fields aggregate.
func Required(message string) PropOption {
	return func(m *internal.PropertyMeta) {
		m.RequiredMessage = message
	}
}

// MaxLength attaches a maximum-length validation attribute for string
// properties, materialized as rule key "maxlength:<name>".
func MaxLength(n int, message string) PropOption {
	return func(m *internal.PropertyMeta) {
		m.MaxLength = n
		m.MaxLengthMessage = message
	}
}

// LazyLoad configures a loader triggered exactly once, fire-and-forget, on
// the property's first read. The load joins the object's task batch; await
// WaitForTasks for the loaded value.
func LazyLoad[T any](loader func(ctx context.Context) (T, error)) PropOption {
	return func(m *internal.PropertyMeta) {
		m.Loader = func(ctx context.Context) (any, error) {
			return loader(ctx)
		}
	}
}

// WithEqual overrides the equality used to suppress no-op writes. Untyped
// nil compares as the zero value, same as the default equality.
func WithEqual[T any](eq func(a, b T) bool) PropOption {
	var zero T
	return func(m *internal.PropertyMeta) {
		m.Equal = func(a, b any) bool {
			if a == nil {
				a = zero
			}
			if b == nil {
				b = zero
			}
			at, aok := a.(T)
			bt, bok := b.(T)
			if !aok || !bok {
				return false
			}
			return eq(at, bt)
		}
	}
}

// WithFactory supplies a constructor for object-valued properties, used when
// restoring serialized state.
func WithFactory[T any](fn func() (T, error)) PropOption {
	return func(m *internal.PropertyMeta) {
		m.NewValue = func() (any, error) {
			return fn()
		}
	}
}
