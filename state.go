package rivet

import (
	"encoding/json"
	"fmt"
)

// objectState is the serialized form of one object: each instantiated
// property's (name, value, messages, readOnly, selfModified), recursing
// through child objects. Busy markers and lazy-load state are deliberately
// not serialized; they reset to idle on restore.
type objectState struct {
	Type       string          `json:"type"`
	Properties []propertyState `json:"properties"`
}

type propertyState struct {
	Name         string          `json:"name"`
	Value        json.RawMessage `json:"value,omitempty"`
	Object       *objectState    `json:"object,omitempty"`
	Messages     []Message       `json:"messages,omitempty"`
	ReadOnly     bool            `json:"readOnly,omitempty"`
	SelfModified bool            `json:"selfModified,omitempty"`
}

// SaveState serializes the object graph. Restoring into a fresh instance
// with RestoreState reproduces the same valid/modified state; busy state
// resets to idle.
func SaveState(o Object) ([]byte, error) {
	st, err := snapshotObject(o)
	if err != nil {
		return nil, err
	}
	return json.Marshal(st)
}

func snapshotObject(o Object) (*objectState, error) {
	reg := o.props()
	st := &objectState{Type: reg.Meta().Name}

	for _, c := range reg.Containers() {
		ps := propertyState{
			Name:         c.Name(),
			Messages:     c.Messages(),
			ReadOnly:     c.ReadOnly(),
			SelfModified: c.IsSelfModified(),
		}

		v := c.CurrentValue()
		switch child := v.(type) {
		case nil:
		case Object:
			sub, err := snapshotObject(child)
			if err != nil {
				return nil, err
			}
			ps.Object = sub
		default:
			data, err := c.EncodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("encode %s.%s: %w", st.Type, c.Name(), err)
			}
			ps.Value = data
		}

		st.Properties = append(st.Properties, ps)
	}

	return st, nil
}

// RestoreState hydrates a freshly constructed object from SaveState output,
// rebuilding child objects through their property factories, re-subscribing
// change relays, and recomputing aggregates.
func RestoreState(o Object, data []byte) error {
	var st objectState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	return restoreObject(o, &st)
}

func restoreObject(o Object, st *objectState) error {
	reg := o.props()
	if st.Type != reg.Meta().Name {
		return fmt.Errorf("rivet: state for type %q restored into %q", st.Type, reg.Meta().Name)
	}

	for _, ps := range st.Properties {
		c, err := reg.GetProperty(ps.Name)
		if err != nil {
			return err
		}

		var v any
		switch {
		case ps.Object != nil:
			nv, err := c.NewChild()
			if err != nil {
				return err
			}
			child, ok := nv.(Object)
			if !ok {
				return fmt.Errorf("rivet: factory for %s.%s built %T, not an object", st.Type, ps.Name, nv)
			}
			if err := restoreObject(child, ps.Object); err != nil {
				return err
			}
			v = child
		case ps.Value != nil:
			if v, err = c.DecodeValue(ps.Value); err != nil {
				return fmt.Errorf("decode %s.%s: %w", st.Type, ps.Name, err)
			}
		}

		if err := c.RestoreSnapshot(v, ps.Messages, ps.SelfModified); err != nil {
			return err
		}
	}

	return nil
}
