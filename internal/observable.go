package internal

import "context"

type ChangeKind int

const (
	// ChangeValue fires when a property's raw value changes (also while paused).
	ChangeValue ChangeKind = iota
	// ChangeFlags fires when one of the object's aggregate flags flips.
	ChangeFlags
	// ChangeMessages fires when rule messages are applied to a property.
	ChangeMessages
)

type Change struct {
	Property string
	Kind     ChangeKind
}

// Observable is the view a container has of a value that is itself an object.
type Observable interface {
	IsBusy() bool
	Subscribe(fn func(Change)) (cancel func())
	WaitForTasks(ctx context.Context) error
}

// Validatable is an observable value that tracks its own validity.
type Validatable interface {
	Observable
	IsValid() bool
}

// Trackable is a validatable value that tracks its own modifications.
type Trackable interface {
	Validatable
	IsModified() bool
}

// RuleRunner is implemented by objects that own rules, so a parent registry
// can cascade a run-rules call through its object-valued properties.
type RuleRunner interface {
	RunAllRules(ctx context.Context, flag RunFlag) error
}

// ParentSetter receives a weak back-reference when attached to a parent.
// The reference is for walk-to-root lookups only, never ownership.
type ParentSetter interface {
	SetParent(parent any)
}
