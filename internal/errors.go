package internal

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is() checking.
var (
	ErrPropertyNotFound = errors.New("property not found")
	ErrTypeMismatch     = errors.New("property type mismatch")
	ErrReadOnly         = errors.New("property is read-only")
	ErrChildBusy        = errors.New("child object has tasks in flight")
	ErrInvalidTarget    = errors.New("invalid rule target type")
	ErrNilTarget        = errors.New("rule target is nil")
	ErrDuplicateRule    = errors.New("duplicate rule key")
	ErrNoFactory        = errors.New("object-valued property has no factory")
)

// PropertyError wraps a sentinel with the property (and owning type) it concerns.
type PropertyError struct {
	TypeName string
	Property string
	Err      error
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.TypeName, e.Property, e.Err)
}

func (e *PropertyError) Unwrap() error {
	return e.Err
}

func propertyErr(typeName, property string, err error) error {
	return &PropertyError{TypeName: typeName, Property: property, Err: err}
}
