package rivet

import "github.com/statefold/rivet/internal"

// Sentinel errors, checkable with errors.Is.
var (
	ErrPropertyNotFound = internal.ErrPropertyNotFound
	ErrTypeMismatch     = internal.ErrTypeMismatch
	ErrReadOnly         = internal.ErrReadOnly
	ErrChildBusy        = internal.ErrChildBusy
	ErrInvalidTarget    = internal.ErrInvalidTarget
	ErrNilTarget        = internal.ErrNilTarget
	ErrDuplicateRule    = internal.ErrDuplicateRule
)

// PropertyError carries the owning type and property name of a failure.
// Use errors.As to reach it, errors.Is for the underlying sentinel.
type PropertyError = internal.PropertyError
