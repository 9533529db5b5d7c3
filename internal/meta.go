package internal

import (
	"context"
	"fmt"
	"sync"
)

// ObjectKind selects how much machinery an object's containers carry.
type ObjectKind int

const (
	// KindPlain containers only hold a value and raise change notifications.
	KindPlain ObjectKind = iota
	// KindValidate adds rule messages and validity tracking.
	KindValidate
	// KindEntity adds dirty tracking on top of KindValidate.
	KindEntity
)

// PropertyMeta is the static descriptor one property is built from.
// Built once per declaring type and shared by every instance.
type PropertyMeta struct {
	Name     string
	TypeName string
	ReadOnly bool

	// Check reports whether a candidate value is assignable to the declared type.
	Check func(v any) error
	// Equal compares two values of the declared type.
	Equal func(a, b any) bool
	// Empty reports whether a value counts as "unset" for required tracking.
	Empty func(v any) bool

	Encode func(v any) ([]byte, error)
	Decode func(data []byte) (any, error)

	// Loader, when set, is triggered exactly once on first read (fire-and-forget).
	Loader func(ctx context.Context) (any, error)

	// NewValue builds a fresh child object for state restoration.
	NewValue func() (any, error)

	// Declarative validation attributes, materialized into rules
	// when the owning object's rule manager is constructed.
	RequiredMessage  string
	MaxLength        int
	MaxLengthMessage string
}

// TypeMeta is the ordered property metadata for one declaring type.
type TypeMeta struct {
	Name   string
	Props  []*PropertyMeta
	byName map[string]*PropertyMeta
}

func NewTypeMeta(name string, props []*PropertyMeta) *TypeMeta {
	tm := &TypeMeta{
		Name:   name,
		Props:  props,
		byName: make(map[string]*PropertyMeta, len(props)),
	}

	for _, p := range props {
		if _, ok := tm.byName[p.Name]; ok {
			panic(fmt.Sprintf("rivet: type %q declares property %q twice", name, p.Name))
		}
		tm.byName[p.Name] = p
	}

	return tm
}

func (tm *TypeMeta) Lookup(name string) (*PropertyMeta, bool) {
	p, ok := tm.byName[name]
	return p, ok
}

// process-wide metadata table, built once per type and shared
var (
	metaMu sync.Mutex
	metas  = make(map[string]*TypeMeta)
)

// RegisterTypeMeta stores the descriptor table for a type name.
// Registering the same name twice is a programming error.
func RegisterTypeMeta(tm *TypeMeta) {
	metaMu.Lock()
	defer metaMu.Unlock()

	if _, ok := metas[tm.Name]; ok {
		panic(fmt.Sprintf("rivet: type %q registered twice", tm.Name))
	}
	metas[tm.Name] = tm
}

func LookupTypeMeta(name string) (*TypeMeta, bool) {
	metaMu.Lock()
	defer metaMu.Unlock()

	tm, ok := metas[name]
	return tm, ok
}
