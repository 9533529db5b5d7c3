package internal

import (
	"context"
	"errors"
	"sync"
)

// Flags are the aggregate folds over a registry's instantiated containers.
type Flags struct {
	Busy         bool
	Valid        bool
	SelfValid    bool
	Modified     bool
	SelfModified bool
}

// Registry is the per-instance collection of property containers for one
// object. Containers are created lazily from the type's static metadata and
// owned exclusively by the registry. Aggregate flags are recomputed on every
// underlying change notification and re-raised only when one actually flips.
type Registry struct {
	mu sync.Mutex

	meta  *TypeMeta
	kind  ObjectKind
	owner any

	bag map[string]*Container

	paused bool

	flags Flags

	listeners map[int]func(Change)
	nextID    int

	seq *Sequencer

	// installed by the rule manager, nil for plain objects
	runRulesFor func(property string)
}

func NewRegistry(meta *TypeMeta, kind ObjectKind, owner any, seq *Sequencer) *Registry {
	return &Registry{
		meta:      meta,
		kind:      kind,
		owner:     owner,
		bag:       make(map[string]*Container),
		flags:     Flags{Valid: true, SelfValid: true},
		listeners: make(map[int]func(Change)),
		seq:       seq,
	}
}

func (r *Registry) Meta() *TypeMeta  { return r.meta }
func (r *Registry) Kind() ObjectKind { return r.kind }
func (r *Registry) Owner() any       { return r.owner }
func (r *Registry) Seq() *Sequencer  { return r.seq }

// SetRuleHook installs the callback that schedules rule runs for a changed
// property. Must be called before the first property write.
func (r *Registry) SetRuleHook(fn func(property string)) {
	r.runRulesFor = fn
}

// GetProperty returns the named container, creating it from the type's
// static metadata on first access.
func (r *Registry) GetProperty(name string) (*Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.bag[name]; ok {
		return c, nil
	}

	meta, ok := r.meta.Lookup(name)
	if !ok {
		return nil, propertyErr(r.meta.Name, name, ErrPropertyNotFound)
	}

	c := newContainer(meta, r)
	r.bag[name] = c
	return c, nil
}

// Containers returns the instantiated containers in declaration order.
func (r *Registry) Containers() []*Container {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Container, 0, len(r.bag))
	for _, pm := range r.meta.Props {
		if c, ok := r.bag[pm.Name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Pause suppresses rule triggering and dirty tracking on every container
// until Resume. Values set while paused still update and still raise plain
// change notifications for binding.
func (r *Registry) Pause() {
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
}

// Resume re-enables rule triggering and dirty tracking. Rules suppressed
// while paused do not run retroactively.
func (r *Registry) Resume() {
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
}

func (r *Registry) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *Registry) IsBusy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fold().Busy
}

func (r *Registry) IsValid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fold().Valid
}

func (r *Registry) IsSelfValid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fold().SelfValid
}

func (r *Registry) IsModified() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fold().Modified
}

func (r *Registry) IsSelfModified() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fold().SelfModified
}

// fold recomputes the aggregates over the current bag. Lock held.
func (r *Registry) fold() Flags {
	f := Flags{Valid: true, SelfValid: true}
	for _, c := range r.bag {
		f.Busy = f.Busy || c.isBusy()
		f.Valid = f.Valid && c.isValid()
		f.SelfValid = f.SelfValid && c.isSelfValid()
		f.Modified = f.Modified || c.isModified()
		f.SelfModified = f.SelfModified || c.selfModified
	}
	return f
}

// refresh recomputes the aggregate flags and re-raises a change event only
// when one flipped, so bulk updates don't turn into notification storms.
func (r *Registry) refresh() {
	r.mu.Lock()
	next := r.fold()
	flipped := next != r.flags
	r.flags = next
	r.mu.Unlock()

	if flipped {
		r.emit(Change{Kind: ChangeFlags})
	}
}

// childChanged relays a change raised by an object held in one of our
// containers. A non-empty path is the dotted property path of a child value
// change and schedules any rules triggered by it.
func (r *Registry) childChanged(path string) {
	r.refresh()
	if path == "" {
		return
	}

	r.mu.Lock()
	paused := r.paused
	r.mu.Unlock()
	if !paused {
		r.scheduleRules(path)
	}
}

// Subscribe registers a change listener and returns its cancel function.
func (r *Registry) Subscribe(fn func(Change)) (cancel func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// emit dispatches outside the lock so listeners can read state freely.
func (r *Registry) emit(ch Change) {
	r.mu.Lock()
	fns := make([]func(Change), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

func (r *Registry) scheduleRules(property string) {
	if r.runRulesFor == nil {
		return
	}
	r.runRulesFor(property)
}

// RunChildRules cascades a run-rules call to every contained rule-bearing
// child, in property declaration order. Not safe to call concurrently with
// itself.
func (r *Registry) RunChildRules(ctx context.Context, flag RunFlag) error {
	var errs []error
	for _, c := range r.Containers() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		child, ok := c.CurrentValueChild().(RuleRunner)
		if !ok {
			continue
		}
		if err := child.RunAllRules(ctx, flag); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CurrentValueChild returns the container's value when it is an observable
// object, without triggering lazy loads.
func (c *Container) CurrentValueChild() any {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if c.child == nil {
		return nil
	}
	return c.child
}

// WaitForChildren settles every busy child object, recursively.
func (r *Registry) WaitForChildren(ctx context.Context) error {
	var errs []error
	for _, c := range r.Containers() {
		child, ok := c.CurrentValueChild().(Observable)
		if !ok {
			continue
		}
		if err := child.WaitForTasks(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
