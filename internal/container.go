package internal

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Container holds one named property slot: its value, its busy markers and,
// depending on the owning object's kind, its rule messages and dirty flag.
// Containers are created lazily by their Registry and share its lock for
// value/message state; the busy-marker set has its own lock because rule
// goroutines mark and unmark while the owner mutates other state.
type Container struct {
	meta *PropertyMeta
	reg  *Registry

	value any

	// set when the value is itself an observable object
	child       Observable
	unsubscribe func()

	messages     []Message
	selfModified bool

	busyMu    sync.Mutex
	busyMarks map[uuid.UUID]struct{}

	loadStarted bool
	loading     bool
}

func newContainer(meta *PropertyMeta, reg *Registry) *Container {
	return &Container{meta: meta, reg: reg}
}

func (c *Container) Name() string   { return c.meta.Name }
func (c *Container) ReadOnly() bool { return c.meta.ReadOnly }

// Value returns the current value. For a lazily-loaded property the first
// read triggers the loader exactly once, fire-and-forget, and returns the
// still-default value immediately; callers needing the loaded value await
// the object's tasks.
func (c *Container) Value() any {
	c.reg.mu.Lock()

	if c.meta.Loader != nil && !c.loadStarted {
		c.loadStarted = true
		c.loading = true
		c.reg.mu.Unlock()

		c.startLoad()

		c.reg.refresh()
		c.reg.mu.Lock()
	}

	v := c.value
	c.reg.mu.Unlock()
	return v
}

func (c *Container) startLoad() {
	seq := CurrentSequencer()
	if seq == nil {
		seq = c.reg.seq
	}

	loader := c.meta.Loader
	seq.Add(context.Background(), func(ctx context.Context) error {
		v, err := loader(ctx)
		if err == nil {
			err = c.Load(v)
		}

		c.reg.mu.Lock()
		c.loading = false
		c.reg.mu.Unlock()
		c.reg.refresh()

		if err != nil {
			log().Error("lazy load failed",
				slog.String("operation", "Load"),
				slog.String("type", c.reg.meta.Name),
				slog.String("property", c.meta.Name),
				slog.Any("error", err),
			)
		}
		return err
	})
}

// CurrentValue returns the value without triggering a lazy load.
func (c *Container) CurrentValue() any {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.value
}

// Set assigns a new value, wiring change relays and dirty tracking, and
// schedules any rules triggered by this property. No mutation happens on a
// failed type check, read-only write, or reparent guard hit.
func (c *Container) Set(v any) error {
	return c.assign(v, false)
}

// Load assigns a value the way Set does but bypasses dirty tracking and rule
// triggering. Used when hydrating from storage.
func (c *Container) Load(v any) error {
	return c.assign(v, true)
}

func (c *Container) assign(v any, load bool) error {
	c.reg.mu.Lock()

	if !load && c.meta.ReadOnly {
		c.reg.mu.Unlock()
		return propertyErr(c.reg.meta.Name, c.meta.Name, ErrReadOnly)
	}

	if err := c.check(v); err != nil {
		c.reg.mu.Unlock()
		return err
	}

	if c.meta.Equal(c.value, v) {
		c.reg.mu.Unlock()
		return nil
	}

	// reparent guard: never detach or attach an object mid-flight
	newChild, _ := v.(Observable)
	if c.child != nil && c.child.IsBusy() {
		c.reg.mu.Unlock()
		return propertyErr(c.reg.meta.Name, c.meta.Name, ErrChildBusy)
	}
	if newChild != nil && newChild.IsBusy() {
		c.reg.mu.Unlock()
		return propertyErr(c.reg.meta.Name, c.meta.Name, ErrChildBusy)
	}

	c.detachChild()
	if newChild != nil {
		c.attachChild(newChild)
	}

	if !load && c.reg.kind == KindEntity && !c.reg.paused && newChild == nil {
		c.selfModified = true
	}

	c.value = v
	trigger := !load && !c.reg.paused && c.reg.kind != KindPlain
	c.reg.mu.Unlock()

	c.reg.emit(Change{Property: c.meta.Name, Kind: ChangeValue})
	c.reg.refresh()

	if trigger {
		c.reg.scheduleRules(c.meta.Name)
	}

	return nil
}

func (c *Container) check(v any) error {
	if v == nil || c.meta.Check == nil {
		return nil
	}
	if err := c.meta.Check(v); err != nil {
		return propertyErr(c.reg.meta.Name, c.meta.Name, err)
	}
	return nil
}

// detachChild and attachChild are called with the registry lock held.
func (c *Container) detachChild() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	if ps, ok := c.child.(ParentSetter); ok {
		ps.SetParent(nil)
	}
	c.child = nil
}

func (c *Container) attachChild(child Observable) {
	c.child = child
	name := c.meta.Name
	c.unsubscribe = child.Subscribe(func(ch Change) {
		// value changes relay upward as a dotted path so rules with
		// nested trigger paths re-run; flag and message changes only
		// refresh the aggregates
		if ch.Kind == ChangeValue && ch.Property != "" {
			c.reg.childChanged(name + "." + ch.Property)
			return
		}
		c.reg.childChanged("")
	})

	if ps, ok := child.(ParentSetter); ok {
		ps.SetParent(c.reg.owner)
	}
}

// Messages returns a copy of the current rule messages.
func (c *Container) Messages() []Message {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()

	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// ApplyMessages atomically replaces every message owned by ruleKey with the
// given replacements. An empty replacement set clears the rule's messages.
func (c *Container) ApplyMessages(ruleKey string, msgs []Message) {
	c.reg.mu.Lock()
	c.messages = replaceMessages(c.messages, ruleKey, msgs)
	c.reg.mu.Unlock()

	c.reg.emit(Change{Property: c.meta.Name, Kind: ChangeMessages})
	c.reg.refresh()
}

// ClearMessages removes every message owned by ruleKey.
func (c *Container) ClearMessages(ruleKey string) {
	c.ApplyMessages(ruleKey, nil)
}

// MarkBusy records an in-flight execution against this property.
func (c *Container) MarkBusy(id uuid.UUID) {
	c.busyMu.Lock()
	if c.busyMarks == nil {
		c.busyMarks = make(map[uuid.UUID]struct{})
	}
	c.busyMarks[id] = struct{}{}
	c.busyMu.Unlock()

	c.reg.refresh()
}

// UnmarkBusy drops an execution marker. Safe to call for an unknown id.
func (c *Container) UnmarkBusy(id uuid.UUID) {
	c.busyMu.Lock()
	delete(c.busyMarks, id)
	c.busyMu.Unlock()

	c.reg.refresh()
}

func (c *Container) busyMarkCount() int {
	c.busyMu.Lock()
	defer c.busyMu.Unlock()
	return len(c.busyMarks)
}

func (c *Container) IsBusy() bool {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.isBusy()
}

func (c *Container) isBusy() bool {
	if c.loading || c.busyMarkCount() > 0 {
		return true
	}
	return c.child != nil && c.child.IsBusy()
}

func (c *Container) IsSelfValid() bool {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.isSelfValid()
}

// isSelfValid: a container wrapping a validating object delegates entirely
// to the child, so its own share is always valid.
func (c *Container) isSelfValid() bool {
	if _, ok := c.child.(Validatable); ok {
		return true
	}
	return len(c.messages) == 0
}

func (c *Container) IsValid() bool {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.isValid()
}

func (c *Container) isValid() bool {
	if !c.isSelfValid() {
		return false
	}
	if v, ok := c.child.(Validatable); ok {
		return v.IsValid()
	}
	return true
}

func (c *Container) IsSelfModified() bool {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.selfModified
}

func (c *Container) IsModified() bool {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.isModified()
}

func (c *Container) isModified() bool {
	if c.selfModified {
		return true
	}
	if t, ok := c.child.(Trackable); ok {
		return t.IsModified()
	}
	return false
}

// MarkUnmodified clears the dirty flag, typically after a successful save.
func (c *Container) MarkUnmodified() {
	c.reg.mu.Lock()
	c.selfModified = false
	c.reg.mu.Unlock()

	c.reg.refresh()
}

// EncodeValue and DecodeValue round-trip a value through the property's
// declared codec.
func (c *Container) EncodeValue(v any) ([]byte, error) {
	return c.meta.Encode(v)
}

func (c *Container) DecodeValue(data []byte) (any, error) {
	return c.meta.Decode(data)
}

// NewChild builds a fresh child object from the property's factory.
func (c *Container) NewChild() (any, error) {
	if c.meta.NewValue == nil {
		return nil, propertyErr(c.reg.meta.Name, c.meta.Name, ErrNoFactory)
	}
	return c.meta.NewValue()
}

// RestoreSnapshot rewires a deserialized value, message list, and dirty flag.
// Busy markers and lazy-load state stay at their idle defaults.
func (c *Container) RestoreSnapshot(v any, msgs []Message, selfModified bool) error {
	if err := c.check(v); err != nil {
		return err
	}

	c.reg.mu.Lock()
	c.detachChild()
	if child, ok := v.(Observable); ok && child != nil {
		c.attachChild(child)
	}
	c.value = v
	c.messages = append([]Message(nil), msgs...)
	c.selfModified = selfModified
	c.reg.mu.Unlock()

	c.reg.refresh()
	return nil
}
