package rivet

import (
	"context"
	"fmt"
	"sync"

	"github.com/statefold/rivet/internal"
)

// Object is the minimal surface every rivet-backed object exposes.
// Only the base types in this package implement it; domain types get it by
// embedding them.
type Object interface {
	TypeName() string
	IsBusy() bool
	IsPaused() bool
	Subscribe(fn func(Change)) (cancel func())
	WaitForTasks(ctx context.Context) error

	props() *internal.Registry
}

// ValidateObject adds rule execution and validity tracking.
type ValidateObject interface {
	Object
	IsValid() bool
	IsSelfValid() bool
	RuleMessages() []Message
	RunRules(ctx context.Context, property string) error
	RunAllRules(ctx context.Context, flag RunFlag) error
}

// EntityObject adds dirty tracking and graph position.
type EntityObject interface {
	ValidateObject
	IsModified() bool
	IsSelfModified() bool
	IsNew() bool
	IsChild() bool
	IsSavable() bool
	Parent() any
}

// Base gives an object typed observable properties and task settling, with
// no validation or dirty tracking. Embed it and call InitBase before use.
type Base struct {
	meta *TypeMeta
	reg  *internal.Registry
	seq  *internal.Sequencer
}

// InitBase wires an embedded Base to its metadata. The owner is the outer
// domain value the bases belong to.
func InitBase(b *Base, meta *TypeMeta, owner any) error {
	return b.init(meta, internal.KindPlain, owner)
}

func (b *Base) init(meta *TypeMeta, kind internal.ObjectKind, owner any) error {
	if owner == nil {
		return ErrNilTarget
	}
	if b.reg != nil {
		return fmt.Errorf("rivet: %s already initialized", meta.Name())
	}

	b.meta = meta
	b.seq = internal.NewSequencer(nil)
	b.reg = internal.NewRegistry(meta.inner, kind, owner, b.seq)
	return nil
}

func (b *Base) props() *internal.Registry {
	if b.reg == nil {
		panic("rivet: object used before Init")
	}
	return b.reg
}

func (b *Base) TypeName() string {
	return b.props().Meta().Name
}

// Property returns the named property's view, creating its container from
// the type metadata on first access. This indexer is the sole access path;
// there is no way to enumerate all properties.
func (b *Base) Property(name string) (*Property, error) {
	c, err := b.props().GetProperty(name)
	if err != nil {
		return nil, err
	}
	return &Property{c: c}, nil
}

func (b *Base) IsBusy() bool {
	return b.props().IsBusy() || b.seq.Running()
}

func (b *Base) IsPaused() bool {
	return b.props().IsPaused()
}

// PauseAllActions suppresses rule triggering and dirty tracking on every
// property until ResumeAllActions. Values set while paused still update and
// still raise plain change notifications.
func (b *Base) PauseAllActions() {
	b.props().Pause()
}

// ResumeAllActions re-enables rule triggering and dirty tracking. Rules
// suppressed while paused do not run retroactively; re-run them explicitly
// after a bulk load.
func (b *Base) ResumeAllActions() {
	b.props().Resume()
}

// Paused runs fn with all actions paused, resuming on every exit path.
func (b *Base) Paused(fn func() error) error {
	b.PauseAllActions()
	defer b.ResumeAllActions()

	return fn()
}

func (b *Base) Subscribe(fn func(Change)) (cancel func()) {
	return b.props().Subscribe(fn)
}

// AddTask folds a fire-and-forget operation into the object's task batch.
func (b *Base) AddTask(fn func(ctx context.Context) error) *Task {
	return &Task{t: b.seq.Add(context.Background(), fn)}
}

// WaitForTasks blocks until every in-flight asynchronous operation across
// the object and its children has settled, returning the aggregated
// failures observed along the way.
func (b *Base) WaitForTasks(ctx context.Context) error {
	for {
		if err := b.seq.Wait(ctx); err != nil {
			return err
		}
		if err := b.props().WaitForChildren(ctx); err != nil {
			return err
		}

		// a drained child may have scheduled more work here; settle again
		if !b.IsBusy() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		// busy markers held by a foreign batch (a cascade running on some
		// other object's sequencer) drain outside our own batch; block on a
		// change notification instead of spinning. A nil seqDone blocks its
		// select arm.
		changed := make(chan struct{}, 1)
		cancel := b.Subscribe(func(Change) {
			select {
			case changed <- struct{}{}:
			default:
			}
		})

		var seqDone <-chan struct{}
		if b.seq.Running() {
			seqDone = b.seq.AllDone()
		}

		if b.IsBusy() {
			select {
			case <-changed:
			case <-seqDone:
			case <-ctx.Done():
				cancel()
				return ctx.Err()
			}
		}
		cancel()
	}
}

// ValidateBase adds business rules and validity tracking to Base.
type ValidateBase struct {
	Base
	rules *internal.RuleManager
}

// InitValidate wires an embedded ValidateBase: it materializes the
// metadata's declarative validation attributes into rules, then registers
// the given rules against the owner.
func InitValidate(vb *ValidateBase, meta *TypeMeta, owner any, rules ...Rule) error {
	return vb.init(meta, internal.KindValidate, owner, rules)
}

func (vb *ValidateBase) init(meta *TypeMeta, kind internal.ObjectKind, owner any, rules []Rule) error {
	if err := vb.Base.init(meta, kind, owner); err != nil {
		return err
	}

	rm, err := internal.NewRuleManager(owner, vb.reg)
	if err != nil {
		return err
	}
	vb.rules = rm

	if err := materializeAttributeRules(rm, vb.reg, meta); err != nil {
		return err
	}
	for _, r := range rules {
		if err := rm.Register(r); err != nil {
			return err
		}
	}
	return nil
}

// RegisterRule adds a rule after construction. Rules are never removed.
func (vb *ValidateBase) RegisterRule(r Rule) error {
	return vb.rules.Register(r)
}

func (vb *ValidateBase) IsValid() bool {
	return vb.props().IsValid() && vb.rules.ObjectValid()
}

func (vb *ValidateBase) IsSelfValid() bool {
	return vb.props().IsSelfValid() && vb.rules.ObjectValid()
}

// RuleMessages returns every current finding: per-property messages in
// declaration order, then object-level messages.
func (vb *ValidateBase) RuleMessages() []Message {
	var out []Message
	for _, c := range vb.props().Containers() {
		out = append(out, c.Messages()...)
	}
	return append(out, vb.rules.ObjectMessages()...)
}

// RunRules runs every rule triggered by the property, sequentially, in
// ascending order then registration order.
func (vb *ValidateBase) RunRules(ctx context.Context, property string) error {
	return vb.rules.RunForProperty(ctx, property)
}

// RunAllRules runs the subset of this object's rules selected by flag, then
// cascades to rule-bearing children unless flag is RunSelf. Not safe to call
// concurrently with itself.
func (vb *ValidateBase) RunAllRules(ctx context.Context, flag RunFlag) error {
	if err := vb.rules.RunAll(ctx, flag); err != nil {
		return err
	}
	if flag == RunSelf {
		return nil
	}
	return vb.props().RunChildRules(ctx, flag)
}

// EntityBase adds dirty tracking, parent linkage, and savability to
// ValidateBase.
type EntityBase struct {
	ValidateBase

	mu      sync.Mutex
	parent  any
	isChild bool
	isNew   bool
}

// InitEntity wires an embedded EntityBase the way InitValidate does, with
// dirty tracking enabled on every container.
func InitEntity(eb *EntityBase, meta *TypeMeta, owner any, rules ...Rule) error {
	return eb.init(meta, internal.KindEntity, owner, rules)
}

func (eb *EntityBase) IsModified() bool {
	return eb.props().IsModified()
}

func (eb *EntityBase) IsSelfModified() bool {
	return eb.props().IsSelfModified()
}

// IsSavable reports whether factory code should persist this object: valid,
// modified, idle, and not owned by a parent.
func (eb *EntityBase) IsSavable() bool {
	return eb.IsValid() && eb.IsModified() && !eb.IsBusy() && !eb.IsChild()
}

// MarkNew flags the object as never persisted; factory Create paths call it.
func (eb *EntityBase) MarkNew() {
	eb.mu.Lock()
	eb.isNew = true
	eb.mu.Unlock()
}

// MarkOld flags the object as persisted; factory Fetch/Update paths call it.
func (eb *EntityBase) MarkOld() {
	eb.mu.Lock()
	eb.isNew = false
	eb.mu.Unlock()
}

func (eb *EntityBase) IsNew() bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return eb.isNew
}

// MarkAsChild flags the object as owned by a parent, excluding it from
// direct saves.
func (eb *EntityBase) MarkAsChild() {
	eb.mu.Lock()
	eb.isChild = true
	eb.mu.Unlock()
}

func (eb *EntityBase) IsChild() bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return eb.isChild
}

// SetParent records a weak back-reference to the owning object. Called by
// the parent's container when this object becomes its value.
func (eb *EntityBase) SetParent(parent any) {
	eb.mu.Lock()
	eb.parent = parent
	eb.isChild = parent != nil
	eb.mu.Unlock()
}

// Parent returns the owning object, or nil at the root. The reference is
// relation-only: walking up never implies ownership.
func (eb *EntityBase) Parent() any {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return eb.parent
}

// Root walks the parent chain to the top of the graph.
func (eb *EntityBase) Root() any {
	var cur any = eb.props().Owner()
	for {
		p, ok := cur.(interface{ Parent() any })
		if !ok || p.Parent() == nil {
			return cur
		}
		cur = p.Parent()
	}
}

// MarkUnmodified clears dirty flags across the object and its children,
// typically after a successful save.
func (eb *EntityBase) MarkUnmodified() {
	for _, c := range eb.props().Containers() {
		c.MarkUnmodified()
		if child, ok := c.CurrentValueChild().(interface{ MarkUnmodified() }); ok {
			child.MarkUnmodified()
		}
	}
}

// materializeAttributeRules converts declarative per-property attributes
// into rules, plus the object-level required-fields aggregate that runs
// after every required rule has executed at least once.
func materializeAttributeRules(rm *internal.RuleManager, reg *internal.Registry, meta *TypeMeta) error {
	var requiredProps, requiredKeys []string

	for _, pm := range meta.inner.Props {
		pm := pm

		if pm.RequiredMessage != "" {
			key := "required:" + pm.Name
			rule := &funcRule{
				key:      key,
				triggers: []string{pm.Name},
				fn: func(context.Context, any) ([]Message, error) {
					c, err := reg.GetProperty(pm.Name)
					if err != nil {
						return nil, err
					}
					if pm.Empty(c.CurrentValue()) {
						return []Message{{Property: pm.Name, Text: pm.RequiredMessage}}, nil
					}
					return nil, nil
				},
			}
			if err := rm.Register(rule); err != nil {
				return err
			}
			requiredProps = append(requiredProps, pm.Name)
			requiredKeys = append(requiredKeys, key)
		}

		if pm.MaxLength > 0 {
			rule := &funcRule{
				key:      "maxlength:" + pm.Name,
				triggers: []string{pm.Name},
				fn: func(context.Context, any) ([]Message, error) {
					c, err := reg.GetProperty(pm.Name)
					if err != nil {
						return nil, err
					}
					if s, ok := c.CurrentValue().(string); ok && len(s) > pm.MaxLength {
						return []Message{{Property: pm.Name, Text: pm.MaxLengthMessage}}, nil
					}
					return nil, nil
				},
			}
			if err := rm.Register(rule); err != nil {
				return err
			}
		}
	}

	if len(requiredProps) > 0 {
		return rm.EnableRequiredAggregate(requiredProps, requiredKeys)
	}
	return nil
}

// funcRule backs the attribute-derived rules. Order 0 keeps them ahead of
// user rules (default order 1).
type funcRule struct {
	key      string
	triggers []string
	fn       func(ctx context.Context, target any) ([]Message, error)
}

func (r *funcRule) Key() string        { return r.key }
func (r *funcRule) Order() int         { return 0 }
func (r *funcRule) Triggers() []string { return r.triggers }

func (r *funcRule) Run(ctx context.Context, target any) ([]Message, error) {
	return r.fn(ctx, target)
}
