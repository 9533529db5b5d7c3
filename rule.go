package rivet

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/statefold/rivet/internal"
)

// Rule is a registered unit of business logic bound to trigger properties.
// Its key is its stable identity: supplied by the author, deterministic
// across processes, so serialized messages can be matched back to the rule
// that produced them after a restart or a client/server round trip.
type Rule = internal.Rule

// RunFlag selects which rules a RunAllRules call executes.
type RunFlag = internal.RunFlag

const (
	RunAll         = internal.RunAll
	RunSelf        = internal.RunSelf
	RunNotExecuted = internal.RunNotExecuted
	RunExecuted    = internal.RunExecuted
	RunMessages    = internal.RunMessages
	RunNoMessages  = internal.RunNoMessages
)

// RuleOption configures a rule declaration.
type RuleOption func(*ruleConfig)

type ruleConfig struct {
	order    int
	triggers []string
}

// Order sets the rule's execution order; lower runs first, default 1.
func Order(n int) RuleOption {
	return func(c *ruleConfig) {
		c.order = n
	}
}

// Triggers sets the property paths whose changes cause the rule to run.
// A dotted path ("Address.City") re-runs the rule when the nested property
// changes inside the attached child, and when the root property is replaced.
func Triggers(paths ...string) RuleOption {
	return func(c *ruleConfig) {
		c.triggers = append(c.triggers, paths...)
	}
}

type typedRule[T any] struct {
	key      string
	order    int
	triggers []string
	fn       func(ctx context.Context, target T) ([]Message, error)
}

func (r *typedRule[T]) Key() string        { return r.key }
func (r *typedRule[T]) Order() int         { return r.order }
func (r *typedRule[T]) Triggers() []string { return r.triggers }

func (r *typedRule[T]) Run(ctx context.Context, target any) ([]Message, error) {
	t, ok := target.(T)
	if !ok {
		return nil, fmt.Errorf("%w: rule %q: target %T", ErrInvalidTarget, r.key, target)
	}
	return r.fn(ctx, t)
}

func (r *typedRule[T]) CheckTarget(target any) error {
	if _, ok := target.(T); !ok {
		return fmt.Errorf("target %T does not implement %s", target, reflect.TypeOf((*T)(nil)).Elem())
	}
	return nil
}

// NewRule declares a rule executing fn against a target of type T.
// An empty returned message set means the rule passes; returning an error
// puts the error text on every trigger property and still surfaces the
// error to whoever ran the rule.
func NewRule[T any](key string, fn func(ctx context.Context, target T) ([]Message, error), opts ...RuleOption) Rule {
	cfg := &ruleConfig{order: 1}
	for _, opt := range opts {
		opt(cfg)
	}

	return &typedRule[T]{
		key:      key,
		order:    cfg.order,
		triggers: cfg.triggers,
		fn:       fn,
	}
}

// TriggerProperty identifies, by name or dotted path, the property whose
// change should cause a rule to run.
type TriggerProperty struct {
	Path string
}

func Trigger(path string) TriggerProperty {
	return TriggerProperty{Path: path}
}

// Value reads the trigger's current value off the target, walking dotted
// paths through child objects.
func (t TriggerProperty) Value(o Object) (any, error) {
	segments := strings.Split(t.Path, ".")

	cur := o
	for i, seg := range segments {
		c, err := cur.props().GetProperty(seg)
		if err != nil {
			return nil, err
		}

		v := c.Value()
		if i == len(segments)-1 {
			return v, nil
		}

		next, ok := v.(Object)
		if !ok {
			return nil, &PropertyError{TypeName: cur.TypeName(), Property: seg, Err: ErrPropertyNotFound}
		}
		cur = next
	}

	return nil, nil
}
