package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// RunFlag selects which registered rules a run-all call executes.
type RunFlag int

const (
	RunAll RunFlag = iota
	RunSelf
	RunNotExecuted
	RunExecuted
	// RunMessages and RunNoMessages are accepted for compatibility but select
	// every rule: per-rule message history is not retained across runs, so
	// there is nothing to discriminate on. Documented in the rules tests.
	RunMessages
	RunNoMessages
)

// Rule is a registered unit of business logic. The key is the rule's stable
// identity: it must be deterministic across processes so serialized messages
// can be matched back to the rule that produced them.
type Rule interface {
	Key() string
	Order() int
	Triggers() []string
	Run(ctx context.Context, target any) ([]Message, error)
}

// TargetChecker lets a rule reject an incompatible owner at registration.
type TargetChecker interface {
	CheckTarget(target any) error
}

type registeredRule struct {
	Rule
	index    int
	executed bool
}

// RuleManager is the per-instance rule scheduler: it matches changed property
// names to triggered rules, serializes rule execution per triggering change,
// marks trigger properties busy for the run's duration, and applies resulting
// messages to the right containers.
type RuleManager struct {
	mu sync.Mutex

	target any
	reg    *Registry

	rules []*registeredRule
	byKey map[string]*registeredRule

	// messages attributed to the object rather than a property,
	// raised by the required-fields aggregate rule
	objectMessages []Message
}

func NewRuleManager(target any, reg *Registry) (*RuleManager, error) {
	if target == nil {
		return nil, ErrNilTarget
	}

	rm := &RuleManager{
		target: target,
		reg:    reg,
		byKey:  make(map[string]*registeredRule),
	}
	reg.SetRuleHook(rm.trigger)
	return rm, nil
}

// Register adds a rule under its stable key. Rules are never removed.
func (rm *RuleManager) Register(r Rule) error {
	if tc, ok := r.(TargetChecker); ok {
		if err := tc.CheckTarget(rm.target); err != nil {
			return fmt.Errorf("%w: rule %q: %w", ErrInvalidTarget, r.Key(), err)
		}
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.byKey[r.Key()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateRule, r.Key())
	}

	rr := &registeredRule{Rule: r, index: len(rm.rules)}
	rm.rules = append(rm.rules, rr)
	rm.byKey[r.Key()] = rr
	return nil
}

// trigger schedules a fire-and-forget rule run for a changed property.
// When the write happened inside another rule execution, the run joins that
// execution's open batch so one wait observes the whole cascade. Paths no
// rule listens to schedule nothing, so relayed child changes don't open
// empty batches.
func (rm *RuleManager) trigger(property string) {
	rm.mu.Lock()
	matched := false
	for _, rr := range rm.rules {
		if triggeredBy(rr.Triggers(), property) {
			matched = true
			break
		}
	}
	rm.mu.Unlock()
	if !matched {
		return
	}

	seq := CurrentSequencer()
	if seq == nil {
		seq = rm.reg.seq
	}

	seq.Add(context.Background(), func(ctx context.Context) error {
		return rm.RunForProperty(ctx, property)
	})
}

// RunForProperty runs every rule triggered by the property, in ascending
// order then registration order, sequentially. The context is checked before
// each rule, never mid-rule.
func (rm *RuleManager) RunForProperty(ctx context.Context, property string) error {
	rm.mu.Lock()
	selected := make([]*registeredRule, 0, len(rm.rules))
	for _, rr := range rm.rules {
		if triggeredBy(rr.Triggers(), property) {
			selected = append(selected, rr)
		}
	}
	rm.mu.Unlock()

	return rm.runSequence(ctx, selected)
}

// RunAll runs the subset of registered rules selected by flag.
// Not safe to call concurrently with itself.
func (rm *RuleManager) RunAll(ctx context.Context, flag RunFlag) error {
	rm.mu.Lock()
	selected := make([]*registeredRule, 0, len(rm.rules))
	for _, rr := range rm.rules {
		switch flag {
		case RunNotExecuted:
			if rr.executed {
				continue
			}
		case RunExecuted:
			if !rr.executed {
				continue
			}
		}
		selected = append(selected, rr)
	}
	rm.mu.Unlock()

	return rm.runSequence(ctx, selected)
}

func (rm *RuleManager) runSequence(ctx context.Context, rules []*registeredRule) error {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Order() != rules[j].Order() {
			return rules[i].Order() < rules[j].Order()
		}
		return rules[i].index < rules[j].index
	})

	for _, rr := range rules {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rm.runRule(ctx, rr); err != nil {
			return err
		}
	}
	return nil
}

// runRule executes one rule under a fresh execution id: trigger properties
// are marked busy before the run and unmarked on every exit path; on success
// the rule's messages are diffed and replaced per property; on failure the
// error text lands as a message on every trigger property and the error is
// still returned to the caller.
func (rm *RuleManager) runRule(ctx context.Context, rr *registeredRule) (err error) {
	execID := uuid.New()

	containers := rm.triggerContainers(rr)
	for _, c := range containers {
		c.MarkBusy(execID)
	}
	defer func() {
		for _, c := range containers {
			c.UnmarkBusy(execID)
		}

		rm.mu.Lock()
		rr.executed = true
		rm.mu.Unlock()
	}()

	msgs, err := runSafely(ctx, rr.Rule, rm.target)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		for _, c := range containers {
			c.ApplyMessages(rr.Key(), []Message{{Property: c.Name(), Text: err.Error()}})
		}

		log().Error("rule execution failed",
			slog.String("operation", "RunRule"),
			slog.String("type", rm.reg.meta.Name),
			slog.String("rule", rr.Key()),
			slog.Any("error", err),
		)
		return err
	}

	rm.apply(rr.Key(), containers, msgs)
	return nil
}

// runSafely converts a panicking rule into an error so one broken rule
// cannot corrupt the rest of the object graph.
func runSafely(ctx context.Context, r Rule, target any) (msgs []Message, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("rule %q panicked: %v", r.Key(), rec)
		}
	}()

	return r.Run(ctx, target)
}

// apply replaces the rule's messages on every mentioned property, clears
// them on every trigger property the result no longer mentions, and swaps
// the rule's object-level messages.
func (rm *RuleManager) apply(ruleKey string, triggers []*Container, msgs []Message) {
	perProperty := make(map[string][]Message)
	var objectMsgs []Message
	for _, m := range msgs {
		if m.Property == "" {
			objectMsgs = append(objectMsgs, m)
			continue
		}
		perProperty[m.Property] = append(perProperty[m.Property], m)
	}

	for _, c := range triggers {
		if _, mentioned := perProperty[c.Name()]; !mentioned {
			c.ClearMessages(ruleKey)
		}
	}

	for name, propMsgs := range perProperty {
		c, err := rm.reg.GetProperty(rootSegment(name))
		if err != nil {
			log().Warn("rule produced a message for an unknown property",
				slog.String("type", rm.reg.meta.Name),
				slog.String("rule", ruleKey),
				slog.String("property", name),
			)
			continue
		}
		c.ApplyMessages(ruleKey, propMsgs)
	}

	rm.mu.Lock()
	rm.objectMessages = replaceMessages(rm.objectMessages, ruleKey, objectMsgs)
	rm.mu.Unlock()
	rm.reg.emit(Change{Kind: ChangeMessages})
}

// triggerContainers resolves the rule's trigger paths to containers in this
// registry. A dotted path resolves to its first segment.
func (rm *RuleManager) triggerContainers(rr *registeredRule) []*Container {
	seen := make(map[string]struct{})
	var out []*Container
	for _, trig := range rr.Triggers() {
		name := rootSegment(trig)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		c, err := rm.reg.GetProperty(name)
		if err != nil {
			log().Warn("rule trigger does not match a property",
				slog.String("type", rm.reg.meta.Name),
				slog.String("rule", rr.Key()),
				slog.String("trigger", trig),
			)
			continue
		}
		out = append(out, c)
	}
	return out
}

// ObjectMessages returns the object-level messages (no owning property).
func (rm *RuleManager) ObjectMessages() []Message {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return append([]Message(nil), rm.objectMessages...)
}

func (rm *RuleManager) ObjectValid() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.objectMessages) == 0
}

func (rm *RuleManager) allExecuted(keys []string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for _, key := range keys {
		rr, ok := rm.byKey[key]
		if !ok || !rr.executed {
			return false
		}
	}
	return true
}

func triggeredBy(triggers []string, property string) bool {
	for _, t := range triggers {
		if t == property || rootSegment(t) == property {
			return true
		}
	}
	return false
}

func rootSegment(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}
