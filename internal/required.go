package internal

import (
	"context"
	"strings"
)

// RequiredAggregateKey is the stable identity of the required-fields
// meta-rule.
const RequiredAggregateKey = "required-fields"

// requiredAggregateOrder keeps the meta-rule after every ordinary rule.
const requiredAggregateOrder = 1 << 20

// requiredAggregate observes all required-field rules' trigger properties
// and, once every one of them has executed at least once, raises a single
// object-level message listing the required properties still unset.
type requiredAggregate struct {
	rm    *RuleManager
	props []string
	keys  []string
}

func (r *requiredAggregate) Key() string        { return RequiredAggregateKey }
func (r *requiredAggregate) Order() int         { return requiredAggregateOrder }
func (r *requiredAggregate) Triggers() []string { return r.props }

func (r *requiredAggregate) Run(context.Context, any) ([]Message, error) {
	if !r.rm.allExecuted(r.keys) {
		return nil, nil
	}

	var missing []string
	for _, name := range r.props {
		c, err := r.rm.reg.GetProperty(name)
		if err != nil {
			continue
		}
		if c.meta.Empty != nil && c.meta.Empty(c.CurrentValue()) {
			missing = append(missing, name)
		}
	}

	if len(missing) == 0 {
		return nil, nil
	}
	return []Message{{Text: "required properties not set: " + strings.Join(missing, ", ")}}, nil
}

// EnableRequiredAggregate registers the meta-rule over the given required
// property names and their per-property rule keys.
func (rm *RuleManager) EnableRequiredAggregate(props, keys []string) error {
	return rm.Register(&requiredAggregate{rm: rm, props: props, keys: keys})
}
