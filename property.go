package rivet

import "github.com/statefold/rivet/internal"

// Property is the public view of one property slot: a read/write value
// accessor plus the validity/busy/modified state and message list consumed
// by binding and factory code.
type Property struct {
	c *internal.Container
}

func (p *Property) Name() string {
	return p.c.Name()
}

func (p *Property) IsReadOnly() bool {
	return p.c.ReadOnly()
}

// Value returns the current value, triggering a configured lazy loader on
// first access.
func (p *Property) Value() any {
	return p.c.Value()
}

// Set assigns a new value, firing change notifications and triggering rules.
func (p *Property) Set(v any) error {
	return p.c.Set(v)
}

// Load assigns a value bypassing dirty tracking and rule triggering.
func (p *Property) Load(v any) error {
	return p.c.Load(v)
}

func (p *Property) IsBusy() bool {
	return p.c.IsBusy()
}

func (p *Property) IsValid() bool {
	return p.c.IsValid()
}

func (p *Property) IsSelfValid() bool {
	return p.c.IsSelfValid()
}

func (p *Property) IsModified() bool {
	return p.c.IsModified()
}

func (p *Property) IsSelfModified() bool {
	return p.c.IsSelfModified()
}

// Messages returns the property's current rule messages.
func (p *Property) Messages() []Message {
	return p.c.Messages()
}
