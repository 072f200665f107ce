package filter

import (
	"github.com/canectors/normalizer/pkg/record"
)

// Chain applies record transforms in order. It stops at the first member
// that does not continue and returns that member's result unchanged, so a
// Skip or Absent from any member is also the chain's answer.
//
// A Chain is itself a Module and nests freely.
type Chain struct {
	modules []Module
}

// NewChain creates a chain over the given modules.
func NewChain(modules ...Module) (*Chain, error) {
	c := &Chain{}
	for _, m := range modules {
		if err := c.Append(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Append adds m at the end of the chain.
func (c *Chain) Append(m Module) error {
	if m == nil {
		return ErrNilModule
	}
	c.modules = append(c.modules, m)
	return nil
}

// Len returns the number of members.
func (c *Chain) Len() int { return len(c.modules) }

// Modules returns a copy of the members in order.
func (c *Chain) Modules() []Module {
	out := make([]Module, len(c.modules))
	copy(out, c.modules)
	return out
}

// Process implements Module.
func (c *Chain) Process(rec record.Record) (Result, error) {
	cur := rec
	for _, m := range c.modules {
		res, err := m.Process(cur)
		if err != nil {
			return Result{}, err
		}
		if !res.IsContinue() {
			return res, nil
		}
		cur = res.Record
	}
	return Continue(cur), nil
}

// Close finalizes each member in insertion order. Every member is closed
// even when an earlier one fails; the failures are joined.
func (c *Chain) Close() error {
	return closeAll(c.modules)
}

// Abort releases each member's resources without finalizing it.
func (c *Chain) Abort() error {
	return abortAll(c.modules)
}

var (
	_ Module  = (*Chain)(nil)
	_ Aborter = (*Chain)(nil)
)
