package vm

import (
	"slices"

	"github.com/roach88/kern/internal/bytecode"
	"github.com/roach88/kern/internal/ir"
)

// ContextID indexes the context arena. The root context is 0.
type ContextID uint32

// Context is one execution context: registers, special registers,
// variables and the heap allocations it owns.
type Context struct {
	ID   ContextID
	R    [bytecode.NumRegisters]int64
	ERR  uint16
	PC   uint32
	FLAG int64
	Vars ir.Object

	heap []int // heap offsets owned by this context
}

// CTX returns the CTX special register: the context's own id.
func (c *Context) CTX() ContextID { return c.ID }

// Snapshot returns a deep copy for inspection.
func (c *Context) Snapshot() Context {
	cp := *c
	cp.Vars = c.Vars.Clone()
	cp.heap = slices.Clone(c.heap)
	return cp
}

type slot struct {
	ctx  Context
	live bool
}

// Pool is an arena of contexts indexed by id. Slots are never reused.
type Pool struct {
	slots  []slot
	active ContextID
}

// NewPool creates a pool holding the live root context 0.
func NewPool() *Pool {
	p := &Pool{}
	p.Create()
	return p
}

// Create allocates a fresh context and returns its id.
func (p *Pool) Create() ContextID {
	id := ContextID(len(p.slots))
	p.slots = append(p.slots, slot{ctx: Context{ID: id, Vars: ir.Object{}}, live: true})
	return id
}

// Get returns the live context with id. The pointer is valid until the
// next Create or Clone.
func (p *Pool) Get(id ContextID) (*Context, error) {
	if int(id) >= len(p.slots) {
		return nil, newError(ErrInvalidContext, "context %d does not exist", id)
	}
	s := &p.slots[id]
	if !s.live {
		return nil, newError(ErrInvalidContext, "context %d was destroyed", id)
	}
	return &s.ctx, nil
}

// Active returns the active context.
func (p *Pool) Active() *Context {
	return &p.slots[p.active].ctx
}

// ActiveID returns the id of the active context.
func (p *Pool) ActiveID() ContextID { return p.active }

// Switch makes id the active context.
func (p *Pool) Switch(id ContextID) error {
	if _, err := p.Get(id); err != nil {
		return err
	}
	p.active = id
	return nil
}

// Clone deep-copies registers and variables of src into a new context.
// The clone starts with no heap: offsets inherited in its registers
// refer to src's allocations and fault on LOAD or STORE.
func (p *Pool) Clone(src ContextID) (ContextID, error) {
	c, err := p.Get(src)
	if err != nil {
		return 0, err
	}
	regs, errReg, flag := c.R, c.ERR, c.FLAG
	vars := c.Vars.Clone()

	id := p.Create()
	dst := &p.slots[id].ctx
	dst.R, dst.ERR, dst.FLAG, dst.Vars = regs, errReg, flag, vars
	return id, nil
}

// Destroy retires a context and returns the heap offsets it owned.
// The active context cannot be destroyed.
func (p *Pool) Destroy(id ContextID) ([]int, error) {
	c, err := p.Get(id)
	if err != nil {
		return nil, err
	}
	if id == p.active {
		return nil, newError(ErrInvalidContext, "cannot destroy the active context %d", id)
	}
	owned := c.heap
	p.slots[id] = slot{ctx: Context{ID: id}}
	return owned, nil
}

// Live returns the number of live contexts.
func (p *Pool) Live() int {
	n := 0
	for _, s := range p.slots {
		if s.live {
			n++
		}
	}
	return n
}

// Vars returns a copy of the active context's variables.
func (p *Pool) Vars() ir.Object {
	return p.Active().Vars.Clone()
}
