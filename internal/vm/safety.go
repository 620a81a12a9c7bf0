package vm

import (
	"github.com/roach88/kern/internal/bytecode"
	"github.com/roach88/kern/internal/graph"
)

// check runs the safety pipeline for one instruction. The order is fixed
// and the first failure wins.
func (v *VM) check(in bytecode.Instruction, l *loaded) error {
	if err := checkOpcode(in); err != nil {
		return err
	}
	if err := checkRegisters(in); err != nil {
		return err
	}
	if err := v.checkMemory(in, l); err != nil {
		return err
	}
	if err := v.checkSandbox(in, l); err != nil {
		return err
	}
	return v.checkBudget()
}

func checkOpcode(in bytecode.Instruction) error {
	if !in.Op.Valid() {
		return newError(ErrInvalidOpcode, "unknown opcode 0x%02X", uint8(in.Op))
	}
	spec := in.Op.Spec()
	if in.Op == bytecode.Compare && in.Flags > bytecode.CmpLe {
		return newError(ErrInvalidOperand, "comparator %d", in.Flags)
	}
	for _, o := range [...]struct {
		kind bytecode.Operand
		val  uint16
	}{{spec.A, in.A}, {spec.B, in.B}, {spec.C, in.C}} {
		switch o.kind {
		case bytecode.OpNodeKind:
			if o.val > 0xFF || !graph.NodeKind(o.val).Valid() {
				return newError(ErrInvalidOperand, "node kind %d", o.val)
			}
		case bytecode.OpEdgeKind:
			if o.val > 0xFF || !graph.EdgeKind(o.val).Valid() {
				return newError(ErrInvalidOperand, "edge kind %d", o.val)
			}
		}
	}
	return nil
}

func checkRegisters(in bytecode.Instruction) error {
	spec := in.Op.Spec()
	for _, o := range [...]struct {
		kind bytecode.Operand
		val  uint16
	}{{spec.A, in.A}, {spec.B, in.B}, {spec.C, in.C}} {
		if o.kind == bytecode.OpReg && o.val >= bytecode.NumRegisters {
			return newError(ErrInvalidRegister, "register R%d out of range", o.val)
		}
	}
	// CALL_EXTERN reads C consecutive registers starting at B.
	if in.Op == bytecode.CallExtern && int(in.B)+int(in.C) > bytecode.NumRegisters {
		return newError(ErrInvalidRegister, "argument window R%d+%d out of range", in.B, in.C)
	}
	return nil
}

func (v *VM) checkMemory(in bytecode.Instruction, l *loaded) error {
	spec := in.Op.Spec()
	for _, o := range [...]struct {
		kind bytecode.Operand
		val  uint16
	}{{spec.A, in.A}, {spec.B, in.B}, {spec.C, in.C}} {
		switch o.kind {
		case bytecode.OpTarget:
			if int(o.val) >= l.prog.Len() {
				return newError(ErrInvalidPC, "jump target %d outside program of %d instructions", o.val, l.prog.Len())
			}
		case bytecode.OpSym:
			if int(o.val) >= len(l.prog.Symbols) {
				return newError(ErrMemoryBounds, "symbol index %d outside table of %d", o.val, len(l.prog.Symbols))
			}
		}
	}

	r := &v.ctxs.Active().R
	switch in.Op {
	case bytecode.LoadNum:
		if in.Flags&bytecode.FlagConst != 0 && int(in.B) >= len(l.prog.Consts) {
			return newError(ErrMemoryBounds, "constant index %d outside pool of %d", in.B, len(l.prog.Consts))
		}
	case bytecode.Push:
		if !v.mem.canPush() {
			return newError(ErrStackOverflow, "stack full at %d words", v.mem.StackDepth())
		}
	case bytecode.Pop:
		if !v.mem.canPop() {
			return newError(ErrStackUnderflow, "stack empty")
		}
	case bytecode.Store:
		if !v.mem.wordInBounds(r[in.A], v.ctxs.Active().heap) {
			return newError(ErrMemoryBounds, "heap write at %d outside the context's allocations", r[in.A])
		}
	case bytecode.Load:
		if !v.mem.wordInBounds(r[in.B], v.ctxs.Active().heap) {
			return newError(ErrMemoryBounds, "heap read at %d outside the context's allocations", r[in.B])
		}
	case bytecode.Alloc:
		size := r[in.B]
		if size <= 0 {
			return newError(ErrInvalidOperand, "allocation size %d", size)
		}
		h := v.mem.Region(RegionHeap)
		if size > int64(h.Capacity()-h.Used()) {
			return h.limitError(int(size))
		}
	}
	return nil
}

func (v *VM) checkSandbox(in bytecode.Instruction, l *loaded) error {
	switch in.Op {
	case bytecode.CallExtern:
		return v.sandbox.AdmitCall(l.prog.Symbols[in.A])
	case bytecode.ReadIO, bytecode.WriteIO:
		return v.sandbox.AdmitChannel(l.prog.Symbols[in.A])
	}
	return nil
}

func (v *VM) checkBudget() error {
	if max := v.limits.MaxSteps; max > 0 && v.counters.Steps+1 > max {
		return newError(ErrStepLimit, "step budget of %d exhausted", max)
	}
	return nil
}
