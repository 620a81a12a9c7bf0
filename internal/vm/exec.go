package vm

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"

	"github.com/roach88/kern/internal/bytecode"
	"github.com/roach88/kern/internal/graph"
	"github.com/roach88/kern/internal/ir"
)

type ctrlKind uint8

const (
	ctrlNext ctrlKind = iota
	ctrlJump
	ctrlHalt
	ctrlReturn
)

type ctrl struct {
	kind   ctrlKind
	target int
}

var next = ctrl{}

// step fetches, checks and executes the instruction at the PC of frame
// depth. Recoverable faults are absorbed into ERR here.
func (v *VM) step(ctx context.Context, depth int) (ctrl, error) {
	fr := v.frames[depth]
	l := &v.programs[fr.handle]

	if fr.pc < 0 || fr.pc >= l.prog.Len() {
		return next, v.locate(newError(ErrInvalidPC, "pc %d outside program of %d instructions", fr.pc, l.prog.Len()), fr.pc, 0)
	}
	raw, err := v.mem.Region(RegionCode).read(l.codeBase+fr.pc*bytecode.InstructionSize, bytecode.InstructionSize)
	if err != nil {
		return next, v.locate(err, fr.pc, 0)
	}
	in, err := bytecode.Decode(raw)
	if err != nil {
		return next, v.locate(newError(ErrInvalidOpcode, "%v", err), fr.pc, 0)
	}
	v.ctxs.Active().PC = uint32(fr.pc)

	if err := v.check(in, l); err != nil {
		return next, v.locate(err, fr.pc, in.Op)
	}
	v.counters.Steps++
	if v.recorder != nil {
		v.recorder.ObserveInstruction(in.Op.String())
	}
	if v.trace != nil {
		v.trace.add(InstructionEvent{
			Step:    v.counters.Steps,
			Context: v.ctxs.ActiveID(),
			Handle:  fr.handle,
			PC:      fr.pc,
			Instr:   in,
			Text:    in.String(),
		})
	}

	c, err := v.exec(ctx, depth, in, l)
	if err == nil {
		return c, nil
	}
	var vmErr *Error
	if errors.As(err, &vmErr) && vmErr.Recoverable() {
		v.ctxs.Active().ERR = vmErr.Code.Number()
		return next, nil
	}
	return next, v.locate(err, fr.pc, in.Op)
}

// locate stamps position information on a VM error that has none.
func (v *VM) locate(err error, pc int, op bytecode.Opcode) error {
	var vmErr *Error
	if !errors.As(err, &vmErr) {
		vmErr = hostError(err, "host call failed")
		err = vmErr
	}
	if !vmErr.located {
		vmErr.PC = pc
		vmErr.Op = op
		vmErr.Context = uint32(v.ctxs.ActiveID())
		vmErr.located = true
	}
	return err
}

// jump transfers control to target, charging backward jumps to the loop
// budget.
func (v *VM) jump(target, pc int) (ctrl, error) {
	if target <= pc {
		if err := v.countLoop(); err != nil {
			return next, err
		}
	}
	return ctrl{kind: ctrlJump, target: target}, nil
}

func (v *VM) countLoop() error {
	if max := v.limits.MaxLoopIterations; max > 0 && v.counters.LoopIterations+1 > max {
		return newError(ErrLoopLimit, "loop iterations exceeded %d", max)
	}
	v.counters.LoopIterations++
	return nil
}

func (v *VM) constant(l *loaded, i uint16) (int64, error) {
	b, err := v.mem.Region(RegionConstants).read(l.constBase+int(i)*8, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func compare(a, b int64, cmp uint8) bool {
	switch cmp {
	case bytecode.CmpEq:
		return a == b
	case bytecode.CmpNe:
		return a != b
	case bytecode.CmpGt:
		return a > b
	case bytecode.CmpLt:
		return a < b
	case bytecode.CmpGe:
		return a >= b
	default:
		return a <= b
	}
}

func boolWord(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// toWord converts a variable value to its register form. Symbols are
// interned.
func (v *VM) toWord(val ir.Value) (int64, error) {
	switch x := val.(type) {
	case ir.Int:
		return int64(x), nil
	case ir.Bool:
		return boolWord(bool(x)), nil
	case ir.Sym:
		return v.interner.Intern(string(x)), nil
	case ir.Ref:
		return int64(x), nil
	case ir.Null:
		return 0, nil
	default:
		return 0, newError(ErrTypeMismatch, "%s value does not fit a register", val.Kind())
	}
}

func (v *VM) exec(ctx context.Context, depth int, in bytecode.Instruction, l *loaded) (ctrl, error) {
	fr := v.frames[depth]
	c := v.ctxs.Active()
	r := &c.R
	sym := func(i uint16) string { return l.prog.Symbols[i] }

	switch in.Op {
	case bytecode.NOP:
	case bytecode.JMP:
		return v.jump(int(in.A), fr.pc)
	case bytecode.JMPIf:
		if r[in.A] != 0 {
			return v.jump(int(in.B), fr.pc)
		}
	case bytecode.HALT:
		return ctrl{kind: ctrlHalt}, nil

	case bytecode.LoadSym:
		r[in.A] = v.interner.Intern(sym(in.B))
	case bytecode.LoadNum:
		if in.Flags&bytecode.FlagConst != 0 {
			n, err := v.constant(l, in.B)
			if err != nil {
				return next, err
			}
			r[in.A] = n
		} else {
			r[in.A] = in.Immediate32()
		}
	case bytecode.LoadBool:
		r[in.A] = boolWord(in.B != 0)
	case bytecode.Move:
		r[in.B] = r[in.A]
	case bytecode.Compare:
		res := boolWord(compare(r[in.A], r[in.B], in.Flags))
		r[in.C] = res
		c.FLAG = res
	case bytecode.Push:
		if err := v.mem.Push(r[in.A]); err != nil {
			return next, err
		}
	case bytecode.Pop:
		n, err := v.mem.Pop()
		if err != nil {
			return next, err
		}
		r[in.A] = n
	case bytecode.Alloc:
		off, err := v.mem.Alloc(int(r[in.B]))
		if err != nil {
			return next, err
		}
		c.heap = append(c.heap, off)
		r[in.A] = int64(off)
	case bytecode.Store:
		if err := v.mem.WriteWord(r[in.A], r[in.B], c.heap); err != nil {
			return next, err
		}
	case bytecode.Load:
		n, err := v.mem.ReadWord(r[in.B], c.heap)
		if err != nil {
			return next, err
		}
		r[in.A] = n

	case bytecode.Add:
		r[in.C] = r[in.A] + r[in.B]
	case bytecode.Sub:
		r[in.C] = r[in.A] - r[in.B]
	case bytecode.Mul:
		r[in.C] = r[in.A] * r[in.B]
	case bytecode.Div, bytecode.Mod:
		if r[in.B] == 0 {
			return next, newError(ErrDivisionByZero, "R%d is zero", in.B)
		}
		if in.Op == bytecode.Div {
			r[in.C] = r[in.A] / r[in.B]
		} else {
			r[in.C] = r[in.A] % r[in.B]
		}

	case bytecode.And:
		r[in.C] = r[in.A] & r[in.B]
	case bytecode.Or:
		r[in.C] = r[in.A] | r[in.B]
	case bytecode.Not:
		r[in.C] = ^r[in.A]

	case bytecode.CreateNode, bytecode.Connect, bytecode.Merge, bytecode.DeleteNode:
		return next, v.execGraph(in, l)

	case bytecode.CallRule:
		if v.rules == nil {
			return next, newError(ErrNoHost, "no rule host for CALL_RULE")
		}
		if err := v.rules.CallRule(ctx, ir.RuleID(in.A)); err != nil {
			return next, hostError(err, "call rule %d", in.A)
		}
	case bytecode.ReturnRule:
		return ctrl{kind: ctrlReturn}, nil
	case bytecode.CheckCondition:
		if v.rules == nil {
			return next, newError(ErrNoHost, "no rule host for CHECK_CONDITION")
		}
		ok, err := v.rules.CheckCondition(ctx, ir.RuleID(in.A))
		if err != nil {
			return next, hostError(err, "check condition of rule %d", in.A)
		}
		// Calls may switch contexts; write to whichever is active now.
		v.ctxs.Active().R[in.B] = boolWord(ok)
	case bytecode.IncrementExecCount:
		if err := v.countLoop(); err != nil {
			return next, err
		}
		r[in.A]++

	case bytecode.CtxCreate:
		id := v.ctxs.Create()
		v.ctxs.Active().R[in.A] = int64(id)
	case bytecode.CtxSwitch:
		return next, v.ctxs.Switch(ContextID(r[in.A]))
	case bytecode.SetSymbol:
		return next, v.setSymbol(sym(in.A), r[in.B], in.Flags)
	case bytecode.GetSymbol:
		return next, v.getSymbol(sym(in.B), in.A, fr.bindings)
	case bytecode.CtxClone:
		src, dstReg := ContextID(r[in.A]), in.B
		id, err := v.ctxs.Clone(src)
		if err != nil {
			return next, err
		}
		v.ctxs.Active().R[dstReg] = int64(id)
	case bytecode.CtxDestroy:
		return next, v.DestroyContext(ContextID(r[in.A]))

	case bytecode.ErrSet:
		c.ERR = in.A
	case bytecode.ErrClear:
		c.ERR = 0
	case bytecode.ErrCheck:
		if c.ERR != 0 {
			return v.jump(int(in.A), fr.pc)
		}
	case bytecode.Throw:
		c.ERR = in.A
		return next, newError(ErrThrown, "code %d", in.A)

	case bytecode.CallExtern:
		return next, v.callExtern(ctx, sym(in.A), in.B, in.C)
	case bytecode.ReadIO:
		ch, err := v.channel(sym(in.A))
		if err != nil {
			return next, err
		}
		n, err := ch.Read(ctx)
		if err != nil {
			return next, hostError(err, "read channel %q", sym(in.A))
		}
		v.ctxs.Active().R[in.B] = n
	case bytecode.WriteIO:
		ch, err := v.channel(sym(in.A))
		if err != nil {
			return next, err
		}
		if err := ch.Write(ctx, r[in.B]); err != nil {
			return next, hostError(err, "write channel %q", sym(in.A))
		}
	}
	return next, nil
}

func (v *VM) execGraph(in bytecode.Instruction, l *loaded) error {
	if v.graph == nil {
		return newError(ErrNoHost, "no graph host for %s", in.Op)
	}
	r := &v.ctxs.Active().R
	var err error
	switch in.Op {
	case bytecode.CreateNode:
		var id graph.NodeID
		id, err = v.graph.CreateNode(graph.NodeKind(in.B), l.prog.Symbols[in.C])
		if err == nil {
			r[in.A] = int64(id)
		}
	case bytecode.Connect:
		err = v.graph.Connect(graph.NodeID(r[in.A]), graph.NodeID(r[in.B]), graph.EdgeKind(in.C))
	case bytecode.Merge:
		err = v.graph.Merge(graph.NodeID(r[in.A]), graph.NodeID(r[in.B]))
	case bytecode.DeleteNode:
		err = v.graph.DeleteNode(graph.NodeID(r[in.A]))
	}
	if err != nil {
		return hostError(err, "%s", in.Op)
	}
	return nil
}

// setSymbol writes a variable of the active context through the write
// hook. Names starting with '?' are read-only bindings.
func (v *VM) setSymbol(name string, word int64, flags uint8) error {
	if strings.HasPrefix(name, "?") {
		return newError(ErrInvalidOperand, "binding %s is read-only", name)
	}
	var val ir.Value = ir.Int(word)
	if flags&bytecode.FlagSym != 0 {
		s, ok := v.interner.Name(word)
		if !ok {
			return newError(ErrTypeMismatch, "register value %d is not an interned symbol", word)
		}
		val = ir.Sym(s)
	}
	if v.writeHook != nil {
		apply, err := v.writeHook(name, val)
		if err != nil {
			return hostError(err, "write %s", name)
		}
		if !apply {
			return nil
		}
	}
	v.ctxs.Active().Vars[name] = val
	return nil
}

func (v *VM) getSymbol(name string, dst uint16, bindings ir.Object) error {
	var (
		val ir.Value
		ok  bool
	)
	if strings.HasPrefix(name, "?") {
		val, ok = bindings[name]
	} else {
		val, ok = v.ctxs.Active().Vars[name]
	}
	if !ok {
		return newError(ErrVariableNotFound, "%s", name)
	}
	n, err := v.toWord(val)
	if err != nil {
		return err
	}
	v.ctxs.Active().R[dst] = n
	return nil
}

func (v *VM) callExtern(ctx context.Context, name string, first, argc uint16) error {
	fn, ok := v.externs[name]
	if !ok {
		return newError(ErrUnknownExtern, "function %q is not registered", name)
	}
	r := &v.ctxs.Active().R
	args := make([]int64, argc)
	copy(args, r[first:first+argc])
	v.sandbox.RecordCall(name)
	res, err := fn(ctx, args)
	if err != nil {
		return hostError(err, "extern %q", name)
	}
	v.ctxs.Active().R[first] = res
	return nil
}

func (v *VM) channel(name string) (Channel, error) {
	ch, ok := v.channels[name]
	if !ok {
		return nil, newError(ErrUnknownExtern, "channel %q is not registered", name)
	}
	return ch, nil
}
