package vm

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/roach88/kern/internal/bytecode"
	"github.com/roach88/kern/internal/ir"
)

// Handle identifies a loaded program.
type Handle int

// Status is how an Execute call ended.
type Status uint8

const (
	StatusHalted Status = iota + 1
	StatusReturned
	StatusFaulted
)

func (s Status) String() string {
	switch s {
	case StatusHalted:
		return "halted"
	case StatusReturned:
		return "returned"
	case StatusFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Result summarizes one Execute call.
type Result struct {
	Status Status
	Steps  int64 // instructions executed, nested calls included
	PC     int   // PC of the last instruction executed
	ERR    uint16
}

// Recorder receives VM metrics. All methods must be cheap.
type Recorder interface {
	ObserveInstruction(op string)
	ObserveSteps(n int64)
	ObserveFault(code string)
	ObserveContexts(live int)
}

type loaded struct {
	prog      *bytecode.Program
	codeBase  int
	constBase int
	metaBase  int
}

type frame struct {
	handle   Handle
	pc       int
	bindings ir.Object
}

// VM is a register virtual machine. It is not safe for concurrent use.
type VM struct {
	memLimits  MemoryLimits
	limits     ExecutionLimits
	policy     SandboxPolicy
	traceLimit int

	mem      *Memory
	ctxs     *Pool
	sandbox  *Sandbox
	interner *Interner
	counters Counters
	programs []loaded
	frames   []frame
	trace    *traceRing

	graph     GraphHost
	rules     RuleHost
	writeHook WriteHook
	externs   map[string]ExternFunc
	channels  map[string]Channel
	recorder  Recorder
}

// Option configures a VM.
type Option func(*VM)

// WithMemoryLimits sets region capacities. Regions are sized once.
func WithMemoryLimits(l MemoryLimits) Option {
	return func(v *VM) { v.memLimits = l }
}

// WithExecutionLimits sets the step, invocation and loop budgets.
func WithExecutionLimits(l ExecutionLimits) Option {
	return func(v *VM) { v.limits = l }
}

// WithSandbox sets the sandbox policy.
func WithSandbox(p SandboxPolicy) Option {
	return func(v *VM) { v.policy = p }
}

// WithGraph sets the host receiving graph opcodes.
func WithGraph(g GraphHost) Option {
	return func(v *VM) { v.graph = g }
}

// WithRules sets the host receiving rule opcodes.
func WithRules(r RuleHost) Option {
	return func(v *VM) { v.rules = r }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(v *VM) { v.recorder = r }
}

// WithTrace keeps the last n executed instructions.
func WithTrace(n int) Option {
	return func(v *VM) { v.traceLimit = n }
}

// New creates a VM with one live root context.
func New(opts ...Option) *VM {
	v := &VM{
		memLimits: DefaultMemoryLimits(),
		limits:    DefaultExecutionLimits(),
		externs:   make(map[string]ExternFunc),
		channels:  make(map[string]Channel),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.mem = NewMemory(v.memLimits)
	v.ctxs = NewPool()
	v.sandbox = NewSandbox(v.policy)
	v.interner = NewInterner()
	if v.traceLimit > 0 {
		v.trace = newTraceRing(v.traceLimit)
	}
	return v
}

// Load places a program in the code, constants and meta regions.
// Either all three reservations succeed or none does.
func (v *VM) Load(p *bytecode.Program) (Handle, error) {
	consts := make([]byte, 0, p.ConstSize())
	for _, c := range p.Consts {
		consts = binary.LittleEndian.AppendUint64(consts, uint64(c))
	}
	meta := make([]byte, 0, p.SymbolSize())
	for _, s := range p.Symbols {
		meta = binary.LittleEndian.AppendUint16(meta, uint16(len(s)))
		meta = append(meta, s...)
	}

	offs, err := v.mem.reserve(map[RegionKind][]byte{
		RegionCode:      p.EncodeCode(),
		RegionConstants: consts,
		RegionMeta:      meta,
	})
	if err != nil {
		return -1, err
	}

	v.programs = append(v.programs, loaded{
		prog:      p.Clone(),
		codeBase:  offs[RegionCode],
		constBase: offs[RegionConstants],
		metaBase:  offs[RegionMeta],
	})
	return Handle(len(v.programs) - 1), nil
}

// CheckLoad reports whether all of programs would fit if loaded
// together. It reserves nothing.
func (v *VM) CheckLoad(programs ...*bytecode.Program) error {
	need := map[RegionKind]int{}
	for _, p := range programs {
		need[RegionCode] += p.CodeSize()
		need[RegionConstants] += p.ConstSize()
		need[RegionMeta] += p.SymbolSize()
	}
	return v.mem.fits(need)
}

// Program returns the loaded program for h.
func (v *VM) Program(h Handle) (*bytecode.Program, bool) {
	if h < 0 || int(h) >= len(v.programs) {
		return nil, false
	}
	return v.programs[h].prog, true
}

// ExecOption adjusts a single Execute call.
type ExecOption func(*frame)

// WithBindings exposes read-only binding values to GET_SYMBOL under
// names starting with '?'.
func WithBindings(b ir.Object) ExecOption {
	return func(f *frame) { f.bindings = b }
}

// Execute runs a loaded program from instruction 0 until HALT,
// RETURN_RULE or a fatal error. Execute is re-entrant: a RuleHost may
// call it again while handling CALL_RULE.
func (v *VM) Execute(ctx context.Context, h Handle, opts ...ExecOption) (Result, error) {
	if h < 0 || int(h) >= len(v.programs) {
		return Result{Status: StatusFaulted}, newError(ErrInvalidHandle, "no program loaded at handle %d", h)
	}

	f := frame{handle: h}
	for _, opt := range opts {
		opt(&f)
	}
	v.frames = append(v.frames, f)
	depth := len(v.frames) - 1
	defer func() { v.frames = v.frames[:depth] }()

	start := v.counters.Steps
	result := func(s Status) Result {
		return Result{
			Status: s,
			Steps:  v.counters.Steps - start,
			PC:     v.frames[depth].pc,
			ERR:    v.ctxs.Active().ERR,
		}
	}

	for {
		c, err := v.step(ctx, depth)
		if err != nil {
			var vmErr *Error
			if errors.As(err, &vmErr) && v.recorder != nil {
				v.recorder.ObserveFault(string(vmErr.Code))
			}
			slog.Debug("vm fault", "handle", h, "pc", v.frames[depth].pc, "error", err)
			v.observe(start)
			return result(StatusFaulted), err
		}
		switch c.kind {
		case ctrlHalt:
			v.observe(start)
			return result(StatusHalted), nil
		case ctrlReturn:
			v.observe(start)
			return result(StatusReturned), nil
		case ctrlJump:
			v.frames[depth].pc = c.target
		default:
			v.frames[depth].pc++
		}
	}
}

// Run loads and executes a program in one call.
func (v *VM) Run(ctx context.Context, p *bytecode.Program) (Result, error) {
	h, err := v.Load(p)
	if err != nil {
		return Result{Status: StatusFaulted}, err
	}
	return v.Execute(ctx, h)
}

func (v *VM) observe(start int64) {
	if v.recorder == nil || len(v.frames) > 1 {
		return
	}
	v.recorder.ObserveSteps(v.counters.Steps - start)
	v.recorder.ObserveContexts(v.ctxs.Live())
}

// Depth returns the number of active Execute frames.
func (v *VM) Depth() int { return len(v.frames) }

// Register reads a general register of the active context.
func (v *VM) Register(i int) (int64, error) {
	if i < 0 || i >= bytecode.NumRegisters {
		return 0, newError(ErrInvalidRegister, "register R%d out of range", i)
	}
	return v.ctxs.Active().R[i], nil
}

// SetRegister writes a general register of the active context.
func (v *VM) SetRegister(i int, val int64) error {
	if i < 0 || i >= bytecode.NumRegisters {
		return newError(ErrInvalidRegister, "register R%d out of range", i)
	}
	v.ctxs.Active().R[i] = val
	return nil
}

// Active returns a snapshot of the active context.
func (v *VM) Active() Context {
	return v.ctxs.Active().Snapshot()
}

// Var reads a variable of the active context.
func (v *VM) Var(name string) (ir.Value, bool) {
	val, ok := v.ctxs.Active().Vars[name]
	return val, ok
}

// SetVar writes a variable of the active context directly, bypassing the
// write hook. Used by hosts to seed state.
func (v *VM) SetVar(name string, val ir.Value) {
	v.ctxs.Active().Vars[name] = val
}

// Vars returns a copy of the active context's variables.
func (v *VM) Vars() ir.Object {
	return v.ctxs.Vars()
}

// CreateContext allocates a new context without switching to it.
func (v *VM) CreateContext() ContextID {
	return v.ctxs.Create()
}

// SwitchContext makes id the active context.
func (v *VM) SwitchContext(id ContextID) error {
	return v.ctxs.Switch(id)
}

// CloneContext deep-copies id into a new context.
func (v *VM) CloneContext(id ContextID) (ContextID, error) {
	return v.ctxs.Clone(id)
}

// DestroyContext retires id and frees its heap allocations.
func (v *VM) DestroyContext(id ContextID) error {
	owned, err := v.ctxs.Destroy(id)
	if err != nil {
		return err
	}
	for _, off := range owned {
		if err := v.mem.Free(off); err != nil {
			return err
		}
	}
	return nil
}

// ActiveContextID returns the CTX register.
func (v *VM) ActiveContextID() ContextID { return v.ctxs.ActiveID() }

// LiveContexts returns the number of live contexts.
func (v *VM) LiveContexts() int { return v.ctxs.Live() }

// Limits returns the execution limits.
func (v *VM) Limits() ExecutionLimits { return v.limits }

// SetExecutionLimits replaces the execution limits. Counters are kept.
func (v *VM) SetExecutionLimits(l ExecutionLimits) { v.limits = l }

// SetSandbox replaces the sandbox policy and clears call counters.
func (v *VM) SetSandbox(p SandboxPolicy) {
	v.policy = p
	v.sandbox = NewSandbox(p)
}

// Sandbox returns the live sandbox.
func (v *VM) Sandbox() *Sandbox { return v.sandbox }

// Counters returns consumed budgets.
func (v *VM) Counters() Counters { return v.counters }

// ResetCounters zeroes consumed budgets and sandbox call counts.
func (v *VM) ResetCounters() {
	v.counters = Counters{}
	v.sandbox.Reset()
}

// RecordRuleInvocation charges one rule invocation against the budget.
func (v *VM) RecordRuleInvocation() error {
	if max := v.limits.MaxRuleInvocations; max > 0 && v.counters.RuleInvocations+1 > max {
		return newError(ErrInvocationLimit, "rule invocations exceeded %d", max)
	}
	v.counters.RuleInvocations++
	return nil
}

// RegisterFunction exposes fn to CALL_EXTERN. The sandbox still decides
// whether bytecode may call it.
func (v *VM) RegisterFunction(name string, fn ExternFunc) {
	v.externs[name] = fn
}

// RegisterChannel exposes ch to READ_IO and WRITE_IO.
func (v *VM) RegisterChannel(name string, ch Channel) {
	v.channels[name] = ch
}

// SetWriteHook installs h and returns the previous hook.
func (v *VM) SetWriteHook(h WriteHook) WriteHook {
	prev := v.writeHook
	v.writeHook = h
	return prev
}

// SetGraphHost replaces the graph host.
func (v *VM) SetGraphHost(g GraphHost) { v.graph = g }

// SetRuleHost replaces the rule host.
func (v *VM) SetRuleHost(r RuleHost) { v.rules = r }

// Memory exposes the memory regions for inspection.
func (v *VM) Memory() *Memory { return v.mem }

// Interner returns the symbol interner.
func (v *VM) Interner() *Interner { return v.interner }

// Trace returns recorded instructions, oldest first. Empty unless the VM
// was built WithTrace.
func (v *VM) Trace() []InstructionEvent {
	if v.trace == nil {
		return nil
	}
	return v.trace.snapshot()
}
