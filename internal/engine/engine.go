package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/kern/internal/bytecode"
	"github.com/roach88/kern/internal/graph"
	"github.com/roach88/kern/internal/ir"
	"github.com/roach88/kern/internal/vm"
)

// State is the scheduler state.
type State uint8

const (
	StateIdle State = iota
	StateMatching
	StateResolving
	StateExecuting
	StateHalted
)

var stateNames = [...]string{"Idle", "Matching", "Resolving", "Executing", "Halted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Recorder observes engine activity, e.g. for metrics.
type Recorder interface {
	CycleCompleted(firings int)
	RuleFired(id ir.RuleID, name string)
	ConflictResolved(strategy string)
	Halted(class ir.ErrorClass)
}

type noopRecorder struct{}

func (noopRecorder) CycleCompleted(int)          {}
func (noopRecorder) RuleFired(ir.RuleID, string) {}
func (noopRecorder) ConflictResolved(string)     {}
func (noopRecorder) Halted(ir.ErrorClass)        {}

// RunInfo describes a run when it begins.
type RunInfo struct {
	ID            string
	RuleSetHash   string
	EngineVersion string
	Rules         []ir.RuleSpec
	Strategies    map[string]string
	Vars          ir.Object
	Graph         ir.Object
}

// RunSummary describes a finished run.
type RunSummary struct {
	Status     string // "fixpoint" or "halted"
	Cycles     int64
	Firings    int64
	HaltReason string
	HaltClass  ir.ErrorClass
	HaltRule   ir.RuleID
	HaltPC     int
	StateHash  string
	TraceHash  string
	FinalVars  ir.Object
}

// Run statuses.
const (
	StatusFixpoint = "fixpoint"
	StatusHalted   = "halted"
)

// Sink persists runs. The store implements it.
//
// AppendCycle is called once per completed or halted cycle with the trace
// events and history entries that cycle produced.
type Sink interface {
	BeginRun(ctx context.Context, info RunInfo) error
	AppendCycle(ctx context.Context, runID string, events []TraceEvent, history []HistoryEntry) error
	FinishRun(ctx context.Context, runID string, summary RunSummary) error
}

// Firing is one execution of a rule's actions.
type Firing struct {
	Cycle    int64
	RuleID   ir.RuleID
	Bindings ir.Object
	Depth    int
	Steps    int64
}

// CycleResult reports one cycle.
type CycleResult struct {
	Cycle     int64
	Matched   []ir.RuleID
	Scheduled []ir.RuleID
	Conflicts []Resolution
	Firings   []Firing
	Fixpoint  bool
}

// Fired returns the number of firings in the cycle.
func (c CycleResult) Fired() int { return len(c.Firings) }

// RunResult reports a run.
type RunResult struct {
	RunID     string
	Cycles    int64
	Firings   int64
	Fixpoint  bool
	Halt      *HaltError
	StateHash string
	TraceHash string
}

// Engine is the deterministic rule engine.
//
// One cycle matches every rule against the graph and the active context,
// drops what the recursion guard rejects, orders the rest, resolves write
// conflicts and executes actions in that fixed order.
//
// CRITICAL: The engine is single-threaded. Nothing it enumerates comes
// from map iteration; rules are ordered by (score desc, id asc) with a
// total comparator every cycle.
//
// INVARIANTS:
//   - a halt is terminal for its run; there is no rollback
//   - conflicts are resolved before any action of the cycle runs
//   - every firing is bracketed by guard Enter/Leave
//   - cancellation is observed between cycles only
type Engine struct {
	vm       *vm.VM
	graph    *graph.Graph
	rules    *Registry
	matcher  *Matcher
	scorer   Scorer
	resolver *Resolver
	guard    *Guard
	clock    *Clock
	trace    traceLog
	sink     Sink
	recorder Recorder
	runIDs   RunIDGenerator

	// versions changes per variable whenever its value changes; the
	// matcher cache keys on it.
	versions map[string]uint64

	refraction bool
	refracted  map[ir.RuleID]string

	state    State
	active   bool
	finished bool
	runID    string
	cycle    int64
	firings  int64
	halt     *HaltError
	summary  RunSummary
	histMark int64
	evMark   int64

	// Per-cycle execution state.
	firing       []*Rule
	gate         map[string]*gateEntry
	merges       []string
	cycleFirings []Firing

	// Option state resolved in New.
	pendingDefault *Strategy
	pendingAttrs   []attrStrategy
	customMerges   []namedMerge
	guardLimits    GuardLimits
}

type attrStrategy struct {
	attr string
	s    Strategy
}

type namedMerge struct {
	name string
	fn   MergeFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithVM runs actions on v instead of a fresh VM. The engine installs
// its rule host, graph host and write hook on v.
func WithVM(v *vm.VM) Option {
	return func(e *Engine) { e.vm = v }
}

// WithGraph matches against g instead of an empty graph.
func WithGraph(g *graph.Graph) Option {
	return func(e *Engine) { e.graph = g }
}

// WithScorer replaces the default LevelScorer.
func WithScorer(s Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithStrategy selects the conflict strategy for one attribute.
func WithStrategy(attr string, s Strategy) Option {
	return func(e *Engine) { e.pendingAttrs = append(e.pendingAttrs, attrStrategy{attr, s}) }
}

// WithDefaultStrategy replaces Override as the global default.
func WithDefaultStrategy(s Strategy) Option {
	return func(e *Engine) { e.pendingDefault = &s }
}

// WithMergeFunc registers a named merge function for Merge strategies.
func WithMergeFunc(name string, fn MergeFunc) Option {
	return func(e *Engine) { e.customMerges = append(e.customMerges, namedMerge{name, fn}) }
}

// WithGuardLimits sets the recursion guard ceilings.
func WithGuardLimits(l GuardLimits) Option {
	return func(e *Engine) { e.guardLimits = l }
}

// WithRefraction stops a rule from firing again on bindings and read
// values identical to those of its previous firing.
func WithRefraction(on bool) Option {
	return func(e *Engine) { e.refraction = on }
}

// WithSink persists runs to s.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithRecorder observes engine activity.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock numbers the first run's trace from c. Replay uses it to
// continue after a stored prefix.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRunIDGenerator names runs with g instead of UUIDv7.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) { e.runIDs = g }
}

// New creates an engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		rules:     NewRegistry(),
		matcher:   NewMatcher(),
		scorer:    LevelScorer{},
		resolver:  NewResolver(),
		recorder:  noopRecorder{},
		runIDs:    UUIDv7Generator{},
		versions:  make(map[string]uint64),
		refracted: make(map[ir.RuleID]string),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.vm == nil {
		e.vm = vm.New()
	}
	if e.graph == nil {
		e.graph = graph.New()
	}
	if e.clock == nil {
		e.clock = NewClock()
	}
	if e.recorder == nil {
		e.recorder = noopRecorder{}
	}
	e.guard = NewGuard(e.guardLimits)
	e.trace = traceLog{clock: e.clock}

	for _, m := range e.customMerges {
		e.resolver.RegisterMerge(m.name, m.fn)
	}
	if e.pendingDefault != nil {
		if err := e.resolver.SetDefault(*e.pendingDefault); err != nil {
			return nil, err
		}
	}
	for _, a := range e.pendingAttrs {
		if err := e.resolver.SetStrategy(a.attr, a.s); err != nil {
			return nil, fmt.Errorf("strategy for %q: %w", a.attr, err)
		}
	}

	e.vm.SetRuleHost(ruleHost{e})
	e.vm.SetGraphHost(graphGate{e})
	e.vm.SetWriteHook(e.gateWrite)
	return e, nil
}

// Register compiles rules and loads their actions into the VM. Specs with
// ID zero are numbered after the highest id so far. Ids within one call
// may come in any order, but every id must exceed those registered by
// earlier calls. Either every spec is registered or none is.
func (e *Engine) Register(specs ...ir.RuleSpec) ([]ir.RuleID, error) {
	floor := e.rules.NextID()
	next := floor
	seen := make(map[ir.RuleID]bool, len(specs))
	compiled := make([]*Rule, 0, len(specs))
	for _, spec := range specs {
		if spec.ID == 0 {
			spec.ID = next
		}
		next = max(next, spec.ID+1)
		if _, dup := e.rules.Get(spec.ID); dup || seen[spec.ID] {
			return nil, &RuntimeError{
				Code:    ErrCodeDuplicateRule,
				RuleID:  spec.ID,
				Message: fmt.Sprintf("rule id %d is already registered", spec.ID),
			}
		}
		if spec.ID < floor {
			return nil, &RuntimeError{
				Code:    ErrCodeRuleIDOrder,
				RuleID:  spec.ID,
				Message: fmt.Sprintf("rule id %d is below the next free id %d", spec.ID, floor),
			}
		}
		seen[spec.ID] = true

		r, err := CompileRule(spec)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, r)
	}

	programs := make([]*bytecode.Program, len(compiled))
	for i, r := range compiled {
		programs[i] = r.Program
	}
	if err := e.vm.CheckLoad(programs...); err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	for _, r := range compiled {
		h, err := e.vm.Load(r.Program)
		if err != nil {
			return nil, fmt.Errorf("rule %s: load actions: %w", r, err)
		}
		r.Handle = h
	}

	ids := make([]ir.RuleID, len(compiled))
	for i, r := range compiled {
		if err := e.rules.Add(r); err != nil {
			return nil, err
		}
		ids[i] = r.ID
		slog.Debug("rule registered",
			"rule_id", r.ID,
			"name", r.Name,
			"priority", r.Priority,
			"reads", r.Reads,
			"writes", r.Writes,
		)
	}
	if p, ok := e.scorer.(preparer); ok {
		p.Prepare(e.rules.All())
	}
	return ids, nil
}

// Step runs one cycle. A run begins implicitly with the first Step and
// ends at fixpoint or on a halt. After a halt Step keeps returning the
// halt; after a fixpoint the next Step begins a new run.
func (e *Engine) Step(ctx context.Context) (CycleResult, error) {
	if e.state == StateHalted {
		return CycleResult{Cycle: e.cycle}, e.halt
	}
	if !e.active || e.finished {
		if err := e.beginRun(ctx); err != nil {
			return CycleResult{}, err
		}
	}

	cycle := e.cycle + 1
	res := CycleResult{Cycle: cycle}

	if err := ctx.Err(); err != nil {
		return res, e.haltRun(ctx, newHalt(err, 0, cycle))
	}
	if err := e.guard.BeginCycle(); err != nil {
		return res, e.haltRun(ctx, newHalt(err, 0, cycle))
	}
	e.cycle = cycle
	e.cycleFirings = nil
	e.emit(TraceEvent{Kind: TraceCycleStart})

	// (1) Match.
	e.state = StateMatching
	matches, err := e.matcher.Match(e.matchState(), e.rules.All())
	if err != nil {
		return res, e.haltRun(ctx, newHalt(err, 0, cycle))
	}

	bindings := make(map[ir.RuleID][]ir.Object, len(matches))
	hashes := make(map[ir.RuleID]string, len(matches))
	candidates := make([]*Rule, 0, len(matches))
	for _, m := range matches {
		r, _ := e.rules.Get(m.RuleID)
		if e.refraction {
			h, err := e.bindingHash(r, m.Bindings)
			if err != nil {
				return res, e.haltRun(ctx, newHalt(err, r.ID, cycle))
			}
			if e.refracted[r.ID] == h {
				continue
			}
			hashes[r.ID] = h
		}
		bindings[r.ID] = m.Bindings
		candidates = append(candidates, r)
		res.Matched = append(res.Matched, r.ID)
		e.emit(TraceEvent{Kind: TraceMatched, RuleID: r.ID, Detail: fmt.Sprintf("bindings=%d", len(m.Bindings))})
	}

	if len(candidates) == 0 {
		res.Fixpoint = true
		e.emit(TraceEvent{Kind: TraceFixpoint})
		e.state = StateIdle
		slog.Info("fixpoint reached", "run_id", e.runID, "cycle", cycle, "firings", e.firings)
		if err := e.flush(ctx); err != nil {
			return res, err
		}
		return res, e.finishRun(ctx)
	}

	// (2) Guard.
	for _, r := range candidates {
		if err := e.guard.Check(r); err != nil {
			return res, e.haltRun(ctx, newHalt(err, r.ID, cycle))
		}
	}

	// (3) Sort, (4) resolve.
	e.state = StateResolving
	scheduled := Sort(candidates, e.scorer)
	for i, r := range scheduled {
		res.Scheduled = append(res.Scheduled, r.ID)
		e.emit(TraceEvent{Kind: TraceScheduled, RuleID: r.ID, Detail: fmt.Sprintf("rank=%d", i+1)})
	}

	e.gate = make(map[string]*gateEntry)
	e.merges = nil
	for _, c := range Detect(scheduled) {
		resolution, err := e.resolver.Resolve(cycle, c)
		if err != nil {
			return res, e.haltRun(ctx, newHalt(err, 0, cycle))
		}
		res.Conflicts = append(res.Conflicts, resolution)
		e.gate[c.Attribute] = &gateEntry{res: resolution}
		if resolution.Strategy.Kind == StrategyMerge {
			e.merges = append(e.merges, c.Attribute)
		}
		e.recorder.ConflictResolved(resolution.Strategy.String())
		slog.Debug("conflict resolved",
			"cycle", cycle,
			"attribute", c.Attribute,
			"strategy", resolution.Strategy.String(),
			"rules", c.Rules,
		)
	}

	// (5) Execute in the fixed order.
	e.state = StateExecuting
	for _, r := range scheduled {
		for _, b := range bindings[r.ID] {
			if err := e.fire(ctx, r, b); err != nil {
				res.Firings = slices.Clone(e.cycleFirings)
				return res, e.haltRun(ctx, newHalt(err, r.ID, cycle))
			}
		}
		if h, ok := hashes[r.ID]; ok {
			e.refracted[r.ID] = h
		}
	}

	// (6) Commit merges.
	if err := e.commitMerges(); err != nil {
		res.Firings = slices.Clone(e.cycleFirings)
		return res, e.haltRun(ctx, newHalt(err, 0, cycle))
	}
	e.gate = nil
	e.state = StateIdle

	res.Firings = slices.Clone(e.cycleFirings)
	e.recorder.CycleCompleted(len(res.Firings))
	slog.Debug("cycle completed",
		"run_id", e.runID,
		"cycle", cycle,
		"matched", len(res.Matched),
		"fired", len(res.Firings),
		"conflicts", len(res.Conflicts),
	)
	return res, e.flush(ctx)
}

// Run steps until fixpoint or halt. A halt is returned as *HaltError
// alongside the result.
func (e *Engine) Run(ctx context.Context) (RunResult, error) {
	if !e.active || e.finished {
		if e.state == StateHalted {
			return e.result(), e.halt
		}
		if err := e.beginRun(ctx); err != nil {
			return RunResult{}, err
		}
	}
	for {
		res, err := e.Step(ctx)
		if err != nil {
			return e.result(), err
		}
		if res.Fixpoint {
			return e.result(), nil
		}
	}
}

// Reset clears a halt so the next Step or Run begins a new run. Variables
// and the graph are kept.
func (e *Engine) Reset() {
	e.state = StateIdle
	e.halt = nil
	e.active = false
	e.finished = false
}

func (e *Engine) beginRun(ctx context.Context) error {
	if e.active {
		// A previous run finished; number the new trace from 1.
		e.clock = NewClock()
	}
	e.active, e.finished = true, false
	e.state = StateIdle
	e.runID = e.runIDs.Generate()
	e.cycle, e.firings = 0, 0
	e.halt = nil
	e.summary = RunSummary{}
	e.trace = traceLog{clock: e.clock}
	e.evMark = e.clock.Current()
	e.resolver.ResetHistory()
	e.histMark = 0
	e.guard.Reset()
	e.vm.ResetCounters()
	clear(e.refracted)

	setHash, err := ir.RuleSetHash(e.rules.Specs())
	if err != nil {
		return fmt.Errorf("hash rule set: %w", err)
	}
	slog.Info("run starting", "run_id", e.runID, "rules", e.rules.Len(), "rule_set_hash", setHash)

	if e.sink == nil {
		return nil
	}
	strategies := make(map[string]string, len(e.resolver.perAttr)+1)
	strategies["*"] = e.resolver.fallback.String()
	for attr, s := range e.resolver.perAttr {
		strategies[attr] = s.String()
	}
	info := RunInfo{
		ID:            e.runID,
		RuleSetHash:   setHash,
		EngineVersion: ir.EngineVersion,
		Rules:         e.rules.Specs(),
		Strategies:    strategies,
		Vars:          e.vm.Vars(),
		Graph:         e.graph.Snapshot(),
	}
	if err := e.sink.BeginRun(ctx, info); err != nil {
		return fmt.Errorf("begin run %s: %w", e.runID, err)
	}
	return nil
}

// flush hands the events and history of the last cycle to the sink.
func (e *Engine) flush(ctx context.Context) error {
	events := e.trace.since(e.evMark)
	history := e.resolver.HistorySince(e.histMark)
	e.evMark = e.trace.last()
	e.histMark += int64(len(history))
	if e.sink == nil {
		return nil
	}
	if err := e.sink.AppendCycle(context.WithoutCancel(ctx), e.runID, events, history); err != nil {
		return fmt.Errorf("persist cycle %d: %w", e.cycle, err)
	}
	return nil
}

func (e *Engine) finishRun(ctx context.Context) error {
	e.finished = true
	e.summary = RunSummary{
		Status:    StatusFixpoint,
		Cycles:    e.cycle,
		Firings:   e.firings,
		HaltPC:    -1,
		FinalVars: e.vm.Vars(),
	}
	if e.halt != nil {
		e.summary.Status = StatusHalted
		e.summary.HaltReason = e.halt.Reason
		e.summary.HaltClass = e.halt.Class
		e.summary.HaltRule = e.halt.RuleID
		e.summary.HaltPC = e.halt.PC
	}
	var err error
	if e.summary.StateHash, err = e.StateHash(); err != nil {
		return err
	}
	if e.summary.TraceHash, err = TraceHash(e.trace.events); err != nil {
		return err
	}
	if e.sink == nil {
		return nil
	}
	if err := e.sink.FinishRun(context.WithoutCancel(ctx), e.runID, e.summary); err != nil {
		return fmt.Errorf("finish run %s: %w", e.runID, err)
	}
	return nil
}

// haltRun makes h terminal for the run and returns it.
func (e *Engine) haltRun(ctx context.Context, h *HaltError) error {
	if h.Cycle > e.cycle {
		e.cycle = h.Cycle
	}
	e.state = StateHalted
	e.halt = h
	e.gate = nil
	e.firing = nil
	e.emit(TraceEvent{Kind: TraceHalt, RuleID: h.RuleID, Detail: h.Reason})
	e.recorder.Halted(h.Class)
	slog.Warn("run halted",
		"run_id", e.runID,
		"reason", h.Reason,
		"class", h.Class,
		"rule_id", h.RuleID,
		"pc", h.PC,
		"cycle", h.Cycle,
		"error", h.Cause,
	)
	if err := e.flush(ctx); err != nil {
		slog.Error("failed to persist halted cycle", "run_id", e.runID, "error", err)
	}
	if err := e.finishRun(ctx); err != nil {
		slog.Error("failed to finish halted run", "run_id", e.runID, "error", err)
	}
	return h
}

func (e *Engine) result() RunResult {
	return RunResult{
		RunID:     e.runID,
		Cycles:    e.cycle,
		Firings:   e.firings,
		Fixpoint:  e.finished && e.halt == nil,
		Halt:      e.halt,
		StateHash: e.summary.StateHash,
		TraceHash: e.summary.TraceHash,
	}
}

// fire executes one binding set of r under the guard.
func (e *Engine) fire(ctx context.Context, r *Rule, b ir.Object) error {
	if err := e.guard.Enter(r); err != nil {
		return err
	}
	defer e.guard.Leave(r)
	if err := e.vm.RecordRuleInvocation(); err != nil {
		return err
	}

	depth := e.guard.Depth()
	e.firings++
	e.emit(TraceEvent{Kind: TraceFired, RuleID: r.ID, Value: b.Clone(), Detail: fmt.Sprintf("depth=%d", depth)})
	e.recorder.RuleFired(r.ID, r.Name)
	slog.Debug("rule fired",
		"rule_id", r.ID,
		"name", r.Name,
		"cycle", e.cycle,
		"depth", depth,
	)

	e.firing = append(e.firing, r)
	before := e.vm.Counters().Steps
	_, err := e.vm.Execute(ctx, r.Handle, vm.WithBindings(b))
	e.firing = e.firing[:len(e.firing)-1]

	e.cycleFirings = append(e.cycleFirings, Firing{
		Cycle:    e.cycle,
		RuleID:   r.ID,
		Bindings: b.Clone(),
		Depth:    depth,
		Steps:    e.vm.Counters().Steps - before,
	})
	return err
}

func (e *Engine) emit(ev TraceEvent) {
	ev.Cycle = e.cycle
	e.trace.add(ev)
}

func (e *Engine) matchState() MatchState {
	return MatchState{
		Graph:    e.graph,
		Vars:     e.vm.Vars(),
		Context:  uint32(e.vm.ActiveContextID()),
		Versions: e.versions,
	}
}

// bindingHash digests a match for refraction: the binding sets plus the
// current values of the rule's read-set.
func (e *Engine) bindingHash(r *Rule, bindings []ir.Object) (string, error) {
	vec := make(ir.Vec, len(bindings))
	for i, b := range bindings {
		vec[i] = b
	}
	reads := make(ir.Object, len(r.Reads))
	for _, name := range r.Reads {
		if v, ok := e.vm.Var(name); ok {
			reads[name] = v
		} else {
			reads[name] = ir.Null{}
		}
	}
	if r.Cond.UsesGraph {
		reads["$graph"] = ir.Int(e.graph.Version())
	}
	return ir.BindingHash(r.ID, vec, reads)
}

// StateHash digests the active context's variables and the graph.
func (e *Engine) StateHash() (string, error) {
	return ir.StateHash(e.vm.Vars(), e.graph.Snapshot())
}

// SetVar seeds a variable of the active context. It bypasses the write
// gate but still invalidates cached matches that read name.
func (e *Engine) SetVar(name string, v ir.Value) {
	old, ok := e.vm.Var(name)
	e.vm.SetVar(name, v)
	if !ok || !ir.Equal(old, v) {
		e.versions[name]++
	}
}

// Var reads a variable of the active context.
func (e *Engine) Var(name string) (ir.Value, bool) { return e.vm.Var(name) }

// Vars returns a copy of the active context's variables.
func (e *Engine) Vars() ir.Object { return e.vm.Vars() }

// State returns the scheduler state.
func (e *Engine) State() State { return e.state }

// Cycle returns the number of the last cycle started in this run.
func (e *Engine) Cycle() int64 { return e.cycle }

// RunID returns the current run's id, "" before the first run.
func (e *Engine) RunID() string { return e.runID }

// Halt returns the halt of the current run, nil if it has not halted.
func (e *Engine) Halt() *HaltError { return e.halt }

// Summary returns the summary of the last finished run.
func (e *Engine) Summary() RunSummary { return e.summary }

// History returns the current run's resolution history.
func (e *Engine) History() []HistoryEntry { return e.resolver.History() }

// Trace returns the current run's trace.
func (e *Engine) Trace() []TraceEvent { return e.trace.all() }

// Graph returns the engine's graph.
func (e *Engine) Graph() *graph.Graph { return e.graph }

// VM returns the engine's VM.
func (e *Engine) VM() *vm.VM { return e.vm }

// Rules returns the registered rules in id order.
func (e *Engine) Rules() []*Rule { return e.rules.All() }

// Rule returns a registered rule.
func (e *Engine) Rule(id ir.RuleID) (*Rule, bool) { return e.rules.Get(id) }

// Invocations returns the lifetime invocation count of a rule in the
// current run.
func (e *Engine) Invocations(id ir.RuleID) int { return e.guard.Counts(id) }

// Strategy returns the conflict strategy governing attr.
func (e *Engine) Strategy(attr string) Strategy { return e.resolver.StrategyFor(attr) }

// MatchStats returns matcher cache hits and misses.
func (e *Engine) MatchStats() (hits, misses int) { return e.matcher.Stats() }
