package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/roach88/kern/internal/compiler"
	"github.com/roach88/kern/internal/config"
	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/ir"
	"github.com/roach88/kern/internal/store"
	"github.com/roach88/kern/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios with a fixed run id against a fresh in-memory store.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	cfg     *config.Config
	ruleSet *compiler.RuleSet
	logger  *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// The run id is fixed, so identical scenarios produce identical traces.
//
// Execution flow:
// 1. Compile the rule set and reject it if validation fails
// 2. Build the engine from configuration and the rule set
// 3. Seed variables
// 4. Run to fixpoint, halt or the cycle bound
// 5. Evaluate assertions and return the result
//
// A halt is a result, not an error; errors mean the scenario could not
// be executed.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if err := h.prepare(scenario); err != nil {
		return nil, err
	}

	result, err := h.execute(ctx, scenario)
	if err != nil {
		return nil, err
	}

	actx := &AssertionContext{
		Store:         st,
		Ctx:           ctx,
		ReplayOptions: h.engineOptions,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// prepare loads the rule set and configuration and builds the engine.
func (h *Harness) prepare(scenario *Scenario) error {
	var err error
	if scenario.CUE != "" {
		h.ruleSet, err = compiler.CompileSource(scenario.CUE)
	} else {
		h.ruleSet, err = compiler.LoadDir(scenario.Rules)
	}
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	if errs := compiler.Validate(h.ruleSet); len(errs) > 0 {
		return fmt.Errorf("invalid rule set: %w", errs[0])
	}

	switch {
	case scenario.ConfigFile != "":
		if h.cfg, err = config.Load(scenario.ConfigFile); err != nil {
			return err
		}
	case scenario.Config != nil:
		cfg := *scenario.Config
		config.ApplyDefaults(&cfg)
		if err := config.Validate(&cfg); err != nil {
			return err
		}
		h.cfg = &cfg
	default:
		h.cfg = config.Default()
	}

	opts, err := h.engineOptions()
	if err != nil {
		return err
	}
	opts = append(opts,
		engine.WithSink(h.store),
		engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(scenario.RunID)),
	)
	if h.engine, err = engine.New(opts...); err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	if _, err := h.engine.Register(h.ruleSet.Rules...); err != nil {
		return fmt.Errorf("failed to register rules: %w", err)
	}

	vars := h.ruleSet.Variables.Clone()
	if vars == nil {
		vars = ir.Object{}
	}
	for k, raw := range scenario.Variables {
		v, err := ir.FromGo(raw)
		if err != nil {
			return fmt.Errorf("variable %s: %w", k, err)
		}
		vars[k] = v
	}
	for _, k := range vars.SortedKeys() {
		h.engine.SetVar(k, vars[k])
	}
	return nil
}

// engineOptions returns fresh engine options from the configuration and
// the rule set's strategies and graph. Each call builds a new VM and
// graph, so replays never share state with the original run.
func (h *Harness) engineOptions() ([]engine.Option, error) {
	opts, err := h.cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	rec := store.Recording{
		Strategies: h.ruleSet.Strategies,
		Graph:      h.ruleSet.Graph,
	}
	recOpts, err := rec.Options()
	if err != nil {
		return nil, err
	}
	return append(opts, recOpts...), nil
}

// execute runs the engine and collects the result.
func (h *Harness) execute(ctx context.Context, scenario *Scenario) (*Result, error) {
	result := NewResult()
	for _, r := range h.ruleSet.Rules {
		result.ruleIDs[r.Name] = r.ID
		result.ruleIDs[strconv.FormatUint(uint64(r.ID), 10)] = r.ID
	}

	var (
		res engine.RunResult
		err error
	)
	if scenario.Cycles == 0 {
		res, err = h.engine.Run(ctx)
	} else {
		res, err = h.stepN(ctx, scenario.Cycles)
	}
	if err != nil && res.Halt == nil {
		return nil, fmt.Errorf("failed to execute run: %w", err)
	}

	h.logger.Debug("scenario run finished",
		"scenario", scenario.Name,
		"run_id", res.RunID,
		"cycles", res.Cycles,
		"fixpoint", res.Fixpoint,
	)

	result.RunID = h.engine.RunID()
	result.Run = res
	result.Trace = h.engine.Trace()
	result.History = h.engine.History()
	result.Vars = h.engine.Vars()
	result.Graph = h.engine.Graph()
	return result, nil
}

// stepN steps at most n cycles, stopping early at fixpoint or halt.
func (h *Harness) stepN(ctx context.Context, n int) (engine.RunResult, error) {
	res := engine.RunResult{}
	for range n {
		cycle, err := h.engine.Step(ctx)
		if err != nil {
			if halt, ok := engine.AsHalt(err); ok {
				res.Halt = halt
			}
			return h.summarize(res), err
		}
		if cycle.Fixpoint {
			res.Fixpoint = true
			break
		}
	}
	return h.summarize(res), nil
}

// summarize fills a step-driven result from the engine.
func (h *Harness) summarize(res engine.RunResult) engine.RunResult {
	res.RunID = h.engine.RunID()
	res.Cycles = h.engine.Cycle()
	for _, ev := range h.engine.Trace() {
		if ev.Kind == engine.TraceFired {
			res.Firings++
		}
	}
	res.StateHash, _ = h.engine.StateHash()
	res.TraceHash, _ = engine.TraceHash(h.engine.Trace())
	return res
}
