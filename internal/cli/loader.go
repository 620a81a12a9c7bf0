package cli

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/kern/internal/compiler"
	"github.com/roach88/kern/internal/config"
	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/ir"
	"github.com/roach88/kern/internal/metrics"
	"github.com/roach88/kern/internal/store"
	"github.com/roach88/kern/internal/vm"
)

// loadRuleSet loads the rule set in dir and rejects it when validation
// fails. Cycle warnings are logged, never fatal.
func loadRuleSet(dir string) (*compiler.RuleSet, error) {
	rs, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	if errs := compiler.Validate(rs); len(errs) > 0 {
		return nil, &ruleSetError{errs: errs}
	}
	for _, w := range compiler.AnalyzeCycles(rs.Rules) {
		slog.Warn("rule cycle", "path", strings.Join(w.Path, " -> "), "attributes", w.Attributes)
	}
	slog.Debug("rule set loaded", "dir", dir, "rules", len(rs.Rules))
	return rs, nil
}

// ruleSetError carries every validation error of a rule set.
type ruleSetError struct {
	errs []compiler.ValidationError
}

func (e *ruleSetError) Error() string {
	if len(e.errs) == 1 {
		return e.errs[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e.errs[0].Error(), len(e.errs)-1)
}

func (e *ruleSetError) Unwrap() error { return e.errs[0] }

// loadConfig reads the configuration file, or the defaults when path is
// empty. Environment overrides apply in both cases.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

// parseVars parses --var flags of the form name=value. Values are YAML
// scalars or flow collections: 3, true, done, [1, 2], {a: 1}, "#4".
func parseVars(flags []string) (ir.Object, error) {
	vars := ir.Object{}
	for _, f := range flags {
		name, raw, ok := strings.Cut(f, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q: want name=value", f)
		}
		var decoded any
		if err := yaml.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, fmt.Errorf("invalid --var %s: %w", name, err)
		}
		v, err := ir.FromGo(decoded)
		if err != nil {
			return nil, fmt.Errorf("invalid --var %s: %w", name, err)
		}
		vars[name] = v
	}
	return vars, nil
}

// engineSetup gathers what every engine-building command needs.
type engineSetup struct {
	cfg      *config.Config
	ruleSet  *compiler.RuleSet
	sink     *store.Store
	recorder *metrics.Collector
	runIDs   engine.RunIDGenerator
}

// options returns the engine options: configuration first, then the rule
// set's strategies and graph, then the sink, recorder and run ids.
func (s engineSetup) options() ([]engine.Option, error) {
	var vmExtra []vm.Option
	if s.recorder != nil {
		vmExtra = append(vmExtra, vm.WithRecorder(s.recorder))
	}
	opts, err := s.cfg.EngineOptions(vmExtra...)
	if err != nil {
		return nil, err
	}

	rec := store.Recording{Strategies: s.ruleSet.Strategies, Graph: s.ruleSet.Graph}
	recOpts, err := rec.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, recOpts...)

	if s.sink != nil {
		opts = append(opts, engine.WithSink(s.sink))
	}
	if s.recorder != nil {
		opts = append(opts, engine.WithRecorder(s.recorder))
	}
	if s.runIDs != nil {
		opts = append(opts, engine.WithRunIDGenerator(s.runIDs))
	}
	return opts, nil
}

// build creates the engine, registers the rules and seeds variables: the
// rule set's own first, then overrides.
func (s engineSetup) build(overrides ir.Object) (*engine.Engine, error) {
	opts, err := s.options()
	if err != nil {
		return nil, err
	}
	e, err := engine.New(opts...)
	if err != nil {
		return nil, err
	}
	if _, err := e.Register(s.ruleSet.Rules...); err != nil {
		return nil, err
	}

	vars := s.ruleSet.Variables.Clone()
	if vars == nil {
		vars = ir.Object{}
	}
	for k, v := range overrides {
		vars[k] = v
	}
	keys := vars.SortedKeys()
	for _, k := range keys {
		e.SetVar(k, vars[k])
	}
	slog.Debug("engine ready", "rules", len(s.ruleSet.Rules), "vars", len(keys),
		"overrides", slices.Sorted(maps.Keys(overrides)))
	return e, nil
}
