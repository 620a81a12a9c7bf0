package config

import (
	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/vm"
)

// Default values for configuration fields not covered by the vm and
// engine defaults.
const (
	DefaultStrategy = "override"
	DefaultScorer   = ScorerLevel
)

// Scorer names.
const (
	ScorerLevel      = "level"
	ScorerDependency = "dependency"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields. Negative guard limits are kept;
// they disable the corresponding check.
func ApplyDefaults(cfg *Config) {
	mem := vm.DefaultMemoryLimits()
	setIfZero(&cfg.Memory.Code, mem.Code)
	setIfZero(&cfg.Memory.Constants, mem.Constants)
	setIfZero(&cfg.Memory.Stack, mem.Stack)
	setIfZero(&cfg.Memory.Heap, mem.Heap)
	setIfZero(&cfg.Memory.Meta, mem.Meta)

	exec := vm.DefaultExecutionLimits()
	setIfZero(&cfg.Execution.MaxSteps, exec.MaxSteps)
	setIfZero(&cfg.Execution.MaxRuleInvocations, exec.MaxRuleInvocations)
	setIfZero(&cfg.Execution.MaxLoopIterations, exec.MaxLoopIterations)

	guard := engine.DefaultGuardLimits()
	setIfZero(&cfg.Guard.RecursionLimit, guard.RecursionLimit)
	setIfZero(&cfg.Guard.MaxPerCycle, guard.MaxPerCycle)
	setIfZero(&cfg.Guard.MaxCallDepth, guard.MaxCallDepth)
	setIfZero(&cfg.Guard.MaxCycles, guard.MaxCycles)

	if cfg.Conflicts.Default == "" {
		cfg.Conflicts.Default = DefaultStrategy
	}
	if cfg.Engine.Scorer == "" {
		cfg.Engine.Scorer = DefaultScorer
	}
}

func setIfZero[T int | int64](field *T, def T) {
	if *field == 0 {
		*field = def
	}
}
