package config

import (
	"fmt"
	"slices"

	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/vm"
)

// VMOptions returns the VM options for this configuration. extra is
// appended last, so callers can add hosts and recorders.
func (c *Config) VMOptions(extra ...vm.Option) []vm.Option {
	opts := []vm.Option{
		vm.WithMemoryLimits(c.Memory),
		vm.WithExecutionLimits(c.Execution),
		vm.WithSandbox(c.Sandbox),
	}
	if c.Engine.TraceInstructions > 0 {
		opts = append(opts, vm.WithTrace(c.Engine.TraceInstructions))
	}
	return append(opts, extra...)
}

// EngineOptions returns the engine options for this configuration,
// including a VM built from VMOptions(vmExtra...).
func (c *Config) EngineOptions(vmExtra ...vm.Option) ([]engine.Option, error) {
	opts := []engine.Option{
		engine.WithVM(vm.New(c.VMOptions(vmExtra...)...)),
		engine.WithGuardLimits(c.Guard),
		engine.WithRefraction(c.Engine.Refraction),
	}
	if c.Engine.Scorer == ScorerDependency {
		opts = append(opts, engine.WithScorer(engine.NewDependencyScorer()))
	}

	def, err := engine.ParseStrategy(c.Conflicts.Default)
	if err != nil {
		return nil, fmt.Errorf("conflicts.default: %w", err)
	}
	opts = append(opts, engine.WithDefaultStrategy(def))

	attrs := make([]string, 0, len(c.Conflicts.Attributes))
	for attr := range c.Conflicts.Attributes {
		attrs = append(attrs, attr)
	}
	slices.Sort(attrs)
	for _, attr := range attrs {
		s, err := engine.ParseStrategy(c.Conflicts.Attributes[attr])
		if err != nil {
			return nil, fmt.Errorf("conflicts.attributes.%s: %w", attr, err)
		}
		opts = append(opts, engine.WithStrategy(attr, s))
	}
	return opts, nil
}
