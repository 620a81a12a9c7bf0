package config

import (
	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/vm"
)

// Config is the complete KERN configuration.
type Config struct {
	Memory    vm.MemoryLimits    `yaml:"memory"`
	Execution vm.ExecutionLimits `yaml:"execution"`
	Guard     engine.GuardLimits `yaml:"guard"`
	Sandbox   vm.SandboxPolicy   `yaml:"sandbox"`
	Conflicts ConflictsConfig    `yaml:"conflicts"`
	Engine    EngineConfig       `yaml:"engine"`
}

// ConflictsConfig selects conflict strategies.
type ConflictsConfig struct {
	// Default governs attributes without their own entry.
	Default string `yaml:"default"`

	// Attributes maps attribute names to strategies.
	Attributes map[string]string `yaml:"attributes"`
}

// EngineConfig holds engine behavior switches.
type EngineConfig struct {
	// Refraction stops a rule from re-firing on unchanged bindings.
	Refraction bool `yaml:"refraction"`

	// Scorer is "level" (base priority only) or "dependency".
	Scorer string `yaml:"scorer"`

	// TraceInstructions keeps the last N executed VM instructions for
	// fault reports. 0 disables.
	TraceInstructions int `yaml:"trace_instructions"`
}
