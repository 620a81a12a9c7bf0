package vm

// MemoryLimits bounds each memory region, in bytes.
type MemoryLimits struct {
	Code      int `yaml:"code" json:"code"`
	Constants int `yaml:"constants" json:"constants"`
	Stack     int `yaml:"stack" json:"stack"`
	Heap      int `yaml:"heap" json:"heap"`
	Meta      int `yaml:"meta" json:"meta"`
}

// DefaultMemoryLimits returns the standard region capacities.
func DefaultMemoryLimits() MemoryLimits {
	return MemoryLimits{
		Code:      100 * 1024,
		Constants: 50 * 1024,
		Stack:     256 * 1024,
		Heap:      1024 * 1024,
		Meta:      10 * 1024,
	}
}

// ExecutionLimits bounds the work a VM may do between counter resets.
type ExecutionLimits struct {
	MaxSteps           int64 `yaml:"max_steps" json:"max_steps"`
	MaxRuleInvocations int64 `yaml:"max_rule_invocations" json:"max_rule_invocations"`
	MaxLoopIterations  int64 `yaml:"max_loop_iterations" json:"max_loop_iterations"`
}

// DefaultExecutionLimits returns the standard budgets.
func DefaultExecutionLimits() ExecutionLimits {
	return ExecutionLimits{
		MaxSteps:           1_000_000,
		MaxRuleInvocations: 100_000,
		MaxLoopIterations:  100_000,
	}
}

// SandboxPolicy restricts what bytecode may reach outside the VM.
// Anything not listed is denied.
type SandboxPolicy struct {
	AllowedFunctions []string       `yaml:"allowed_functions" json:"allowed_functions"`
	AllowedChannels  []string       `yaml:"allowed_channels" json:"allowed_channels"`
	MaxCalls         map[string]int `yaml:"max_calls" json:"max_calls"`
}

// Counters are the budgets consumed since the last reset.
type Counters struct {
	Steps           int64 `json:"steps"`
	RuleInvocations int64 `json:"rule_invocations"`
	LoopIterations  int64 `json:"loop_iterations"`
}
