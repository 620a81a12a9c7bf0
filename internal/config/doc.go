// Package config loads KERN execution settings from YAML.
//
// A configuration file has six sections:
//
//	memory:      # VM region capacities in bytes
//	  heap: 1048576
//	execution:   # VM budgets; 0 takes the default
//	  max_steps: 1000000
//	guard:       # recursion guard; 0 takes the default, negative disables
//	  recursion_limit: 10
//	  max_cycles: 10000
//	sandbox:     # deny-by-default extern policy
//	  allowed_functions: [log]
//	  max_calls: {log: 100}
//	conflicts:   # strategy names as accepted by engine.ParseStrategy
//	  default: override
//	  attributes: {score: "merge:sum"}
//	engine:
//	  refraction: true
//	  scorer: dependency
//
// Loading applies defaults, then environment overrides (KERN_MAX_STEPS,
// KERN_MAX_CYCLES, KERN_MAX_CALL_DEPTH), then validates. Validate reports
// every problem at once.
package config
