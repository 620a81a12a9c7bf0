package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/ir"
)

// FieldError is a validation error for one configuration field.
type FieldError struct {
	// Field is the dotted path to the field (e.g., "execution.max_steps").
	Field string

	// Message is a human-readable error message.
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found in a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Class reports configuration problems as validation errors.
func (ValidationError) Class() ir.ErrorClass { return ir.ClassValidation }

// IsValidationError reports whether err is a configuration ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Validate checks the whole configuration and returns a ValidationError
// listing every problem, or nil.
func Validate(cfg *Config) error {
	var errs []FieldError
	errs = append(errs, validateMemory(cfg)...)
	errs = append(errs, validateExecution(cfg)...)
	errs = append(errs, validateSandbox(cfg)...)
	errs = append(errs, validateConflicts(cfg)...)
	errs = append(errs, validateEngine(cfg)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateMemory(cfg *Config) []FieldError {
	var errs []FieldError
	regions := []struct {
		name string
		size int
	}{
		{"code", cfg.Memory.Code},
		{"constants", cfg.Memory.Constants},
		{"stack", cfg.Memory.Stack},
		{"heap", cfg.Memory.Heap},
		{"meta", cfg.Memory.Meta},
	}
	for _, r := range regions {
		if r.size <= 0 {
			errs = append(errs, FieldError{
				Field:   "memory." + r.name,
				Message: fmt.Sprintf("region size must be positive, got %d", r.size),
			})
		}
	}
	return errs
}

func validateExecution(cfg *Config) []FieldError {
	var errs []FieldError
	limits := []struct {
		name  string
		value int64
	}{
		{"max_steps", cfg.Execution.MaxSteps},
		{"max_rule_invocations", cfg.Execution.MaxRuleInvocations},
		{"max_loop_iterations", cfg.Execution.MaxLoopIterations},
	}
	for _, l := range limits {
		if l.value < 0 {
			errs = append(errs, FieldError{
				Field:   "execution." + l.name,
				Message: fmt.Sprintf("limit must not be negative, got %d", l.value),
			})
		}
	}
	return errs
}

func validateSandbox(cfg *Config) []FieldError {
	var errs []FieldError
	// Sorted so the error order is stable.
	names := make([]string, 0, len(cfg.Sandbox.MaxCalls))
	for name := range cfg.Sandbox.MaxCalls {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if cfg.Sandbox.MaxCalls[name] < 0 {
			errs = append(errs, FieldError{
				Field:   "sandbox.max_calls." + name,
				Message: "call ceiling must not be negative",
			})
		}
		if !slices.Contains(cfg.Sandbox.AllowedFunctions, name) {
			errs = append(errs, FieldError{
				Field:   "sandbox.max_calls." + name,
				Message: "function is not in allowed_functions",
			})
		}
	}
	return errs
}

func validateConflicts(cfg *Config) []FieldError {
	var errs []FieldError
	// A throwaway resolver knows the built-in merge functions.
	r := engine.NewResolver()

	check := func(field, name string, set func(engine.Strategy) error) {
		s, err := engine.ParseStrategy(name)
		if err == nil {
			err = set(s)
		}
		if err != nil {
			errs = append(errs, FieldError{Field: field, Message: err.Error()})
		}
	}

	check("conflicts.default", cfg.Conflicts.Default, r.SetDefault)

	attrs := make([]string, 0, len(cfg.Conflicts.Attributes))
	for attr := range cfg.Conflicts.Attributes {
		attrs = append(attrs, attr)
	}
	slices.Sort(attrs)
	for _, attr := range attrs {
		check("conflicts.attributes."+attr, cfg.Conflicts.Attributes[attr], func(s engine.Strategy) error {
			return r.SetStrategy(attr, s)
		})
	}
	return errs
}

func validateEngine(cfg *Config) []FieldError {
	var errs []FieldError
	switch cfg.Engine.Scorer {
	case ScorerLevel, ScorerDependency:
	default:
		errs = append(errs, FieldError{
			Field:   "engine.scorer",
			Message: fmt.Sprintf("unknown scorer %q (want %q or %q)", cfg.Engine.Scorer, ScorerLevel, ScorerDependency),
		})
	}
	if cfg.Engine.TraceInstructions < 0 {
		errs = append(errs, FieldError{
			Field:   "engine.trace_instructions",
			Message: "must not be negative",
		})
	}
	return errs
}
