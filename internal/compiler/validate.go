package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/kern/internal/bytecode"
	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// Rule errors (E101-E109)
	ErrMissingCondition = "E101" // when is empty
	ErrInvalidPriority  = "E102" // not a level name or outside 0..1000
	ErrInvalidCondition = "E103" // when does not parse
	ErrInvalidActions   = "E104" // then does not assemble
	ErrEmptyWriteSet    = "E105" // actions write but writes is empty
	ErrUndeclaredWrite  = "E106" // actions write outside writes
	ErrInvalidWriteSet  = "E107" // writes entry is not a variable name
	ErrSelfDependency   = "E108" // depends_on names the rule itself

	// Rule-set errors (E110-E119)
	ErrDuplicateRuleID   = "E110" // two rules share an id
	ErrUnknownDependency = "E111" // depends_on names no rule in the set
	ErrInvalidStrategy   = "E112" // strategy string does not parse
	ErrUnknownCallTarget = "E113" // CALL_RULE or CHECK_CONDITION names no rule
	ErrMissingRuleID     = "E114" // rule id is zero
	ErrDuplicateRuleName = "E115" // two rules share a name
)

// ValidationError represents a rule validation error.
type ValidationError struct {
	Field   string    `json:"field"`
	Message string    `json:"message"`
	Code    string    `json:"code"`
	Rule    ir.RuleID `json:"rule,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Rule != 0 {
		return fmt.Sprintf("[%s] rule %d: %s: %s", e.Code, e.Rule, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Class implements ir.Classified.
func (e ValidationError) Class() ir.ErrorClass { return ir.ClassValidation }

// Validate checks compiled rules against the rules the engine enforces at
// registration, plus the static write checks the engine only catches at
// runtime. Returns all errors found (does not fail-fast).
// Supports RuleSpec and RuleSet.
func Validate(v any) []ValidationError {
	switch x := v.(type) {
	case *ir.RuleSpec:
		return validateRule(x, nil)
	case ir.RuleSpec:
		return validateRule(&x, nil)
	case *RuleSet:
		return validateRuleSet(x)
	case RuleSet:
		return validateRuleSet(&x)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// validateRuleSet validates each rule in id order, then the references
// between them and the strategy table.
func validateRuleSet(rs *RuleSet) []ValidationError {
	var errs []ValidationError

	ids := make(map[ir.RuleID]bool, len(rs.Rules))
	names := make(map[string]ir.RuleID, len(rs.Rules))
	for _, r := range rs.Rules {
		// E110: duplicate id
		if ids[r.ID] && r.ID != 0 {
			errs = append(errs, ValidationError{
				Field:   "id",
				Message: fmt.Sprintf("duplicate rule id %d", r.ID),
				Code:    ErrDuplicateRuleID,
				Rule:    r.ID,
			})
		}
		ids[r.ID] = true

		// E115: duplicate name
		if prev, dup := names[r.Name]; dup && r.Name != "" {
			errs = append(errs, ValidationError{
				Field:   "name",
				Message: fmt.Sprintf("name %q already used by rule %d", r.Name, prev),
				Code:    ErrDuplicateRuleName,
				Rule:    r.ID,
			})
		} else {
			names[r.Name] = r.ID
		}
	}

	for i := range rs.Rules {
		errs = append(errs, validateRule(&rs.Rules[i], ids)...)
	}

	attrs := make([]string, 0, len(rs.Strategies))
	for attr := range rs.Strategies {
		attrs = append(attrs, attr)
	}
	slices.Sort(attrs)
	resolver := engine.NewResolver()
	for _, attr := range attrs {
		s, err := engine.ParseStrategy(rs.Strategies[attr])
		if err == nil {
			if attr == "*" {
				err = resolver.SetDefault(s)
			} else {
				err = resolver.SetStrategy(attr, s)
			}
		}
		// E112: strategy does not parse or names an unknown merge
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "strategies." + attr,
				Message: err.Error(),
				Code:    ErrInvalidStrategy,
			})
		}
	}

	return errs
}

// validateRule validates one rule. known is the id set of the enclosing
// rule set; nil skips the cross-rule checks.
func validateRule(r *ir.RuleSpec, known map[ir.RuleID]bool) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
			Rule:    r.ID,
		})
	}

	// E114: id is required inside a set
	if known != nil && r.ID == 0 {
		add("id", ErrMissingRuleID, "rule %q has no id", r.Name)
	}

	// E101: condition is required
	if strings.TrimSpace(r.When) == "" {
		add("when", ErrMissingCondition, "condition is required; use \"true\" for an unconditional rule")
	} else if _, err := engine.ParseCondition(r.When); err != nil {
		// E103
		add("when", ErrInvalidCondition, "%v", err)
	}

	// E102
	if _, err := engine.ParsePriority(r.Priority); err != nil {
		add("priority", ErrInvalidPriority, "%v", err)
	}

	// E107
	for _, w := range r.Writes {
		if w == "" || strings.HasPrefix(w, "?") {
			add("writes", ErrInvalidWriteSet, "write-set entry %q is not a variable name", w)
		}
	}

	// E108
	for _, d := range r.DependsOn {
		if d == r.ID {
			add("depends_on", ErrSelfDependency, "rule depends on itself")
			continue
		}
		// E111
		if known != nil && !known[d] {
			add("depends_on", ErrUnknownDependency, "unknown rule %d", d)
		}
	}

	if strings.TrimSpace(r.Then) == "" {
		return errs
	}
	prog, err := bytecode.Assemble(r.Then)
	if err != nil {
		// E104
		add("then", ErrInvalidActions, "%v", err)
		return errs
	}

	writes := programWrites(prog)
	if len(writes) > 0 && len(r.Writes) == 0 {
		// E105
		add("writes", ErrEmptyWriteSet, "actions write %s but the write-set is empty", strings.Join(writes, ", "))
	} else {
		for _, w := range writes {
			// E106
			if !slices.Contains(r.Writes, w) {
				add("writes", ErrUndeclaredWrite, "actions write %q outside the write-set", w)
			}
		}
	}

	if known != nil {
		for _, target := range programCalls(prog) {
			// E113
			if !known[target] {
				add("then", ErrUnknownCallTarget, "actions call unknown rule %d", target)
			}
		}
	}

	return errs
}

// programWrites returns the attributes a program can write, sorted:
// SET_SYMBOL targets plus the reserved graph attribute for graph opcodes.
func programWrites(p *bytecode.Program) []string {
	var out []string
	for _, in := range p.Code {
		switch in.Op {
		case bytecode.SetSymbol:
			if name, ok := p.Symbol(in.A); ok {
				out = append(out, name)
			}
		case bytecode.CreateNode, bytecode.Connect, bytecode.Merge, bytecode.DeleteNode:
			out = append(out, engine.GraphAttribute)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// programCalls returns the rule ids named by CALL_RULE and CHECK_CONDITION,
// sorted.
func programCalls(p *bytecode.Program) []ir.RuleID {
	var out []ir.RuleID
	for _, in := range p.Code {
		if in.Op == bytecode.CallRule || in.Op == bytecode.CheckCondition {
			out = append(out, ir.RuleID(in.A))
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
