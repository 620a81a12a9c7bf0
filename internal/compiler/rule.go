package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/kern/internal/ir"
)

// ruleFields lists the fields a rule struct may carry.
var ruleFields = map[string]bool{
	"id":              true,
	"name":            true,
	"priority":        true,
	"when":            true,
	"then":            true,
	"reads":           true,
	"writes":          true,
	"recursion_limit": true,
	"depends_on":      true,
}

// CompileRule parses a CUE value into a RuleSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the rule struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`rule: bump: { id: 1, when: "n < 3", ... }`)
//	spec, err := CompileRule(v.LookupPath(cue.ParsePath("rule.bump")))
//
// The struct label becomes the rule name unless a name field overrides it.
// A missing id is left at zero; CompileRuleSet assigns one.
func CompileRule(v cue.Value) (*ir.RuleSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.RuleSpec{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		if !ruleFields[iter.Label()] {
			return nil, &CompileError{
				Field:   iter.Label(),
				Message: "unknown rule field",
				Pos:     iter.Value().Pos(),
			}
		}
	}

	if id, ok, err := lookupInt(v, "id"); err != nil {
		return nil, err
	} else if ok {
		if id <= 0 || id > int64(^uint32(0)) {
			return nil, &CompileError{
				Field:   "id",
				Message: fmt.Sprintf("rule id %d out of range", id),
				Pos:     v.LookupPath(cue.ParsePath("id")).Pos(),
			}
		}
		spec.ID = ir.RuleID(id)
	}

	if name, ok, err := lookupString(v, "name"); err != nil {
		return nil, err
	} else if ok {
		spec.Name = name
	}

	if spec.Priority, err = parsePriority(v); err != nil {
		return nil, err
	}

	// when is required; an unconditional rule says so with "true"
	when, ok, err := lookupString(v, "when")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &CompileError{
			Field:   "when",
			Message: "when is required",
			Pos:     v.Pos(),
		}
	}
	spec.When = when

	if spec.Then, _, err = lookupString(v, "then"); err != nil {
		return nil, err
	}
	if spec.Reads, err = lookupStrings(v, "reads"); err != nil {
		return nil, err
	}
	if spec.Writes, err = lookupStrings(v, "writes"); err != nil {
		return nil, err
	}

	if limit, ok, err := lookupInt(v, "recursion_limit"); err != nil {
		return nil, err
	} else if ok {
		if limit < 0 {
			return nil, &CompileError{
				Field:   "recursion_limit",
				Message: "recursion_limit must not be negative",
				Pos:     v.LookupPath(cue.ParsePath("recursion_limit")).Pos(),
			}
		}
		spec.RecursionLimit = int(limit)
	}

	deps, err := lookupInts(v, "depends_on")
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		spec.DependsOn = append(spec.DependsOn, ir.RuleID(d))
	}

	return spec, nil
}

// parsePriority accepts a level name or an integer. Range checking is left
// to Validate so that every problem in a rule set is reported together.
func parsePriority(v cue.Value) (string, error) {
	pv := v.LookupPath(cue.ParsePath("priority"))
	if !pv.Exists() {
		return "", nil
	}
	switch pv.IncompleteKind() {
	case cue.StringKind:
		s, err := pv.String()
		if err != nil {
			return "", formatCUEError(err)
		}
		return s, nil
	case cue.IntKind:
		n, err := pv.Int64()
		if err != nil {
			return "", formatCUEError(err)
		}
		return strconv.FormatInt(n, 10), nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "priority",
			Message: "float priorities are forbidden - use an int or a level name",
			Pos:     pv.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "priority",
			Message: fmt.Sprintf("priority must be a string or int, got %v", pv.IncompleteKind()),
			Pos:     pv.Pos(),
		}
	}
}

func lookupString(v cue.Value, field string) (string, bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", false, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", false, fieldError(field, fv, err)
	}
	return s, true, nil
}

func lookupInt(v cue.Value, field string) (int64, bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, false, nil
	}
	if k := fv.IncompleteKind(); k == cue.FloatKind || k == cue.NumberKind {
		return 0, false, &CompileError{
			Field:   field,
			Message: "float values are forbidden - use int instead",
			Pos:     fv.Pos(),
		}
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, false, fieldError(field, fv, err)
	}
	return n, true, nil
}

func lookupStrings(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, fieldError(field, fv, err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, fieldError(field, iter.Value(), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func lookupInts(v cue.Value, field string) ([]int64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, fieldError(field, fv, err)
	}
	var out []int64
	for iter.Next() {
		n, err := iter.Value().Int64()
		if err != nil {
			return nil, fieldError(field, iter.Value(), err)
		}
		out = append(out, n)
	}
	return out, nil
}

// fieldError names the field while keeping the CUE position.
func fieldError(field string, v cue.Value, err error) error {
	ce := formatCUEError(err)
	if c, ok := ce.(*CompileError); ok {
		c.Field = field
		return c
	}
	return &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Class implements ir.Classified.
func (e *CompileError) Class() ir.ErrorClass { return ir.ClassValidation }

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
