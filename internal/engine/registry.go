package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/kern/internal/bytecode"
	"github.com/roach88/kern/internal/ir"
	"github.com/roach88/kern/internal/vm"
)

// GraphAttribute is the reserved write-set entry that admits the graph
// opcodes.
const GraphAttribute = "graph"

// Rule is a compiled, registered rule.
//
// INVARIANTS:
//   - Reads and Writes are sorted and free of duplicates
//   - Program ends in HALT or RETURN_RULE
//   - Rule is immutable once registered
type Rule struct {
	ID       ir.RuleID
	Name     string
	Priority int

	Cond   *Condition
	Reads  []string
	Writes []string

	// RecursionLimit caps lifetime invocations; zero means the guard default.
	RecursionLimit int
	DependsOn      []ir.RuleID

	Program *bytecode.Program
	Handle  vm.Handle

	Spec ir.RuleSpec
}

// Declares reports whether attr is in the rule's write-set.
func (r *Rule) Declares(attr string) bool {
	_, ok := slices.BinarySearch(r.Writes, attr)
	return ok
}

func (r *Rule) String() string {
	if r.Name != "" {
		return fmt.Sprintf("%d(%s)", r.ID, r.Name)
	}
	return fmt.Sprintf("%d", r.ID)
}

// CompileRule parses the condition, resolves the priority and assembles
// the action program. The returned rule has no VM handle yet.
//
// An empty action is a single HALT. Programs not already ending in HALT
// or RETURN_RULE get a trailing RETURN_RULE so actions never run off the
// end of their code.
func CompileRule(spec ir.RuleSpec) (*Rule, error) {
	if spec.ID == 0 {
		return nil, &RuntimeError{Code: ErrCodeInvalidRule, Message: "rule id must be non-zero"}
	}

	prio, err := ParsePriority(spec.Priority)
	if err != nil {
		if re, ok := err.(*RuntimeError); ok {
			re.RuleID = spec.ID
		}
		return nil, err
	}

	cond, err := ParseCondition(spec.When)
	if err != nil {
		return nil, fmt.Errorf("rule %d: condition: %w", spec.ID, err)
	}

	src := spec.Then
	if strings.TrimSpace(src) == "" {
		src = "HALT"
	}
	prog, err := bytecode.Assemble(src)
	if err != nil {
		return nil, fmt.Errorf("rule %d: actions: %w", spec.ID, err)
	}
	if n := prog.Len(); n == 0 || (prog.Code[n-1].Op != bytecode.HALT && prog.Code[n-1].Op != bytecode.ReturnRule) {
		prog.Code = append(prog.Code, bytecode.I(bytecode.ReturnRule, 0, 0, 0))
	}
	prog.Name = spec.Name
	if prog.Name == "" {
		prog.Name = fmt.Sprintf("rule-%d", spec.ID)
	}

	for _, w := range spec.Writes {
		if w == "" || strings.HasPrefix(w, "?") {
			return nil, &RuntimeError{
				Code:    ErrCodeInvalidRule,
				RuleID:  spec.ID,
				Message: fmt.Sprintf("write-set entry %q is not a variable name", w),
			}
		}
	}

	return &Rule{
		ID:             spec.ID,
		Name:           spec.Name,
		Priority:       prio,
		Cond:           cond,
		Reads:          sortedSet(cond.Reads, spec.Reads),
		Writes:         sortedSet(spec.Writes),
		RecursionLimit: spec.RecursionLimit,
		DependsOn:      slices.Clone(spec.DependsOn),
		Program:        prog,
		Handle:         -1,
		Spec:           spec,
	}, nil
}

func sortedSet(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Registry holds registered rules by id.
//
// CRITICAL: All() returns rules in id order. Everything that enumerates
// rules goes through it, never through the map.
type Registry struct {
	byID  map[ir.RuleID]*Rule
	order []*Rule
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[ir.RuleID]*Rule)}
}

// NextID returns the id the next auto-numbered rule gets.
func (r *Registry) NextID() ir.RuleID {
	if len(r.order) == 0 {
		return 1
	}
	return r.order[len(r.order)-1].ID + 1
}

// Add registers a compiled rule.
func (r *Registry) Add(rule *Rule) error {
	if _, dup := r.byID[rule.ID]; dup {
		return &RuntimeError{
			Code:    ErrCodeDuplicateRule,
			RuleID:  rule.ID,
			Message: fmt.Sprintf("rule id %d is already registered", rule.ID),
		}
	}
	r.byID[rule.ID] = rule
	i, _ := slices.BinarySearchFunc(r.order, rule.ID, func(x *Rule, id ir.RuleID) int {
		switch {
		case x.ID < id:
			return -1
		case x.ID > id:
			return 1
		}
		return 0
	})
	r.order = slices.Insert(r.order, i, rule)
	return nil
}

// Get returns the rule with id.
func (r *Registry) Get(id ir.RuleID) (*Rule, bool) {
	rule, ok := r.byID[id]
	return rule, ok
}

// All returns the registered rules in id order.
func (r *Registry) All() []*Rule {
	return slices.Clone(r.order)
}

// Len returns the number of registered rules.
func (r *Registry) Len() int { return len(r.order) }

// Specs returns the source definitions in id order.
func (r *Registry) Specs() []ir.RuleSpec {
	out := make([]ir.RuleSpec, len(r.order))
	for i, rule := range r.order {
		out[i] = rule.Spec
	}
	return out
}
