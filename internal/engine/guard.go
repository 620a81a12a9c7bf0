package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/kern/internal/ir"
)

// Guard ceilings applied when a limit is zero.
const (
	DefaultRecursionLimit = 10
	DefaultMaxPerCycle    = 1000
	DefaultMaxCallDepth   = 100
	DefaultMaxCycles      = 10000
)

// GuardLimits are the recursion guard ceilings. Zero fields take the
// defaults; a negative field disables that ceiling.
type GuardLimits struct {
	// RecursionLimit caps lifetime invocations of a rule that does not set
	// its own limit.
	RecursionLimit int `yaml:"recursion_limit" json:"recursion_limit"`

	// MaxPerCycle caps invocations of one rule within a cycle.
	MaxPerCycle int `yaml:"max_per_cycle" json:"max_per_cycle"`

	// MaxCallDepth caps the firing stack, including CALL_RULE nesting.
	MaxCallDepth int `yaml:"max_call_depth" json:"max_call_depth"`

	// MaxCycles caps the cycles of one run.
	MaxCycles int64 `yaml:"max_cycles" json:"max_cycles"`
}

// DefaultGuardLimits returns the standard ceilings.
func DefaultGuardLimits() GuardLimits {
	return GuardLimits{
		RecursionLimit: DefaultRecursionLimit,
		MaxPerCycle:    DefaultMaxPerCycle,
		MaxCallDepth:   DefaultMaxCallDepth,
		MaxCycles:      DefaultMaxCycles,
	}
}

func (l GuardLimits) withDefaults() GuardLimits {
	d := DefaultGuardLimits()
	if l.RecursionLimit == 0 {
		l.RecursionLimit = d.RecursionLimit
	}
	if l.MaxPerCycle == 0 {
		l.MaxPerCycle = d.MaxPerCycle
	}
	if l.MaxCallDepth == 0 {
		l.MaxCallDepth = d.MaxCallDepth
	}
	if l.MaxCycles == 0 {
		l.MaxCycles = d.MaxCycles
	}
	return l
}

// Guard bounds rule invocations. It tracks lifetime and per-cycle
// invocation counts per rule and the stack of firings in progress.
//
// The guard bounds depth and counts; it does not look for cycles in the
// rule graph. A self-re-satisfying rule is stopped by its limit.
//
// INVARIANTS:
//   - Check never mutates
//   - every successful Enter is paired with exactly one Leave
//   - a ceiling is exceeded when the NEXT invocation would pass it, so a
//     rule with limit 3 fires exactly 3 times
type Guard struct {
	limits   GuardLimits
	lifetime map[ir.RuleID]int
	cycle    map[ir.RuleID]int
	stack    []ir.RuleID
	cycles   int64
}

// NewGuard creates a guard with limits (zero fields take defaults).
func NewGuard(limits GuardLimits) *Guard {
	return &Guard{
		limits:   limits.withDefaults(),
		lifetime: make(map[ir.RuleID]int),
		cycle:    make(map[ir.RuleID]int),
	}
}

// Limits returns the effective limits.
func (g *Guard) Limits() GuardLimits { return g.limits }

func (g *Guard) ruleLimit(r *Rule) int {
	if r.RecursionLimit != 0 {
		return r.RecursionLimit
	}
	return g.limits.RecursionLimit
}

// Check reports whether one more invocation of r is admissible.
func (g *Guard) Check(r *Rule) error {
	if limit := g.ruleLimit(r); limit > 0 && g.lifetime[r.ID]+1 > limit {
		return &RuntimeError{
			Code:    ErrCodeRecursionLimit,
			RuleID:  r.ID,
			Message: fmt.Sprintf("rule %s would exceed its invocation limit of %d", r, limit),
		}
	}
	if limit := g.limits.MaxPerCycle; limit > 0 && g.cycle[r.ID]+1 > limit {
		return &RuntimeError{
			Code:    ErrCodeCycleInvocations,
			RuleID:  r.ID,
			Message: fmt.Sprintf("rule %s would exceed %d invocations in one cycle", r, limit),
		}
	}
	return nil
}

// Enter admits one invocation of r and pushes it on the firing stack.
func (g *Guard) Enter(r *Rule) error {
	if err := g.Check(r); err != nil {
		return err
	}
	if limit := g.limits.MaxCallDepth; limit > 0 && len(g.stack)+1 > limit {
		return &RuntimeError{
			Code:    ErrCodeCallDepth,
			RuleID:  r.ID,
			Message: fmt.Sprintf("call depth would exceed %d (stack %v)", limit, g.stack),
		}
	}
	g.lifetime[r.ID]++
	g.cycle[r.ID]++
	g.stack = append(g.stack, r.ID)
	return nil
}

// Leave pops r from the firing stack.
func (g *Guard) Leave(r *Rule) {
	if n := len(g.stack); n > 0 && g.stack[n-1] == r.ID {
		g.stack = g.stack[:n-1]
	}
}

// BeginCycle opens a new cycle: it enforces the cycle ceiling and clears
// per-cycle counts.
func (g *Guard) BeginCycle() error {
	if limit := g.limits.MaxCycles; limit > 0 && g.cycles+1 > limit {
		return &RuntimeError{
			Code:    ErrCodeMaxCycles,
			Message: fmt.Sprintf("no fixpoint within %d cycles", limit),
		}
	}
	g.cycles++
	clear(g.cycle)
	return nil
}

// Counts returns the lifetime invocation count of a rule.
func (g *Guard) Counts(id ir.RuleID) int { return g.lifetime[id] }

// Depth returns the number of firings in progress.
func (g *Guard) Depth() int { return len(g.stack) }

// Stack returns a copy of the firing stack, outermost first.
func (g *Guard) Stack() []ir.RuleID { return slices.Clone(g.stack) }

// Reset clears all counters, the stack and the cycle count.
func (g *Guard) Reset() {
	clear(g.lifetime)
	clear(g.cycle)
	g.stack = g.stack[:0]
	g.cycles = 0
}
