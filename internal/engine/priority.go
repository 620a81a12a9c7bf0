package engine

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/kern/internal/ir"
)

// Named priority levels. Explicit priorities are integers in
// [MinPriority, MaxPriority].
const (
	PriorityLowest   = 0
	PriorityNormal   = 50
	PriorityHigh     = 150
	PriorityCritical = 250

	MinPriority = 0
	MaxPriority = 1000
)

var priorityLevels = map[string]int{
	"lowest":   PriorityLowest,
	"normal":   PriorityNormal,
	"high":     PriorityHigh,
	"critical": PriorityCritical,
}

// ParsePriority resolves a level name (case-insensitive) or a decimal
// integer. Empty means Normal.
func ParsePriority(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PriorityNormal, nil
	}
	if p, ok := priorityLevels[strings.ToLower(s)]; ok {
		return p, nil
	}
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, &RuntimeError{
			Code:    ErrCodeInvalidPriority,
			Message: fmt.Sprintf("priority %q is not a level name or integer", s),
		}
	}
	if p < MinPriority || p > MaxPriority {
		return 0, &RuntimeError{
			Code:    ErrCodeInvalidPriority,
			Message: fmt.Sprintf("priority %d outside [%d, %d]", p, MinPriority, MaxPriority),
		}
	}
	return p, nil
}

// Scorer computes the effective priority of a rule. Higher scores run
// first; equal scores fall back to rule id ascending.
type Scorer interface {
	Score(r *Rule) int64
}

// preparer is implemented by scorers that precompute over the whole rule
// set. Prepare is called after every registration.
type preparer interface {
	Prepare(rules []*Rule)
}

// LevelScorer scores a rule by its base priority alone.
type LevelScorer struct{}

func (LevelScorer) Score(r *Rule) int64 { return int64(r.Priority) }

// DependencyScorer keeps base priority dominant and nudges, within one
// base level, cheaper conditions and shallower dependency chains earlier.
//
// INVARIANTS:
//   - score = base*1000 + nudge, nudge in [0, 999]
//   - a higher base priority always outranks a lower one
type DependencyScorer struct {
	depth map[ir.RuleID]int
}

// NewDependencyScorer creates a DependencyScorer.
func NewDependencyScorer() *DependencyScorer {
	return &DependencyScorer{depth: map[ir.RuleID]int{}}
}

// Prepare computes dependency depths. Unknown dependencies count as
// depth zero; cycles are cut where they close.
func (s *DependencyScorer) Prepare(rules []*Rule) {
	byID := make(map[ir.RuleID]*Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}
	s.depth = make(map[ir.RuleID]int, len(rules))
	visiting := map[ir.RuleID]bool{}

	var visit func(id ir.RuleID) int
	visit = func(id ir.RuleID) int {
		if d, ok := s.depth[id]; ok {
			return d
		}
		r, ok := byID[id]
		if !ok || visiting[id] {
			return 0
		}
		visiting[id] = true
		d := 0
		for _, dep := range r.DependsOn {
			if _, known := byID[dep]; known {
				d = max(d, visit(dep)+1)
			}
		}
		visiting[id] = false
		s.depth[id] = d
		return d
	}
	for _, r := range rules {
		visit(r.ID)
	}
}

func (s *DependencyScorer) Score(r *Rule) int64 {
	cost := 0
	if r.Cond != nil {
		cost = r.Cond.Cost
	}
	// 30 points per dependency level, 1 per condition node.
	penalty := min(s.depth[r.ID]*30+cost, 999)
	return int64(r.Priority)*1000 + int64(999-penalty)
}

// Sort orders rules by score descending then id ascending. It returns a
// new slice; the comparator is total, so the order never depends on the
// input order.
func Sort(rules []*Rule, scorer Scorer) []*Rule {
	if scorer == nil {
		scorer = LevelScorer{}
	}
	scores := make(map[ir.RuleID]int64, len(rules))
	for _, r := range rules {
		scores[r.ID] = scorer.Score(r)
	}
	out := slices.Clone(rules)
	slices.SortStableFunc(out, func(a, b *Rule) int {
		if sa, sb := scores[a.ID], scores[b.ID]; sa != sb {
			if sa > sb {
				return -1
			}
			return 1
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
