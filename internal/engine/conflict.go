package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/kern/internal/ir"
)

// StrategyKind is the closed set of conflict strategies.
type StrategyKind uint8

const (
	// StrategyOverride keeps the highest-ranked write; the others are
	// discarded and listed once in the resolution entry.
	StrategyOverride StrategyKind = iota

	// StrategyIgnore keeps the highest-ranked write; each lower-ranked write
	// is dropped when it happens and logged with its value.
	StrategyIgnore

	// StrategyMerge folds every contending write with a merge function.
	StrategyMerge

	// StrategyError aborts the cycle before any action runs.
	StrategyError
)

var strategyNames = [...]string{"override", "ignore", "merge", "error"}

func (k StrategyKind) String() string {
	if int(k) < len(strategyNames) {
		return strategyNames[k]
	}
	return fmt.Sprintf("StrategyKind(%d)", uint8(k))
}

// MergeFunc folds one more contribution into the accumulator. The first
// contribution is the initial accumulator.
type MergeFunc func(acc, next ir.Value) (ir.Value, error)

// Strategy is a conflict strategy. Only Merge carries a function, named
// by MergeName.
type Strategy struct {
	Kind      StrategyKind
	MergeName string
	merge     MergeFunc
}

// Override returns the Override strategy.
func Override() Strategy { return Strategy{Kind: StrategyOverride} }

// Ignore returns the Ignore strategy.
func Ignore() Strategy { return Strategy{Kind: StrategyIgnore} }

// ErrorStrategy returns the Error strategy.
func ErrorStrategy() Strategy { return Strategy{Kind: StrategyError} }

// Merge returns a Merge strategy using the merge function registered as
// name (built-in or via WithMergeFunc).
func Merge(name string) Strategy { return Strategy{Kind: StrategyMerge, MergeName: name} }

// MergeWith returns a Merge strategy bound to fn directly.
func MergeWith(name string, fn MergeFunc) Strategy {
	return Strategy{Kind: StrategyMerge, MergeName: name, merge: fn}
}

func (s Strategy) String() string {
	if s.Kind == StrategyMerge {
		return "merge:" + s.MergeName
	}
	return s.Kind.String()
}

// ParseStrategy parses "override", "ignore", "error" or "merge:<name>".
// Merge names are checked when the strategy is installed.
func ParseStrategy(s string) (Strategy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "override":
		return Override(), nil
	case "ignore":
		return Ignore(), nil
	case "error":
		return ErrorStrategy(), nil
	}
	if name, ok := strings.CutPrefix(s, "merge:"); ok && name != "" {
		return Merge(name), nil
	}
	return Strategy{}, &RuntimeError{
		Code:    ErrCodeUnknownStrategy,
		Message: fmt.Sprintf("unknown conflict strategy %q", s),
	}
}

// Built-in merge functions.
var builtinMerges = map[string]MergeFunc{
	"sum":    mergeSum,
	"max":    mergeMax,
	"min":    mergeMin,
	"last":   mergeLast,
	"concat": mergeConcat,
}

func mergeSum(acc, next ir.Value) (ir.Value, error) {
	a, okA := ir.ToInt(acc)
	b, okB := ir.ToInt(next)
	if !okA || !okB {
		return nil, fmt.Errorf("sum needs numbers, got %s and %s", ir.Format(acc), ir.Format(next))
	}
	return ir.Int(a + b), nil
}

func mergeMax(acc, next ir.Value) (ir.Value, error) {
	c, err := ir.Compare(acc, next)
	if err != nil {
		return nil, err
	}
	if c >= 0 {
		return acc, nil
	}
	return next, nil
}

func mergeMin(acc, next ir.Value) (ir.Value, error) {
	c, err := ir.Compare(acc, next)
	if err != nil {
		return nil, err
	}
	if c <= 0 {
		return acc, nil
	}
	return next, nil
}

func mergeLast(_, next ir.Value) (ir.Value, error) { return next, nil }

// mergeConcat appends vectors (a non-vector contribution is appended as
// one element) or joins symbols.
func mergeConcat(acc, next ir.Value) (ir.Value, error) {
	switch a := acc.(type) {
	case ir.Vec:
		out := slices.Clone(a)
		if b, ok := next.(ir.Vec); ok {
			return append(out, b...), nil
		}
		return append(out, next), nil
	case ir.Sym:
		if b, ok := next.(ir.Sym); ok {
			return a + b, nil
		}
	}
	return nil, fmt.Errorf("concat needs vectors or symbols, got %s and %s", ir.Format(acc), ir.Format(next))
}

// Conflict is an attribute declared by two or more scheduled rules.
type Conflict struct {
	Attribute string
	// Rules are the contenders in rank order; Rules[0] is the winner.
	Rules []ir.RuleID
}

// Detect finds conflicts among scheduled rules. scheduled must already be
// in rank order; conflicts are returned in the order their highest-ranked
// contender appears, attributes of one rule in name order.
func Detect(scheduled []*Rule) []Conflict {
	var (
		order   []string
		writers = map[string][]ir.RuleID{}
	)
	for _, r := range scheduled {
		for _, attr := range r.Writes {
			ids, seen := writers[attr]
			if !seen {
				order = append(order, attr)
			}
			if !slices.Contains(ids, r.ID) {
				writers[attr] = append(ids, r.ID)
			}
		}
	}

	var out []Conflict
	for _, attr := range order {
		if ids := writers[attr]; len(ids) > 1 {
			out = append(out, Conflict{Attribute: attr, Rules: ids})
		}
	}
	return out
}

// HistoryKind classifies resolution history entries.
type HistoryKind string

const (
	// HistoryResolved records a conflict's strategy, winner and losers.
	HistoryResolved HistoryKind = "resolved"

	// HistoryDropped records a write discarded under Ignore.
	HistoryDropped HistoryKind = "dropped"

	// HistoryMerged records the folded value committed under Merge.
	HistoryMerged HistoryKind = "merged"

	// HistoryAborted records an Error-strategy conflict.
	HistoryAborted HistoryKind = "aborted"
)

// HistoryEntry is one append-only resolution record.
type HistoryEntry struct {
	Seq       int64       `json:"seq"`
	Cycle     int64       `json:"cycle"`
	Kind      HistoryKind `json:"kind"`
	Attribute string      `json:"attribute"`
	Strategy  string      `json:"strategy"`
	Winner    ir.RuleID   `json:"winner,omitempty"`
	Losers    []ir.RuleID `json:"losers,omitempty"`
	RuleID    ir.RuleID   `json:"rule_id,omitempty"`
	Value     ir.Value    `json:"value,omitempty"`
}

// Object converts the entry to a canonical-compatible value.
func (h HistoryEntry) Object() ir.Object {
	losers := make(ir.Vec, len(h.Losers))
	for i, id := range h.Losers {
		losers[i] = ir.Int(id)
	}
	var val ir.Value = ir.Null{}
	if h.Value != nil {
		val = h.Value
	}
	return ir.Object{
		"seq":       ir.Int(h.Seq),
		"cycle":     ir.Int(h.Cycle),
		"kind":      ir.Sym(h.Kind),
		"attribute": ir.Sym(h.Attribute),
		"strategy":  ir.Sym(h.Strategy),
		"winner":    ir.Int(h.Winner),
		"losers":    losers,
		"rule_id":   ir.Int(h.RuleID),
		"value":     val,
	}
}

// Resolution is the outcome of resolving one conflict.
type Resolution struct {
	Conflict
	Strategy Strategy
}

// Winner returns the highest-ranked contender.
func (r Resolution) Winner() ir.RuleID { return r.Rules[0] }

// Losers returns the other contenders in rank order.
func (r Resolution) Losers() []ir.RuleID { return slices.Clone(r.Rules[1:]) }

// Resolver holds the strategy table, merge functions and the resolution
// history.
//
// INVARIANTS:
//   - history is append-only; Seq increases by one per entry
//   - strategies are looked up per attribute, falling back to the default
type Resolver struct {
	fallback Strategy
	perAttr  map[string]Strategy
	merges   map[string]MergeFunc
	history  []HistoryEntry
}

// NewResolver creates a resolver with Override as the default strategy
// and the built-in merge functions.
func NewResolver() *Resolver {
	r := &Resolver{
		fallback: Override(),
		perAttr:  make(map[string]Strategy),
		merges:   make(map[string]MergeFunc, len(builtinMerges)),
	}
	for name, fn := range builtinMerges {
		r.merges[name] = fn
	}
	return r
}

// RegisterMerge adds or replaces a named merge function.
func (r *Resolver) RegisterMerge(name string, fn MergeFunc) {
	r.merges[name] = fn
}

func (r *Resolver) bind(s Strategy) (Strategy, error) {
	if s.Kind > StrategyError {
		return Strategy{}, &RuntimeError{Code: ErrCodeUnknownStrategy, Message: fmt.Sprintf("unknown strategy kind %d", s.Kind)}
	}
	if s.Kind != StrategyMerge || s.merge != nil {
		return s, nil
	}
	fn, ok := r.merges[s.MergeName]
	if !ok {
		return Strategy{}, &RuntimeError{Code: ErrCodeUnknownStrategy, Message: fmt.Sprintf("unknown merge function %q", s.MergeName)}
	}
	s.merge = fn
	return s, nil
}

// SetStrategy selects the strategy for one attribute.
func (r *Resolver) SetStrategy(attr string, s Strategy) error {
	s, err := r.bind(s)
	if err != nil {
		return err
	}
	r.perAttr[attr] = s
	return nil
}

// SetDefault selects the strategy for attributes without their own.
func (r *Resolver) SetDefault(s Strategy) error {
	s, err := r.bind(s)
	if err != nil {
		return err
	}
	r.fallback = s
	return nil
}

// StrategyFor returns the strategy governing attr.
func (r *Resolver) StrategyFor(attr string) Strategy {
	if s, ok := r.perAttr[attr]; ok {
		return s
	}
	return r.fallback
}

// Resolve applies the attribute's strategy to c. Error-strategy conflicts
// are recorded and returned as a CONFLICT RuntimeError.
func (r *Resolver) Resolve(cycle int64, c Conflict) (Resolution, error) {
	res := Resolution{Conflict: c, Strategy: r.StrategyFor(c.Attribute)}
	entry := HistoryEntry{
		Cycle:     cycle,
		Kind:      HistoryResolved,
		Attribute: c.Attribute,
		Strategy:  res.Strategy.String(),
		Winner:    res.Winner(),
		Losers:    res.Losers(),
	}
	if res.Strategy.Kind == StrategyError {
		entry.Kind = HistoryAborted
		entry.Winner = 0
		entry.Losers = slices.Clone(c.Rules)
		r.Record(entry)
		return res, NewConflictError(cycle, c.Attribute, slices.Clone(c.Rules))
	}
	r.Record(entry)
	return res, nil
}

// Fold combines merge contributions in order.
func (r *Resolver) Fold(s Strategy, attr string, values []ir.Value) (ir.Value, error) {
	if len(values) == 0 {
		return nil, nil
	}
	acc := values[0]
	for _, v := range values[1:] {
		next, err := s.merge(acc, v)
		if err != nil {
			return nil, &RuntimeError{
				Code:      ErrCodeMergeFailed,
				Attribute: attr,
				Message:   fmt.Sprintf("%s: %v", s, err),
			}
		}
		acc = next
	}
	return acc, nil
}

// Record appends a history entry, assigning its sequence number.
func (r *Resolver) Record(e HistoryEntry) HistoryEntry {
	e.Seq = int64(len(r.history)) + 1
	r.history = append(r.history, e)
	return e
}

// History returns a copy of the history.
func (r *Resolver) History() []HistoryEntry {
	return slices.Clone(r.history)
}

// HistorySince returns the entries with Seq > seq.
func (r *Resolver) HistorySince(seq int64) []HistoryEntry {
	if seq < 0 {
		seq = 0
	}
	if int(seq) >= len(r.history) {
		return nil
	}
	return slices.Clone(r.history[seq:])
}

// ResetHistory discards the history. Used when a run starts over.
func (r *Resolver) ResetHistory() {
	r.history = nil
}
