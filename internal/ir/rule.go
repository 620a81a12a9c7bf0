package ir

// RuleID identifies a registered rule. Ids are unique and never reused.
type RuleID uint32

// RuleSpec is the source-level definition of a rule as produced by the
// CUE compiler or built by hand in tests. The engine compiles it into an
// executable rule: the condition is parsed, the actions are assembled to
// bytecode and the priority is resolved.
type RuleSpec struct {
	// ID is the stable rule id. Zero asks the registry to assign the next one.
	ID RuleID `json:"id"`

	// Name is a human label used in logs and traces.
	Name string `json:"name"`

	// Priority is a level name ("Lowest", "Normal", "High", "Critical")
	// or a decimal integer in 0..1000. Empty means "Normal".
	Priority string `json:"priority,omitempty"`

	// When is the condition source. Empty means always true.
	When string `json:"when,omitempty"`

	// Then is the action program in bytecode assembly.
	Then string `json:"then,omitempty"`

	// Reads extends the read-set inferred from When.
	Reads []string `json:"reads,omitempty"`

	// Writes is the declared write-set used for conflict detection.
	Writes []string `json:"writes,omitempty"`

	// RecursionLimit caps lifetime invocations. Zero uses the guard default.
	RecursionLimit int `json:"recursion_limit,omitempty"`

	// DependsOn lists rule ids this rule logically follows; only used by
	// dependency-aware scorers and static analysis.
	DependsOn []RuleID `json:"depends_on,omitempty"`
}

// Object converts the spec to a canonical-compatible value.
func (r RuleSpec) Object() Object {
	deps := make(Vec, len(r.DependsOn))
	for i, d := range r.DependsOn {
		deps[i] = Int(d)
	}
	return Object{
		"id":              Int(r.ID),
		"name":            Sym(r.Name),
		"priority":        Sym(r.Priority),
		"when":            Sym(r.When),
		"then":            Sym(r.Then),
		"reads":           symVec(r.Reads),
		"writes":          symVec(r.Writes),
		"recursion_limit": Int(r.RecursionLimit),
		"depends_on":      deps,
	}
}

func symVec(ss []string) Vec {
	out := make(Vec, len(ss))
	for i, s := range ss {
		out[i] = Sym(s)
	}
	return out
}
