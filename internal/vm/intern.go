package vm

// Interner maps symbol text to stable register values. Ids start at 1 so
// a zeroed register never aliases a symbol.
type Interner struct {
	ids   map[string]int64
	names []string
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{ids: make(map[string]int64), names: []string{""}}
}

// Intern returns the id of s, assigning one on first use.
func (in *Interner) Intern(s string) int64 {
	if id, ok := in.ids[s]; ok {
		return id
	}
	id := int64(len(in.names))
	in.ids[s] = id
	in.names = append(in.names, s)
	return id
}

// Name returns the text for id.
func (in *Interner) Name(id int64) (string, bool) {
	if id <= 0 || id >= int64(len(in.names)) {
		return "", false
	}
	return in.names[id], true
}
