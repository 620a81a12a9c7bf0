package engine

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/kern/internal/graph"
	"github.com/roach88/kern/internal/ir"
)

// Expr is a parsed condition node.
//
// Sealed interface: only types in this package implement it.
type Expr interface {
	exprNode()
}

// Pattern binds Var to each node of Kind (optionally with Label), in
// graph creation order. If Var is already bound, the pattern only checks
// the bound node.
type Pattern struct {
	Var      string // includes the leading '?'
	Kind     graph.NodeKind
	Label    string
	HasLabel bool
}

func (Pattern) exprNode() {}

// And narrows the bindings of Left by Right.
type And struct {
	Left  Expr
	Right Expr
}

func (And) exprNode() {}

// Or keeps, per input binding, the results of Left followed by those of
// Right that Left did not already produce.
type Or struct {
	Left  Expr
	Right Expr
}

func (Or) exprNode() {}

// Not keeps a binding when X yields nothing for it. Bindings made inside
// X are discarded.
type Not struct {
	X Expr
}

func (Not) exprNode() {}

// Comparison compares two operands.
type Comparison struct {
	Op    CmpOp
	Left  Operand
	Right Operand
}

func (Comparison) exprNode() {}

// Truth tests a single operand with ir.Truthy.
type Truth struct {
	X Operand
}

func (Truth) exprNode() {}

// CmpOp is a comparison operator.
type CmpOp string

const (
	OpEq CmpOp = "=="
	OpNe CmpOp = "!="
	OpGt CmpOp = ">"
	OpLt CmpOp = "<"
	OpGe CmpOp = ">="
	OpLe CmpOp = "<="
)

// Operand is a value source in a condition.
//
// Sealed interface: only types in this package implement it.
type Operand interface {
	operandNode()
}

// Literal is a constant.
type Literal struct {
	Value ir.Value
}

func (Literal) operandNode() {}

// VarRef reads a variable of the active context.
type VarRef struct {
	Name string
}

func (VarRef) operandNode() {}

// BindingRef reads a pattern binding.
type BindingRef struct {
	Var string // includes the leading '?'
}

func (BindingRef) operandNode() {}

// AttrRef reads an attribute of the node bound to Var. The pseudo
// attributes label, kind and id are always present.
type AttrRef struct {
	Var  string
	Attr string
}

func (AttrRef) operandNode() {}

// Condition is a compiled rule condition.
type Condition struct {
	Source string

	// Root is nil for an empty condition, which always matches once.
	Root Expr

	// Reads lists the variables the condition reads, sorted.
	Reads []string

	// UsesGraph reports whether evaluation depends on the graph.
	UsesGraph bool

	// Cost is the number of expression and operand nodes.
	Cost int
}

// ParseCondition compiles condition source.
//
// Grammar:
//
//	expr    := and { ("or" | "||") and }
//	and     := unary { ("and" | "&&") unary }
//	unary   := ("not" | "!") unary | primary
//	primary := "(" expr ")" | ?var:Kind [ "(" string ")" ] | operand [ cmp operand ]
//	operand := int | 'str' | "str" | true | false | :sym | ident | ?var | ?var.attr
func ParseCondition(src string) (*Condition, error) {
	c := &Condition{Source: src}
	if strings.TrimSpace(src) == "" {
		return c, nil
	}

	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %q", t.text)
	}

	c.Root = root
	reads := map[string]bool{}
	c.Cost = analyze(root, reads, &c.UsesGraph)
	for name := range reads {
		c.Reads = append(c.Reads, name)
	}
	slices.Sort(c.Reads)
	return c, nil
}

func analyze(e Expr, reads map[string]bool, usesGraph *bool) int {
	operand := func(o Operand) int {
		switch x := o.(type) {
		case VarRef:
			reads[x.Name] = true
		case AttrRef:
			*usesGraph = true
		}
		return 1
	}
	switch x := e.(type) {
	case Pattern:
		*usesGraph = true
		return 1
	case And:
		return 1 + analyze(x.Left, reads, usesGraph) + analyze(x.Right, reads, usesGraph)
	case Or:
		return 1 + analyze(x.Left, reads, usesGraph) + analyze(x.Right, reads, usesGraph)
	case Not:
		return 1 + analyze(x.X, reads, usesGraph)
	case Comparison:
		return 1 + operand(x.Left) + operand(x.Right)
	case Truth:
		return 1 + operand(x.X)
	}
	return 0
}

// Env is the read-only state a condition is evaluated against.
type Env struct {
	Graph *graph.Graph
	Vars  ir.Object
}

// Eval returns the binding sets satisfying the condition, in
// deterministic order. An empty result means no match.
func (c *Condition) Eval(env Env) ([]ir.Object, error) {
	seed := []ir.Object{{}}
	if c.Root == nil {
		return seed, nil
	}
	return narrow(c.Root, env, seed)
}

// narrow filters and extends a candidate binding set. Enumeration follows
// graph creation order and input order, never map order.
func narrow(e Expr, env Env, in []ir.Object) ([]ir.Object, error) {
	switch x := e.(type) {
	case Pattern:
		return narrowPattern(x, env, in), nil

	case And:
		mid, err := narrow(x.Left, env, in)
		if err != nil || len(mid) == 0 {
			return nil, err
		}
		return narrow(x.Right, env, mid)

	case Or:
		var out []ir.Object
		for _, b := range in {
			left, err := narrow(x.Left, env, []ir.Object{b})
			if err != nil {
				return nil, err
			}
			right, err := narrow(x.Right, env, []ir.Object{b})
			if err != nil {
				return nil, err
			}
			out = append(out, left...)
			for _, r := range right {
				if !slices.ContainsFunc(left, func(l ir.Object) bool { return ir.Equal(l, r) }) {
					out = append(out, r)
				}
			}
		}
		return out, nil

	case Not:
		var out []ir.Object
		for _, b := range in {
			inner, err := narrow(x.X, env, []ir.Object{b})
			if err != nil {
				return nil, err
			}
			if len(inner) == 0 {
				out = append(out, b)
			}
		}
		return out, nil

	case Comparison:
		var out []ir.Object
		for _, b := range in {
			l, ok, err := resolve(x.Left, env, b)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			r, ok, err := resolve(x.Right, env, b)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			keep, err := compareOp(x.Op, l, r)
			if err != nil {
				return nil, err
			}
			if keep {
				out = append(out, b)
			}
		}
		return out, nil

	case Truth:
		var out []ir.Object
		for _, b := range in {
			v, ok, err := resolve(x.X, env, b)
			if err != nil {
				return nil, err
			}
			if ok && ir.Truthy(v) {
				out = append(out, b)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown expression node %T", e)
}

func narrowPattern(p Pattern, env Env, in []ir.Object) []ir.Object {
	if env.Graph == nil {
		return nil
	}
	fits := func(n *graph.Node) bool {
		return n.Kind == p.Kind && (!p.HasLabel || n.Label == p.Label)
	}
	candidates := env.Graph.NodesOfKind(p.Kind)

	var out []ir.Object
	for _, b := range in {
		if bound, ok := b[p.Var]; ok {
			ref, isRef := bound.(ir.Ref)
			if !isRef {
				continue
			}
			if n, ok := env.Graph.Node(graph.NodeID(ref)); ok && fits(n) {
				out = append(out, b)
			}
			continue
		}
		for _, n := range candidates {
			if !fits(n) {
				continue
			}
			nb := b.Clone()
			nb[p.Var] = n.ID.Ref()
			out = append(out, nb)
		}
	}
	return out
}

// resolve reads an operand. ok=false drops the binding (a node without the
// attribute); undefined variables and bindings are errors.
func resolve(o Operand, env Env, b ir.Object) (ir.Value, bool, error) {
	switch x := o.(type) {
	case Literal:
		return x.Value, true, nil

	case VarRef:
		v, ok := env.Vars[x.Name]
		if !ok {
			return nil, false, &RuntimeError{Code: ErrCodeUndefinedSymbol, Message: fmt.Sprintf("variable %q is not defined", x.Name)}
		}
		return v, true, nil

	case BindingRef:
		v, ok := b[x.Var]
		if !ok {
			return nil, false, &RuntimeError{Code: ErrCodeUndefinedSymbol, Message: fmt.Sprintf("binding %s is not bound", x.Var)}
		}
		return v, true, nil

	case AttrRef:
		v, ok := b[x.Var]
		if !ok {
			return nil, false, &RuntimeError{Code: ErrCodeUndefinedSymbol, Message: fmt.Sprintf("binding %s is not bound", x.Var)}
		}
		ref, isRef := v.(ir.Ref)
		if !isRef || env.Graph == nil {
			return nil, false, nil
		}
		n, ok := env.Graph.Node(graph.NodeID(ref))
		if !ok {
			return nil, false, nil
		}
		if attr, ok := n.Attr(x.Attr); ok {
			return attr, true, nil
		}
		switch x.Attr {
		case "label":
			return ir.Sym(n.Label), true, nil
		case "kind":
			return ir.Sym(n.Kind.String()), true, nil
		case "id":
			return n.ID.Ref(), true, nil
		}
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("unknown operand %T", o)
}

func compareOp(op CmpOp, l, r ir.Value) (bool, error) {
	switch op {
	case OpEq:
		return ir.Equal(l, r), nil
	case OpNe:
		return !ir.Equal(l, r), nil
	}
	c, err := ir.Compare(l, r)
	if err != nil {
		return false, err
	}
	switch op {
	case OpGt:
		return c > 0, nil
	case OpLt:
		return c < 0, nil
	case OpGe:
		return c >= 0, nil
	default:
		return c <= 0, nil
	}
}

// Lexer

type tokKind uint8

const (
	tokEOF tokKind = iota
	tokInt
	tokStr
	tokSym
	tokIdent
	tokBind
	tokAttr
	tokOp
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
	tokTrue
	tokFalse
)

type token struct {
	kind tokKind
	text string
	attr string // tokAttr only
	num  int64  // tokInt only
	pos  int
}

var keywords = map[string]tokKind{
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
	"true":  tokTrue,
	"false": tokFalse,
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func lex(src string) ([]token, error) {
	var toks []token
	fail := func(pos int, format string, args ...any) ([]token, error) {
		return nil, &ParseError{Pos: pos, Source: src, Message: fmt.Sprintf(format, args...)}
	}
	ident := func(i int) int {
		for i < len(src) && isIdentChar(src[i]) {
			i++
		}
		return i
	}

	for i := 0; i < len(src); {
		c := src[i]
		start := i
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: start})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: start})
			i++

		case strings.HasPrefix(src[i:], "&&"):
			toks = append(toks, token{kind: tokAnd, text: "&&", pos: start})
			i += 2
		case strings.HasPrefix(src[i:], "||"):
			toks = append(toks, token{kind: tokOr, text: "||", pos: start})
			i += 2

		case strings.HasPrefix(src[i:], "=="), strings.HasPrefix(src[i:], "!="),
			strings.HasPrefix(src[i:], ">="), strings.HasPrefix(src[i:], "<="):
			toks = append(toks, token{kind: tokOp, text: src[i : i+2], pos: start})
			i += 2
		case c == '>' || c == '<':
			toks = append(toks, token{kind: tokOp, text: src[i : i+1], pos: start})
			i++
		case c == '!':
			toks = append(toks, token{kind: tokNot, text: "!", pos: start})
			i++
		case c == '=':
			return fail(start, "use == for equality")

		case c == '\'' || c == '"':
			end := strings.IndexByte(src[i+1:], c)
			if end < 0 {
				return fail(start, "unterminated string")
			}
			toks = append(toks, token{kind: tokStr, text: src[i+1 : i+1+end], pos: start})
			i += end + 2

		case c == ':':
			if i+1 >= len(src) || !isIdentStart(src[i+1]) {
				return fail(start, "expected symbol name after ':'")
			}
			j := ident(i + 1)
			toks = append(toks, token{kind: tokSym, text: src[i+1 : j], pos: start})
			i = j

		case c == '?':
			if i+1 >= len(src) || !isIdentStart(src[i+1]) {
				return fail(start, "expected binding name after '?'")
			}
			j := ident(i + 1)
			name := src[i:j]
			if j+1 < len(src) && src[j] == '.' && isIdentStart(src[j+1]) {
				k := ident(j + 1)
				toks = append(toks, token{kind: tokAttr, text: name, attr: src[j+1 : k], pos: start})
				i = k
				continue
			}
			toks = append(toks, token{kind: tokBind, text: name, pos: start})
			i = j

		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1])):
			j := i + 1
			for j < len(src) && isDigit(src[j]) {
				j++
			}
			n, err := strconv.ParseInt(src[i:j], 10, 64)
			if err != nil {
				return fail(start, "integer %s out of range", src[i:j])
			}
			toks = append(toks, token{kind: tokInt, text: src[i:j], num: n, pos: start})
			i = j

		case isIdentStart(c):
			j := ident(i)
			word := src[i:j]
			kind, ok := keywords[word]
			if !ok {
				kind = tokIdent
			}
			toks = append(toks, token{kind: kind, text: word, pos: start})
			i = j

		default:
			return fail(start, "unexpected character %q", c)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

// Parser

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &ParseError{Pos: t.pos, Source: p.src, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		if t.kind == tokEOF {
			return t, p.errorf(t, "expected %s, got end of input", what)
		}
		return t, p.errorf(t, "expected %s, got %q", what, t.text)
	}
	return t, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.peek().kind == tokNot {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch {
	case t.kind == tokLParen:
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil

	case t.kind == tokBind && p.peekAt(1).kind == tokSym:
		return p.parsePattern()
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokOp {
		return Truth{X: left}, nil
	}
	op := CmpOp(p.next().text)
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return Comparison{Op: op, Left: left, Right: right}, nil
}

func (p *parser) parsePattern() (Expr, error) {
	bind := p.next()
	kindTok := p.next()
	kind, err := graph.ParseNodeKind(kindTok.text)
	if err != nil {
		return nil, p.errorf(kindTok, "%v", err)
	}
	pat := Pattern{Var: bind.text, Kind: kind}
	if p.peek().kind == tokLParen {
		p.next()
		label, err := p.expect(tokStr, "node label string")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		pat.Label, pat.HasLabel = label.text, true
	}
	return pat, nil
}

func (p *parser) parseOperand() (Operand, error) {
	t := p.next()
	switch t.kind {
	case tokInt:
		return Literal{Value: ir.Int(t.num)}, nil
	case tokStr, tokSym:
		return Literal{Value: ir.Sym(t.text)}, nil
	case tokTrue:
		return Literal{Value: ir.Bool(true)}, nil
	case tokFalse:
		return Literal{Value: ir.Bool(false)}, nil
	case tokIdent:
		return VarRef{Name: t.text}, nil
	case tokBind:
		return BindingRef{Var: t.text}, nil
	case tokAttr:
		return AttrRef{Var: t.text, Attr: t.attr}, nil
	case tokEOF:
		return nil, p.errorf(t, "expected operand, got end of input")
	}
	return nil, p.errorf(t, "expected operand, got %q", t.text)
}
