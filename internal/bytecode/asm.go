package bytecode

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/roach88/kern/internal/graph"
)

// Assemble translates line-oriented assembly into a Program.
//
// Syntax:
//
//	label:                      ; labels name the next instruction
//	LOAD_NUM R0, 42             ; inline int32 immediate
//	LOAD_NUM R1, =5000000000    ; forced constant-pool load
//	COMPARE R0, R1, R2, >=      ; comparator as fourth operand
//	SET_SYMBOL y, R0            ; symbol operands are bare names or "quoted"
//	SET_SYMBOL mode, R3, sym    ; store as symbol rather than int
//	CREATE_NODE R4, Op, "sum"
//	JMP_IF R2, label
//
// Comments start with ';' or '#'. Mnemonics are case-insensitive.
func Assemble(src string) (*Program, error) {
	a := &assembler{
		labels:  make(map[string]int),
		symbols: make(map[string]uint16),
	}
	lines, err := a.scan(src)
	if err != nil {
		return nil, err
	}
	prog := &Program{}
	for _, l := range lines {
		in, err := a.encode(l)
		if err != nil {
			return nil, err
		}
		prog.Code = append(prog.Code, in)
	}
	prog.Consts = a.consts
	prog.Symbols = a.symbolList
	return prog, nil
}

// MustAssemble is like Assemble but panics on error.
// Use only in tests or for programs known to be valid.
func MustAssemble(src string) *Program {
	p, err := Assemble(src)
	if err != nil {
		panic(err)
	}
	return p
}

type asmLine struct {
	num      int
	text     string
	mnemonic string
	args     []string
}

type assembler struct {
	labels     map[string]int
	symbols    map[string]uint16
	symbolList []string
	consts     []int64
}

// scan strips comments, records labels and splits instructions.
func (a *assembler) scan(src string) ([]asmLine, error) {
	var out []asmLine
	sc := bufio.NewScanner(strings.NewReader(src))
	num := 0
	for sc.Scan() {
		num++
		raw := sc.Text()
		text := strings.TrimSpace(stripComment(raw))
		for {
			i := strings.IndexByte(text, ':')
			if i <= 0 || !isIdent(text[:i]) {
				break
			}
			label := text[:i]
			if _, dup := a.labels[label]; dup {
				return nil, &AsmError{Line: num, Text: raw, Message: fmt.Sprintf("duplicate label %q", label)}
			}
			a.labels[label] = len(out)
			text = strings.TrimSpace(text[i+1:])
		}
		if text == "" {
			continue
		}

		mnemonic, rest, _ := strings.Cut(text, " ")
		args, err := splitArgs(rest)
		if err != nil {
			return nil, &AsmError{Line: num, Text: raw, Message: err.Error()}
		}
		out = append(out, asmLine{num: num, text: raw, mnemonic: strings.ToUpper(mnemonic), args: args})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *assembler) encode(l asmLine) (Instruction, error) {
	fail := func(format string, args ...any) (Instruction, error) {
		return Instruction{}, &AsmError{Line: l.num, Text: l.text, Message: fmt.Sprintf(format, args...)}
	}

	op, ok := Lookup(l.mnemonic)
	if !ok {
		return fail("unknown mnemonic %q", l.mnemonic)
	}
	spec := op.Spec()
	in := Instruction{Op: op}

	if op == LoadNum {
		if len(l.args) != 2 {
			return fail("LOAD_NUM takes 2 operands, got %d", len(l.args))
		}
		reg, err := parseReg(l.args[0])
		if err != nil {
			return fail("%v", err)
		}
		in.A = reg
		if err := a.encodeNumber(&in, l.args[1]); err != nil {
			return fail("%v", err)
		}
		return in, nil
	}

	kinds := make([]Operand, 0, 3)
	for _, k := range [3]Operand{spec.A, spec.B, spec.C} {
		if k != OpNone {
			kinds = append(kinds, k)
		}
	}
	args := l.args
	switch op {
	case Compare:
		if len(args) != 4 {
			return fail("COMPARE takes 4 operands, got %d", len(args))
		}
		cmp, err := parseCmp(args[3])
		if err != nil {
			return fail("%v", err)
		}
		in.Flags = cmp
		args = args[:3]
	case SetSymbol:
		if len(args) == 3 {
			if !strings.EqualFold(args[2], "sym") {
				return fail("SET_SYMBOL third operand must be 'sym', got %q", args[2])
			}
			in.Flags = FlagSym
			args = args[:2]
		}
	}
	if len(args) != len(kinds) {
		return fail("%s takes %d operands, got %d", spec.Name, len(kinds), len(args))
	}

	vals := make([]uint16, len(kinds))
	for i, k := range kinds {
		v, err := a.operand(k, args[i])
		if err != nil {
			return fail("operand %d: %v", i+1, err)
		}
		vals[i] = v
	}

	// Place parsed values back into their A/B/C slots.
	slot := 0
	for i, k := range [3]Operand{spec.A, spec.B, spec.C} {
		if k == OpNone {
			continue
		}
		switch i {
		case 0:
			in.A = vals[slot]
		case 1:
			in.B = vals[slot]
		case 2:
			in.C = vals[slot]
		}
		slot++
	}
	return in, nil
}

func (a *assembler) encodeNumber(in *Instruction, arg string) error {
	forced := strings.HasPrefix(arg, "=")
	n, err := strconv.ParseInt(strings.TrimPrefix(arg, "="), 0, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", arg)
	}
	if !forced && n >= math.MinInt32 && n <= math.MaxInt32 {
		u := uint32(int32(n))
		in.B = uint16(u)
		in.C = uint16(u >> 16)
		return nil
	}
	if len(a.consts) > math.MaxUint16 {
		return fmt.Errorf("constant pool full")
	}
	in.Flags |= FlagConst
	in.B = uint16(len(a.consts))
	a.consts = append(a.consts, n)
	return nil
}

func (a *assembler) operand(kind Operand, arg string) (uint16, error) {
	switch kind {
	case OpReg:
		return parseReg(arg)
	case OpImm:
		if b, ok := parseBool(arg); ok {
			return b, nil
		}
		return parseU16(arg)
	case OpTarget:
		if idx, ok := a.labels[arg]; ok {
			return uint16(idx), nil
		}
		if isIdent(arg) {
			return 0, fmt.Errorf("undefined label %q", arg)
		}
		return parseU16(arg)
	case OpSym:
		return a.intern(arg)
	case OpNodeKind:
		if k, err := graph.ParseNodeKind(arg); err == nil {
			return uint16(k), nil
		}
		return parseU16(arg)
	case OpEdgeKind:
		if k, err := graph.ParseEdgeKind(arg); err == nil {
			return uint16(k), nil
		}
		return parseU16(arg)
	default:
		return 0, fmt.Errorf("unsupported operand kind %d", kind)
	}
}

func (a *assembler) intern(arg string) (uint16, error) {
	name := arg
	if len(arg) >= 2 && arg[0] == '"' {
		unq, err := strconv.Unquote(arg)
		if err != nil {
			return 0, fmt.Errorf("bad string %s", arg)
		}
		name = unq
	} else {
		name = strings.TrimPrefix(name, ":")
		if name == "" {
			return 0, fmt.Errorf("empty symbol")
		}
	}
	if idx, ok := a.symbols[name]; ok {
		return idx, nil
	}
	if len(a.symbolList) > math.MaxUint16 {
		return 0, fmt.Errorf("symbol table full")
	}
	idx := uint16(len(a.symbolList))
	a.symbols[name] = idx
	a.symbolList = append(a.symbolList, name)
	return idx, nil
}

func parseReg(arg string) (uint16, error) {
	if len(arg) < 2 || (arg[0] != 'R' && arg[0] != 'r') {
		return 0, fmt.Errorf("expected register, got %q", arg)
	}
	n, err := strconv.Atoi(arg[1:])
	if err != nil || n < 0 || n >= NumRegisters {
		return 0, fmt.Errorf("register out of range: %q", arg)
	}
	return uint16(n), nil
}

func parseU16(arg string) (uint16, error) {
	n, err := strconv.ParseUint(arg, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("expected 16-bit unsigned value, got %q", arg)
	}
	return uint16(n), nil
}

func parseBool(arg string) (uint16, bool) {
	switch strings.ToLower(arg) {
	case "true":
		return 1, true
	case "false":
		return 0, true
	}
	return 0, false
}

func parseCmp(arg string) (uint8, error) {
	switch strings.ToLower(arg) {
	case "==", "eq":
		return CmpEq, nil
	case "!=", "ne":
		return CmpNe, nil
	case ">", "gt":
		return CmpGt, nil
	case "<", "lt":
		return CmpLt, nil
	case ">=", "ge":
		return CmpGe, nil
	case "<=", "le":
		return CmpLe, nil
	}
	return 0, fmt.Errorf("unknown comparator %q", arg)
}

// splitArgs splits on commas outside double quotes.
func splitArgs(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var (
		out   []string
		cur   strings.Builder
		inStr bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inStr = !inStr
			cur.WriteByte(c)
		case c == '\\' && inStr && i+1 < len(s):
			cur.WriteByte(c)
			cur.WriteByte(s[i+1])
			i++
		case c == ',' && !inStr:
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inStr {
		return nil, fmt.Errorf("unterminated string")
	}
	out = append(out, strings.TrimSpace(cur.String()))
	for _, a := range out {
		if a == "" {
			return nil, fmt.Errorf("empty operand")
		}
	}
	return out, nil
}

// stripComment removes a trailing ';' or '#' comment outside quotes.
func stripComment(s string) string {
	inStr := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inStr = !inStr
		case '\\':
			if inStr {
				i++
			}
		case ';', '#':
			if !inStr {
				return s[:i]
			}
		}
	}
	return s
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}
