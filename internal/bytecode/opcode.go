package bytecode

import "fmt"

// Opcode is the first byte of an instruction. The high nibble names the
// family.
type Opcode uint8

// Control flow.
const (
	NOP   Opcode = 0x00
	JMP   Opcode = 0x01
	JMPIf Opcode = 0x02
	HALT  Opcode = 0x03
)

// Data movement and comparison.
const (
	LoadSym  Opcode = 0x10
	LoadNum  Opcode = 0x11
	LoadBool Opcode = 0x12
	Move     Opcode = 0x13
	Compare  Opcode = 0x14
	Push     Opcode = 0x15
	Pop      Opcode = 0x16
	Alloc    Opcode = 0x17
	Store    Opcode = 0x18
	Load     Opcode = 0x19
)

// Arithmetic: A op B -> C.
const (
	Add Opcode = 0x20
	Sub Opcode = 0x21
	Mul Opcode = 0x22
	Div Opcode = 0x23
	Mod Opcode = 0x24
)

// Bitwise logic.
const (
	And Opcode = 0x30
	Or  Opcode = 0x31
	Not Opcode = 0x32
)

// Graph mutation.
const (
	CreateNode Opcode = 0x40
	Connect    Opcode = 0x41
	Merge      Opcode = 0x42
	DeleteNode Opcode = 0x43
)

// Rule interaction.
const (
	CallRule           Opcode = 0x50
	ReturnRule         Opcode = 0x51
	CheckCondition     Opcode = 0x52
	IncrementExecCount Opcode = 0x53
)

// Execution contexts and variables.
const (
	CtxCreate  Opcode = 0x60
	CtxSwitch  Opcode = 0x61
	SetSymbol  Opcode = 0x62
	GetSymbol  Opcode = 0x63
	CtxClone   Opcode = 0x64
	CtxDestroy Opcode = 0x65
)

// Error register handling.
const (
	ErrSet   Opcode = 0x70
	ErrClear Opcode = 0x71
	ErrCheck Opcode = 0x72
	Throw    Opcode = 0x73
)

// External calls and IO channels.
const (
	CallExtern Opcode = 0x80
	ReadIO     Opcode = 0x81
	WriteIO    Opcode = 0x82
)

// Flag bits.
const (
	// FlagConst makes LOAD_NUM read constants[B] instead of the inline immediate.
	FlagConst uint8 = 0x01

	// FlagSym makes SET_SYMBOL store the register as an interned symbol.
	FlagSym uint8 = 0x01
)

// Comparison selectors carried in COMPARE's flags byte.
const (
	CmpEq uint8 = iota
	CmpNe
	CmpGt
	CmpLt
	CmpGe
	CmpLe
)

var cmpNames = [...]string{"==", "!=", ">", "<", ">=", "<="}

// CmpName returns the operator text for a comparison selector.
func CmpName(c uint8) string {
	if int(c) < len(cmpNames) {
		return cmpNames[c]
	}
	return fmt.Sprintf("cmp(%d)", c)
}

// Operand describes how one 16-bit argument is interpreted.
type Operand uint8

const (
	OpNone     Operand = iota
	OpReg              // general register index, < NumRegisters
	OpImm              // raw unsigned immediate
	OpNum              // LOAD_NUM value half (inline or constant index)
	OpTarget           // instruction index in the same program
	OpSym              // symbol table index
	OpNodeKind         // graph.NodeKind value
	OpEdgeKind         // graph.EdgeKind value
)

// NumRegisters is the number of general registers R0..R15.
const NumRegisters = 16

// Spec is an opcode's static description: mnemonic and operand layout.
type Spec struct {
	Name string
	A    Operand
	B    Operand
	C    Operand
}

// specs is indexed by opcode; a zero Name marks an unassigned code.
var specs = [256]Spec{
	NOP:   {Name: "NOP"},
	JMP:   {Name: "JMP", A: OpTarget},
	JMPIf: {Name: "JMP_IF", A: OpReg, B: OpTarget},
	HALT:  {Name: "HALT"},

	LoadSym:  {Name: "LOAD_SYM", A: OpReg, B: OpSym},
	LoadNum:  {Name: "LOAD_NUM", A: OpReg, B: OpNum, C: OpNum},
	LoadBool: {Name: "LOAD_BOOL", A: OpReg, B: OpImm},
	Move:     {Name: "MOVE", A: OpReg, B: OpReg},
	Compare:  {Name: "COMPARE", A: OpReg, B: OpReg, C: OpReg},
	Push:     {Name: "PUSH", A: OpReg},
	Pop:      {Name: "POP", A: OpReg},
	Alloc:    {Name: "ALLOC", A: OpReg, B: OpReg},
	Store:    {Name: "STORE", A: OpReg, B: OpReg},
	Load:     {Name: "LOAD", A: OpReg, B: OpReg},

	Add: {Name: "ADD", A: OpReg, B: OpReg, C: OpReg},
	Sub: {Name: "SUB", A: OpReg, B: OpReg, C: OpReg},
	Mul: {Name: "MUL", A: OpReg, B: OpReg, C: OpReg},
	Div: {Name: "DIV", A: OpReg, B: OpReg, C: OpReg},
	Mod: {Name: "MOD", A: OpReg, B: OpReg, C: OpReg},

	And: {Name: "AND", A: OpReg, B: OpReg, C: OpReg},
	Or:  {Name: "OR", A: OpReg, B: OpReg, C: OpReg},
	Not: {Name: "NOT", A: OpReg, C: OpReg},

	CreateNode: {Name: "CREATE_NODE", A: OpReg, B: OpNodeKind, C: OpSym},
	Connect:    {Name: "CONNECT", A: OpReg, B: OpReg, C: OpEdgeKind},
	Merge:      {Name: "MERGE", A: OpReg, B: OpReg},
	DeleteNode: {Name: "DELETE_NODE", A: OpReg},

	CallRule:           {Name: "CALL_RULE", A: OpImm},
	ReturnRule:         {Name: "RETURN_RULE"},
	CheckCondition:     {Name: "CHECK_CONDITION", A: OpImm, B: OpReg},
	IncrementExecCount: {Name: "INCREMENT_EXEC_COUNT", A: OpReg},

	CtxCreate:  {Name: "CTX_CREATE", A: OpReg},
	CtxSwitch:  {Name: "CTX_SWITCH", A: OpReg},
	SetSymbol:  {Name: "SET_SYMBOL", A: OpSym, B: OpReg},
	GetSymbol:  {Name: "GET_SYMBOL", A: OpReg, B: OpSym},
	CtxClone:   {Name: "CTX_CLONE", A: OpReg, B: OpReg},
	CtxDestroy: {Name: "CTX_DESTROY", A: OpReg},

	ErrSet:   {Name: "ERR_SET", A: OpImm},
	ErrClear: {Name: "ERR_CLEAR"},
	ErrCheck: {Name: "ERR_CHECK", A: OpTarget},
	Throw:    {Name: "THROW", A: OpImm},

	CallExtern: {Name: "CALL_EXTERN", A: OpSym, B: OpReg, C: OpImm},
	ReadIO:     {Name: "READ_IO", A: OpSym, B: OpReg},
	WriteIO:    {Name: "WRITE_IO", A: OpSym, B: OpReg},
}

var byName = func() map[string]Opcode {
	m := make(map[string]Opcode)
	for op, s := range specs {
		if s.Name != "" {
			m[s.Name] = Opcode(op)
		}
	}
	return m
}()

// Valid reports whether the opcode is assigned.
func (op Opcode) Valid() bool {
	return specs[op].Name != ""
}

// Spec returns the opcode's static description.
func (op Opcode) Spec() Spec {
	return specs[op]
}

// Family returns the high nibble, e.g. 0x20 for arithmetic.
func (op Opcode) Family() uint8 {
	return uint8(op) & 0xF0
}

func (op Opcode) String() string {
	if s := specs[op]; s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("OP_%02X", uint8(op))
}

// Lookup resolves a mnemonic.
func Lookup(name string) (Opcode, bool) {
	op, ok := byName[name]
	return op, ok
}

// Jumps reports whether the opcode may transfer control to a target.
func (op Opcode) Jumps() bool {
	return op == JMP || op == JMPIf || op == ErrCheck
}
