package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// InstructionSize is the fixed width of an encoded instruction.
const InstructionSize = 8

// Instruction is one decoded VM instruction.
//
// Wire layout (little-endian):
//
//	byte 0    opcode
//	byte 1-2  A
//	byte 3-4  B
//	byte 5-6  C
//	byte 7    flags
type Instruction struct {
	Op    Opcode
	A     uint16
	B     uint16
	C     uint16
	Flags uint8
}

// I builds an instruction. Shorthand for tests and hand-written programs.
func I(op Opcode, a, b, c uint16) Instruction {
	return Instruction{Op: op, A: a, B: b, C: c}
}

// WithFlags returns a copy with the flags byte set.
func (in Instruction) WithFlags(f uint8) Instruction {
	in.Flags = f
	return in
}

// Encode appends the 8-byte form of the instruction to dst.
func (in Instruction) Encode(dst []byte) []byte {
	var buf [InstructionSize]byte
	in.Put(buf[:])
	return append(dst, buf[:]...)
}

// Put writes the instruction into b, which must hold InstructionSize bytes.
func (in Instruction) Put(b []byte) {
	_ = b[InstructionSize-1]
	b[0] = byte(in.Op)
	binary.LittleEndian.PutUint16(b[1:], in.A)
	binary.LittleEndian.PutUint16(b[3:], in.B)
	binary.LittleEndian.PutUint16(b[5:], in.C)
	b[7] = in.Flags
}

// Decode reads one instruction from the first 8 bytes of b.
// Unknown opcodes decode successfully; validity is the VM's first check.
func Decode(b []byte) (Instruction, error) {
	if len(b) < InstructionSize {
		return Instruction{}, &DecodeError{Offset: 0, Message: fmt.Sprintf("need %d bytes, have %d", InstructionSize, len(b))}
	}
	return Instruction{
		Op:    Opcode(b[0]),
		A:     binary.LittleEndian.Uint16(b[1:]),
		B:     binary.LittleEndian.Uint16(b[3:]),
		C:     binary.LittleEndian.Uint16(b[5:]),
		Flags: b[7],
	}, nil
}

// Immediate32 returns LOAD_NUM's inline value: sign-extended int32(C<<16 | B).
func (in Instruction) Immediate32() int64 {
	return int64(int32(uint32(in.C)<<16 | uint32(in.B)))
}

// String renders the instruction in assembler syntax with raw operands.
func (in Instruction) String() string {
	spec := in.Op.Spec()
	if spec.Name == "" {
		return fmt.Sprintf("%s %d, %d, %d ; flags=%d", in.Op, in.A, in.B, in.C, in.Flags)
	}
	if in.Op == LoadNum {
		if in.Flags&FlagConst != 0 {
			return fmt.Sprintf("LOAD_NUM R%d, =[%d]", in.A, in.B)
		}
		return fmt.Sprintf("LOAD_NUM R%d, %d", in.A, in.Immediate32())
	}

	var args []string
	for i, kind := range [3]Operand{spec.A, spec.B, spec.C} {
		if kind == OpNone {
			continue
		}
		v := [3]uint16{in.A, in.B, in.C}[i]
		switch kind {
		case OpReg:
			args = append(args, fmt.Sprintf("R%d", v))
		case OpSym:
			args = append(args, fmt.Sprintf("$%d", v))
		case OpTarget:
			args = append(args, fmt.Sprintf("@%d", v))
		default:
			args = append(args, fmt.Sprintf("%d", v))
		}
	}
	if in.Op == Compare {
		args = append(args, CmpName(in.Flags))
	}
	if len(args) == 0 {
		return spec.Name
	}
	return spec.Name + " " + strings.Join(args, ", ")
}
