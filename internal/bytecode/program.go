package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"
)

// Module file header.
const (
	Magic         = "KERN"
	FormatVersion = 1
)

// Program is a loadable unit: code plus the constant and symbol tables
// its operands index into.
type Program struct {
	Name    string
	Code    []Instruction
	Consts  []int64
	Symbols []string
}

// Len returns the number of instructions.
func (p *Program) Len() int { return len(p.Code) }

// CodeSize returns the encoded code size in bytes.
func (p *Program) CodeSize() int { return len(p.Code) * InstructionSize }

// ConstSize returns the constant table size in bytes.
func (p *Program) ConstSize() int { return len(p.Consts) * 8 }

// SymbolSize returns the symbol table size in bytes (length-prefixed).
func (p *Program) SymbolSize() int {
	n := 0
	for _, s := range p.Symbols {
		n += 2 + len(s)
	}
	return n
}

// Symbol returns the symbol at index i.
func (p *Program) Symbol(i uint16) (string, bool) {
	if int(i) >= len(p.Symbols) {
		return "", false
	}
	return p.Symbols[i], true
}

// Const returns the constant at index i.
func (p *Program) Const(i uint16) (int64, bool) {
	if int(i) >= len(p.Consts) {
		return 0, false
	}
	return p.Consts[i], true
}

// Clone returns a deep copy.
func (p *Program) Clone() *Program {
	return &Program{
		Name:    p.Name,
		Code:    slices.Clone(p.Code),
		Consts:  slices.Clone(p.Consts),
		Symbols: slices.Clone(p.Symbols),
	}
}

// EncodeCode returns the concatenated 8-byte instruction encodings.
func (p *Program) EncodeCode() []byte {
	out := make([]byte, 0, p.CodeSize())
	for _, in := range p.Code {
		out = in.Encode(out)
	}
	return out
}

// MarshalBinary encodes the program as a module file.
//
//	"KERN" | version u16 | reserved u16 | ncode u32 | nconst u32 | nsym u32
//	code (8 bytes each) | consts (int64 LE) | symbols (u16 len + bytes)
func (p *Program) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	hdr := make([]byte, 16)
	binary.LittleEndian.PutUint16(hdr[0:], FormatVersion)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(p.Code)))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(p.Consts)))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(len(p.Symbols)))
	buf.Write(hdr)

	buf.Write(p.EncodeCode())

	var word [8]byte
	for _, c := range p.Consts {
		binary.LittleEndian.PutUint64(word[:], uint64(c))
		buf.Write(word[:])
	}
	for i, s := range p.Symbols {
		if len(s) > 0xFFFF {
			return nil, fmt.Errorf("symbol %d too long: %d bytes", i, len(s))
		}
		var n [2]byte
		binary.LittleEndian.PutUint16(n[:], uint16(len(s)))
		buf.Write(n[:])
		buf.WriteString(s)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a module file.
func (p *Program) UnmarshalBinary(data []byte) error {
	r := &reader{data: data}
	magic := r.take(4)
	if r.err != nil || string(magic) != Magic {
		return &DecodeError{Offset: 0, Message: "bad magic"}
	}
	version := r.u16()
	r.u16() // reserved
	ncode, nconst, nsym := r.u32(), r.u32(), r.u32()
	if r.err != nil {
		return r.err
	}
	if version != FormatVersion {
		return &DecodeError{Offset: 4, Message: fmt.Sprintf("unsupported version %d", version)}
	}

	code := make([]Instruction, 0, min(int(ncode), len(data)/InstructionSize))
	for i := uint32(0); i < ncode; i++ {
		off := r.off
		b := r.take(InstructionSize)
		if r.err != nil {
			return r.err
		}
		in, err := Decode(b)
		if err != nil {
			return &DecodeError{Offset: off, Message: err.Error()}
		}
		code = append(code, in)
	}

	consts := make([]int64, 0, min(int(nconst), len(data)/8))
	for i := uint32(0); i < nconst; i++ {
		b := r.take(8)
		if r.err != nil {
			return r.err
		}
		consts = append(consts, int64(binary.LittleEndian.Uint64(b)))
	}

	syms := make([]string, 0, min(int(nsym), len(data)/2))
	for i := uint32(0); i < nsym; i++ {
		n := r.u16()
		b := r.take(int(n))
		if r.err != nil {
			return r.err
		}
		syms = append(syms, string(b))
	}
	if r.off != len(data) {
		return &DecodeError{Offset: r.off, Message: fmt.Sprintf("%d trailing bytes", len(data)-r.off)}
	}

	p.Code, p.Consts, p.Symbols = code, consts, syms
	return nil
}

type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = &DecodeError{Offset: r.off, Message: fmt.Sprintf("truncated: need %d bytes", n)}
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}
