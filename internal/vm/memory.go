package vm

import (
	"encoding/binary"
	"fmt"
	"slices"
)

// RegionKind names a memory region.
type RegionKind uint8

const (
	RegionCode RegionKind = iota
	RegionConstants
	RegionStack
	RegionHeap
	RegionMeta
	numRegions
)

var regionNames = [numRegions]string{"code", "constants", "stack", "heap", "meta"}

func (k RegionKind) String() string {
	if k < numRegions {
		return regionNames[k]
	}
	return fmt.Sprintf("region(%d)", uint8(k))
}

// Region is a fixed-capacity byte buffer. Code, constants and meta grow
// by append-only reservation; the stack uses used as its pointer; the heap
// is managed by Memory's allocator.
type Region struct {
	kind RegionKind
	buf  []byte
	used int
}

func newRegion(kind RegionKind, capacity int) *Region {
	return &Region{kind: kind, buf: make([]byte, capacity)}
}

// Capacity returns the region size in bytes.
func (r *Region) Capacity() int { return len(r.buf) }

// Used returns the bytes currently in use.
func (r *Region) Used() int { return r.used }

// Bytes returns a copy of the region's backing bytes.
func (r *Region) Bytes() []byte { return slices.Clone(r.buf) }

func (r *Region) read(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(r.buf) {
		return nil, newError(ErrMemoryBounds, "%s read [%d,%d) outside capacity %d", r.kind, off, off+n, len(r.buf))
	}
	return r.buf[off : off+n], nil
}

func (r *Region) limitError(n int) *Error {
	return newError(ErrMemoryLimit, "%s region: need %d bytes, %d of %d in use", r.kind, n, r.used, len(r.buf))
}

// Memory owns the five regions and the heap allocator.
type Memory struct {
	regions [numRegions]*Region
	allocs  []allocation // live heap allocations sorted by offset
}

type allocation struct {
	off  int
	size int
}

// NewMemory allocates regions with the given capacities.
func NewMemory(limits MemoryLimits) *Memory {
	m := &Memory{}
	m.regions[RegionCode] = newRegion(RegionCode, limits.Code)
	m.regions[RegionConstants] = newRegion(RegionConstants, limits.Constants)
	m.regions[RegionStack] = newRegion(RegionStack, limits.Stack)
	m.regions[RegionHeap] = newRegion(RegionHeap, limits.Heap)
	m.regions[RegionMeta] = newRegion(RegionMeta, limits.Meta)
	return m
}

// Region returns one region.
func (m *Memory) Region(kind RegionKind) *Region {
	return m.regions[kind]
}

// Usage reports bytes in use per region.
func (m *Memory) Usage() map[string]int {
	out := make(map[string]int, numRegions)
	for _, r := range m.regions {
		out[r.kind.String()] = r.used
	}
	return out
}

// reserve appends data to several append-only regions at once.
// CRITICAL: all capacities are checked before any byte is written, so a
// failure leaves every region unchanged.
func (m *Memory) reserve(parts map[RegionKind][]byte) (map[RegionKind]int, error) {
	need := make(map[RegionKind]int, len(parts))
	for kind, data := range parts {
		need[kind] = len(data)
	}
	if err := m.fits(need); err != nil {
		return nil, err
	}
	offsets := make(map[RegionKind]int, len(parts))
	for kind := RegionKind(0); kind < numRegions; kind++ {
		data, ok := parts[kind]
		if !ok {
			continue
		}
		r := m.regions[kind]
		offsets[kind] = r.used
		copy(r.buf[r.used:], data)
		r.used += len(data)
	}
	return offsets, nil
}

// fits checks that need bytes per region fit in the remaining capacity.
func (m *Memory) fits(need map[RegionKind]int) error {
	for kind := RegionKind(0); kind < numRegions; kind++ {
		n, ok := need[kind]
		if !ok {
			continue
		}
		if r := m.regions[kind]; n > len(r.buf)-r.used {
			return r.limitError(n)
		}
	}
	return nil
}

// canPush reports whether one more word fits on the stack.
func (m *Memory) canPush() bool {
	s := m.regions[RegionStack]
	return s.used+8 <= len(s.buf)
}

// canPop reports whether the stack holds at least one word.
func (m *Memory) canPop() bool {
	return m.regions[RegionStack].used >= 8
}

// Push writes one word to the stack.
func (m *Memory) Push(v int64) error {
	s := m.regions[RegionStack]
	if !m.canPush() {
		return newError(ErrStackOverflow, "stack full at %d bytes", s.used)
	}
	binary.LittleEndian.PutUint64(s.buf[s.used:], uint64(v))
	s.used += 8
	return nil
}

// Pop removes one word from the stack.
func (m *Memory) Pop() (int64, error) {
	s := m.regions[RegionStack]
	if !m.canPop() {
		return 0, newError(ErrStackUnderflow, "stack empty")
	}
	s.used -= 8
	v := int64(binary.LittleEndian.Uint64(s.buf[s.used:]))
	clear(s.buf[s.used : s.used+8])
	return v, nil
}

// StackDepth returns the number of words on the stack.
func (m *Memory) StackDepth() int {
	return m.regions[RegionStack].used / 8
}

// Alloc reserves size bytes of heap, first fit, and returns the offset.
func (m *Memory) Alloc(size int) (int, error) {
	h := m.regions[RegionHeap]
	if size <= 0 {
		return 0, newError(ErrInvalidOperand, "allocation size %d", size)
	}
	if size > len(h.buf)-h.used {
		return 0, h.limitError(size)
	}
	off := 0
	pos := 0
	for ; pos < len(m.allocs); pos++ {
		a := m.allocs[pos]
		if a.off-off >= size {
			break
		}
		off = a.off + a.size
	}
	if size > len(h.buf)-off {
		return 0, newError(ErrMemoryLimit, "heap fragmented: no %d byte gap", size)
	}
	m.allocs = slices.Insert(m.allocs, pos, allocation{off: off, size: size})
	h.used += size
	return off, nil
}

// Free releases the allocation starting at off.
func (m *Memory) Free(off int) error {
	i, ok := slices.BinarySearchFunc(m.allocs, off, func(a allocation, t int) int { return a.off - t })
	if !ok {
		return newError(ErrMemoryBounds, "free of unallocated heap offset %d", off)
	}
	a := m.allocs[i]
	h := m.regions[RegionHeap]
	clear(h.buf[a.off : a.off+a.size])
	h.used -= a.size
	m.allocs = slices.Delete(m.allocs, i, i+1)
	return nil
}

// wordInBounds reports whether [addr, addr+8) lies inside one of the
// live allocations starting at the owned offsets.
func (m *Memory) wordInBounds(addr int64, owned []int) bool {
	for _, off := range owned {
		i, ok := slices.BinarySearchFunc(m.allocs, off, func(a allocation, t int) int { return a.off - t })
		if !ok {
			continue
		}
		a := m.allocs[i]
		if addr >= int64(a.off) && addr <= int64(a.off+a.size)-8 {
			return true
		}
	}
	return false
}

// ReadWord loads 8 bytes from an allocation in owned.
func (m *Memory) ReadWord(addr int64, owned []int) (int64, error) {
	if !m.wordInBounds(addr, owned) {
		return 0, newError(ErrMemoryBounds, "heap read at %d outside the context's allocations", addr)
	}
	b := m.regions[RegionHeap].buf[addr : addr+8]
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// WriteWord stores 8 bytes to an allocation in owned.
func (m *Memory) WriteWord(addr, v int64, owned []int) error {
	if !m.wordInBounds(addr, owned) {
		return newError(ErrMemoryBounds, "heap write at %d outside the context's allocations", addr)
	}
	binary.LittleEndian.PutUint64(m.regions[RegionHeap].buf[addr:addr+8], uint64(v))
	return nil
}
