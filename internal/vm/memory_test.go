package vm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kern/internal/bytecode"
)

func TestMemory_HeapLimitLeavesRegionsUnchanged(t *testing.T) {
	limits := DefaultMemoryLimits()
	limits.Heap = 1024
	v := New(WithMemoryLimits(limits))

	p := bytecode.MustAssemble(`
		LOAD_NUM R1, 1025
		ALLOC R0, R1
		HALT
	`)
	h, err := v.Load(p)
	require.NoError(t, err)
	before := v.Memory().Usage()

	_, err = v.Execute(context.Background(), h)
	require.Error(t, err)
	assert.True(t, IsMemoryLimitError(err))
	assert.Equal(t, before, v.Memory().Usage())
	assert.Equal(t, 0, v.Memory().Region(RegionHeap).Used())
}

func TestMemory_HeapExactFit(t *testing.T) {
	limits := DefaultMemoryLimits()
	limits.Heap = 1024
	v := New(WithMemoryLimits(limits))

	_, err := run(t, v, `
		LOAD_NUM R1, 1024
		ALLOC R0, R1
		HALT
	`)
	require.NoError(t, err)
	assert.Equal(t, 1024, v.Memory().Region(RegionHeap).Used())
}

func TestMemory_LoadIsAllOrNothing(t *testing.T) {
	limits := DefaultMemoryLimits()
	limits.Code = 16
	v := New(WithMemoryLimits(limits))

	_, err := v.Load(bytecode.MustAssemble(`
		LOAD_SYM R0, :x
		LOAD_NUM R1, =5
		HALT
	`))
	require.Error(t, err)
	assert.True(t, IsMemoryLimitError(err))
	for region, used := range v.Memory().Usage() {
		assert.Zero(t, used, region)
	}
}

func TestMemory_LoadAccountsRegions(t *testing.T) {
	v := New()
	_, err := v.Load(bytecode.MustAssemble(`
		LOAD_SYM R0, :abc
		LOAD_NUM R1, =5
		HALT
	`))
	require.NoError(t, err)

	usage := v.Memory().Usage()
	assert.Equal(t, 24, usage["code"])
	assert.Equal(t, 8, usage["constants"])
	assert.Equal(t, 5, usage["meta"])
}

func TestMemory_StoreLoad(t *testing.T) {
	v := New()
	_, err := run(t, v, `
		LOAD_NUM R1, 16
		ALLOC R0, R1
		LOAD_NUM R2, 99
		STORE R0, R2
		LOAD_NUM R4, 8
		ADD R0, R4, R4
		STORE R4, R1
		LOAD R3, R0
		LOAD R5, R4
		HALT
	`)
	require.NoError(t, err)
	assert.Equal(t, int64(99), reg(t, v, 3))
	assert.Equal(t, int64(16), reg(t, v, 5))
}

func TestMemory_StoreOutsideAllocation(t *testing.T) {
	v := New()
	_, err := run(t, v, `
		LOAD_NUM R1, 16
		ALLOC R0, R1
		LOAD_NUM R2, 12
		STORE R2, R1
		HALT
	`)
	assert.Equal(t, ErrMemoryBounds, CodeOf(err))
}

func TestMemory_AllocRejectsNonPositive(t *testing.T) {
	v := New()
	_, err := run(t, v, "ALLOC R0, R1\nHALT")
	assert.Equal(t, ErrInvalidOperand, CodeOf(err))
}

func TestMemory_Stack(t *testing.T) {
	v := New()
	_, err := run(t, v, `
		LOAD_NUM R0, 1
		LOAD_NUM R1, 2
		PUSH R0
		PUSH R1
		POP R2
		POP R3
		HALT
	`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reg(t, v, 2))
	assert.Equal(t, int64(1), reg(t, v, 3))
	assert.Zero(t, v.Memory().StackDepth())
}

func TestMemory_StackUnderflow(t *testing.T) {
	v := New()
	_, err := run(t, v, "POP R0\nHALT")
	assert.Equal(t, ErrStackUnderflow, CodeOf(err))
}

func TestMemory_StackOverflow(t *testing.T) {
	limits := DefaultMemoryLimits()
	limits.Stack = 16
	v := New(WithMemoryLimits(limits))

	res, err := run(t, v, `
		PUSH R0
		PUSH R0
		PUSH R0
		HALT
	`)
	assert.Equal(t, ErrStackOverflow, CodeOf(err))
	assert.Equal(t, 2, res.PC)
	assert.Equal(t, 2, v.Memory().StackDepth())
}

func TestMemory_FirstFitReusesFreedGap(t *testing.T) {
	m := NewMemory(MemoryLimits{Heap: 64})
	a, err := m.Alloc(16)
	require.NoError(t, err)
	b, err := m.Alloc(16)
	require.NoError(t, err)
	require.NoError(t, m.Free(a))

	c, err := m.Alloc(8)
	require.NoError(t, err)
	assert.Equal(t, a, c)
	assert.Equal(t, 16, b)
	assert.Equal(t, 24, m.Region(RegionHeap).Used())

	assert.Equal(t, ErrMemoryBounds, CodeOf(m.Free(40)))
}

func TestMemory_HugeAllocFailsCleanly(t *testing.T) {
	limits := DefaultMemoryLimits()
	limits.Heap = 1024
	v := New(WithMemoryLimits(limits))

	_, err := run(t, v, `
		LOAD_NUM R1, 8
		ALLOC R0, R1
		LOAD_NUM R2, 9223372036854775807
		ALLOC R3, R2
		HALT
	`)
	require.Error(t, err)
	assert.True(t, IsMemoryLimitError(err))
	assert.Equal(t, 8, v.Memory().Region(RegionHeap).Used())

	_, err = run(t, v, `
		LOAD_NUM R1, 8
		ALLOC R4, R1
		STORE R4, R1
		HALT
	`)
	require.NoError(t, err)
	assert.Equal(t, int64(8), reg(t, v, 4))
}

func TestMemory_AllocOverflowingSizes(t *testing.T) {
	m := NewMemory(MemoryLimits{Heap: 64})
	_, err := m.Alloc(16)
	require.NoError(t, err)

	_, err = m.Alloc(math.MaxInt)
	assert.Equal(t, ErrMemoryLimit, CodeOf(err))
	_, err = m.Alloc(math.MaxInt - 8)
	assert.Equal(t, ErrMemoryLimit, CodeOf(err))
	assert.Equal(t, 16, m.Region(RegionHeap).Used())

	off, err := m.Alloc(8)
	require.NoError(t, err)
	assert.Equal(t, 16, off)
}

func TestMemory_WordAddressNearMaxInt(t *testing.T) {
	v := New()
	_, err := run(t, v, `
		LOAD_NUM R1, 16
		ALLOC R0, R1
		LOAD_NUM R2, 9223372036854775804
		STORE R2, R1
		HALT
	`)
	assert.Equal(t, ErrMemoryBounds, CodeOf(err))
}
