package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kern/internal/ir"
)

func TestContext_CloneIsIndependent(t *testing.T) {
	v := New()
	_, err := run(t, v, `
		LOAD_NUM R0, 5
		SET_SYMBOL x, R0
		LOAD_NUM R1, 0
		CTX_CLONE R1, R2
		CTX_SWITCH R2
		LOAD_NUM R0, 9
		SET_SYMBOL x, R0
		HALT
	`)
	require.NoError(t, err)

	assert.Equal(t, ContextID(1), v.ActiveContextID())
	x, _ := v.Var("x")
	assert.Equal(t, ir.Int(9), x)

	require.NoError(t, v.SwitchContext(0))
	x, _ = v.Var("x")
	assert.Equal(t, ir.Int(5), x)
	assert.Equal(t, int64(5), reg(t, v, 0))
	assert.Equal(t, int64(1), reg(t, v, 2))
}

func TestContext_SwitchLeavesOthersUntouched(t *testing.T) {
	v := New()
	require.NoError(t, v.SetRegister(3, 77))
	id := v.CreateContext()
	require.NoError(t, v.SwitchContext(id))

	assert.Equal(t, int64(0), reg(t, v, 3), "fresh context has zeroed registers")
	assert.Empty(t, v.Vars())
	require.NoError(t, v.SetRegister(3, 1))

	require.NoError(t, v.SwitchContext(0))
	assert.Equal(t, int64(77), reg(t, v, 3))
}

func TestContext_Destroy(t *testing.T) {
	v := New()
	id := v.CreateContext()
	require.NoError(t, v.DestroyContext(id))

	err := v.SwitchContext(id)
	assert.Equal(t, ErrInvalidContext, CodeOf(err))
	assert.Equal(t, ir.ClassContext, ir.ClassOf(err))

	assert.Equal(t, ErrInvalidContext, CodeOf(v.DestroyContext(id)))
	assert.Equal(t, ErrInvalidContext, CodeOf(v.DestroyContext(0)), "active context")

	assert.Equal(t, ContextID(2), v.CreateContext(), "ids are never reused")
	assert.Equal(t, 2, v.LiveContexts())
}

func TestContext_DestroyFreesHeap(t *testing.T) {
	v := New()
	_, err := run(t, v, `
		CTX_CREATE R0
		CTX_SWITCH R0
		LOAD_NUM R1, 32
		ALLOC R2, R1
		LOAD_NUM R3, 0
		CTX_SWITCH R3
		CTX_DESTROY R0
		HALT
	`)
	require.NoError(t, err)
	assert.Zero(t, v.Memory().Region(RegionHeap).Used())
	assert.Equal(t, 1, v.LiveContexts())
}

func TestContext_SwitchToUnknown(t *testing.T) {
	v := New()
	_, err := run(t, v, `
		LOAD_NUM R0, 7
		CTX_SWITCH R0
		HALT
	`)
	assert.Equal(t, ErrInvalidContext, CodeOf(err))
	assert.Equal(t, ContextID(0), v.ActiveContextID())
}

func TestContext_SnapshotIsDeep(t *testing.T) {
	v := New()
	v.SetVar("x", ir.Int(1))
	snap := v.Active()
	snap.Vars["x"] = ir.Int(2)

	x, _ := v.Var("x")
	assert.Equal(t, ir.Int(1), x)
}

func TestContext_HeapIsPrivate(t *testing.T) {
	v := New()
	_, err := run(t, v, `
		LOAD_NUM R1, 16
		ALLOC R0, R1
		LOAD_NUM R2, 7
		STORE R0, R2
		CTX_CREATE R5
		CTX_SWITCH R5
		LOAD_NUM R2, 99
		STORE R0, R2
		HALT
	`)
	assert.Equal(t, ErrMemoryBounds, CodeOf(err), "context 1 owns no allocation at offset 0")
	assert.Equal(t, ContextID(1), v.ActiveContextID())

	require.NoError(t, v.SwitchContext(0))
	_, err = run(t, v, `
		LOAD R3, R0
		HALT
	`)
	require.NoError(t, err)
	assert.Equal(t, int64(7), reg(t, v, 3))
}

func TestContext_CloneDoesNotShareHeap(t *testing.T) {
	v := New()
	_, err := run(t, v, `
		LOAD_NUM R1, 16
		ALLOC R0, R1
		LOAD_NUM R2, 7
		STORE R0, R2
		LOAD_NUM R3, 0
		CTX_CLONE R3, R4
		CTX_SWITCH R4
		LOAD R5, R0
		HALT
	`)
	assert.Equal(t, ErrMemoryBounds, CodeOf(err), "inherited offset refers to the source's allocation")

	_, err = run(t, v, `
		LOAD_NUM R1, 8
		ALLOC R6, R1
		LOAD_NUM R2, 3
		STORE R6, R2
		LOAD R7, R6
		HALT
	`)
	require.NoError(t, err)
	assert.Equal(t, int64(16), reg(t, v, 6), "clone allocates after the source's block")
	assert.Equal(t, int64(3), reg(t, v, 7))

	require.NoError(t, v.SwitchContext(0))
	_, err = run(t, v, `
		LOAD R3, R0
		HALT
	`)
	require.NoError(t, err)
	assert.Equal(t, int64(7), reg(t, v, 3))
}
