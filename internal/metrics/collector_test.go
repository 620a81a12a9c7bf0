package metrics

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/ir"
	"github.com/roach88/kern/internal/vm"
)

func TestCollector_EngineMetrics(t *testing.T) {
	c := NewCollector("test")

	c.CycleCompleted(2)
	c.CycleCompleted(0)
	c.RuleFired(1, "bump")
	c.RuleFired(1, "bump")
	c.RuleFired(2, "mark")
	c.ConflictResolved("override")
	c.Halted(ir.ClassControl)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cycles))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.firings.WithLabelValues("1", "bump")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.firings.WithLabelValues("2", "mark")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conflicts.WithLabelValues("override")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.halts.WithLabelValues("control")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.cycleFirings))
}

func TestCollector_VMMetrics(t *testing.T) {
	c := NewCollector("test")

	c.ObserveInstruction("ADD")
	c.ObserveInstruction("ADD")
	c.ObserveInstruction("HALT")
	c.ObserveSteps(12)
	c.ObserveFault("DIVISION_BY_ZERO")
	c.ObserveContexts(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.instructions.WithLabelValues("ADD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.instructions.WithLabelValues("HALT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.faults.WithLabelValues("DIVISION_BY_ZERO")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.contexts))
	assert.Equal(t, 1, testutil.CollectAndCount(c.steps))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.CycleCompleted(1)
		c.RuleFired(1, "r")
		c.ConflictResolved("ignore")
		c.Halted(ir.ClassRuntime)
		c.ObserveInstruction("NOP")
		c.ObserveSteps(1)
		c.ObserveFault("X")
		c.ObserveContexts(1)
	})
	assert.Nil(t, c.Registry())
	assert.NoError(t, c.WriteText(&bytes.Buffer{}))
}

func TestCollector_DefaultNamespace(t *testing.T) {
	c := NewCollector("")
	c.CycleCompleted(1)

	var buf bytes.Buffer
	require.NoError(t, c.WriteText(&buf))
	assert.Contains(t, buf.String(), "kern_engine_cycles_total 1")
}

func TestCollector_WiredIntoEngine(t *testing.T) {
	c := NewCollector("kern")
	e, err := engine.New(
		engine.WithVM(vm.New(vm.WithRecorder(c))),
		engine.WithRecorder(c),
	)
	require.NoError(t, err)
	e.SetVar("n", ir.Int(0))
	_, err = e.Register(ir.RuleSpec{
		ID:     1,
		Name:   "bump",
		When:   "n < 2",
		Then:   "GET_SYMBOL R0, n\nLOAD_NUM R1, 1\nADD R0, R1, R0\nSET_SYMBOL n, R0",
		Writes: []string{"n"},
	})
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cycles))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.firings.WithLabelValues("1", "bump")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.steps))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.instructions.WithLabelValues("SET_SYMBOL")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.instructions.WithLabelValues("RETURN_RULE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.contexts), "only the root context is live")
	assert.Zero(t, testutil.CollectAndCount(c.halts))
}
