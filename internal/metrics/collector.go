package metrics

import (
	"fmt"
	"io"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/ir"
	"github.com/roach88/kern/internal/vm"
)

// Collector records engine and VM metrics into its own registry.
type Collector struct {
	registry *prometheus.Registry

	cycles       prometheus.Counter
	cycleFirings prometheus.Histogram
	firings      *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	halts        *prometheus.CounterVec

	instructions *prometheus.CounterVec
	steps        prometheus.Histogram
	faults       *prometheus.CounterVec
	contexts     prometheus.Gauge
}

var (
	_ engine.Recorder = (*Collector)(nil)
	_ vm.Recorder     = (*Collector)(nil)
)

// NewCollector creates a collector whose metric names start with
// namespace. An empty namespace uses "kern".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "kern"
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),

		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cycles_total",
			Help:      "Total number of completed match-resolve-execute cycles",
		}),
		cycleFirings: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cycle_firings",
			Help:      "Number of rule firings per completed cycle",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
		}),
		firings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "firings_total",
			Help:      "Total number of rule firings",
		}, []string{"rule_id", "rule"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "conflicts_total",
			Help:      "Total number of write conflicts resolved",
		}, []string{"strategy"}),
		halts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "halts_total",
			Help:      "Total number of run halts",
		}, []string{"class"}),

		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vm",
			Name:      "instructions_total",
			Help:      "Total number of instructions executed, by opcode",
		}, []string{"opcode"}),
		steps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vm",
			Name:      "steps",
			Help:      "Instructions executed per top-level program execution",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10), // 1 to 262144
		}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vm",
			Name:      "faults_total",
			Help:      "Total number of VM faults",
		}, []string{"code"}),
		contexts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vm",
			Name:      "live_contexts",
			Help:      "Live execution contexts after the last execution",
		}),
	}

	c.registry.MustRegister(
		c.cycles,
		c.cycleFirings,
		c.firings,
		c.conflicts,
		c.halts,
		c.instructions,
		c.steps,
		c.faults,
		c.contexts,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// CycleCompleted implements engine.Recorder.
func (c *Collector) CycleCompleted(fired int) {
	if c == nil {
		return
	}
	c.cycles.Inc()
	c.cycleFirings.Observe(float64(fired))
}

// RuleFired implements engine.Recorder.
func (c *Collector) RuleFired(id ir.RuleID, name string) {
	if c == nil {
		return
	}
	c.firings.WithLabelValues(strconv.FormatUint(uint64(id), 10), name).Inc()
}

// ConflictResolved implements engine.Recorder.
func (c *Collector) ConflictResolved(strategy string) {
	if c == nil {
		return
	}
	c.conflicts.WithLabelValues(strategy).Inc()
}

// Halted implements engine.Recorder.
func (c *Collector) Halted(class ir.ErrorClass) {
	if c == nil {
		return
	}
	c.halts.WithLabelValues(string(class)).Inc()
}

// ObserveInstruction implements vm.Recorder.
func (c *Collector) ObserveInstruction(op string) {
	if c == nil {
		return
	}
	c.instructions.WithLabelValues(op).Inc()
}

// ObserveSteps implements vm.Recorder.
func (c *Collector) ObserveSteps(n int64) {
	if c == nil {
		return
	}
	c.steps.Observe(float64(n))
}

// ObserveFault implements vm.Recorder.
func (c *Collector) ObserveFault(code string) {
	if c == nil {
		return
	}
	c.faults.WithLabelValues(code).Inc()
}

// ObserveContexts implements vm.Recorder.
func (c *Collector) ObserveContexts(live int) {
	if c == nil {
		return
	}
	c.contexts.Set(float64(live))
}

// WriteText writes every metric in the Prometheus text exposition format.
// Families are sorted by name.
func (c *Collector) WriteText(w io.Writer) error {
	if c == nil {
		return nil
	}
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
