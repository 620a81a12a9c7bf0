// Package metrics exposes engine and VM activity as Prometheus metrics.
//
// A Collector owns a private prometheus.Registry and implements both
// engine.Recorder and vm.Recorder:
//
//	c := metrics.NewCollector("kern")
//	v := vm.New(vm.WithRecorder(c))
//	e, _ := engine.New(engine.WithVM(v), engine.WithRecorder(c))
//
// Metrics:
//   - kern_engine_cycles_total: completed cycles
//   - kern_engine_cycle_firings: firings per completed cycle
//   - kern_engine_firings_total: firings by rule
//   - kern_engine_conflicts_total: resolved conflicts by strategy
//   - kern_engine_halts_total: halts by error class
//   - kern_vm_steps: instructions per top-level execution
//   - kern_vm_faults_total: VM faults by code
//   - kern_vm_live_contexts: live execution contexts after the last execution
//
// Every method is safe on a nil *Collector, so callers can hold an
// optional collector without checks.
package metrics
