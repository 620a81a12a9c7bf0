package vm

import "github.com/roach88/kern/internal/bytecode"

// InstructionEvent records one executed instruction.
type InstructionEvent struct {
	Step    int64                `json:"step"`
	Context ContextID            `json:"context"`
	Handle  Handle               `json:"handle"`
	PC      int                  `json:"pc"`
	Instr   bytecode.Instruction `json:"-"`
	Text    string               `json:"instr"`
}

// traceRing keeps the most recent events up to a fixed limit.
type traceRing struct {
	events []InstructionEvent
	next   int
	full   bool
}

func newTraceRing(limit int) *traceRing {
	return &traceRing{events: make([]InstructionEvent, limit)}
}

func (t *traceRing) add(ev InstructionEvent) {
	if len(t.events) == 0 {
		return
	}
	t.events[t.next] = ev
	t.next++
	if t.next == len(t.events) {
		t.next = 0
		t.full = true
	}
}

// snapshot returns events oldest first.
func (t *traceRing) snapshot() []InstructionEvent {
	if !t.full {
		return append([]InstructionEvent(nil), t.events[:t.next]...)
	}
	out := make([]InstructionEvent, 0, len(t.events))
	out = append(out, t.events[t.next:]...)
	return append(out, t.events[:t.next]...)
}
