package engine

import "sync/atomic"

// Clock is the monotonic logical clock that stamps trace events and
// history entries.
//
// All events are stamped with a strictly increasing seq number from this
// clock. Wall-clock time never orders anything in a run, so two runs of the
// same rule set produce identical sequence numbers.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// The engine itself is single-threaded; the store reads Current() when
// checkpointing.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used by replay to continue numbering after a stored prefix.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
