package engine

import "sync/atomic"

// Sequence numbers engine operations in the order they start.
//
// Every Result carries the number of the operation that produced it, and
// log lines and spans are tagged with it, so interleaved operations can be
// told apart in a trace.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence starting at 0.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt creates a sequence starting at a specific number.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next number and increments the sequence.
// Calls are linearizable - each call returns a unique, increasing value.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last number handed out without incrementing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
