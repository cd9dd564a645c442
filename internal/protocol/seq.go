package protocol

import "sync/atomic"

// SeqGen is a per-sender atomic sequence number generator. Messages from one
// sender carry strictly increasing Seq values so the receiver can discard a
// late duplicate.
type SeqGen struct {
	val atomic.Uint32
}

// NewSeqGen creates a new sequence generator starting at 0.
// The first call to Next() returns 1.
func NewSeqGen() *SeqGen {
	return &SeqGen{}
}

// Next returns the next sequence number (monotonically increasing from 1).
func (s *SeqGen) Next() uint32 {
	return s.val.Add(1)
}
