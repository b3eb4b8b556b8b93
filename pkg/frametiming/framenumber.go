package frametiming

import "sync/atomic"

// FrameNumberGenerator hands out strictly increasing frame numbers.
// It is safe for concurrent use. The zero value is ready to use and its
// first number is 1, so 0 never identifies a frame.
type FrameNumberGenerator struct {
	last atomic.Uint64
}

// Next returns a number greater than every number previously returned.
func (g *FrameNumberGenerator) Next() uint64 {
	return g.last.Add(1)
}

// frameNumbers numbers every Recorder in the process.
var frameNumbers FrameNumberGenerator

// NextFrameNumber draws from the process-wide generator used by NewRecorder.
func NextFrameNumber() uint64 {
	return frameNumbers.Next()
}
