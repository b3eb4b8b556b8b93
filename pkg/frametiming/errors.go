package frametiming

import (
	"errors"
	"fmt"
)

// ErrOutOfOrder is matched by every *OrderError.
var ErrOutOfOrder = errors.New("frame timings recorded out of order")

// OrderError describes a record or clone call made while the recorder was
// not in the state the call requires. It is a programming error: the
// Recorder panics with it instead of returning it.
type OrderError struct {
	// Op is the Recorder method that was called.
	Op string
	// From is the state the recorder was in.
	From State
	// To is the state the call tried to reach.
	To State
	// FrameNumber identifies the recorder.
	FrameNumber uint64
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("frametiming: frame %d: %s: cannot move from %s to %s",
		e.FrameNumber, e.Op, e.From, e.To)
}

// Is makes errors.Is(err, ErrOutOfOrder) true for an *OrderError.
func (e *OrderError) Is(target error) bool {
	return target == ErrOutOfOrder
}
