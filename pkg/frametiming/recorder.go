// Package frametiming records when each phase of a frame happened.
//
// A Recorder is created when the vsync signal arrives and is handed from the
// vsync goroutine to the build goroutine and then to the raster goroutine.
// Each hand-off records one more phase; recording the end of raster yields
// an immutable FrameTiming that is sent on to reporting.
package frametiming

import (
	"sync"
	"time"
)

// Recorder records timestamps for the phases of one frame.
// It is safe for concurrent use and needs no external synchronization.
// A Recorder must not be copied; use CloneUntil to fork it.
type Recorder struct {
	frameNumber uint64

	mu    sync.Mutex
	state State

	vsyncStart  time.Time
	vsyncTarget time.Time
	buildStart  time.Time
	buildEnd    time.Time
	rasterStart time.Time
	rasterEnd   time.Time
}

// NewRecorder creates a Recorder in StateUninitialized with a new frame
// number. A recorder created later always has a larger frame number.
func NewRecorder() *Recorder {
	return &Recorder{frameNumber: NextFrameNumber()}
}

// FrameNumber returns the number assigned when the recorder was created.
// Clones share the number of the recorder they were cloned from.
func (r *Recorder) FrameNumber() uint64 {
	return r.frameNumber
}

// State returns the last phase recorded.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// VsyncStartTime returns the timestamp of the vsync signal.
func (r *Recorder) VsyncStartTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vsyncStart
}

// VsyncTargetTime returns when the frame was targeted to be presented,
// typically the next vsync.
func (r *Recorder) VsyncTargetTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vsyncTarget
}

// BuildStartTime returns when building the frame started.
func (r *Recorder) BuildStartTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buildStart
}

// BuildEndTime returns when building the frame finished.
func (r *Recorder) BuildEndTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buildEnd
}

// RasterStartTime returns when rasterization started.
func (r *Recorder) RasterStartTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rasterStart
}

// RasterEndTime returns when rasterization finished.
func (r *Recorder) RasterEndTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rasterEnd
}

// BuildDuration returns how long the build phase took.
// It is zero until the build end has been recorded.
func (r *Recorder) BuildDuration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.reaches(StateBuildEnd) {
		return 0
	}
	return r.buildEnd.Sub(r.buildStart)
}

// RecordVsync records the vsync signal and the presentation target.
func (r *Recorder) RecordVsync(start, target time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance("RecordVsync", StateVsync)
	r.vsyncStart = start
	r.vsyncTarget = target
}

// RecordBuildStart records the start of the build phase.
func (r *Recorder) RecordBuildStart(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance("RecordBuildStart", StateBuildStart)
	r.buildStart = t
}

// RecordBuildEnd records the end of the build phase.
func (r *Recorder) RecordBuildEnd(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance("RecordBuildEnd", StateBuildEnd)
	r.buildEnd = t
}

// RecordRasterStart records the start of rasterization.
func (r *Recorder) RecordRasterStart(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance("RecordRasterStart", StateRasterStart)
	r.rasterStart = t
}

// RecordRasterEnd records the end of rasterization and returns the summary
// of all phases. The recorder is terminal afterwards.
func (r *Recorder) RecordRasterEnd(t time.Time) FrameTiming {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance("RecordRasterEnd", StateRasterEnd)
	r.rasterEnd = t
	return FrameTiming{
		FrameNumber: r.frameNumber,
		VsyncStart:  r.vsyncStart,
		VsyncTarget: r.vsyncTarget,
		BuildStart:  r.buildStart,
		BuildEnd:    r.buildEnd,
		RasterStart: r.rasterStart,
		RasterEnd:   r.rasterEnd,
	}
}

// CloneUntil returns an independent recorder with the same frame number,
// the timestamps of every phase up to and including state, and its state
// set to state. Phases after state are left unset in the clone even if r
// has recorded them.
//
// Cloning at a state r has not reached yet panics with an *OrderError.
// Cloning at StateUninitialized yields a fresh recorder that keeps r's
// frame number.
func (r *Recorder) CloneUntil(state State) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !state.Valid() || !r.state.reaches(state) {
		panic(&OrderError{Op: "CloneUntil", From: r.state, To: state, FrameNumber: r.frameNumber})
	}

	c := &Recorder{frameNumber: r.frameNumber, state: state}
	switch state {
	case StateRasterEnd:
		c.rasterEnd = r.rasterEnd
		fallthrough
	case StateRasterStart:
		c.rasterStart = r.rasterStart
		fallthrough
	case StateBuildEnd:
		c.buildEnd = r.buildEnd
		fallthrough
	case StateBuildStart:
		c.buildStart = r.buildStart
		fallthrough
	case StateVsync:
		c.vsyncStart = r.vsyncStart
		c.vsyncTarget = r.vsyncTarget
	}
	return c
}

// advance moves r to the given state. r.mu must be held.
func (r *Recorder) advance(op string, to State) {
	if next, ok := r.state.Next(); !ok || next != to {
		panic(&OrderError{Op: op, From: r.state, To: to, FrameNumber: r.frameNumber})
	}
	r.state = to
}
