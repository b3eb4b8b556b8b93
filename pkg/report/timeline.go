package report

import (
	"context"
	"sync"
	"time"

	"github.com/rahul-roy-glean/frame-timings/pkg/frametiming"
)

const defaultTimelineCapacity = 240

// TimelineSnapshot is a chronological copy of a Timeline.
type TimelineSnapshot struct {
	Frames      []frametiming.FrameTiming `json:"frames"`
	TotalFrames uint64                    `json:"total_frames"`
	JankFrames  uint64                    `json:"jank_frames"`
	BudgetMs    float64                   `json:"budget_ms"`
}

// Timeline keeps the most recent frame timings in a ring buffer and counts
// frames over budget. It is safe for concurrent use.
type Timeline struct {
	mu     sync.RWMutex
	frames []frametiming.FrameTiming
	index  int
	count  int
	total  uint64
	jank   uint64
	budget time.Duration
}

// NewTimeline creates a Timeline holding up to capacity frames.
func NewTimeline(capacity int, budget time.Duration) *Timeline {
	if capacity <= 0 {
		capacity = defaultTimelineCapacity
	}
	return &Timeline{
		frames: make([]frametiming.FrameTiming, capacity),
		budget: budget,
	}
}

func (t *Timeline) Name() string { return "timeline" }

// ReportTimings adds a batch of frames.
func (t *Timeline) ReportTimings(_ context.Context, timings []frametiming.FrameTiming) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ft := range timings {
		t.add(ft)
	}
	return nil
}

func (t *Timeline) add(ft frametiming.FrameTiming) {
	t.frames[t.index] = ft
	t.index = (t.index + 1) % len(t.frames)
	if t.count < len(t.frames) {
		t.count++
	}
	t.total++
	if ft.IsJank(t.budget) {
		t.jank++
	}
}

// Snapshot returns the buffered frames oldest first, plus counters.
func (t *Timeline) Snapshot() TimelineSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := TimelineSnapshot{
		Frames:      make([]frametiming.FrameTiming, t.count),
		TotalFrames: t.total,
		JankFrames:  t.jank,
		BudgetMs:    float64(t.budget) / float64(time.Millisecond),
	}
	if t.count < len(t.frames) {
		copy(snap.Frames, t.frames[:t.count])
	} else {
		n := copy(snap.Frames, t.frames[t.index:])
		copy(snap.Frames[n:], t.frames[:t.index])
	}
	return snap
}
