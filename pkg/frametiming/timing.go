package frametiming

import "time"

// FrameTiming summarizes one completed frame. It is produced once, by
// Recorder.RecordRasterEnd, and never changes afterwards.
type FrameTiming struct {
	FrameNumber uint64    `json:"frame_number"`
	VsyncStart  time.Time `json:"vsync_start"`
	VsyncTarget time.Time `json:"vsync_target"`
	BuildStart  time.Time `json:"build_start"`
	BuildEnd    time.Time `json:"build_end"`
	RasterStart time.Time `json:"raster_start"`
	RasterEnd   time.Time `json:"raster_end"`
}

// Timestamps returns the six timestamps in field order.
func (f FrameTiming) Timestamps() [6]time.Time {
	return [6]time.Time{f.VsyncStart, f.VsyncTarget, f.BuildStart, f.BuildEnd, f.RasterStart, f.RasterEnd}
}

// BuildDuration is the time spent building the frame.
func (f FrameTiming) BuildDuration() time.Duration {
	return f.BuildEnd.Sub(f.BuildStart)
}

// RasterDuration is the time spent rasterizing the frame.
func (f FrameTiming) RasterDuration() time.Duration {
	return f.RasterEnd.Sub(f.RasterStart)
}

// VsyncOverhead is the delay between the vsync signal and the build start.
func (f FrameTiming) VsyncOverhead() time.Duration {
	return f.BuildStart.Sub(f.VsyncStart)
}

// TotalSpan is the time from the vsync signal to the end of rasterization.
func (f FrameTiming) TotalSpan() time.Duration {
	return f.RasterEnd.Sub(f.VsyncStart)
}

// IsJank reports whether either the build or the raster phase ran over the
// frame budget. A non-positive budget never reports jank.
func (f FrameTiming) IsJank(budget time.Duration) bool {
	if budget <= 0 {
		return false
	}
	return f.BuildDuration() > budget || f.RasterDuration() > budget
}
