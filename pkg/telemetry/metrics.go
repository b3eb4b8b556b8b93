package telemetry

// Well-known metric names for consistency across components.
const (
	// Frame phase metrics
	MetricFrameBuildDuration  = "frame/build_duration_seconds"
	MetricFrameRasterDuration = "frame/raster_duration_seconds"
	MetricFrameVsyncOverhead  = "frame/vsync_overhead_seconds"
	MetricFrameTotalSpan      = "frame/total_span_seconds"
	MetricFramePhase          = "frame/phase_duration_seconds"

	// Frame counters
	MetricFrames        = "frame/frames_total"
	MetricFramesJank    = "frame/jank_total"
	MetricFramesDropped = "frame/dropped_total"
	MetricRasterRetries = "frame/raster_retries_total"

	// Reporting metrics
	MetricReportBatchSize = "report/batch_size"
	MetricReportLatency   = "report/latency_seconds"
)

// Well-known label keys for consistency.
const (
	LabelComponent   = "component"
	LabelEnvironment = "environment"
	LabelPhase       = "phase"
	LabelResult      = "result"
	LabelPipeline    = "pipeline"
	LabelSink        = "sink"
	LabelReason      = "reason"
)

// Well-known label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultJank    = "jank"

	PhaseVsync  = "vsync"
	PhaseBuild  = "build"
	PhaseRaster = "raster"

	ReasonUIBusy       = "ui_busy"
	ReasonBuildFailed  = "build_failed"
	ReasonRasterFailed = "raster_failed"
)

// Labels is a convenience type for metric labels.
type Labels map[string]string

// With returns a new Labels with additional key-value pairs.
func (l Labels) With(key, value string) Labels {
	result := make(Labels, len(l)+1)
	for k, v := range l {
		result[k] = v
	}
	result[key] = value
	return result
}

// WithResult returns Labels with a result label.
func (l Labels) WithResult(result string) Labels {
	return l.With(LabelResult, result)
}

// WithPhase returns Labels with a phase label.
func (l Labels) WithPhase(phase string) Labels {
	return l.With(LabelPhase, phase)
}
