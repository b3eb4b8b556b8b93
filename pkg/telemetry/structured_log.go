package telemetry

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rahul-roy-glean/frame-timings/pkg/frametiming"
)

// StructuredLogger writes metrics as structured log entries that can be
// picked up by GCP Ops Agent and converted to log-based metrics.
// It is the reporting path for processes that cannot reach the Cloud
// Monitoring API directly.
type StructuredLogger struct {
	logger     *logrus.Entry
	component  string
	pipelineID string
}

// NewStructuredLogger creates a new StructuredLogger.
func NewStructuredLogger(logger *logrus.Logger, component, pipelineID string) *StructuredLogger {
	return &StructuredLogger{
		logger:     logger.WithField("component", component),
		component:  component,
		pipelineID: pipelineID,
	}
}

// LogMetric writes a metric as a structured log entry.
// The format is designed to be parsed by GCP log-based metrics.
func (s *StructuredLogger) LogMetric(metric string, value float64, labels Labels) {
	fields := logrus.Fields{
		"metric_type":  metric,
		"metric_value": value,
		"pipeline_id":  s.pipelineID,
	}
	for k, v := range labels {
		fields["label_"+k] = v
	}
	s.logger.WithFields(fields).Info("metric")
}

// LogDuration writes a duration metric as a structured log entry.
func (s *StructuredLogger) LogDuration(metric string, duration time.Duration, labels Labels) {
	s.LogMetric(metric, duration.Seconds(), labels)
}

// LogCounter writes a counter increment as a structured log entry.
func (s *StructuredLogger) LogCounter(metric string, labels Labels) {
	s.LogMetric(metric, 1, labels)
}

// LogEvent writes a structured event log (for debugging/tracing).
func (s *StructuredLogger) LogEvent(event string, fields logrus.Fields) {
	allFields := logrus.Fields{
		"event":       event,
		"pipeline_id": s.pipelineID,
	}
	for k, v := range fields {
		allFields[k] = v
	}
	s.logger.WithFields(allFields).Info("event")
}

// LogFrame logs one completed frame. Frames whose build or raster phase ran
// over budget are logged at warning level.
func (s *StructuredLogger) LogFrame(ft frametiming.FrameTiming, budget time.Duration) {
	jank := ft.IsJank(budget)
	entry := s.logger.WithFields(logrus.Fields{
		"event":              "frame_complete",
		"pipeline_id":        s.pipelineID,
		"frame_number":       ft.FrameNumber,
		"build_us":           ft.BuildDuration().Microseconds(),
		"raster_us":          ft.RasterDuration().Microseconds(),
		"vsync_overhead_us":  ft.VsyncOverhead().Microseconds(),
		"total_span_us":      ft.TotalSpan().Microseconds(),
		"vsync_start_unixus": ft.VsyncStart.UnixMicro(),
		"jank":               jank,
	})
	if jank {
		entry.Warn("Frame over budget")
		return
	}
	entry.Debug("Frame complete")
}

// LogFramePhases writes the per-phase durations of a frame as metrics.
func (s *StructuredLogger) LogFramePhases(ft frametiming.FrameTiming, extraLabels Labels) {
	s.LogDuration(MetricFrameTotalSpan, ft.TotalSpan(), extraLabels)

	for phase, d := range map[string]time.Duration{
		PhaseVsync:  ft.VsyncOverhead(),
		PhaseBuild:  ft.BuildDuration(),
		PhaseRaster: ft.RasterDuration(),
	} {
		s.LogDuration(MetricFramePhase, d, extraLabels.WithPhase(phase))
	}
}
