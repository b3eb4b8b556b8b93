package report

import (
	"context"
	"time"

	"github.com/rahul-roy-glean/frame-timings/pkg/frametiming"
	"github.com/rahul-roy-glean/frame-timings/pkg/metrics"
	"github.com/rahul-roy-glean/frame-timings/pkg/telemetry"
)

// LogSink writes each frame as a structured log entry followed by its phase
// durations as log-based metrics.
type LogSink struct {
	logger *telemetry.StructuredLogger
	budget time.Duration
	labels telemetry.Labels
}

// NewLogSink creates a LogSink. Frames over budget are logged as warnings and
// their phase metrics carry a jank result label.
func NewLogSink(logger *telemetry.StructuredLogger, budget time.Duration, labels telemetry.Labels) *LogSink {
	return &LogSink{logger: logger, budget: budget, labels: labels}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) ReportTimings(_ context.Context, timings []frametiming.FrameTiming) error {
	for _, ft := range timings {
		s.logger.LogFrame(ft, s.budget)

		result := telemetry.ResultSuccess
		if ft.IsJank(s.budget) {
			result = telemetry.ResultJank
		}
		s.logger.LogFramePhases(ft, s.labels.WithResult(result))
	}
	return nil
}

// PrometheusSink feeds frames into the process Prometheus collectors.
type PrometheusSink struct {
	budget time.Duration
}

func NewPrometheusSink(budget time.Duration) *PrometheusSink {
	return &PrometheusSink{budget: budget}
}

func (s *PrometheusSink) Name() string { return "prometheus" }

func (s *PrometheusSink) ReportTimings(_ context.Context, timings []frametiming.FrameTiming) error {
	for _, ft := range timings {
		metrics.ObserveFrame(ft, s.budget)
	}
	return nil
}

// FrameRecorder records frames as Cloud Monitoring time series.
// *telemetry.Client implements it.
type FrameRecorder interface {
	RecordFrame(ctx context.Context, ft frametiming.FrameTiming, labels map[string]string)
	RecordInt(ctx context.Context, metric string, value int64, labels map[string]string)
}

// MonitoringSink buffers frames as Cloud Monitoring time series.
type MonitoringSink struct {
	client FrameRecorder
	labels telemetry.Labels
}

func NewMonitoringSink(client FrameRecorder, labels telemetry.Labels) *MonitoringSink {
	return &MonitoringSink{client: client, labels: labels}
}

func (s *MonitoringSink) Name() string { return "cloud-monitoring" }

func (s *MonitoringSink) ReportTimings(ctx context.Context, timings []frametiming.FrameTiming) error {
	for _, ft := range timings {
		s.client.RecordFrame(ctx, ft, s.labels)
	}
	s.client.RecordInt(ctx, telemetry.MetricReportBatchSize, int64(len(timings)), s.labels)
	return nil
}
