package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rahul-roy-glean/frame-timings/pkg/frametiming"
	"github.com/rahul-roy-glean/frame-timings/pkg/telemetry"
)

// Phase durations of a 60Hz frame sit around a few milliseconds; the buckets
// stretch out to catch multi-frame stalls.
var phaseBuckets = []float64{0.001, 0.002, 0.004, 0.008, 0.012, 0.016, 0.024, 0.033, 0.05, 0.1, 0.25}

var (
	// Frame phase metrics
	frameBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frame_build_duration_seconds",
		Help:    "Duration of the build phase of a frame",
		Buckets: phaseBuckets,
	})

	frameRasterDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frame_raster_duration_seconds",
		Help:    "Duration of the raster phase of a frame",
		Buckets: phaseBuckets,
	})

	frameVsyncOverhead = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frame_vsync_overhead_seconds",
		Help:    "Delay between the vsync signal and the start of the build phase",
		Buckets: phaseBuckets,
	})

	frameTotalSpan = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frame_total_span_seconds",
		Help:    "Time from the vsync signal to the end of rasterization",
		Buckets: phaseBuckets,
	})

	// Frame counters
	framesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frame_frames_total",
		Help: "Total number of frames rasterized",
	})

	framesJank = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frame_jank_total",
		Help: "Total number of frames whose build or raster phase exceeded the frame budget",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frame_dropped_total",
		Help: "Total number of frames abandoned before rasterization finished",
	}, []string{telemetry.LabelReason})

	rasterRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frame_raster_retries_total",
		Help: "Total number of raster attempts repeated on a cloned recorder",
	})

	lastFrameNumber = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frame_last_frame_number",
		Help: "Frame number of the most recently rasterized frame",
	})

	// Reporting metrics
	reportBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frame_report_batches_total",
		Help: "Total number of frame timing batches delivered to a sink",
	}, []string{telemetry.LabelSink, telemetry.LabelResult})

	reportLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "frame_report_latency_seconds",
		Help:    "Time a sink took to accept a batch of frame timings",
		Buckets: prometheus.DefBuckets,
	}, []string{telemetry.LabelSink})
)

// ObserveFrame records the phase durations of a completed frame.
func ObserveFrame(ft frametiming.FrameTiming, budget time.Duration) {
	frameBuildDuration.Observe(ft.BuildDuration().Seconds())
	frameRasterDuration.Observe(ft.RasterDuration().Seconds())
	frameVsyncOverhead.Observe(ft.VsyncOverhead().Seconds())
	frameTotalSpan.Observe(ft.TotalSpan().Seconds())
	framesTotal.Inc()
	if ft.IsJank(budget) {
		framesJank.Inc()
	}
	lastFrameNumber.Set(float64(ft.FrameNumber))
}

// RecordDroppedFrame records a frame abandoned for the given reason
func RecordDroppedFrame(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

// RecordRasterRetry records a raster attempt repeated on a clone
func RecordRasterRetry() {
	rasterRetries.Inc()
}

// RecordReportBatch records a batch delivery to a sink and how long it took
func RecordReportBatch(sink, result string, duration time.Duration) {
	reportBatches.WithLabelValues(sink, result).Inc()
	reportLatency.WithLabelValues(sink).Observe(duration.Seconds())
}
