// Package pipeline drives frames through vsync, build and raster goroutines,
// recording each phase on a frametiming.Recorder that is handed from one
// goroutine to the next.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rahul-roy-glean/frame-timings/pkg/frametiming"
	"github.com/rahul-roy-glean/frame-timings/pkg/metrics"
	"github.com/rahul-roy-glean/frame-timings/pkg/telemetry"
)

// Stage does the work of one phase of a frame.
type Stage func(ctx context.Context, frameNumber uint64) error

// Config holds configuration for a Pipeline
type Config struct {
	// VsyncInterval is the display refresh period; each vsync targets the next one
	VsyncInterval time.Duration
	// Build runs on the UI goroutine
	Build Stage
	// Raster runs on the raster goroutine
	Raster Stage
	// MaxRasterAttempts bounds how often a failed raster is retried without rebuilding
	MaxRasterAttempts int
	Logger            *logrus.Logger
	// Events, if set, receives a frame_dropped event and counter per dropped frame
	Events *telemetry.StructuredLogger
}

// DefaultConfig returns a 60Hz pipeline whose stages do nothing.
func DefaultConfig() Config {
	noop := func(context.Context, uint64) error { return nil }
	return Config{
		VsyncInterval:     telemetry.DefaultFrameBudget,
		Build:             noop,
		Raster:            noop,
		MaxRasterAttempts: 3,
	}
}

// Stats counts frames by outcome.
type Stats struct {
	Started   uint64 `json:"started"`
	Completed uint64 `json:"completed"`
	Dropped   uint64 `json:"dropped"`
	Retried   uint64 `json:"retried"`
	Failed    uint64 `json:"failed"`
}

// Pipeline schedules frames. Completed frame timings are passed to submit
// from the raster goroutine in frame number order.
type Pipeline struct {
	config Config
	submit func(frametiming.FrameTiming)
	logger *logrus.Entry

	started   atomic.Uint64
	completed atomic.Uint64
	dropped   atomic.Uint64
	retried   atomic.Uint64
	failed    atomic.Uint64
}

// New creates a Pipeline. Zero fields of cfg take their DefaultConfig value.
func New(cfg Config, submit func(frametiming.FrameTiming)) *Pipeline {
	defaults := DefaultConfig()
	if cfg.VsyncInterval <= 0 {
		cfg.VsyncInterval = defaults.VsyncInterval
	}
	if cfg.Build == nil {
		cfg.Build = defaults.Build
	}
	if cfg.Raster == nil {
		cfg.Raster = defaults.Raster
	}
	if cfg.MaxRasterAttempts <= 0 {
		cfg.MaxRasterAttempts = defaults.MaxRasterAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	return &Pipeline{
		config: cfg,
		submit: submit,
		logger: logger.WithField("component", "frame-pipeline"),
	}
}

// Stats returns the frame counters so far.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Started:   p.started.Load(),
		Completed: p.completed.Load(),
		Dropped:   p.dropped.Load(),
		Retried:   p.retried.Load(),
		Failed:    p.failed.Load(),
	}
}

// Run produces frames until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	// Unbuffered: vsync only hands a frame over when the UI goroutine is idle.
	buildCh := make(chan *frametiming.Recorder)
	// One built frame may wait while the previous one is rasterized.
	rasterCh := make(chan *frametiming.Recorder, 1)

	p.logger.WithField("vsync_interval", p.config.VsyncInterval).Info("Starting frame pipeline")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.vsyncLoop(ctx, buildCh) })
	g.Go(func() error { return p.buildLoop(ctx, buildCh, rasterCh) })
	g.Go(func() error { return p.rasterLoop(ctx, rasterCh) })
	err := g.Wait()

	p.logger.WithFields(logrus.Fields{
		"started":   p.started.Load(),
		"completed": p.completed.Load(),
		"dropped":   p.dropped.Load(),
	}).Info("Frame pipeline stopped")
	return err
}

func (p *Pipeline) vsyncLoop(ctx context.Context, buildCh chan<- *frametiming.Recorder) error {
	ticker := time.NewTicker(p.config.VsyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		rec := frametiming.NewRecorder()
		start := time.Now()
		rec.RecordVsync(start, start.Add(p.config.VsyncInterval))
		p.started.Add(1)

		select {
		case buildCh <- rec:
		default:
			p.drop(rec, telemetry.ReasonUIBusy, nil)
		}
	}
}

func (p *Pipeline) buildLoop(ctx context.Context, buildCh <-chan *frametiming.Recorder, rasterCh chan<- *frametiming.Recorder) error {
	for {
		var rec *frametiming.Recorder
		select {
		case <-ctx.Done():
			return nil
		case rec = <-buildCh:
		}

		rec.RecordBuildStart(time.Now())
		if err := p.config.Build(ctx, rec.FrameNumber()); err != nil {
			p.failed.Add(1)
			p.drop(rec, telemetry.ReasonBuildFailed, err)
			continue
		}
		rec.RecordBuildEnd(time.Now())

		select {
		case rasterCh <- rec:
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Pipeline) rasterLoop(ctx context.Context, rasterCh <-chan *frametiming.Recorder) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec := <-rasterCh:
			p.rasterize(ctx, rec)
		}
	}
}

// rasterize runs the raster stage for a built frame. Retries continue on a
// clone taken at build end so the frame is not rebuilt.
func (p *Pipeline) rasterize(ctx context.Context, built *frametiming.Recorder) {
	rec := built
	for attempt := 1; ; attempt++ {
		rec.RecordRasterStart(time.Now())
		err := p.config.Raster(ctx, rec.FrameNumber())
		if err == nil {
			ft := rec.RecordRasterEnd(time.Now())
			p.completed.Add(1)
			if p.submit != nil {
				p.submit(ft)
			}
			return
		}

		if attempt >= p.config.MaxRasterAttempts || ctx.Err() != nil {
			p.failed.Add(1)
			p.drop(rec, telemetry.ReasonRasterFailed, err)
			return
		}

		p.retried.Add(1)
		metrics.RecordRasterRetry()
		p.logger.WithError(err).WithFields(logrus.Fields{
			"frame_number": rec.FrameNumber(),
			"attempt":      attempt,
		}).Debug("Retrying raster")
		rec = built.CloneUntil(frametiming.StateBuildEnd)
	}
}

func (p *Pipeline) drop(rec *frametiming.Recorder, reason string, err error) {
	p.dropped.Add(1)
	metrics.RecordDroppedFrame(reason)

	fields := logrus.Fields{
		"frame_number":        rec.FrameNumber(),
		"state":               rec.State().String(),
		telemetry.LabelReason: reason,
	}
	if err != nil {
		fields[logrus.ErrorKey] = err.Error()
	}
	p.logger.WithFields(fields).Debug("Dropped frame")

	if p.config.Events != nil {
		p.config.Events.LogEvent("frame_dropped", fields)
		p.config.Events.LogCounter(telemetry.MetricFramesDropped, telemetry.Labels{telemetry.LabelReason: reason})
	}
}
