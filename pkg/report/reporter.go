// Package report delivers completed frame timings to reporting sinks.
package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/rahul-roy-glean/frame-timings/pkg/frametiming"
	"github.com/rahul-roy-glean/frame-timings/pkg/metrics"
	"github.com/rahul-roy-glean/frame-timings/pkg/telemetry"
)

// Sink receives batches of frame timings. Batches are shared between sinks
// and must not be modified.
type Sink interface {
	Name() string
	ReportTimings(ctx context.Context, timings []frametiming.FrameTiming) error
}

// Config holds configuration for a Reporter
type Config struct {
	// BatchSize is the number of pending frames that triggers a flush
	BatchSize int
	// FlushInterval is how often pending frames are flushed regardless of count
	FlushInterval time.Duration
	Logger        *logrus.Logger
	// Events, if set, receives a report latency metric per sink and batch
	Events *telemetry.StructuredLogger
}

// DefaultConfig returns a Config that reports about once a second, or every
// hundred frames when frames arrive faster.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// Reporter batches frame timings and delivers them to its sinks.
// The first frame is delivered as soon as it arrives so that consumers see
// a frame without waiting for a full batch.
type Reporter struct {
	config Config
	sinks  []Sink
	logger *logrus.Entry

	mu        sync.Mutex
	pending   []frametiming.FrameTiming
	delivered bool
	closed    bool

	flushMu   sync.Mutex
	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewReporter creates a Reporter for the given sinks.
func NewReporter(cfg Config, sinks ...Sink) *Reporter {
	defaults := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	return &Reporter{
		config:  cfg,
		sinks:   sinks,
		logger:  logger.WithField("component", "frame-reporter"),
		pending: make([]frametiming.FrameTiming, 0, cfg.BatchSize),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start runs the flush loop until ctx is cancelled or Close is called.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.flushLoop(ctx)
	}()
}

// Submit queues a completed frame. It never blocks on sinks. Frames
// submitted after Close are dropped.
func (r *Reporter) Submit(ft frametiming.FrameTiming) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.WithField("frame_number", ft.FrameNumber).Debug("Reporter closed, dropping frame")
		return
	}
	r.pending = append(r.pending, ft)
	shouldFlush := !r.delivered || len(r.pending) >= r.config.BatchSize
	r.delivered = true
	r.mu.Unlock()

	if shouldFlush {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of frames waiting for the next flush.
func (r *Reporter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush delivers all pending frames to every sink. A failing sink does not
// keep the batch from the others; all sink errors are returned together.
func (r *Reporter) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.pending
	r.pending = make([]frametiming.FrameTiming, 0, r.config.BatchSize)
	r.mu.Unlock()

	var errs error
	for _, sink := range r.sinks {
		log := r.logger.WithFields(logrus.Fields{
			telemetry.LabelSink: sink.Name(),
			"count":             len(batch),
		})
		start := time.Now()
		err := sink.ReportTimings(ctx, batch)
		result := telemetry.ResultSuccess
		if err != nil {
			result = telemetry.ResultFailure
		}
		r.recordLatency(sink.Name(), result, time.Since(start))

		if err != nil {
			log.WithError(err).Warn("Failed to report frame timings")
			errs = multierr.Append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
			continue
		}
		log.Debug("Reported frame timings")
	}
	return errs
}

func (r *Reporter) recordLatency(sink, result string, d time.Duration) {
	metrics.RecordReportBatch(sink, result, d)
	if r.config.Events != nil {
		labels := telemetry.Labels{telemetry.LabelSink: sink}.WithResult(result)
		r.config.Events.LogDuration(telemetry.MetricReportLatency, d, labels)
	}
}

// Close stops the flush loop and delivers whatever is still pending.
func (r *Reporter) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.Flush(ctx)
}

func (r *Reporter) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
		case <-r.kick:
		}
		if err := r.Flush(ctx); err != nil {
			r.logger.WithError(err).Debug("Flush finished with errors")
		}
	}
}
