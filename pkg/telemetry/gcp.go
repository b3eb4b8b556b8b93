package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	monitoring "cloud.google.com/go/monitoring/apiv3/v2"
	"cloud.google.com/go/monitoring/apiv3/v2/monitoringpb"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/timestamppb"

	metricpb "google.golang.org/genproto/googleapis/api/metric"
	monitoredres "google.golang.org/genproto/googleapis/api/monitoredres"

	"github.com/rahul-roy-glean/frame-timings/pkg/frametiming"
)

// metricWriter is the part of monitoring.MetricClient the Client uses.
type metricWriter interface {
	CreateTimeSeries(ctx context.Context, req *monitoringpb.CreateTimeSeriesRequest, opts ...gax.CallOption) error
	Close() error
}

// Client is a GCP Cloud Monitoring client for recording frame metrics.
type Client struct {
	config   Config
	client   metricWriter
	logger   *logrus.Entry
	resource *monitoredres.MonitoredResource

	// startTime is the fixed start of every cumulative point this client writes.
	startTime time.Time

	mu       sync.Mutex
	buffer   []*monitoringpb.TimeSeries
	counters map[string]int64
	done     chan struct{}
}

// NewClient creates a new telemetry Client.
// If telemetry is disabled in config, returns a no-op client.
func NewClient(ctx context.Context, config Config, logger *logrus.Logger, opts ...option.ClientOption) (*Client, error) {
	log := logger.WithField("component", "telemetry")

	if !config.Enabled {
		log.Info("Telemetry disabled")
		return &Client{config: config, logger: log}, nil
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := monitoring.NewMetricClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitoring client: %w", err)
	}

	c := newClient(config, client, log)

	// Start background flush loop
	go c.flushLoop(ctx)

	log.WithFields(logrus.Fields{
		"project":        config.ProjectID,
		"component":      config.Component,
		"flush_interval": config.FlushInterval,
	}).Info("Telemetry initialized")

	return c, nil
}

func newClient(config Config, client metricWriter, log *logrus.Entry) *Client {
	return &Client{
		config: config,
		client: client,
		logger: log,
		resource: &monitoredres.MonitoredResource{
			Type: "global",
			Labels: map[string]string{
				"project_id": config.ProjectID,
			},
		},
		startTime: time.Now(),
		buffer:    make([]*monitoringpb.TimeSeries, 0, config.BufferSize),
		counters:  make(map[string]int64),
		done:      make(chan struct{}),
	}
}

// Enabled reports whether the client sends anything.
func (c *Client) Enabled() bool {
	return c.client != nil
}

// Close shuts down the client and flushes any remaining metrics.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	close(c.done)

	// Final flush
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.Flush(ctx)

	return c.client.Close()
}

// flushLoop periodically flushes buffered metrics.
func (c *Client) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.Flush(ctx)
		}
	}
}

// Flush sends all buffered metrics to Cloud Monitoring.
func (c *Client) Flush(ctx context.Context) {
	if c.client == nil {
		return
	}

	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	timeSeries := latestPerSeries(c.buffer)
	c.buffer = make([]*monitoringpb.TimeSeries, 0, c.config.BufferSize)
	c.mu.Unlock()

	// Cloud Monitoring API limits to 200 time series per request
	const batchSize = 200
	for i := 0; i < len(timeSeries); i += batchSize {
		end := i + batchSize
		if end > len(timeSeries) {
			end = len(timeSeries)
		}
		batch := timeSeries[i:end]

		req := &monitoringpb.CreateTimeSeriesRequest{
			Name:       fmt.Sprintf("projects/%s", c.config.ProjectID),
			TimeSeries: batch,
		}

		if err := c.client.CreateTimeSeries(ctx, req); err != nil {
			c.logger.WithError(err).WithField("count", len(batch)).Warn("Failed to write metrics")
		} else {
			c.logger.WithField("count", len(batch)).Debug("Flushed metrics")
		}
	}
}

// latestPerSeries keeps only the newest point of each series, since a
// CreateTimeSeries request may not name the same series twice.
func latestPerSeries(buffer []*monitoringpb.TimeSeries) []*monitoringpb.TimeSeries {
	index := make(map[string]int, len(buffer))
	out := make([]*monitoringpb.TimeSeries, 0, len(buffer))
	for _, ts := range buffer {
		key := seriesKey(ts.Metric.Type, ts.Metric.Labels)
		if i, ok := index[key]; ok {
			out[i] = ts
			continue
		}
		index[key] = len(out)
		out = append(out, ts)
	}
	return out
}

func seriesKey(metricType string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(metricType)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

// metricType returns the full metric type string.
func (c *Client) metricType(name string) string {
	return c.config.MetricPrefix + "/" + name
}

// baseLabels returns labels that should be included with all metrics.
func (c *Client) baseLabels() map[string]string {
	labels := make(map[string]string)
	if c.config.Component != "" {
		labels[LabelComponent] = c.config.Component
	}
	if c.config.Environment != "" {
		labels[LabelEnvironment] = c.config.Environment
	}
	return labels
}

// mergeLabels combines base labels with additional labels.
func (c *Client) mergeLabels(additional map[string]string) map[string]string {
	labels := c.baseLabels()
	for k, v := range additional {
		labels[k] = v
	}
	return labels
}

// RecordDuration records a timing metric as a DOUBLE value in seconds.
func (c *Client) RecordDuration(ctx context.Context, metric string, duration time.Duration, labels map[string]string) {
	c.RecordFloat(ctx, metric, duration.Seconds(), labels)
}

// RecordFloat records a float64 gauge metric.
func (c *Client) RecordFloat(ctx context.Context, metric string, value float64, labels map[string]string) {
	if c.client == nil {
		return
	}
	c.addToBuffer(c.gauge(metric, labels, &monitoringpb.TypedValue{
		Value: &monitoringpb.TypedValue_DoubleValue{DoubleValue: value},
	}))
}

// RecordInt records an int64 gauge metric.
func (c *Client) RecordInt(ctx context.Context, metric string, value int64, labels map[string]string) {
	if c.client == nil {
		return
	}
	c.addToBuffer(c.gauge(metric, labels, &monitoringpb.TypedValue{
		Value: &monitoringpb.TypedValue_Int64Value{Int64Value: value},
	}))
}

// IncrementCounter increments a counter metric by 1.
func (c *Client) IncrementCounter(ctx context.Context, metric string, labels map[string]string) {
	c.AddToCounter(ctx, metric, 1, labels)
}

// AddToCounter adds a value to a counter metric kept by the client and
// writes the new running total.
func (c *Client) AddToCounter(ctx context.Context, metric string, value int64, labels map[string]string) {
	if c.client == nil {
		return
	}

	merged := c.mergeLabels(labels)
	key := seriesKey(c.metricType(metric), merged)

	// Totals are buffered under the same lock so a later point never carries
	// a smaller total.
	c.mu.Lock()
	c.counters[key] += value
	c.buffer = append(c.buffer, c.cumulative(metric, merged, c.counters[key]))
	shouldFlush := len(c.buffer) >= c.config.BufferSize
	c.mu.Unlock()

	if shouldFlush {
		go c.Flush(context.Background())
	}
}

// RecordCumulative writes a running total that is counted outside the
// client, such as the pipeline's frame counters.
func (c *Client) RecordCumulative(ctx context.Context, metric string, total int64, labels map[string]string) {
	if c.client == nil {
		return
	}
	c.addToBuffer(c.cumulative(metric, c.mergeLabels(labels), total))
}

// cumulative builds a CUMULATIVE point. Every point of a series shares the
// client's start time so that successive totals form one monotonic series.
func (c *Client) cumulative(metric string, labels map[string]string, total int64) *monitoringpb.TimeSeries {
	return &monitoringpb.TimeSeries{
		Metric: &metricpb.Metric{
			Type:   c.metricType(metric),
			Labels: labels,
		},
		Resource:   c.resource,
		MetricKind: metricpb.MetricDescriptor_CUMULATIVE,
		Points: []*monitoringpb.Point{{
			Interval: &monitoringpb.TimeInterval{
				StartTime: timestamppb.New(c.startTime),
				EndTime:   timestamppb.New(time.Now()),
			},
			Value: &monitoringpb.TypedValue{
				Value: &monitoringpb.TypedValue_Int64Value{Int64Value: total},
			},
		}},
	}
}

func (c *Client) gauge(metric string, labels map[string]string, value *monitoringpb.TypedValue) *monitoringpb.TimeSeries {
	return &monitoringpb.TimeSeries{
		Metric: &metricpb.Metric{
			Type:   c.metricType(metric),
			Labels: c.mergeLabels(labels),
		},
		Resource: c.resource,
		Points: []*monitoringpb.Point{{
			Interval: &monitoringpb.TimeInterval{
				EndTime: timestamppb.New(time.Now()),
			},
			Value: value,
		}},
	}
}

// addToBuffer adds a time series to the buffer, flushing if full.
func (c *Client) addToBuffer(ts *monitoringpb.TimeSeries) {
	c.mu.Lock()
	c.buffer = append(c.buffer, ts)
	shouldFlush := len(c.buffer) >= c.config.BufferSize
	c.mu.Unlock()

	if shouldFlush {
		go c.Flush(context.Background())
	}
}

// RecordFrame records the phase durations of one completed frame, and a jank
// counter increment if it ran over the configured budget.
func (c *Client) RecordFrame(ctx context.Context, ft frametiming.FrameTiming, extraLabels map[string]string) {
	if c.client == nil {
		return
	}

	c.RecordDuration(ctx, MetricFrameBuildDuration, ft.BuildDuration(), extraLabels)
	c.RecordDuration(ctx, MetricFrameRasterDuration, ft.RasterDuration(), extraLabels)
	c.RecordDuration(ctx, MetricFrameVsyncOverhead, ft.VsyncOverhead(), extraLabels)
	c.RecordDuration(ctx, MetricFrameTotalSpan, ft.TotalSpan(), extraLabels)

	if ft.IsJank(c.config.FrameBudget) {
		c.IncrementCounter(ctx, MetricFramesJank, extraLabels)
	}
}
