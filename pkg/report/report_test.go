package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/rahul-roy-glean/frame-timings/pkg/frametiming"
	"github.com/rahul-roy-glean/frame-timings/pkg/telemetry"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func frame(n uint64, build, raster time.Duration) frametiming.FrameTiming {
	start := epoch.Add(time.Duration(n) * 16 * time.Millisecond)
	return frametiming.FrameTiming{
		FrameNumber: n,
		VsyncStart:  start,
		VsyncTarget: start.Add(16 * time.Millisecond),
		BuildStart:  start.Add(time.Millisecond),
		BuildEnd:    start.Add(time.Millisecond + build),
		RasterStart: start.Add(2*time.Millisecond + build),
		RasterEnd:   start.Add(2*time.Millisecond + build + raster),
	}
}

type chanSink struct {
	batches chan []frametiming.FrameTiming
	err     error
}

func newChanSink() *chanSink {
	return &chanSink{batches: make(chan []frametiming.FrameTiming, 16)}
}

func (s *chanSink) Name() string { return "chan" }

func (s *chanSink) ReportTimings(_ context.Context, timings []frametiming.FrameTiming) error {
	s.batches <- timings
	return s.err
}

func (s *chanSink) next(t *testing.T) []frametiming.FrameTiming {
	t.Helper()
	select {
	case b := <-s.batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a batch")
		return nil
	}
}

func frameNumbers(batch []frametiming.FrameTiming) []uint64 {
	var nums []uint64
	for _, ft := range batch {
		nums = append(nums, ft.FrameNumber)
	}
	return nums
}

func TestReporterDeliversFirstFrameImmediately(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := newChanSink()
	r := NewReporter(Config{BatchSize: 3, FlushInterval: time.Hour, Logger: logger}, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	r.Submit(frame(1, time.Millisecond, time.Millisecond))
	if got := frameNumbers(sink.next(t)); !cmp.Equal(got, []uint64{1}) {
		t.Fatalf("first batch = %v, want [1]", got)
	}

	// Later frames wait for a full batch.
	r.Submit(frame(2, time.Millisecond, time.Millisecond))
	r.Submit(frame(3, time.Millisecond, time.Millisecond))
	select {
	case b := <-sink.batches:
		t.Fatalf("unexpected early batch %v", frameNumbers(b))
	case <-time.After(50 * time.Millisecond):
	}
	r.Submit(frame(4, time.Millisecond, time.Millisecond))
	if got := frameNumbers(sink.next(t)); !cmp.Equal(got, []uint64{2, 3, 4}) {
		t.Fatalf("second batch = %v, want [2 3 4]", got)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestReporterFlushesOnInterval(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := newChanSink()
	r := NewReporter(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond, Logger: logger}, sink)
	r.Start(context.Background())
	defer r.Close()

	r.Submit(frame(1, time.Millisecond, time.Millisecond))
	sink.next(t)
	r.Submit(frame(2, time.Millisecond, time.Millisecond))
	if got := frameNumbers(sink.next(t)); !cmp.Equal(got, []uint64{2}) {
		t.Fatalf("interval batch = %v, want [2]", got)
	}
}

func TestReporterCloseFlushesPending(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := newChanSink()
	r := NewReporter(Config{BatchSize: 100, FlushInterval: time.Hour, Logger: logger}, sink)

	// Without Start nothing is delivered until Close.
	for n := uint64(1); n <= 3; n++ {
		r.Submit(frame(n, time.Millisecond, time.Millisecond))
	}
	if got := r.Pending(); got != 3 {
		t.Fatalf("Pending() = %d, want 3", got)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := frameNumbers(sink.next(t)); !cmp.Equal(got, []uint64{1, 2, 3}) {
		t.Fatalf("batch = %v, want [1 2 3]", got)
	}
	if got := r.Pending(); got != 0 {
		t.Fatalf("Pending() after Close = %d, want 0", got)
	}
}

func TestReporterSinkErrorDoesNotBlockOthers(t *testing.T) {
	logger, _ := test.NewNullLogger()
	failing := newChanSink()
	failing.err = errors.New("bucket unavailable")
	timeline := NewTimeline(8, 16*time.Millisecond)
	r := NewReporter(Config{Logger: logger}, failing, timeline)

	r.Submit(frame(1, time.Millisecond, time.Millisecond))
	err := r.Flush(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bucket unavailable") {
		t.Fatalf("Flush() = %v, want sink error", err)
	}
	if got := timeline.Snapshot().TotalFrames; got != 1 {
		t.Fatalf("timeline got %d frames, want 1", got)
	}
}

func TestTimelineWrapsAndCountsJank(t *testing.T) {
	tl := NewTimeline(3, 16*time.Millisecond)
	for n := uint64(1); n <= 5; n++ {
		raster := time.Millisecond
		if n%2 == 0 {
			raster = 20 * time.Millisecond
		}
		if err := tl.ReportTimings(context.Background(), []frametiming.FrameTiming{frame(n, time.Millisecond, raster)}); err != nil {
			t.Fatal(err)
		}
	}

	snap := tl.Snapshot()
	if got := frameNumbers(snap.Frames); !cmp.Equal(got, []uint64{3, 4, 5}) {
		t.Errorf("frames = %v, want [3 4 5]", got)
	}
	if snap.TotalFrames != 5 || snap.JankFrames != 2 {
		t.Errorf("total/jank = %d/%d, want 5/2", snap.TotalFrames, snap.JankFrames)
	}
	if snap.BudgetMs != 16 {
		t.Errorf("BudgetMs = %v, want 16", snap.BudgetMs)
	}
}

func TestTimelineBelowCapacity(t *testing.T) {
	tl := NewTimeline(0, 16*time.Millisecond)
	if err := tl.ReportTimings(context.Background(), []frametiming.FrameTiming{frame(1, 0, 0), frame(2, 0, 0)}); err != nil {
		t.Fatal(err)
	}
	if got := frameNumbers(tl.Snapshot().Frames); !cmp.Equal(got, []uint64{1, 2}) {
		t.Errorf("frames = %v, want [1 2]", got)
	}
}

type memObject struct {
	bytes.Buffer
	contentType string
	closed      bool
}

func (o *memObject) Close() error {
	o.closed = true
	return nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string]*memObject
}

func (s *memStore) NewWriter(_ context.Context, name, contentType string) io.WriteCloser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string]*memObject)
	}
	o := &memObject{contentType: contentType}
	s.objects[name] = o
	return o
}

func TestArchiveSinkWritesJSONLines(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := &memStore{}
	a := NewArchiveSink(ArchiveConfig{Store: store, Prefix: "frames", PipelineID: "pipe-1", Logger: logger})

	batch := []frametiming.FrameTiming{frame(7, time.Millisecond, 2*time.Millisecond), frame(8, 3*time.Millisecond, time.Millisecond)}
	if err := a.ReportTimings(context.Background(), batch); err != nil {
		t.Fatalf("ReportTimings: %v", err)
	}

	name := "frames/pipe-1/frames-0000000007-0000000008.jsonl"
	obj, ok := store.objects[name]
	if !ok {
		t.Fatalf("object %q not written; have %v", name, store.objects)
	}
	if !obj.closed || obj.contentType != "application/x-ndjson" {
		t.Errorf("closed=%t contentType=%q", obj.closed, obj.contentType)
	}

	var got []frametiming.FrameTiming
	dec := json.NewDecoder(&obj.Buffer)
	for dec.More() {
		var ft frametiming.FrameTiming
		if err := dec.Decode(&ft); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		got = append(got, ft)
	}
	if diff := cmp.Diff(batch, got); diff != "" {
		t.Errorf("archived frames mismatch (-want +got):\n%s", diff)
	}
}

func TestArchiveSinkSkipsEmptyBatch(t *testing.T) {
	store := &memStore{}
	a := NewArchiveSink(ArchiveConfig{Store: store, PipelineID: "p"})
	if err := a.ReportTimings(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(store.objects) != 0 {
		t.Errorf("wrote %d objects for an empty batch", len(store.objects))
	}
}

func TestReporterDropsFramesAfterClose(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sink := newChanSink()
	r := NewReporter(Config{Logger: logger}, sink)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r.Submit(frame(1, time.Millisecond, time.Millisecond))
	if got := r.Pending(); got != 0 {
		t.Fatalf("Pending() after Close = %d, want 0", got)
	}
	last := hook.LastEntry()
	if last == nil || last.Message != "Reporter closed, dropping frame" || last.Data["frame_number"] != uint64(1) {
		t.Fatalf("last log entry = %+v, want dropped frame 1", last)
	}
}

func TestReporterRecordsLatencyPerSink(t *testing.T) {
	logger, _ := test.NewNullLogger()
	eventLogger, hook := test.NewNullLogger()
	failing := newChanSink()
	failing.err = errors.New("bucket unavailable")
	timeline := NewTimeline(8, 16*time.Millisecond)
	r := NewReporter(Config{
		Logger: logger,
		Events: telemetry.NewStructuredLogger(eventLogger, "frame-reporter", "p-1"),
	}, failing, timeline)

	r.Submit(frame(1, time.Millisecond, time.Millisecond))
	if err := r.Flush(context.Background()); err == nil {
		t.Fatal("Flush() = nil, want sink error")
	}

	results := map[string]string{}
	for _, e := range hook.AllEntries() {
		if e.Data["metric_type"] != telemetry.MetricReportLatency {
			t.Errorf("unexpected metric %v", e.Data["metric_type"])
			continue
		}
		sink, _ := e.Data["label_"+telemetry.LabelSink].(string)
		results[sink], _ = e.Data["label_"+telemetry.LabelResult].(string)
	}
	want := map[string]string{
		"chan":     telemetry.ResultFailure,
		"timeline": telemetry.ResultSuccess,
	}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("latency results mismatch (-want +got):\n%s", diff)
	}
}

func TestLogSinkWritesFrameAndPhases(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	structured := telemetry.NewStructuredLogger(logger, "frame-pipeline", "p-1")
	sink := NewLogSink(structured, 16*time.Millisecond, telemetry.Labels{telemetry.LabelPipeline: "p-1"})

	batch := []frametiming.FrameTiming{
		frame(1, time.Millisecond, time.Millisecond),
		frame(2, time.Millisecond, 20*time.Millisecond),
	}
	if err := sink.ReportTimings(context.Background(), batch); err != nil {
		t.Fatal(err)
	}

	// One frame entry plus the total span and three phases per frame.
	entries := hook.AllEntries()
	if len(entries) != 10 {
		t.Fatalf("got %d entries, want 10", len(entries))
	}
	for i, wantResult := range []string{telemetry.ResultSuccess, telemetry.ResultJank} {
		frameEntries := entries[i*5 : i*5+5]
		if frameEntries[0].Data["event"] != "frame_complete" {
			t.Errorf("frame %d: first entry = %v, want frame_complete", i+1, frameEntries[0].Data)
		}
		for _, e := range frameEntries[1:] {
			if e.Data["label_"+telemetry.LabelResult] != wantResult {
				t.Errorf("frame %d: result label = %v, want %s", i+1, e.Data["label_"+telemetry.LabelResult], wantResult)
			}
			if e.Data["label_"+telemetry.LabelPipeline] != "p-1" {
				t.Errorf("frame %d: pipeline label = %v, want p-1", i+1, e.Data["label_"+telemetry.LabelPipeline])
			}
		}
	}
	if entries[5].Level != logrus.WarnLevel {
		t.Errorf("jank frame logged at %v, want warning", entries[5].Level)
	}
}

type recordedInt struct {
	metric string
	value  int64
}

type fakeFrameRecorder struct {
	frames []uint64
	ints   []recordedInt
	labels []map[string]string
}

func (f *fakeFrameRecorder) RecordFrame(_ context.Context, ft frametiming.FrameTiming, labels map[string]string) {
	f.frames = append(f.frames, ft.FrameNumber)
	f.labels = append(f.labels, labels)
}

func (f *fakeFrameRecorder) RecordInt(_ context.Context, metric string, value int64, labels map[string]string) {
	f.ints = append(f.ints, recordedInt{metric: metric, value: value})
	f.labels = append(f.labels, labels)
}

func TestMonitoringSinkRecordsEveryFrame(t *testing.T) {
	rec := &fakeFrameRecorder{}
	labels := telemetry.Labels{telemetry.LabelPipeline: "p-1"}
	sink := NewMonitoringSink(rec, labels)

	batch := []frametiming.FrameTiming{frame(3, 0, 0), frame(4, 0, 0), frame(5, 0, 0)}
	if err := sink.ReportTimings(context.Background(), batch); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]uint64{3, 4, 5}, rec.frames); diff != "" {
		t.Errorf("recorded frames mismatch (-want +got):\n%s", diff)
	}
	wantInts := []recordedInt{{metric: telemetry.MetricReportBatchSize, value: 3}}
	if diff := cmp.Diff(wantInts, rec.ints, cmp.AllowUnexported(recordedInt{})); diff != "" {
		t.Errorf("recorded ints mismatch (-want +got):\n%s", diff)
	}
	for _, l := range rec.labels {
		if l[telemetry.LabelPipeline] != "p-1" {
			t.Errorf("labels = %v, want pipeline p-1", l)
		}
	}
}
