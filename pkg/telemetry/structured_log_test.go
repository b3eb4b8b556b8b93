package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/rahul-roy-glean/frame-timings/pkg/frametiming"
)

func sampleFrame(build, raster time.Duration) frametiming.FrameTiming {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	buildStart := start.Add(time.Millisecond)
	rasterStart := buildStart.Add(build + time.Millisecond)
	return frametiming.FrameTiming{
		FrameNumber: 42,
		VsyncStart:  start,
		VsyncTarget: start.Add(DefaultFrameBudget),
		BuildStart:  buildStart,
		BuildEnd:    buildStart.Add(build),
		RasterStart: rasterStart,
		RasterEnd:   rasterStart.Add(raster),
	}
}

func TestLogFrame(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s := NewStructuredLogger(logger, "frame-pipeline", "pipe-1")

	s.LogFrame(sampleFrame(4*time.Millisecond, 5*time.Millisecond), DefaultFrameBudget)
	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("no log entry")
	}
	if entry.Level != logrus.DebugLevel {
		t.Errorf("level = %s, want debug", entry.Level)
	}
	if got := entry.Data["frame_number"]; got != uint64(42) {
		t.Errorf("frame_number = %v, want 42", got)
	}
	if got := entry.Data["build_us"]; got != int64(4000) {
		t.Errorf("build_us = %v, want 4000", got)
	}
	if got := entry.Data["component"]; got != "frame-pipeline" {
		t.Errorf("component = %v", got)
	}

	s.LogFrame(sampleFrame(4*time.Millisecond, 30*time.Millisecond), DefaultFrameBudget)
	entry = hook.LastEntry()
	if entry.Level != logrus.WarnLevel || entry.Data["jank"] != true {
		t.Errorf("jank frame logged at %s with jank=%v", entry.Level, entry.Data["jank"])
	}
}

func TestLogFramePhases(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := NewStructuredLogger(logger, "frame-pipeline", "pipe-1")

	s.LogFramePhases(sampleFrame(4*time.Millisecond, 5*time.Millisecond), Labels{LabelPipeline: "pipe-1"})

	entries := hook.AllEntries()
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}
	phases := map[interface{}]bool{}
	for _, e := range entries[1:] {
		if e.Data["metric_type"] != MetricFramePhase {
			t.Errorf("metric_type = %v", e.Data["metric_type"])
		}
		phases[e.Data["label_"+LabelPhase]] = true
	}
	for _, p := range []string{PhaseVsync, PhaseBuild, PhaseRaster} {
		if !phases[p] {
			t.Errorf("missing phase %q", p)
		}
	}
}

func TestDisabledClientIsNoop(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := DefaultConfig()
	cfg.Enabled = false

	c, err := NewClient(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Enabled() {
		t.Fatal("disabled client reports enabled")
	}
	c.RecordFrame(context.Background(), sampleFrame(time.Millisecond, time.Millisecond), nil)
	c.Flush(context.Background())
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestLabelsWithCopies(t *testing.T) {
	base := Labels{LabelPipeline: "p"}
	withPhase := base.WithPhase(PhaseBuild)
	if _, ok := base[LabelPhase]; ok {
		t.Error("WithPhase modified the receiver")
	}
	if withPhase[LabelPhase] != PhaseBuild || withPhase[LabelPipeline] != "p" {
		t.Errorf("WithPhase = %v", withPhase)
	}
}
