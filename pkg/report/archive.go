package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/rahul-roy-glean/frame-timings/pkg/frametiming"
)

// ObjectStore creates objects by name.
type ObjectStore interface {
	NewWriter(ctx context.Context, name, contentType string) io.WriteCloser
}

// GCSStore is an ObjectStore backed by a GCS bucket
type GCSStore struct {
	bucket string
	client *storage.Client
}

// NewGCSStore creates a GCS-backed store for bucket.
func NewGCSStore(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{bucket: bucket, client: client}, nil
}

func (s *GCSStore) NewWriter(ctx context.Context, name, contentType string) io.WriteCloser {
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	return w
}

// Close closes the underlying client
func (s *GCSStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// ArchiveConfig holds configuration for an ArchiveSink
type ArchiveConfig struct {
	Store      ObjectStore
	Prefix     string
	PipelineID string
	Logger     *logrus.Logger
}

// ArchiveSink stores every batch as one JSON-lines object named
// <prefix>/<pipeline>/frames-<first>-<last>.jsonl.
type ArchiveSink struct {
	store      ObjectStore
	prefix     string
	pipelineID string
	logger     *logrus.Entry
}

// NewArchiveSink creates an ArchiveSink
func NewArchiveSink(cfg ArchiveConfig) *ArchiveSink {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &ArchiveSink{
		store:      cfg.Store,
		prefix:     cfg.Prefix,
		pipelineID: cfg.PipelineID,
		logger:     logger.WithField("component", "frame-archive"),
	}
}

func (a *ArchiveSink) Name() string { return "archive" }

// ObjectName returns the object a batch spanning first..last is stored under.
func (a *ArchiveSink) ObjectName(first, last uint64) string {
	return path.Join(a.prefix, a.pipelineID, fmt.Sprintf("frames-%010d-%010d.jsonl", first, last))
}

func (a *ArchiveSink) ReportTimings(ctx context.Context, timings []frametiming.FrameTiming) error {
	if len(timings) == 0 {
		return nil
	}

	start := time.Now()
	name := a.ObjectName(timings[0].FrameNumber, timings[len(timings)-1].FrameNumber)

	writer := a.store.NewWriter(ctx, name, "application/x-ndjson")
	enc := json.NewEncoder(writer)
	for _, ft := range timings {
		if err := enc.Encode(ft); err != nil {
			writer.Close()
			return fmt.Errorf("failed to write frame %d: %w", ft.FrameNumber, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer for %s: %w", name, err)
	}

	a.logger.WithFields(logrus.Fields{
		"object":   name,
		"frames":   len(timings),
		"duration": time.Since(start),
	}).Debug("Archived frame timings")
	return nil
}
