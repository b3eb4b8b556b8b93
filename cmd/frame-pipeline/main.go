package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/rahul-roy-glean/frame-timings/pkg/pipeline"
	"github.com/rahul-roy-glean/frame-timings/pkg/report"
	"github.com/rahul-roy-glean/frame-timings/pkg/telemetry"
)

var (
	grpcPort    = flag.Int("grpc-port", 50051, "gRPC server port (health only)")
	httpPort    = flag.Int("http-port", 8080, "HTTP server port (health/metrics/frames)")
	environment = flag.String("environment", "dev", "Environment name")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")

	// Pipeline flags
	vsyncInterval     = flag.Duration("vsync-interval", 16667*time.Microsecond, "Display refresh period")
	buildCost         = flag.Duration("build-cost", 4*time.Millisecond, "Simulated build duration")
	buildJitter       = flag.Duration("build-jitter", 3*time.Millisecond, "Random extra build duration (up to)")
	rasterCost        = flag.Duration("raster-cost", 6*time.Millisecond, "Simulated raster duration")
	rasterJitter      = flag.Duration("raster-jitter", 8*time.Millisecond, "Random extra raster duration (up to)")
	rasterFailureRate = flag.Float64("raster-failure-rate", 0.01, "Probability that a raster attempt fails")
	maxRasterAttempts = flag.Int("max-raster-attempts", 3, "Raster attempts per frame before it is dropped")

	// Reporting flags
	historySize   = flag.Int("history-size", 240, "Number of recent frames served on /api/v1/frames")
	batchSize     = flag.Int("report-batch-size", 100, "Frames per report batch")
	flushInterval = flag.Duration("report-flush-interval", time.Second, "Maximum delay before pending frames are reported")
	logFrames     = flag.Bool("log-frames", true, "Write every frame as a structured log entry")

	// Archive flags
	archiveBucket   = flag.String("archive-bucket", "", "GCS bucket for frame timing archives (disabled if empty)")
	archivePrefix   = flag.String("archive-prefix", "frame-timings", "Object prefix inside the archive bucket")
	credentialsFile = flag.String("credentials-file", "", "Service account key for GCS and Cloud Monitoring (default credentials if empty)")

	// Telemetry flags
	telemetryEnabled = flag.Bool("telemetry-enabled", false, "Enable GCP Cloud Monitoring telemetry")
	telemetryPrefix  = flag.String("telemetry-prefix", "custom.googleapis.com/frame_timings", "Custom metric prefix for Cloud Monitoring")
	gcpProject       = flag.String("gcp-project", "", "GCP project for Cloud Monitoring")
	frameBudget      = flag.Duration("frame-budget", telemetry.DefaultFrameBudget, "Build or raster duration above which a frame counts as jank")
)

func main() {
	flag.Parse()

	// Setup logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	pipelineID := uuid.New().String()
	log := logger.WithFields(logrus.Fields{
		"component":   "frame-pipeline",
		"pipeline_id": pipelineID,
	})
	log.Info("Starting frame-pipeline")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var clientOpts []option.ClientOption
	if *credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(*credentialsFile))
	}

	// Telemetry config: environment first, flags override
	telemetryCfg := telemetry.ConfigFromEnv()
	telemetryCfg.Enabled = *telemetryEnabled
	telemetryCfg.MetricPrefix = *telemetryPrefix
	telemetryCfg.Component = "frame-pipeline"
	telemetryCfg.Environment = *environment
	telemetryCfg.FrameBudget = *frameBudget
	if *gcpProject != "" {
		telemetryCfg.ProjectID = *gcpProject
	}
	if err := telemetryCfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid telemetry configuration")
	}

	labels := telemetry.Labels{telemetry.LabelPipeline: pipelineID}
	structured := telemetry.NewStructuredLogger(logger, "frame-pipeline", pipelineID)
	timeline := report.NewTimeline(*historySize, telemetryCfg.FrameBudget)
	sinks := []report.Sink{
		timeline,
		report.NewPrometheusSink(telemetryCfg.FrameBudget),
	}
	if *logFrames {
		sinks = append(sinks, report.NewLogSink(structured, telemetryCfg.FrameBudget, labels))
	}

	var metricsClient *telemetry.Client
	if telemetryCfg.Enabled {
		var telErr error
		metricsClient, telErr = telemetry.NewClient(ctx, telemetryCfg, logger, clientOpts...)
		if telErr != nil {
			log.WithError(telErr).Warn("Failed to initialize telemetry, continuing without metrics")
		} else {
			defer metricsClient.Close()
			sinks = append(sinks, report.NewMonitoringSink(metricsClient, labels))
			log.Info("GCP Cloud Monitoring telemetry initialized")
		}
	}

	if *archiveBucket != "" {
		store, err := report.NewGCSStore(ctx, *archiveBucket, clientOpts...)
		if err != nil {
			log.WithError(err).Fatal("Failed to create archive store")
		}
		defer store.Close()
		sinks = append(sinks, report.NewArchiveSink(report.ArchiveConfig{
			Store:      store,
			Prefix:     *archivePrefix,
			PipelineID: pipelineID,
			Logger:     logger,
		}))
		log.WithField("bucket", *archiveBucket).Info("Archiving frame timings to GCS")
	}

	reporter := report.NewReporter(report.Config{
		BatchSize:     *batchSize,
		FlushInterval: *flushInterval,
		Logger:        logger,
		Events:        structured,
	}, sinks...)
	reporter.Start(ctx)

	pipe := pipeline.New(pipeline.Config{
		VsyncInterval:     *vsyncInterval,
		Build:             simulatedStage(*buildCost, *buildJitter, 0),
		Raster:            simulatedStage(*rasterCost, *rasterJitter, *rasterFailureRate),
		MaxRasterAttempts: *maxRasterAttempts,
		Logger:            logger,
		Events:            structured,
	}, reporter.Submit)

	// Create gRPC server
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(loggingInterceptor(logger)),
	)

	// Register health service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// Enable reflection for debugging
	reflection.Register(grpcServer)

	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", *grpcPort))
	if err != nil {
		log.WithError(err).Fatal("Failed to listen for gRPC")
	}

	go func() {
		log.WithField("port", *grpcPort).Info("Starting gRPC server")
		if err := grpcServer.Serve(grpcLis); err != nil {
			log.WithError(err).Error("gRPC server error")
		}
	}()

	// Start HTTP server for health, metrics and frame history
	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/health", healthHandler())
	httpMux.HandleFunc("/ready", readyHandler(pipe))
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.HandleFunc("/api/v1/frames", framesHandler(timeline))
	httpMux.HandleFunc("/api/v1/stats", statsHandler(pipe, reporter))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *httpPort),
		Handler: httpMux,
	}

	go func() {
		log.WithField("port", *httpPort).Info("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP server error")
		}
	}()

	pipeDone := make(chan error, 1)
	go func() {
		pipeDone <- pipe.Run(ctx)
	}()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	go statsLoop(ctx, pipe, logger, metricsClient, labels)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	cancel()
	if err := <-pipeDone; err != nil {
		log.WithError(err).Warn("Frame pipeline stopped with error")
	}
	if err := reporter.Close(); err != nil {
		log.WithError(err).Warn("Final frame report failed")
	}
	grpcServer.GracefulStop()
	httpServer.Shutdown(shutdownCtx)

	log.Info("Shutdown complete")
}

// statsLoop periodically logs pipeline counters and forwards their totals
// to Cloud Monitoring.
func statsLoop(ctx context.Context, pipe *pipeline.Pipeline, logger *logrus.Logger, metricsClient *telemetry.Client, labels telemetry.Labels) {
	log := logger.WithField("component", "stats")
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := pipe.Stats()
			log.WithFields(logrus.Fields{
				"started":   stats.Started,
				"completed": stats.Completed,
				"dropped":   stats.Dropped,
				"retried":   stats.Retried,
				"failed":    stats.Failed,
			}).Info("Pipeline stats")

			if metricsClient != nil {
				recordStats(ctx, metricsClient, stats, labels)
			}
		}
	}
}

// cumulativeRecorder writes running totals; *telemetry.Client implements it.
type cumulativeRecorder interface {
	RecordCumulative(ctx context.Context, metric string, total int64, labels map[string]string)
}

// recordStats writes the pipeline counters as cumulative totals since start.
func recordStats(ctx context.Context, rec cumulativeRecorder, stats pipeline.Stats, labels telemetry.Labels) {
	rec.RecordCumulative(ctx, telemetry.MetricFrames, int64(stats.Completed), labels)
	rec.RecordCumulative(ctx, telemetry.MetricFramesDropped, int64(stats.Dropped), labels)
	rec.RecordCumulative(ctx, telemetry.MetricRasterRetries, int64(stats.Retried), labels)
}

func loggingInterceptor(logger *logrus.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		logger.WithFields(logrus.Fields{
			"method":   info.FullMethod,
			"duration": duration,
			"error":    err,
		}).Debug("gRPC request")

		return resp, err
	}
}
