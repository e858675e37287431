package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/patelrital/Blink-Detector/internal/correlator"
	"github.com/patelrital/Blink-Detector/internal/detector"
	"github.com/patelrital/Blink-Detector/internal/platform/config"
	"github.com/patelrital/Blink-Detector/internal/platform/logger"
	"github.com/patelrital/Blink-Detector/internal/platform/metrics"
	"github.com/patelrital/Blink-Detector/internal/recorder"
	"github.com/patelrital/Blink-Detector/internal/seriallink"
	"github.com/patelrital/Blink-Detector/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	baudRate := config.GetEnvInt("BAUD_RATE", seriallink.DefaultBaudRate)
	endpoint := config.GetEnv("SERIAL_ENDPOINT", "")
	outputDir := config.GetEnv("OUTPUT_DIR", "recordings")
	segmentDur := config.GetEnvDuration("SEGMENT_DURATION", recorder.DefaultSegmentSeconds*time.Second)
	retention := config.GetEnvInt("RETENTION_MULTIPLE", recorder.DefaultRetentionMultiple)
	pollInterval := config.GetEnvDuration("POLL_INTERVAL", correlator.DefaultPollInterval)
	runDuration := config.GetEnvDuration("RUN_DURATION", 0)
	captureDevice := config.GetEnv("CAPTURE_DEVICE", "/dev/video0")
	captureFormat := config.GetEnv("CAPTURE_FORMAT", "v4l2")
	frameRate := config.GetEnvInt("FRAME_RATE", 30)
	videoSize := config.GetEnv("VIDEO_SIZE", "1280x720")
	ffmpegBin := config.GetEnv("FFMPEG_BIN", "ffmpeg")
	eventLogPath := config.GetEnv("EVENT_LOG", "")
	if eventLogPath == "" {
		eventLogPath = filepath.Join(outputDir, "events.csv")
	}

	log := logger.New(logLevel, logFormat)

	store := session.NewStore()
	if endpoint != "" {
		store.SetEndpoint(session.Endpoint{Name: endpoint, BaudRate: baudRate})
	}

	prompter := NewConsolePrompter()
	link := seriallink.New(store, prompter, log, seriallink.Config{BaudRate: baudRate})
	det := detector.New(link, prompter, store, log)
	met := metrics.New()

	enc, err := recorder.NewFFmpegEncoder(recorder.FFmpegConfig{
		Binary:         ffmpegBin,
		Device:         captureDevice,
		InputFormat:    captureFormat,
		FrameRate:      frameRate,
		VideoSize:      videoSize,
		SegmentSeconds: int(segmentDur / time.Second),
	}, log)
	if err != nil {
		log.Error("encoder unavailable", "error", err)
		os.Exit(1)
	}
	rec := recorder.New(enc, outputDir, segmentDur, retention, log, met)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		log.Error("could not create output directory", "dir", outputDir, "error", err)
		os.Exit(1)
	}
	events, err := correlator.NewEventLog(eventLogPath)
	if err != nil {
		log.Error("could not create event log", "error", err)
		os.Exit(1)
	}
	defer events.Close()

	corr := correlator.New(link, det, rec, events, pollInterval, log, met)
	h := correlator.NewHandler(corr, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetPendingSegments(rec.Stats().Pending) }).ServeHTTP(w, req)
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Post("/commands/{code}", h.SendCommand)
	})

	srv := &http.Server{Addr: ":" + port, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("blinkd starting",
		"port", port,
		"output_dir", outputDir,
		"segment_duration", segmentDur,
		"retention_multiple", retention,
		"poll_interval", pollInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runDuration)
		defer cancel()
	}

	exitCode := 0
	if err := corr.Run(ctx); err != nil {
		log.Error("pipeline failed", "error", err)
		exitCode = 1
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("blinkd stopped")
	os.Exit(exitCode)
}
