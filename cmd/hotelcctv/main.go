package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"hotelcctv/internal/api"
	"hotelcctv/internal/auth"
	"hotelcctv/internal/capture"
	"hotelcctv/internal/clip"
	"hotelcctv/internal/config"
	"hotelcctv/internal/database"
	"hotelcctv/internal/detection"
	"hotelcctv/internal/engine"
	"hotelcctv/internal/metrics"
	"hotelcctv/internal/pipeline"
	"hotelcctv/internal/storage"
	"hotelcctv/internal/stream"
	"hotelcctv/internal/supervisor"
	"hotelcctv/internal/validation"
	"hotelcctv/internal/worker"
	"hotelcctv/internal/ws"
)

// detector is what the inference backends provide
type detector interface {
	pipeline.PoseDetector
	DetectObjects(ctx context.Context, frame *pipeline.FrameData) ([]pipeline.Object, error)
}

func main() {
	var (
		configF  = flag.String("config", "", "Path to the YAML configuration file")
		addrF    = flag.String("addr", "", "HTTP listen address (overrides server.addr)")
		dbgF     = flag.Bool("debug", false, "Use the development logger")
		migrateF = flag.Bool("migrate-only", false, "Apply database migrations and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hotelcctv: %v\n", err)
		os.Exit(1)
	}
	if *addrF != "" {
		cfg.Server.Addr = *addrF
	}
	if *dbgF {
		cfg.Logging.Development = true
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hotelcctv: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger, *migrateF); err != nil {
		logger.Fatal("Service failed", zap.Error(err))
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}

func run(cfg *config.Config, logger *zap.Logger, migrateOnly bool) error {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}
	if migrateOnly {
		logger.Info("Migrations applied")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	det, err := newDetector(cfg.Inference, logger)
	if err != nil {
		return err
	}
	defer det.Close()

	v, err := validation.New(ctx, cfg.Validation,
		validation.WithPromptSource(db),
		validation.WithLogStore(db),
		validation.WithMetrics(m),
		validation.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}
	var validator pipeline.Validator
	if v.Enabled() {
		validator = v
	} else {
		logger.Warn("Event validation disabled, events are saved unvalidated")
	}

	writerCfg := clip.WriterConfig{
		Dir:            cfg.Clips.Dir,
		ThumbnailWidth: cfg.Clips.ThumbnailWidth,
		Transcoder:     clip.NewFFmpegTranscoder(cfg.Clips.FPS, cfg.Clips.TranscodeTimeout),
		Logger:         logger,
	}
	if cfg.Storage != nil {
		store, err := storage.NewMinIOStore(*cfg.Storage, logger)
		if err != nil {
			return err
		}
		writerCfg.Store = store
	}
	clips := clip.NewWriter(writerCfg)

	authn, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}

	bus := pipeline.NewEventBus()
	defer bus.Close()
	hub := ws.NewHub(logger)
	bus.Subscribe(hub)
	preview := stream.NewMJPEGBroadcaster(logger)
	sink := stream.NewMultiSink(hub, preview)

	settingsFor := func(ctx context.Context, cameraID string) (engine.Settings, error) {
		cam, err := db.GetCamera(ctx, cameraID)
		if err != nil {
			return engine.Settings{}, err
		}
		return cfg.CameraEngineSettings(cam.Settings)
	}

	factory := func(ctx context.Context, cameraID string) (*worker.Worker, error) {
		cam, err := db.GetCamera(ctx, cameraID)
		if err != nil {
			return nil, err
		}
		if !cam.Enabled {
			return nil, fmt.Errorf("camera %s is disabled", cameraID)
		}
		settings, err := cfg.CameraEngineSettings(cam.Settings)
		if err != nil {
			return nil, err
		}
		eng := engine.New(cam.ID, det, settings,
			engine.WithLogger(logger),
			engine.WithObjectDetector(det))
		src := capture.NewSource(cam.ID, cam.StreamURL, capture.Options{
			FPS:         cfg.Capture.FPS,
			Width:       cfg.Capture.Width,
			Height:      cfg.Capture.Height,
			ReadTimeout: cfg.Capture.ReadTimeout,
			Logger:      logger,
		})
		return worker.New(cam.ID, cfg.Worker, worker.Deps{
			Source:    src,
			Processor: eng,
			Store:     db,
			Validator: validator,
			Clips:     clips,
			Sink:      sink,
			Bus:       bus,
			Metrics:   m,
			Settings: func(ctx context.Context) (engine.Settings, error) {
				return settingsFor(ctx, cam.ID)
			},
			Logger: logger,
		}), nil
	}

	sup := supervisor.New(factory, db, logger)
	m.RegisterGaugeFunc("hotelcctv_workers_running", "Camera workers running in this process",
		func() float64 { return float64(len(sup.Running())) })
	m.RegisterGaugeFunc("hotelcctv_ws_clients", "Connected WebSocket clients",
		func() float64 { return float64(hub.ClientCount()) })

	for _, id := range cfg.Autostart {
		if err := sup.Start(ctx, id); err != nil {
			logger.Error("Failed to autostart worker", zap.String("camera_id", id), zap.Error(err))
		}
	}
	go sup.RunCleanup(ctx, cfg.Cleanup.Interval, cfg.Cleanup.HeartbeatTimeout)

	server := api.NewServer(api.Config{
		Store:            db,
		Workers:          sup,
		Auth:             authn,
		Hub:              hub,
		Preview:          preview,
		Metrics:          m,
		StopTimeout:      cfg.Server.ShutdownTimeout,
		HeartbeatTimeout: cfg.Cleanup.HeartbeatTimeout,
		Logger:           logger,
	})

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	handleHTTPServer(ctx, cfg.Server, server.Routes(), &wg, errc, logger)

	logger.Info("Exiting", zap.Error(<-errc))

	cancel()
	sup.StopAll(cfg.Server.ShutdownTimeout)
	wg.Wait()
	logger.Info("Exited")
	return nil
}

func newDetector(cfg config.InferenceConfig, logger *zap.Logger) (detector, error) {
	switch cfg.Backend {
	case config.BackendHTTP:
		return detection.NewHTTPDetector(detection.HTTPDetectorConfig{
			Endpoint:      cfg.Endpoint,
			ConfThreshold: cfg.ConfThreshold,
			Classes:       cfg.Classes,
			Timeout:       cfg.Timeout,
			HealthTTL:     cfg.HealthTTL,
			Logger:        logger,
		}), nil
	default:
		d, err := detection.NewGRPCDetector(detection.GRPCDetectorConfig{
			Endpoint:      cfg.Endpoint,
			ConfThreshold: cfg.ConfThreshold,
			Classes:       cfg.Classes,
			Timeout:       cfg.Timeout,
			HealthTTL:     cfg.HealthTTL,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create inference client: %w", err)
		}
		return d, nil
	}
}
