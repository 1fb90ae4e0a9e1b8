package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"recorder/internal/config"
	"recorder/internal/logger"
	"recorder/internal/repository"
	"recorder/internal/repository/sqlite"
	"recorder/internal/service"
	"recorder/internal/service/ai"
	"recorder/internal/service/export"
	"recorder/internal/service/notify"
	"recorder/internal/service/storage"
	"recorder/internal/service/stream"
	"recorder/internal/service/video"
)

type App struct {
	config    *config.Config
	logger    *logger.Logger
	db        *sqlite.DB
	camera    *video.Camera
	detector  *ai.Detector
	buffer    *storage.RingBuffer
	exporter  *export.Exporter
	publisher *stream.Publisher
	uploader  *notify.AgentUploader
	manager   *service.Manager
}

// New opens the camera, loads the model and wires the capture pipeline.
// A camera that cannot be opened is reported as a *service.FatalSourceError.
func New(cfg *config.Config, logger *logger.Logger) (*App, error) {
	a := &App{config: cfg, logger: logger}

	if err := a.setup(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) setup() error {
	cfg := a.config

	var clips repository.ClipRepository
	var events service.EventRecorder
	if cfg.DatabasePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return err
		}
		a.db = db
		clips = sqlite.NewClipRepository(db)
		events = sqlite.NewEventRepository(db)
	}

	detector, err := ai.NewDetector(ai.Options{
		ModelPath:  cfg.ModelPath,
		ConfigPath: cfg.ModelConfigPath,
		Confidence: cfg.Confidence,
		Target:     cfg.ComputeTarget,
	}, a.logger)
	if err != nil {
		return err
	}
	a.detector = detector

	camera, err := video.OpenCamera(cfg.CameraSource, cfg.SourceFPS, a.logger)
	if err != nil {
		return &service.FatalSourceError{Err: err}
	}
	a.camera = camera
	fps := camera.FPS()

	buffer, err := storage.NewRingBuffer(storage.Options{
		Window:        cfg.BufferWindow(),
		FrameInterval: time.Duration(float64(time.Second) / fps),
		Lag:           service.DetectLag(fps, cfg.DetectQueueSize),
		MaxBytes:      cfg.BufferMaxBytes(),
		HoldPending:   true,
	})
	if err != nil {
		return err
	}
	a.buffer = buffer

	var live service.LiveView
	if cfg.StreamURL != "" {
		publisher, err := stream.NewPublisher(cfg.StreamURL, cfg.CameraID, video.NewAnnotator(video.DefaultJPEGQuality), a.logger)
		if err != nil {
			return err
		}
		publisher.SendMetadata(cfg.StreamMetadata)
		a.publisher = publisher
		live = publisher
	}

	if cfg.AgentURL != "" {
		a.uploader = notify.NewAgentUploader(cfg.AgentURL, cfg.Latitude, cfg.Longitude, a.logger)
	}

	var uploader export.Uploader
	if a.uploader != nil {
		uploader = a.uploader
	}
	a.exporter = export.NewExporter(export.Options{
		Directory: cfg.SaveDirectory,
		Extension: cfg.ClipExtension,
		Camera:    cfg.CameraID,
		Workers:   cfg.ExportWorkers,
		QueueSize: cfg.ExportQueueSize,
	}, video.NewClipWriter(cfg.ClipCodec), clips, uploader, a.logger)

	a.manager = service.NewManager(camera, detector, buffer, a.exporter, live, service.Options{
		Camera:          cfg.CameraID,
		FPS:             fps,
		PersonLabel:     cfg.PersonLabel,
		Cooldown:        cfg.Cooldown,
		DetectQueueSize: cfg.DetectQueueSize,
		DetectPolicy:    cfg.DetectPolicy,
		Events:          events,
	}, a.logger)

	return nil
}

// Run records until ctx is cancelled or the source ends, then drains the
// exporter and pending uploads.
func (a *App) Run(ctx context.Context) error {
	fmt.Printf("🚀 Incident Recorder\n")
	fmt.Printf("📷 Camera: %s (%s)\n", a.config.CameraID, a.config.CameraSource)
	fmt.Printf("📁 Clips: %s\n", a.config.SaveDirectory)
	fmt.Printf("🤖 AI Model: %s on %s\n", a.config.ModelPath, a.config.ComputeTarget)
	fmt.Printf("⏱️  Buffer: %v\n", a.config.BufferWindow())

	liveCtx, stopLive := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if a.publisher != nil {
		fmt.Printf("📡 Live view: %s\n", a.publisher.URL())
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.publisher.Run(liveCtx)
		}()
	}

	runErr := a.manager.Run(ctx)

	stopLive()
	wg.Wait()

	a.shutdown()
	return runErr
}

// shutdown drains exports and uploads within the configured timeout.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.ExportDrainTimeout)
	defer cancel()

	if err := a.exporter.Close(ctx); err != nil {
		a.logger.Warning("Export drain stopped: %v", err)
	}
	if a.uploader != nil {
		if err := a.uploader.Wait(ctx); err != nil {
			a.logger.Warning("Pending uploads abandoned: %v", err)
		}
	}

	stats := a.exporter.Stats()
	a.logger.Info("Exports: %d saved, %d failed, %d dropped, %d abandoned",
		stats.Exported, stats.Failed, stats.Dropped, stats.Abandoned)
}

// Close releases the camera, network and database.
func (a *App) Close() error {
	var errs []error

	if a.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.config.ExportDrainTimeout)
		errs = append(errs, a.exporter.Close(ctx))
		cancel()
	}
	if a.camera != nil {
		errs = append(errs, a.camera.Close())
	}
	if a.detector != nil {
		errs = append(errs, a.detector.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
