package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"recorder/internal/app"
	"recorder/internal/config"
	"recorder/internal/logger"
	"recorder/internal/service"
)

// Exit codes.
const (
	exitOK          = 0
	exitSourceError = 1
	exitConfigError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()

	flag.StringVar(&cfg.CameraSource, "source", cfg.CameraSource, "Camera index, video file or stream URL")
	flag.StringVar(&cfg.CameraID, "camera-id", cfg.CameraID, "Camera identifier")
	flag.StringVar(&cfg.Latitude, "lat", cfg.Latitude, "Camera latitude")
	flag.StringVar(&cfg.Longitude, "long", cfg.Longitude, "Camera longitude")
	flag.Float64Var(&cfg.SourceFPS, "fps", cfg.SourceFPS, "Source frame rate (0 = ask the device)")
	flag.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "Detection model (.onnx or frozen graph)")
	flag.StringVar(&cfg.ModelConfigPath, "model-config", cfg.ModelConfigPath, "Model config for two-file graphs")
	flag.Float64Var(&cfg.Confidence, "conf", cfg.Confidence, "Detection confidence threshold")
	flag.StringVar(&cfg.ComputeTarget, "device", cfg.ComputeTarget, "Compute target: cpu, cuda, cuda-fp16, opencl, opencl-fp16, vulkan")
	flag.StringVar(&cfg.SaveDirectory, "save-dir", cfg.SaveDirectory, "Directory for exported clips")
	flag.Float64Var(&cfg.BufferSeconds, "buffer-seconds", cfg.BufferSeconds, "Seconds of video kept in memory")
	flag.DurationVar(&cfg.Cooldown, "cooldown", cfg.Cooldown, "Minimum time between two clips")
	flag.StringVar(&cfg.StreamURL, "stream-url", cfg.StreamURL, "Live view push URL")
	flag.BoolVar(&cfg.StreamMetadata, "stream-metadata", cfg.StreamMetadata, "Send JSON detections before each live view image")
	flag.StringVar(&cfg.AgentURL, "agent-url", cfg.AgentURL, "Agent endpoint receiving finished clips")
	flag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "Clip catalogue database (empty disables)")
	flag.StringVar(&cfg.LogDirectory, "log-dir", cfg.LogDirectory, "Log directory (empty logs to the console only)")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Invalid configuration:\n%v\n", err)
		return exitConfigError
	}

	log := logger.NewWriterLogger(os.Stdout)
	if cfg.LogDirectory != "" {
		fileLogger, err := logger.NewLogger(cfg.LogDirectory)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ Failed to initialize logger: %v\n", err)
			return exitConfigError
		}
		defer fileLogger.Close()
		log = fileLogger
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("Failed to start recorder: %v", err)
		var fatal *service.FatalSourceError
		if errors.As(err, &fatal) {
			return exitSourceError
		}
		return exitConfigError
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		log.Error("Recorder stopped: %v", err)
		return exitSourceError
	}

	log.Info("Recorder stopped")
	return exitOK
}
