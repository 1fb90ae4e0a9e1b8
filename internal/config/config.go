package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Detect queue policies.
const (
	DetectPolicyBlock = "block"
	DetectPolicyDrop  = "drop"
)

type Config struct {
	CameraSource string // device index, file path or stream URL
	CameraID     string
	Latitude     string
	Longitude    string
	SourceFPS    float64 // 0 = ask the device

	ModelPath       string
	ModelConfigPath string // only needed for two-file graphs (pb + pbtxt)
	Confidence      float64
	ComputeTarget   string
	PersonLabel     string

	SaveDirectory string
	BufferSeconds float64
	BufferMaxMB   int
	Cooldown      time.Duration

	DetectQueueSize int
	DetectPolicy    string

	ExportWorkers      int
	ExportQueueSize    int
	ExportDrainTimeout time.Duration
	ClipCodec          string
	ClipExtension      string

	DatabasePath   string
	StreamURL      string
	StreamMetadata bool // JSON detections before each live-view image
	AgentURL       string
	LogDirectory   string
}

// Load reads a .env file when present and builds the configuration from the
// environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		CameraSource:       getEnv("CAMERA_SOURCE", "0"),
		CameraID:           getEnv("CAMERA_ID", "cam1"),
		Latitude:           getEnv("CAMERA_LAT", "0.0"),
		Longitude:          getEnv("CAMERA_LONG", "0.0"),
		SourceFPS:          getEnvAsFloat("SOURCE_FPS", 0),
		ModelPath:          getEnv("MODEL_PATH", filepath.Join(".", "models", "yolov8n.onnx")),
		ModelConfigPath:    getEnv("MODEL_CONFIG_PATH", ""),
		Confidence:         getEnvAsFloat("CONFIDENCE", 0.25),
		ComputeTarget:      getEnv("COMPUTE_TARGET", "cpu"),
		PersonLabel:        getEnv("PERSON_LABEL", "person"),
		SaveDirectory:      getEnv("SAVE_DIR", "recordings"),
		BufferSeconds:      getEnvAsFloat("BUFFER_SECONDS", 10.0),
		BufferMaxMB:        getEnvAsInt("BUFFER_MAX_MB", 0),
		Cooldown:           getEnvAsDuration("TRIGGER_COOLDOWN", 0),
		DetectQueueSize:    getEnvAsInt("DETECT_QUEUE", 8),
		DetectPolicy:       getEnv("DETECT_POLICY", DetectPolicyBlock),
		ExportWorkers:      getEnvAsInt("EXPORT_WORKERS", 2),
		ExportQueueSize:    getEnvAsInt("EXPORT_QUEUE", 4),
		ExportDrainTimeout: getEnvAsDuration("EXPORT_DRAIN_TIMEOUT", 30*time.Second),
		ClipCodec:          getEnv("CLIP_CODEC", "mp4v"),
		ClipExtension:      getEnv("CLIP_EXT", ".mp4"),
		DatabasePath:       getEnv("DB_PATH", filepath.Join(".", "data", "clips.db")),
		StreamURL:          getEnv("STREAM_URL", ""),
		StreamMetadata:     getEnvAsBool("STREAM_METADATA", false),
		AgentURL:           getEnv("AGENT_URL", ""),
		LogDirectory:       getEnv("LOG_DIR", filepath.Join(".", "logs")),
	}
}

// BufferWindow returns the configured buffer duration.
func (c *Config) BufferWindow() time.Duration {
	return time.Duration(c.BufferSeconds * float64(time.Second))
}

// BufferMaxBytes returns the ring buffer byte budget, 0 meaning unlimited.
func (c *Config) BufferMaxBytes() int64 {
	return int64(c.BufferMaxMB) << 20
}

// Validate reports every unusable setting at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.CameraSource) == "" {
		errs = append(errs, errors.New("camera source is empty"))
	}
	if c.SourceFPS < 0 {
		errs = append(errs, fmt.Errorf("source fps must not be negative, got %v", c.SourceFPS))
	}
	if c.ModelPath == "" {
		errs = append(errs, errors.New("model path is empty"))
	}
	if c.Confidence <= 0 || c.Confidence > 1 {
		errs = append(errs, fmt.Errorf("confidence must be in (0, 1], got %v", c.Confidence))
	}
	if !validTargets[strings.ToLower(c.ComputeTarget)] {
		errs = append(errs, fmt.Errorf("unknown compute target %q", c.ComputeTarget))
	}
	if c.PersonLabel == "" {
		errs = append(errs, errors.New("person label is empty"))
	}
	if c.SaveDirectory == "" {
		errs = append(errs, errors.New("save directory is empty"))
	}
	if c.BufferSeconds <= 0 {
		errs = append(errs, fmt.Errorf("buffer seconds must be positive, got %v", c.BufferSeconds))
	}
	if c.BufferMaxMB < 0 {
		errs = append(errs, fmt.Errorf("buffer max MB must not be negative, got %d", c.BufferMaxMB))
	}
	if c.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("trigger cooldown must not be negative, got %v", c.Cooldown))
	}
	if c.DetectQueueSize < 1 {
		errs = append(errs, fmt.Errorf("detect queue must hold at least one frame, got %d", c.DetectQueueSize))
	}
	if c.DetectPolicy != DetectPolicyBlock && c.DetectPolicy != DetectPolicyDrop {
		errs = append(errs, fmt.Errorf("detect policy must be %q or %q, got %q", DetectPolicyBlock, DetectPolicyDrop, c.DetectPolicy))
	}
	if c.ExportWorkers < 1 {
		errs = append(errs, fmt.Errorf("export workers must be at least 1, got %d", c.ExportWorkers))
	}
	if c.ExportQueueSize < 0 {
		errs = append(errs, fmt.Errorf("export queue must not be negative, got %d", c.ExportQueueSize))
	}
	if len(c.ClipCodec) != 4 {
		errs = append(errs, fmt.Errorf("clip codec must be a fourcc, got %q", c.ClipCodec))
	}
	if !strings.HasPrefix(c.ClipExtension, ".") {
		errs = append(errs, fmt.Errorf("clip extension must start with a dot, got %q", c.ClipExtension))
	}

	return errors.Join(errs...)
}

var validTargets = map[string]bool{
	"cpu":         true,
	"cuda":        true,
	"cuda-fp16":   true,
	"opencl":      true,
	"opencl-fp16": true,
	"vulkan":      true,
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
