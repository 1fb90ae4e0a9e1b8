package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg := Load()

	if cfg.Confidence != 0.25 {
		t.Errorf("Confidence = %v, expected 0.25", cfg.Confidence)
	}
	if cfg.SaveDirectory != "recordings" {
		t.Errorf("SaveDirectory = %q, expected recordings", cfg.SaveDirectory)
	}
	if cfg.BufferSeconds != 10.0 {
		t.Errorf("BufferSeconds = %v, expected 10", cfg.BufferSeconds)
	}
	if cfg.ComputeTarget != "cpu" {
		t.Errorf("ComputeTarget = %q, expected cpu", cfg.ComputeTarget)
	}
	if cfg.BufferWindow() != 10*time.Second {
		t.Errorf("BufferWindow = %v, expected 10s", cfg.BufferWindow())
	}
	if cfg.StreamMetadata {
		t.Error("StreamMetadata should be off by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIDENCE", "0.6")
	t.Setenv("BUFFER_SECONDS", "2.5")
	t.Setenv("TRIGGER_COOLDOWN", "3s")
	t.Setenv("EXPORT_WORKERS", "not-a-number")
	t.Setenv("STREAM_METADATA", "true")

	cfg := Load()

	if cfg.Confidence != 0.6 {
		t.Errorf("Confidence = %v, expected 0.6", cfg.Confidence)
	}
	if cfg.BufferWindow() != 2500*time.Millisecond {
		t.Errorf("BufferWindow = %v, expected 2.5s", cfg.BufferWindow())
	}
	if cfg.Cooldown != 3*time.Second {
		t.Errorf("Cooldown = %v, expected 3s", cfg.Cooldown)
	}
	if cfg.ExportWorkers != 2 {
		t.Errorf("invalid int should fall back to default, got %d", cfg.ExportWorkers)
	}
	if !cfg.StreamMetadata {
		t.Error("StreamMetadata should be enabled")
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	// godotenv never overrides variables that are already set.
	os.Unsetenv("SAVE_DIR")
	t.Cleanup(func() { os.Unsetenv("SAVE_DIR") })

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SAVE_DIR=clips\n"), 0644); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}

	cfg := Load()
	if cfg.SaveDirectory != "clips" {
		t.Errorf("SaveDirectory = %q, expected value from .env", cfg.SaveDirectory)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"zero confidence", func(c *Config) { c.Confidence = 0 }, "confidence"},
		{"confidence above one", func(c *Config) { c.Confidence = 1.5 }, "confidence"},
		{"unknown target", func(c *Config) { c.ComputeTarget = "tpu" }, "compute target"},
		{"negative buffer", func(c *Config) { c.BufferSeconds = -1 }, "buffer seconds"},
		{"empty save dir", func(c *Config) { c.SaveDirectory = "" }, "save directory"},
		{"bad policy", func(c *Config) { c.DetectPolicy = "skip" }, "detect policy"},
		{"no workers", func(c *Config) { c.ExportWorkers = 0 }, "export workers"},
		{"bad fourcc", func(c *Config) { c.ClipCodec = "h264x" }, "fourcc"},
		{"extension without dot", func(c *Config) { c.ClipExtension = "mp4" }, "extension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			cfg := Load()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestBufferMaxBytes(t *testing.T) {
	cfg := &Config{BufferMaxMB: 3}
	if got := cfg.BufferMaxBytes(); got != 3<<20 {
		t.Errorf("BufferMaxBytes = %d, expected %d", got, 3<<20)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}
