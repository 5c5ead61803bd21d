package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
)

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	content := `
device:
  serial: emulator-5554
  uia2Port: 6790
vision:
  url: http://10.0.0.5:9333
  parseTimeout: 45s
  usePaddleOCR: true
cache:
  ttl: 2s
playback:
  mediaSessionProbe: true
  failedProbeUnknown: true
keeper:
  keyword: Volume
  idThreshold: 6
defaultMode: hybrid
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Device.Serial != "emulator-5554" || cfg.Device.UIA2Port != 6790 {
		t.Errorf("unexpected device config: %+v", cfg.Device)
	}
	if cfg.Vision.URL != "http://10.0.0.5:9333" {
		t.Errorf("expected vision url, got %s", cfg.Vision.URL)
	}
	if cfg.Vision.ParseTimeout != 45*time.Second {
		t.Errorf("expected parseTimeout 45s, got %v", cfg.Vision.ParseTimeout)
	}
	if cfg.Vision.HealthTimeout != 10*time.Second {
		t.Errorf("expected default healthTimeout 10s, got %v", cfg.Vision.HealthTimeout)
	}
	if cfg.Vision.UsePaddleOCR == nil || !*cfg.Vision.UsePaddleOCR {
		t.Error("expected usePaddleOCR true")
	}
	if cfg.Cache.TTL != 2*time.Second || cfg.Cache.VisualTTL != 5*time.Second {
		t.Errorf("unexpected cache config: %+v", cfg.Cache)
	}
	if !cfg.Playback.MediaSessionProbe || !cfg.Playback.FailedProbeUnknown {
		t.Errorf("unexpected playback config: %+v", cfg.Playback)
	}
	if cfg.Keeper.Keyword != "Volume" || cfg.Keeper.IDThreshold != 6 {
		t.Errorf("unexpected keeper config: %+v", cfg.Keeper)
	}
	if cfg.Keeper.SafeYRatio != 0.15 {
		t.Errorf("expected default safeYRatio 0.15, got %v", cfg.Keeper.SafeYRatio)
	}
	if cfg.DefaultMode != core.ModeHybrid {
		t.Errorf("expected defaultMode hybrid, got %s", cfg.DefaultMode)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	content := `vision: [invalid yaml`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_UnknownField(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("vison:\n  url: x\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for misspelled section")
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(configPath, []byte(``), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Cache.TTL != 5*time.Second {
		t.Errorf("expected default ttl, got %v", cfg.Cache.TTL)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	content := "dispatch:\n  biasRatio: 1.5\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(configPath)
	if !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadFromDir_ConfigYaml(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("device:\n  serial: abc\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Device.Serial != "abc" {
		t.Errorf("expected serial abc, got %s", cfg.Device.Serial)
	}
}

func TestLoadFromDir_ConfigYml(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yml")

	if err := os.WriteFile(configPath, []byte("device:\n  serial: xyz\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Device.Serial != "xyz" {
		t.Errorf("expected serial xyz, got %s", cfg.Device.Serial)
	}
}

func TestLoadFromDir_NoConfig(t *testing.T) {
	cfg, err := LoadFromDir(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Keeper.Keyword != "Brightness" {
		t.Errorf("expected default keeper keyword, got %q", cfg.Keeper.Keyword)
	}
}

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestValidate_ProbeTimeoutRange(t *testing.T) {
	for _, d := range []time.Duration{0, time.Second, 11 * time.Second} {
		cfg := Default()
		cfg.Playback.ProbeTimeout = d
		if err := cfg.Validate(); !errors.Is(err, core.ErrInvalidConfig) {
			t.Errorf("probeTimeout %v: expected ErrInvalidConfig, got %v", d, err)
		}
	}
	for _, d := range []time.Duration{2 * time.Second, 10 * time.Second} {
		cfg := Default()
		cfg.Playback.ProbeTimeout = d
		if err := cfg.Validate(); err != nil {
			t.Errorf("probeTimeout %v: unexpected error %v", d, err)
		}
	}
}

func TestLoad_EmptyVisionURLDisablesVision(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("vision:\n  url: \"\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Vision.URL != "" {
		t.Errorf("expected empty vision url, got %q", cfg.Vision.URL)
	}
}
