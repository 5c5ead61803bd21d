// Package config handles configuration for the element scheduler.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
)

// Config represents the workspace configuration (config.yaml).
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Vision   VisionConfig   `yaml:"vision"`
	Cache    CacheConfig    `yaml:"cache"`
	Playback PlaybackConfig `yaml:"playback"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Keeper   KeeperConfig   `yaml:"keeper"`

	// DefaultMode is the mode used when a caller does not request one.
	DefaultMode core.ExtractionMode `yaml:"defaultMode"`
}

// DeviceConfig selects the device and how to reach it.
type DeviceConfig struct {
	Serial       string        `yaml:"serial"`       // adb serial, empty = auto-detect
	UIA2Port     int           `yaml:"uia2Port"`     // local port forwarded to UIAutomator2, 0 = adb only
	ShellTimeout time.Duration `yaml:"shellTimeout"` // per adb command
}

// VisionConfig points at the vision-parsing service.
type VisionConfig struct {
	URL           string        `yaml:"url"`
	ParseTimeout  time.Duration `yaml:"parseTimeout"`
	HealthTimeout time.Duration `yaml:"healthTimeout"`
	UsePaddleOCR  *bool         `yaml:"usePaddleOCR"` // nil = let the service decide
}

// CacheConfig controls extraction result reuse.
type CacheConfig struct {
	TTL       time.Duration `yaml:"ttl"`       // scheduler cache, per mode
	VisualTTL time.Duration `yaml:"visualTTL"` // visual extractor's own screenshot cache
}

// PlaybackConfig tunes the playback heuristics.
type PlaybackConfig struct {
	ProbeTimeout       time.Duration `yaml:"probeTimeout"`
	MediaSessionProbe  bool          `yaml:"mediaSessionProbe"`
	FailedProbeUnknown bool          `yaml:"failedProbeUnknown"`
}

// DispatchConfig tunes tap dispatch.
type DispatchConfig struct {
	BiasRatio float64       `yaml:"biasRatio"` // fraction of screen height to shift biased taps up
	Grace     time.Duration `yaml:"grace"`     // sleep after each tap
}

// KeeperConfig holds defaults for keep-controls runs.
type KeeperConfig struct {
	Interval       time.Duration `yaml:"interval"`
	Keyword        string        `yaml:"keyword"`
	IDThreshold    int           `yaml:"idThreshold"`
	SafeYRatio     float64       `yaml:"safeYRatio"`
	TapCooldown    time.Duration `yaml:"tapCooldown"`
	VisibleGrace   time.Duration `yaml:"visibleGrace"`
	PostTapSettle  time.Duration `yaml:"postTapSettle"`
	DefaultTimeout time.Duration `yaml:"defaultDuration"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ShellTimeout: 10 * time.Second,
		},
		Vision: VisionConfig{
			URL:           "http://127.0.0.1:9333",
			ParseTimeout:  90 * time.Second,
			HealthTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			TTL:       5 * time.Second,
			VisualTTL: 5 * time.Second,
		},
		Playback: PlaybackConfig{
			ProbeTimeout: 5 * time.Second,
		},
		Dispatch: DispatchConfig{
			BiasRatio: 0.02,
			Grace:     100 * time.Millisecond,
		},
		Keeper: KeeperConfig{
			Interval:       100 * time.Millisecond,
			Keyword:        "Brightness",
			IDThreshold:    10,
			SafeYRatio:     0.15,
			TapCooldown:    800 * time.Millisecond,
			VisibleGrace:   time.Second,
			PostTapSettle:  250 * time.Millisecond,
			DefaultTimeout: 60 * time.Second,
		},
		DefaultMode: core.ModeAuto,
	}
}

// Validate checks ranges that would otherwise produce nonsense at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Vision.ParseTimeout <= 0 || c.Vision.HealthTimeout <= 0 {
		errs = append(errs, errors.New("vision timeouts must be positive"))
	}
	if c.Cache.TTL < 0 || c.Cache.VisualTTL < 0 {
		errs = append(errs, errors.New("cache TTLs must not be negative"))
	}
	if c.Playback.ProbeTimeout < 2*time.Second || c.Playback.ProbeTimeout > 10*time.Second {
		errs = append(errs, fmt.Errorf("playback.probeTimeout %v out of range [2s,10s]", c.Playback.ProbeTimeout))
	}
	if c.Dispatch.BiasRatio < 0 || c.Dispatch.BiasRatio >= 1 {
		errs = append(errs, fmt.Errorf("dispatch.biasRatio %.3f out of range [0,1)", c.Dispatch.BiasRatio))
	}
	if c.Keeper.SafeYRatio <= 0 || c.Keeper.SafeYRatio >= 1 {
		errs = append(errs, fmt.Errorf("keeper.safeYRatio %.3f out of range (0,1)", c.Keeper.SafeYRatio))
	}
	if c.Keeper.IDThreshold < 0 {
		errs = append(errs, errors.New("keeper.idThreshold must not be negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	return core.ErrInvalidConfig.WithCause(errors.Join(errs...))
}

// Load loads configuration from a file, layered over Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return defaults
	return Default(), nil
}
