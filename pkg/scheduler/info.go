package scheduler

import (
	"context"

	"github.com/devicelab-dev/element-scheduler/pkg/bridge"
	"github.com/devicelab-dev/element-scheduler/pkg/config"
	"github.com/devicelab-dev/element-scheduler/pkg/core"
	"github.com/devicelab-dev/element-scheduler/pkg/extract"
	"github.com/devicelab-dev/element-scheduler/pkg/interact"
	"github.com/devicelab-dev/element-scheduler/pkg/keeper"
	"github.com/devicelab-dev/element-scheduler/pkg/omniparser"
	"github.com/devicelab-dev/element-scheduler/pkg/playback"
)

// ModeInfo reports the scheduler's view of the device.
type ModeInfo struct {
	DefaultMode     core.ExtractionMode `json:"current_mode"`
	Playback        core.PlaybackState  `json:"playback_state"`
	VisionAvailable bool                `json:"omniparser_available"`
	ScreenSize      core.ScreenSize     `json:"screen_size"`
	DeviceConnected bool                `json:"device_connected"`
	Keeper          string              `json:"keeper_state"`
	KeeperStats     keeper.Stats        `json:"keeper_stats"`
	Cache           []CacheInfo         `json:"cache"`
}

// ModeInfo probes playback, the vision service and the device.
func (s *Scheduler) ModeInfo(ctx context.Context) ModeInfo {
	info := ModeInfo{
		DefaultMode: s.DefaultMode(),
		Playback:    s.playback.Detect(ctx),
		Keeper:      s.keeper.State().String(),
		KeeperStats: s.keeper.Stats(),
	}
	if s.visual != nil {
		info.VisionAvailable = s.visual.Healthy(ctx)
	}
	if screen, err := s.bridge.ScreenSize(ctx); err == nil {
		info.ScreenSize = screen
		info.DeviceConnected = true
	}

	s.mu.Lock()
	info.Cache = s.cache.info()
	s.mu.Unlock()
	return info
}

// FromConfig wires the vision client, extractors, playback detector and
// dispatcher for b. An empty vision URL leaves the scheduler XML only.
func FromConfig(b bridge.Bridge, cfg *config.Config) *Scheduler {
	var visual *extract.Visual
	if cfg.Vision.URL != "" {
		client := omniparser.New(cfg.Vision.URL, omniparser.Options{
			ParseTimeout:  cfg.Vision.ParseTimeout,
			HealthTimeout: cfg.Vision.HealthTimeout,
			UsePaddleOCR:  cfg.Vision.UsePaddleOCR,
		})
		visual = extract.NewVisual(client, extract.VisualOptions{TTL: cfg.Cache.VisualTTL})
	}

	detector := playback.New(b, playback.Options{
		ProbeTimeout:       cfg.Playback.ProbeTimeout,
		MediaSession:       cfg.Playback.MediaSessionProbe,
		FailedProbeUnknown: cfg.Playback.FailedProbeUnknown,
	})
	disp := interact.New(b, interact.Options{
		BiasRatio: cfg.Dispatch.BiasRatio,
		Grace:     cfg.Dispatch.Grace,
	})
	return New(b, visual, detector, disp, Options{
		CacheTTL:    cfg.Cache.TTL,
		DefaultMode: cfg.DefaultMode,
	})
}

// KeeperOptions converts the keeper section of cfg into run options.
func KeeperOptions(cfg config.KeeperConfig) keeper.Options {
	return keeper.Options{
		Duration:      cfg.DefaultTimeout,
		Interval:      cfg.Interval,
		Keyword:       cfg.Keyword,
		IDThreshold:   cfg.IDThreshold,
		SafeYRatio:    cfg.SafeYRatio,
		TapCooldown:   cfg.TapCooldown,
		VisibleGrace:  cfg.VisibleGrace,
		PostTapSettle: cfg.PostTapSettle,
	}
}
