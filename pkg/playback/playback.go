// Package playback guesses whether media is playing on the device from
// dumpsys output.
package playback

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
)

// DefaultProbeTimeout bounds each probe.
const DefaultProbeTimeout = 5 * time.Second

// Probe is a shell command whose output is a line count; a positive count
// means playback.
type Probe struct {
	Name    string
	Command string
}

// Built-in probes.
var (
	AudioFlingerProbe = Probe{
		Name:    "audio_flinger",
		Command: `dumpsys media.audio_flinger | grep "Standby: no" | wc -l`,
	}
	AudioWakeLockProbe = Probe{
		Name:    "audio_wake_lock",
		Command: `dumpsys power | grep -i wake | grep Audio | wc -l`,
	}
	MediaSessionProbe = Probe{
		Name:    "media_session",
		Command: `dumpsys media_session | grep -E "state=(STATE_PLAYING|3)([^0-9]|$)" | wc -l`,
	}
)

// Shell runs a command on the device.
type Shell interface {
	Shell(ctx context.Context, cmd string) (string, error)
}

// Options configures a Detector.
type Options struct {
	ProbeTimeout time.Duration
	// MediaSession adds the media_session probe.
	MediaSession bool
	// FailedProbeUnknown reports PlaybackUnknown when every probe failed
	// instead of PlaybackStopped.
	FailedProbeUnknown bool
}

// ProbeResult is the outcome of one probe.
type ProbeResult struct {
	Probe Probe
	Count int
	Err   error
}

// Detector runs the playback probes.
type Detector struct {
	shell  Shell
	probes []Probe
	opts   Options
}

// New creates a detector.
func New(shell Shell, opts Options) *Detector {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	probes := []Probe{AudioFlingerProbe, AudioWakeLockProbe}
	if opts.MediaSession {
		probes = append(probes, MediaSessionProbe)
	}
	return &Detector{shell: shell, probes: probes, opts: opts}
}

// Probes returns the probes this detector runs.
func (d *Detector) Probes() []Probe {
	return append([]Probe(nil), d.probes...)
}

// Detect returns PlaybackPlaying if any probe counted a match. A failed probe
// counts as no match; Detect itself never fails.
func (d *Detector) Detect(ctx context.Context) core.PlaybackState {
	start := time.Now()
	results := d.Run(ctx)
	state := Decide(results, d.opts.FailedProbeUnknown)
	logger.Debug("playback detection: %s in %v", state, time.Since(start))
	return state
}

// Run executes all probes concurrently, each under its own timeout.
func (d *Detector) Run(ctx context.Context) []ProbeResult {
	results := make([]ProbeResult, len(d.probes))

	var g errgroup.Group
	for i, p := range d.probes {
		i, p := i, p
		g.Go(func() error {
			results[i] = d.run(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Detector) run(ctx context.Context, p Probe) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, d.opts.ProbeTimeout)
	defer cancel()

	out, err := d.shell.Shell(ctx, p.Command)
	if err != nil {
		logger.Warn("playback probe %s failed: %v", p.Name, err)
		return ProbeResult{Probe: p, Err: err}
	}
	n, err := parseCount(out)
	if err != nil {
		logger.Warn("playback probe %s: %v", p.Name, err)
		return ProbeResult{Probe: p, Err: err}
	}
	return ProbeResult{Probe: p, Count: n}
}

// Decide combines probe results. Any positive count means playing. When
// every probe failed, failedUnknown selects PlaybackUnknown over
// PlaybackStopped.
func Decide(results []ProbeResult, failedUnknown bool) core.PlaybackState {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		if r.Count > 0 {
			return core.PlaybackPlaying
		}
	}
	if failedUnknown && len(results) > 0 && failed == len(results) {
		return core.PlaybackUnknown
	}
	return core.PlaybackStopped
}

// parseCount reads the number printed by `wc -l`.
func parseCount(out string) (int, error) {
	s := strings.TrimSpace(out)
	if s == "" {
		return 0, fmt.Errorf("empty probe output")
	}
	// Linker warnings may precede the count.
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[len(fields)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unexpected probe output %q", strings.TrimSpace(out))
	}
	return n, nil
}
