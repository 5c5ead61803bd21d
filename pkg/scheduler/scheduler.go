// Package scheduler decides which discovery backend serves each request,
// normalizes and caches the result, and routes taps and the screen keeper
// through a single owner per device session.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/element-scheduler/pkg/bridge"
	"github.com/devicelab-dev/element-scheduler/pkg/core"
	"github.com/devicelab-dev/element-scheduler/pkg/extract"
	"github.com/devicelab-dev/element-scheduler/pkg/interact"
	"github.com/devicelab-dev/element-scheduler/pkg/keeper"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
)

// PlaybackDetector classifies media playback on the device.
type PlaybackDetector interface {
	Detect(ctx context.Context) core.PlaybackState
}

// Options configures a Scheduler.
type Options struct {
	CacheTTL    time.Duration       // DefaultCacheTTL when zero, negative disables
	DefaultMode core.ExtractionMode // mode for the convenience lookups
	Now         func() time.Time
}

// Result is the answer to one GetElements call. Elements is never nil and
// is shared with the cache, so callers must not modify it.
type Result struct {
	Elements   []core.Element      `json:"elements"`
	Requested  core.ExtractionMode `json:"requested_mode"`
	Mode       core.ExtractionMode `json:"extraction_mode"`
	Playback   core.PlaybackState  `json:"playback_state"`
	Outcome    core.Outcome        `json:"outcome"`
	Warnings   []string            `json:"warnings,omitempty"`
	Cached     bool                `json:"cached"`
	CapturedAt time.Time           `json:"captured_at"`
}

// Scheduler owns element discovery, tap dispatch and the screen keeper for
// one device session.
type Scheduler struct {
	bridge     bridge.Bridge
	xml        *extract.XML
	visual     *extract.Visual // nil when no vision service is configured
	playback   PlaybackDetector
	dispatcher *interact.Dispatcher
	keeper     *keeper.Keeper
	now        func() time.Time

	mu          sync.Mutex // mode decision and cache access
	cache       *cache
	defaultMode core.ExtractionMode
}

// New creates a scheduler. visual may be nil, in which case every visual
// request falls back to the accessibility tree.
func New(b bridge.Bridge, visual *extract.Visual, playback PlaybackDetector, disp *interact.Dispatcher, opts Options) *Scheduler {
	if opts.CacheTTL == 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		bridge:      b,
		xml:         extract.NewXML(),
		visual:      visual,
		playback:    playback,
		dispatcher:  disp,
		keeper:      keeper.New(b, disp),
		now:         opts.Now,
		cache:       newCache(opts.CacheTTL, opts.Now),
		defaultMode: opts.DefaultMode,
	}
}

// DecideMode is the AUTO policy: vision only while media plays and the
// vision service is healthy, the accessibility tree otherwise.
func DecideMode(playback core.PlaybackState, visionHealthy bool) core.ExtractionMode {
	if playback.IsPlaying() && visionHealthy {
		return core.ModeVisualOnly
	}
	return core.ModeXMLOnly
}

// GetElements returns elements for the requested mode. It never fails: when
// no backend produces elements the result is empty with OutcomeFailed and
// the causes in Warnings.
func (s *Scheduler) GetElements(ctx context.Context, requested core.ExtractionMode) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Result{Requested: requested, Playback: core.PlaybackUnknown}
	mode := requested
	if mode == core.ModeAuto {
		mode = s.resolveAuto(ctx, &res)
	}
	res.Mode = mode

	if e, ok := s.cache.get(mode); ok {
		logger.Debug("scheduler: %s served from cache (%d elements)", mode, len(e.elements))
		res.Elements, res.CapturedAt, res.Cached = e.elements, e.capturedAt, true
		res.Outcome = core.OutcomeSuccess
		return res
	}

	start := time.Now()
	actual, elements, err := s.extract(ctx, mode, &res)
	if err == nil && len(elements) == 0 && actual != core.ModeXMLOnly {
		err = fmt.Errorf("%s produced no elements", actual)
	}
	if err == nil {
		e := s.cache.put(actual, elements)
		res.Mode, res.Elements, res.CapturedAt = actual, e.elements, e.capturedAt
		if actual != mode {
			res.Outcome = core.OutcomeDegraded
		}
		logger.Info("scheduler: %s -> %s, %d elements in %v", requested, actual, len(elements), time.Since(start))
		return res
	}
	res.warn("%s extraction failed: %v", mode, err)

	if mode == core.ModeXMLOnly && errors.Is(err, core.ErrMalformedHierarchy) {
		return s.failed(res)
	}

	// One retry through the accessibility tree.
	elements, retryErr := s.run(ctx, s.xml)
	if retryErr != nil {
		res.warn("xml_only retry failed: %v", retryErr)
		return s.failed(res)
	}
	e := s.cache.put(core.ModeXMLOnly, elements)
	res.Mode, res.Elements, res.CapturedAt = core.ModeXMLOnly, e.elements, e.capturedAt
	res.Outcome = core.OutcomeDegraded
	logger.Warn("scheduler: %s fell back to xml_only, %d elements", mode, len(elements))
	return res
}

func (s *Scheduler) failed(res Result) Result {
	res.Elements = []core.Element{}
	res.Outcome = core.OutcomeFailed
	logger.Error("scheduler: no backend produced elements for %s", res.Requested)
	return res
}

func (s *Scheduler) resolveAuto(ctx context.Context, res *Result) core.ExtractionMode {
	res.Playback = s.playback.Detect(ctx)
	if !res.Playback.IsPlaying() {
		return DecideMode(res.Playback, false)
	}
	healthy := s.visual != nil && s.visual.Healthy(ctx)
	if !healthy {
		res.warn("media is playing but the vision service is unavailable, using xml_only")
		logger.Warn("scheduler: media playing, vision unavailable; using xml_only")
	}
	return DecideMode(res.Playback, healthy)
}

// extract runs the backend(s) for mode and returns the mode that actually
// produced the batch.
func (s *Scheduler) extract(ctx context.Context, mode core.ExtractionMode, res *Result) (core.ExtractionMode, []core.Element, error) {
	switch mode {
	case core.ModeXMLOnly:
		elements, err := s.run(ctx, s.xml)
		return mode, elements, err
	case core.ModeVisualOnly:
		if s.visual == nil {
			return mode, nil, core.ErrVisionUnavailable.WithMessage("no vision service configured")
		}
		elements, err := s.run(ctx, s.visual)
		return mode, elements, err
	case core.ModeHybrid:
		return s.hybrid(ctx, res)
	default:
		return mode, nil, fmt.Errorf("unsupported extraction mode %s", mode)
	}
}

// hybrid runs both backends concurrently and puts visual elements first.
// If one half fails the other half is returned under its own mode.
func (s *Scheduler) hybrid(ctx context.Context, res *Result) (core.ExtractionMode, []core.Element, error) {
	if s.visual == nil {
		res.warn("hybrid requested without a vision service, using xml_only")
		elements, err := s.run(ctx, s.xml)
		return core.ModeXMLOnly, elements, err
	}

	var (
		visualEls, xmlEls []core.Element
		visualErr, xmlErr error
		g                 errgroup.Group
	)
	g.Go(func() error {
		visualEls, visualErr = s.run(ctx, s.visual)
		return nil
	})
	g.Go(func() error {
		xmlEls, xmlErr = s.run(ctx, s.xml)
		return nil
	})
	_ = g.Wait()

	switch {
	case visualErr == nil && xmlErr == nil:
		s.cache.put(core.ModeXMLOnly, xmlEls)
		merged := make([]core.Element, 0, len(visualEls)+len(xmlEls))
		merged = append(merged, visualEls...)
		merged = append(merged, xmlEls...)
		return core.ModeHybrid, merged, nil
	case xmlErr == nil:
		res.warn("hybrid visual half failed, degraded to xml_only: %v", visualErr)
		return core.ModeXMLOnly, xmlEls, nil
	case visualErr == nil:
		res.warn("hybrid xml half failed, degraded to visual_only: %v", xmlErr)
		return core.ModeVisualOnly, visualEls, nil
	default:
		return core.ModeHybrid, nil, errors.Join(visualErr, xmlErr)
	}
}

func (s *Scheduler) run(ctx context.Context, e extract.Extractor) ([]core.Element, error) {
	start := time.Now()
	elements, err := e.Extract(ctx, s.bridge)
	logger.Debug("scheduler: %s extractor returned %d elements in %v (err=%v)", e.Kind(), len(elements), time.Since(start), err)
	return elements, err
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// SetDefaultMode changes the mode used by the lookup and tap helpers.
func (s *Scheduler) SetDefaultMode(mode core.ExtractionMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultMode = mode
	logger.Info("scheduler: default mode set to %s", mode)
}

// DefaultMode returns the mode used by the lookup and tap helpers.
func (s *Scheduler) DefaultMode() core.ExtractionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultMode
}

// Invalidate drops every cached batch, including the vision extractor's.
func (s *Scheduler) Invalidate() {
	s.mu.Lock()
	s.cache.clear()
	s.mu.Unlock()
	if s.visual != nil {
		s.visual.Invalidate()
	}
}

// Dispatcher returns the tap dispatcher shared with the keeper.
func (s *Scheduler) Dispatcher() *interact.Dispatcher {
	return s.dispatcher
}

// StartKeeper starts the screen keeper, replacing any run in progress.
func (s *Scheduler) StartKeeper(ctx context.Context, opts keeper.Options) error {
	return s.keeper.Start(ctx, opts)
}

// StopKeeper stops the screen keeper and waits for it to exit.
func (s *Scheduler) StopKeeper() {
	s.keeper.Stop()
}

// Keeper returns the scheduler's keeper.
func (s *Scheduler) Keeper() *keeper.Keeper {
	return s.keeper
}

// Close stops background work.
func (s *Scheduler) Close() {
	s.keeper.Stop()
}
