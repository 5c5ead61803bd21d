// Package keeper keeps auto-hiding player controls on screen by tapping a
// safe point whenever they disappear.
//
// A Keeper runs at most one background task. Starting a new one cancels the
// previous task and waits for it to exit first.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
	"github.com/devicelab-dev/element-scheduler/pkg/extract"
	"github.com/devicelab-dev/element-scheduler/pkg/interact"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
)

// MinInterval is the shortest allowed poll interval.
const MinInterval = 50 * time.Millisecond

const owner = "screen-keeper"

// State of the keeper's task.
type State int

// State values
const (
	StateIdle State = iota
	StateRunning
	StateCancelled
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options for one keeper run.
type Options struct {
	Duration      time.Duration // zero or negative runs until Stop
	Interval      time.Duration
	Keyword       string  // present while controls are visible
	IDThreshold   int     // this many resource-ids also means visible
	SafeYRatio    float64 // safe tap height as a fraction of screen height
	TapCooldown   time.Duration
	VisibleGrace  time.Duration
	PostTapSettle time.Duration
}

// DefaultOptions returns the standard tuning for video player screens.
func DefaultOptions() Options {
	return Options{
		Duration:      60 * time.Second,
		Interval:      100 * time.Millisecond,
		Keyword:       "Brightness",
		IDThreshold:   10,
		SafeYRatio:    0.15,
		TapCooldown:   800 * time.Millisecond,
		VisibleGrace:  time.Second,
		PostTapSettle: 250 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.Interval < MinInterval {
		o.Interval = MinInterval
	}
	if o.SafeYRatio <= 0 || o.SafeYRatio >= 1 {
		o.SafeYRatio = def.SafeYRatio
	}
	if o.IDThreshold < 0 {
		o.IDThreshold = def.IDThreshold
	}
	return o
}

// Device is what the keeper reads from.
type Device interface {
	DumpHierarchy(ctx context.Context) (string, error)
	ScreenSize(ctx context.Context) (core.ScreenSize, error)
}

// Stats counts what a run did.
type Stats struct {
	Polls int `json:"polls"`
	Taps  int `json:"taps"`
}

// Keeper owns the single background keep-alive task for one device.
type Keeper struct {
	dev  Device
	disp *interact.Dispatcher
	now  func() time.Time

	opMu sync.Mutex // serializes Start and Stop

	mu    sync.Mutex
	state State
	run   *run
	stats Stats
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle keeper that taps through disp.
func New(dev Device, disp *interact.Dispatcher) *Keeper {
	return &Keeper{dev: dev, disp: disp, now: time.Now}
}

// SafePoint returns the tap point used to wake the controls: horizontally
// centered, ratio of the way down, never on the top pixel row.
func SafePoint(screen core.ScreenSize, ratio float64) interact.Point {
	y := int(float64(screen.Height) * ratio)
	if y < 1 {
		y = 1
	}
	return interact.Point{X: screen.Width / 2, Y: y}
}

// Start begins a run, first cancelling and awaiting any run in progress.
func (k *Keeper) Start(ctx context.Context, opts Options) error {
	k.opMu.Lock()
	defer k.opMu.Unlock()

	k.stopLocked()
	opts = opts.withDefaults()

	screen, err := k.dev.ScreenSize(ctx)
	if err != nil {
		return fmt.Errorf("keeper screen size: %w", err)
	}
	if !screen.Valid() {
		return fmt.Errorf("keeper: invalid screen size %dx%d", screen.Width, screen.Height)
	}
	point := SafePoint(screen, opts.SafeYRatio)
	res, err := k.disp.Reserve(owner, core.Bounds{X: point.X, Y: point.Y, Width: 1, Height: 1})
	if err != nil {
		return err
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if opts.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	r := &run{cancel: cancel, done: make(chan struct{})}

	k.mu.Lock()
	k.run = r
	k.state = StateRunning
	k.stats = Stats{}
	k.mu.Unlock()

	logger.Info("keeper started: duration=%v interval=%v keyword=%q screen=%dx%d point=(%d, %d)",
		opts.Duration, opts.Interval, opts.Keyword, screen.Width, screen.Height, point.X, point.Y)

	go k.loop(runCtx, r, res, point, opts)
	return nil
}

// Stop cancels the current run and waits for it to exit. It is a no-op when
// nothing is running.
func (k *Keeper) Stop() {
	k.opMu.Lock()
	defer k.opMu.Unlock()
	k.stopLocked()
}

func (k *Keeper) stopLocked() {
	k.mu.Lock()
	r := k.run
	k.mu.Unlock()
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
}

// State returns the state of the latest run.
func (k *Keeper) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Stats returns counters for the latest run.
func (k *Keeper) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stats
}

// Done returns a channel closed when the latest run exits. With no run it
// is already closed.
func (k *Keeper) Done() <-chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return k.run.done
}

func (k *Keeper) loop(ctx context.Context, r *run, res *interact.Reservation, point interact.Point, opts Options) {
	limiter := rate.NewLimiter(rate.Every(opts.TapCooldown), 1)
	var lastSeen time.Time

	defer func() {
		res.Release()
		final := StateCancelled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			final = StateExpired
		}
		r.cancel()

		k.mu.Lock()
		if k.run == r {
			k.run = nil
		}
		k.state = final
		stats := k.stats
		k.mu.Unlock()

		logger.Info("keeper %s after %d polls, %d taps", final, stats.Polls, stats.Taps)
		close(r.done)
	}()

	for ctx.Err() == nil {
		if k.poll(ctx, res, point, opts, limiter, &lastSeen) {
			sleep(ctx, opts.PostTapSettle)
		}
		sleep(ctx, opts.Interval)
	}
}

// poll inspects the screen once and reports whether it tapped.
func (k *Keeper) poll(ctx context.Context, res *interact.Reservation, point interact.Point,
	opts Options, limiter *rate.Limiter, lastSeen *time.Time) bool {
	xml, err := k.dev.DumpHierarchy(ctx)
	k.mu.Lock()
	k.stats.Polls++
	k.mu.Unlock()
	if err != nil {
		if ctx.Err() == nil {
			logger.Debug("keeper: dump failed: %v", err)
		}
		return false
	}

	now := k.now()
	if ControlsVisible(xml, opts.Keyword, opts.IDThreshold) {
		*lastSeen = now
		return false
	}
	if !lastSeen.IsZero() && now.Sub(*lastSeen) < opts.VisibleGrace {
		return false
	}
	if opts.TapCooldown > 0 && !limiter.AllowN(now, 1) {
		return false
	}

	if err := res.Tap(ctx, point.X, point.Y); err != nil {
		if ctx.Err() == nil {
			logger.Warn("keeper: tap failed: %v", err)
		}
		return false
	}
	k.mu.Lock()
	k.stats.Taps++
	k.mu.Unlock()
	return true
}

// ControlsVisible decides from a hierarchy dump whether the player controls
// are showing: the keyword appears in some node's text, content-desc,
// resource-id or class (case-insensitive), or at least idThreshold nodes
// carry a resource-id. A threshold of 0 therefore always counts as visible
// and the keeper never taps. An unparsable dump counts as hidden.
func ControlsVisible(xml, keyword string, idThreshold int) bool {
	elements, err := extract.ParseHierarchy(xml, 0, 0)
	if err != nil {
		return false
	}

	kw := strings.ToLower(strings.TrimSpace(keyword))
	ids := 0
	for _, e := range elements {
		if kw != "" {
			for _, field := range []string{e.Text, e.ContentDesc, e.ResourceID, e.ClassName} {
				if strings.Contains(strings.ToLower(field), kw) {
					return true
				}
			}
		}
		if strings.TrimSpace(e.ResourceID) != "" {
			ids++
		}
	}
	return ids >= idThreshold
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
