// Package interact maps elements to device pixels and dispatches taps.
package interact

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
	"github.com/devicelab-dev/element-scheduler/pkg/device"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
)

// Defaults for Options.
const (
	DefaultBiasRatio = 0.02
	DefaultGrace     = 100 * time.Millisecond
)

// Device is the tap surface of a bridge.
type Device interface {
	Tap(ctx context.Context, x, y int) error
	Shell(ctx context.Context, cmd string) (string, error)
}

// Options configures a Dispatcher.
type Options struct {
	BiasRatio float64       // fraction of screen height a biased tap moves up
	Grace     time.Duration // pause after each tap; negative disables
}

// Point is a pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Dispatcher sends taps to a device. At most one screen area can be
// reserved at a time; taps inside it are only accepted from the holder.
type Dispatcher struct {
	dev  Device
	opts Options

	mu       sync.Mutex
	reserved *Reservation
}

// New creates a dispatcher.
func New(dev Device, opts Options) *Dispatcher {
	if opts.BiasRatio == 0 {
		opts.BiasRatio = DefaultBiasRatio
	}
	if opts.Grace == 0 {
		opts.Grace = DefaultGrace
	}
	return &Dispatcher{dev: dev, opts: opts}
}

// MapPoint converts an element's normalized center to pixels. With bias the
// point moves up by ratio*H, never above the top edge.
func MapPoint(el core.Element, screen core.ScreenSize, bias bool, ratio float64) Point {
	x, y := screen.ToPixel(el.CenterX, el.CenterY)
	if bias {
		y -= int(math.Round(ratio * float64(screen.Height)))
		if y < 0 {
			y = 0
		}
	}
	return Point{X: x, Y: y}
}

// Tap taps the center of el and reports whether the device accepted it.
// Failures are logged.
func (d *Dispatcher) Tap(ctx context.Context, el core.Element, screenW, screenH int, bias bool) bool {
	_, err := d.TapElement(ctx, el, core.ScreenSize{Width: screenW, Height: screenH}, bias)
	if err != nil {
		logger.Error("tap %s failed: %v", el.UUID, err)
		return false
	}
	return true
}

// TapElement is Tap with the dispatched point and the failure cause.
func (d *Dispatcher) TapElement(ctx context.Context, el core.Element, screen core.ScreenSize, bias bool) (Point, error) {
	if !screen.Valid() {
		return Point{}, core.ErrTapRejected.WithMessage(fmt.Sprintf("invalid screen size %dx%d", screen.Width, screen.Height))
	}
	if el.Bounds.IsZero() {
		return Point{}, core.ErrTapRejected.WithMessage(fmt.Sprintf("element %s has no bounds", el.UUID))
	}

	p := MapPoint(el, screen, bias, d.opts.BiasRatio)
	if r := d.reservation(); r != nil && r.contains(p) {
		return p, core.ErrAreaReserved.WithDetails(map[string]any{"x": p.X, "y": p.Y, "owner": r.owner})
	}
	if err := d.dispatch(ctx, p); err != nil {
		return p, err
	}
	logger.Info("tapped %s at (%d, %d) bias=%v", el.UUID, p.X, p.Y, bias)
	return p, nil
}

// dispatch prefers the bridge tap and falls back to `input tap`.
func (d *Dispatcher) dispatch(ctx context.Context, p Point) error {
	err := d.dev.Tap(ctx, p.X, p.Y)
	if err != nil {
		logger.Warn("bridge tap at (%d, %d) failed, falling back to input tap: %v", p.X, p.Y, err)
		if _, shellErr := d.dev.Shell(ctx, device.TapCommand(p.X, p.Y)); shellErr != nil {
			return core.ErrTapRejected.WithCause(fmt.Errorf("bridge: %v; shell: %w", err, shellErr))
		}
	}
	d.settle(ctx)
	return nil
}

func (d *Dispatcher) settle(ctx context.Context) {
	if d.opts.Grace <= 0 {
		return
	}
	t := time.NewTimer(d.opts.Grace)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (d *Dispatcher) reservation() *Reservation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reserved
}

// Reserve claims a pixel area for owner. It fails with core.ErrAreaReserved
// while another reservation is held.
func (d *Dispatcher) Reserve(owner string, area core.Bounds) (*Reservation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reserved != nil {
		return nil, core.ErrAreaReserved.WithDetails(map[string]any{"owner": d.reserved.owner})
	}
	r := &Reservation{d: d, owner: owner, area: area}
	d.reserved = r
	logger.Debug("area %+v reserved by %s", area, owner)
	return r, nil
}

// Reservation is an exclusive claim on a screen area.
type Reservation struct {
	d     *Dispatcher
	owner string
	area  core.Bounds
}

// Area returns the reserved rectangle.
func (r *Reservation) Area() core.Bounds {
	return r.area
}

// Tap taps at (x, y), which must lie inside the reserved area.
func (r *Reservation) Tap(ctx context.Context, x, y int) error {
	if !r.held() {
		return core.ErrTapRejected.WithMessage("reservation released")
	}
	p := Point{X: x, Y: y}
	if !r.contains(p) {
		return core.ErrTapRejected.WithMessage(fmt.Sprintf("(%d, %d) outside reserved area", x, y))
	}
	return r.d.dispatch(ctx, p)
}

// Release gives the area back. Releasing twice is a no-op.
func (r *Reservation) Release() {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if r.d.reserved == r {
		r.d.reserved = nil
		logger.Debug("area %+v released by %s", r.area, r.owner)
	}
}

func (r *Reservation) held() bool {
	return r.d.reservation() == r
}

func (r *Reservation) contains(p Point) bool {
	return r.area.Contains(p.X, p.Y)
}
