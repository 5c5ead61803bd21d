// Package bridge defines the device contract the scheduler consumes and a
// composite implementation that prefers a UIAutomator2 session and falls
// back to plain adb.
package bridge

import (
	"context"
	"sync"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
	"github.com/devicelab-dev/element-scheduler/pkg/uiautomator2"
)

// Bridge is everything the scheduler needs from a device.
type Bridge interface {
	DumpHierarchy(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Shell(ctx context.Context, cmd string) (string, error)
	Tap(ctx context.Context, x, y int) error
	ScreenSize(ctx context.Context) (core.ScreenSize, error)
}

// Automation is the subset of a UIAutomator2 session used by Composite.
type Automation interface {
	Source(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Click(ctx context.Context, x, y int) error
	WindowRect(ctx context.Context) (uiautomator2.WindowRect, error)
}

var _ Automation = (*uiautomator2.Client)(nil)

// Composite routes calls to a UIAutomator2 session when one is attached and
// to adb otherwise. Shell always goes through adb.
type Composite struct {
	adb  Bridge
	uia2 Automation

	mu   sync.Mutex
	size core.ScreenSize
}

// New creates a composite bridge. uia2 may be nil.
func New(adb Bridge, uia2 Automation) *Composite {
	return &Composite{adb: adb, uia2: uia2}
}

// HasAutomation reports whether a UIAutomator2 session is attached.
func (c *Composite) HasAutomation() bool {
	return c.uia2 != nil
}

// DumpHierarchy returns the accessibility hierarchy XML.
func (c *Composite) DumpHierarchy(ctx context.Context) (string, error) {
	if c.uia2 != nil {
		src, err := c.uia2.Source(ctx)
		if err == nil {
			return src, nil
		}
		logger.Warn("uia2 source failed, falling back to adb dump: %v", err)
	}
	return c.adb.DumpHierarchy(ctx)
}

// Screenshot captures the screen as PNG.
func (c *Composite) Screenshot(ctx context.Context) ([]byte, error) {
	if c.uia2 != nil {
		png, err := c.uia2.Screenshot(ctx)
		if err == nil {
			return png, nil
		}
		logger.Warn("uia2 screenshot failed, falling back to screencap: %v", err)
	}
	return c.adb.Screenshot(ctx)
}

// Shell runs a shell command on the device.
func (c *Composite) Shell(ctx context.Context, cmd string) (string, error) {
	return c.adb.Shell(ctx, cmd)
}

// Tap taps at pixel coordinates through the device binding. Callers that
// want the `input tap` fallback issue it themselves through Shell.
func (c *Composite) Tap(ctx context.Context, x, y int) error {
	if c.uia2 != nil {
		if err := c.uia2.Click(ctx, x, y); err != nil {
			return core.ErrTapRejected.WithCause(err)
		}
		return nil
	}
	return c.adb.Tap(ctx, x, y)
}

// ScreenSize returns the display size. The first successful answer is
// remembered for the lifetime of the bridge.
func (c *Composite) ScreenSize(ctx context.Context) (core.ScreenSize, error) {
	c.mu.Lock()
	cached := c.size
	c.mu.Unlock()
	if cached.Valid() {
		return cached, nil
	}

	size, err := c.adb.ScreenSize(ctx)
	if (err != nil || !size.Valid()) && c.uia2 != nil {
		rect, rerr := c.uia2.WindowRect(ctx)
		if rerr == nil {
			size, err = core.ScreenSize{Width: rect.Width, Height: rect.Height}, nil
		}
	}
	if err != nil {
		return core.ScreenSize{}, err
	}

	if size.Valid() {
		c.mu.Lock()
		c.size = size
		c.mu.Unlock()
	}
	return size, nil
}
