// Package bridgetest provides an in-memory bridge for tests.
package bridgetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
)

// PNG is a minimal valid PNG (1x1 transparent pixel).
var PNG = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
	0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
	0x42, 0x60, 0x82,
}

// Point is a recorded tap.
type Point struct{ X, Y int }

// Bridge is a scriptable fake device. Zero value answers with an empty
// hierarchy, PNG, 1080x1920 and successful taps.
type Bridge struct {
	mu sync.Mutex

	Hierarchy     string
	HierarchyErr  error
	PNG           []byte
	ScreenshotErr error
	Size          core.ScreenSize
	SizeErr       error
	TapErr        error

	// ShellFunc answers Shell calls. Nil returns "" for every command.
	ShellFunc func(cmd string) (string, error)
	// HierarchyFunc overrides Hierarchy when set; it is called once per dump.
	HierarchyFunc func(call int) string

	Taps          []Point
	ShellCommands []string
	Dumps         int
	Screenshots   int
}

// New returns a fake bridge serving xml on a 1080x1920 screen.
func New(xml string) *Bridge {
	return &Bridge{
		Hierarchy: xml,
		PNG:       PNG,
		Size:      core.ScreenSize{Width: 1080, Height: 1920},
	}
}

// DumpHierarchy returns the scripted hierarchy.
func (b *Bridge) DumpHierarchy(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Dumps++
	if b.HierarchyErr != nil {
		return "", b.HierarchyErr
	}
	if b.HierarchyFunc != nil {
		return b.HierarchyFunc(b.Dumps), nil
	}
	return b.Hierarchy, nil
}

// Screenshot returns the scripted PNG.
func (b *Bridge) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Screenshots++
	if b.ScreenshotErr != nil {
		return nil, b.ScreenshotErr
	}
	if b.PNG == nil {
		return PNG, nil
	}
	return b.PNG, nil
}

// Shell records cmd and answers through ShellFunc. `input tap x y` is also
// recorded as a tap.
func (b *Bridge) Shell(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.ShellCommands = append(b.ShellCommands, cmd)
	fn := b.ShellFunc
	b.mu.Unlock()

	if strings.HasPrefix(cmd, "input tap ") {
		var p Point
		if _, err := fmt.Sscanf(cmd, "input tap %d %d", &p.X, &p.Y); err == nil {
			b.mu.Lock()
			b.Taps = append(b.Taps, p)
			b.mu.Unlock()
		}
	}
	if fn == nil {
		return "", nil
	}
	return fn(cmd)
}

// Tap records a tap unless TapErr is set.
func (b *Bridge) Tap(ctx context.Context, x, y int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.TapErr != nil {
		return b.TapErr
	}
	b.Taps = append(b.Taps, Point{X: x, Y: y})
	return nil
}

// ScreenSize returns the scripted size, 1080x1920 when unset.
func (b *Bridge) ScreenSize(ctx context.Context) (core.ScreenSize, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SizeErr != nil {
		return core.ScreenSize{}, b.SizeErr
	}
	if !b.Size.Valid() {
		return core.ScreenSize{Width: 1080, Height: 1920}, nil
	}
	return b.Size, nil
}

// SetHierarchy replaces the hierarchy served by later dumps.
func (b *Bridge) SetHierarchy(xml string) {
	b.mu.Lock()
	b.Hierarchy = xml
	b.mu.Unlock()
}

// TapCount returns the number of recorded taps.
func (b *Bridge) TapCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Taps)
}

// RecordedTaps returns a copy of the recorded taps.
func (b *Bridge) RecordedTaps() []Point {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Point(nil), b.Taps...)
}

// DumpCount returns the number of hierarchy dumps.
func (b *Bridge) DumpCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Dumps
}
