package device

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
)

const dumpPath = "/sdcard/window_dump.xml"

var (
	physicalSizeRe = regexp.MustCompile(`Physical size:\s*(\d+)x(\d+)`)
	overrideSizeRe = regexp.MustCompile(`Override size:\s*(\d+)x(\d+)`)
)

// DumpHierarchy returns the accessibility hierarchy XML. It writes the dump
// to sdcard first and falls back to streaming it through exec-out.
func (d *AndroidDevice) DumpHierarchy(ctx context.Context) (string, error) {
	_, dumpErr := d.Shell(ctx, "uiautomator dump "+dumpPath)
	if dumpErr == nil {
		out, err := d.Shell(ctx, "cat "+dumpPath)
		if err == nil {
			if xml := trimToHierarchy(out); xml != "" {
				return xml, nil
			}
		}
		logger.Debug("sdcard dump unreadable, falling back to exec-out: %v", err)
	} else {
		logger.Debug("uiautomator dump failed, falling back to exec-out: %v", dumpErr)
	}

	out, err := d.adb(ctx, "exec-out", "uiautomator", "dump", "/dev/tty")
	if err != nil {
		return "", fmt.Errorf("dump hierarchy: %w", err)
	}
	xml := trimToHierarchy(string(out))
	if xml == "" {
		return "", fmt.Errorf("dump hierarchy: no <hierarchy> in output")
	}
	return xml, nil
}

// trimToHierarchy strips banners that uiautomator prints around the XML.
func trimToHierarchy(s string) string {
	start := strings.Index(s, "<?xml")
	if start < 0 {
		start = strings.Index(s, "<hierarchy")
	}
	if start < 0 {
		return ""
	}
	s = s[start:]
	if end := strings.LastIndex(s, "</hierarchy>"); end >= 0 {
		s = s[:end+len("</hierarchy>")]
	}
	return s
}

// Screenshot captures the screen as PNG.
func (d *AndroidDevice) Screenshot(ctx context.Context) ([]byte, error) {
	out, err := d.adb(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	if !bytes.HasPrefix(out, []byte("\x89PNG")) {
		return nil, fmt.Errorf("screenshot: output is not a PNG (%d bytes)", len(out))
	}
	return out, nil
}

// Tap injects a tap at pixel coordinates with `input tap`.
func (d *AndroidDevice) Tap(ctx context.Context, x, y int) error {
	if _, err := d.Shell(ctx, TapCommand(x, y)); err != nil {
		return core.ErrTapRejected.WithCause(err)
	}
	return nil
}

// TapCommand returns the shell command that taps at (x, y).
func TapCommand(x, y int) string {
	return fmt.Sprintf("input tap %d %d", x, y)
}

// ScreenSize reads the display size from `wm size`, preferring an override
// size over the physical one since input coordinates follow the override.
func (d *AndroidDevice) ScreenSize(ctx context.Context) (core.ScreenSize, error) {
	out, err := d.Shell(ctx, "wm size")
	if err != nil {
		return core.ScreenSize{}, err
	}
	return ParseWMSize(out)
}

// ParseWMSize parses the output of `wm size`.
func ParseWMSize(out string) (core.ScreenSize, error) {
	m := overrideSizeRe.FindStringSubmatch(out)
	if m == nil {
		m = physicalSizeRe.FindStringSubmatch(out)
	}
	if m == nil {
		return core.ScreenSize{}, fmt.Errorf("unrecognized wm size output: %q", strings.TrimSpace(out))
	}
	w, _ := strconv.Atoi(m[1])
	h, _ := strconv.Atoi(m[2])
	return core.ScreenSize{Width: w, Height: h}, nil
}
