package device

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

var errNotReady = errors.New("not ready")

// UIAutomator2 package names
const (
	UIAutomator2Server = "io.appium.uiautomator2.server"
	UIAutomator2Test   = "io.appium.uiautomator2.server.test"

	// Agent installed by the python uiautomator2 tooling; it holds the
	// UiAutomation connection and makes `uiautomator dump` fail.
	ATXAgent     = "com.github.uiautomator"
	ATXAgentTest = "com.github.uiautomator.test"
)

// UIAutomator2Config holds configuration for the UIAutomator2 server.
type UIAutomator2Config struct {
	LocalPort  int           // TCP port on the host
	DevicePort int           // Port on device (default: 6790)
	Timeout    time.Duration // Startup timeout (default: 30s)
}

// DefaultUIAutomator2Config returns default configuration.
func DefaultUIAutomator2Config() UIAutomator2Config {
	return UIAutomator2Config{
		DevicePort: 6790,
		Timeout:    30 * time.Second,
	}
}

// IsInstalled checks if a package is installed.
func (d *AndroidDevice) IsInstalled(ctx context.Context, pkg string) bool {
	out, err := d.Shell(ctx, "pm list packages "+pkg)
	if err != nil {
		return false
	}
	return containsLine(out, "package:"+pkg)
}

// StartUIAutomator2 starts the UIAutomator2 server and forwards cfg.LocalPort to it.
func (d *AndroidDevice) StartUIAutomator2(ctx context.Context, cfg UIAutomator2Config) error {
	if cfg.LocalPort == 0 {
		return fmt.Errorf("UIAutomator2 local port not set")
	}
	if !d.IsInstalled(ctx, UIAutomator2Server) {
		return fmt.Errorf("UIAutomator2 server not installed: %s", UIAutomator2Server)
	}
	if !d.IsInstalled(ctx, UIAutomator2Test) {
		return fmt.Errorf("UIAutomator2 test APK not installed: %s", UIAutomator2Test)
	}

	// Stop any existing instance
	d.StopUIAutomator2(ctx, cfg)

	if err := d.Forward(ctx, cfg.LocalPort, cfg.DevicePort); err != nil {
		return fmt.Errorf("port forward failed: %w", err)
	}

	// Start instrumentation in background using nohup
	instrumentCmd := fmt.Sprintf(
		"nohup am instrument -w -e disableAnalytics true "+
			"%s/androidx.test.runner.AndroidJUnitRunner "+
			"> /dev/null 2>&1 &",
		UIAutomator2Test,
	)
	if _, err := d.Shell(ctx, instrumentCmd); err != nil {
		return fmt.Errorf("failed to start instrumentation: %w", err)
	}

	if err := waitForUIAutomator2Ready(ctx, cfg.LocalPort, cfg.Timeout); err != nil {
		d.StopUIAutomator2(ctx, cfg)
		return err
	}

	return nil
}

// StopUIAutomator2 stops the UIAutomator2 server and removes its forward.
func (d *AndroidDevice) StopUIAutomator2(ctx context.Context, cfg UIAutomator2Config) {
	// Force stop both packages - this should kill the instrumentation runner
	d.Shell(ctx, "am force-stop "+UIAutomator2Server)
	d.Shell(ctx, "am force-stop "+UIAutomator2Test)

	if cfg.LocalPort != 0 {
		d.RemoveForward(ctx, cfg.LocalPort)
	}
}

// StopUIAutomatorAgents force-stops every instrumentation that would hold the
// UiAutomation connection, so that `uiautomator dump` can run.
func (d *AndroidDevice) StopUIAutomatorAgents(ctx context.Context) {
	for _, pkg := range []string{ATXAgent, ATXAgentTest, UIAutomator2Server, UIAutomator2Test} {
		if _, err := d.Shell(ctx, "am force-stop "+pkg); err != nil {
			return
		}
	}

	// Give processes time to die
	select {
	case <-ctx.Done():
	case <-time.After(300 * time.Millisecond):
	}
}

// waitForUIAutomator2Ready polls the status endpoint until it answers or
// timeout elapses.
func waitForUIAutomator2Ready(ctx context.Context, port int, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = timeout

	err := backoff.Retry(func() error {
		if checkHealthViaTCP(port) {
			return nil
		}
		return errNotReady
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("UIAutomator2 server not ready after %v", timeout)
	}
	return nil
}

// checkHealthViaTCP checks health via TCP port.
func checkHealthViaTCP(port int) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	return checkHealthWithClient(client, fmt.Sprintf("http://127.0.0.1:%d/wd/hub/status", port))
}

// checkHealthWithClient performs health check using the given client and URL.
func checkHealthWithClient(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func containsLine(out, want string) bool {
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == want {
			return true
		}
	}
	return false
}
