// Package device provides Android device access via ADB: shell execution,
// hierarchy dumps, screenshots and input taps.
package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
)

// runFunc executes a command and returns stdout and stderr.
type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// AndroidDevice manages an Android device connection via ADB.
type AndroidDevice struct {
	serial       string
	adbPath      string
	shellTimeout time.Duration
	run          runFunc
}

// DeviceInfo contains basic device information.
type DeviceInfo struct {
	Serial     string
	Model      string
	SDK        string
	Brand      string
	IsEmulator bool
}

// New creates an AndroidDevice for the given serial.
// If serial is empty, it auto-detects the connected device.
func New(ctx context.Context, serial string, shellTimeout time.Duration) (*AndroidDevice, error) {
	adbPath, err := findADB()
	if err != nil {
		return nil, err
	}

	d := &AndroidDevice{
		serial:       serial,
		adbPath:      adbPath,
		shellTimeout: shellTimeout,
		run:          execRun,
	}

	// Auto-detect serial if not provided
	if serial == "" {
		d.serial, err = d.detectDeviceSerial(ctx)
		if err != nil {
			return nil, fmt.Errorf("no device specified and auto-detect failed: %w", err)
		}
	}

	// Verify device is connected
	if err := d.waitForDevice(ctx, 5*time.Second); err != nil {
		return nil, core.ErrDeviceDisconnected.WithCause(err)
	}

	return d, nil
}

// detectDeviceSerial finds the first connected device serial.
func (d *AndroidDevice) detectDeviceSerial(ctx context.Context) (string, error) {
	out, _, err := d.run(ctx, d.adbPath, "devices")
	if err != nil {
		return "", err
	}

	lines := strings.Split(string(out), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 && parts[1] == "device" {
			return parts[0], nil
		}
	}
	return "", fmt.Errorf("no connected devices found")
}

// Serial returns the device serial number.
func (d *AndroidDevice) Serial() string {
	return d.serial
}

// Shell executes a shell command on the device.
func (d *AndroidDevice) Shell(ctx context.Context, cmd string) (string, error) {
	out, err := d.adb(ctx, "shell", cmd)
	return string(out), err
}

// Forward creates a port forward from local to device.
func (d *AndroidDevice) Forward(ctx context.Context, localPort, remotePort int) error {
	_, err := d.adb(ctx, "forward", fmt.Sprintf("tcp:%d", localPort), fmt.Sprintf("tcp:%d", remotePort))
	return err
}

// RemoveForward removes a port forward.
func (d *AndroidDevice) RemoveForward(ctx context.Context, localPort int) error {
	_, err := d.adb(ctx, "forward", "--remove", fmt.Sprintf("tcp:%d", localPort))
	return err
}

// Info returns device information.
func (d *AndroidDevice) Info(ctx context.Context) (DeviceInfo, error) {
	info := DeviceInfo{Serial: d.serial}

	if model, err := d.Shell(ctx, "getprop ro.product.model"); err == nil {
		info.Model = strings.TrimSpace(model)
	}
	if sdk, err := d.Shell(ctx, "getprop ro.build.version.sdk"); err == nil {
		info.SDK = strings.TrimSpace(sdk)
	}
	if brand, err := d.Shell(ctx, "getprop ro.product.brand"); err == nil {
		info.Brand = strings.TrimSpace(brand)
	}

	// Check if emulator
	chars, _ := d.Shell(ctx, "getprop ro.kernel.qemu")
	info.IsEmulator = strings.TrimSpace(chars) == "1"

	return info, nil
}

// adb executes an ADB command bounded by the shell timeout.
func (d *AndroidDevice) adb(ctx context.Context, args ...string) ([]byte, error) {
	if d.shellTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.shellTimeout)
		defer cancel()
	}

	cmdArgs := make([]string, 0, len(args)+2)
	if d.serial != "" {
		cmdArgs = append(cmdArgs, "-s", d.serial)
	}
	cmdArgs = append(cmdArgs, args...)

	start := time.Now()
	stdout, stderr, err := d.run(ctx, d.adbPath, cmdArgs...)
	logger.Timing("adb "+args[0], start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.ErrTimeout.WithCause(fmt.Errorf("adb %s: %w", strings.Join(args, " "), ctx.Err()))
		}
		errMsg := string(stderr)
		if errMsg == "" {
			errMsg = string(stdout)
		}
		return nil, fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(errMsg))
	}

	return stdout, nil
}

// waitForDevice polls `adb get-state` every 500ms until the device reports
// "device" or timeout elapses.
func (d *AndroidDevice) waitForDevice(ctx context.Context, timeout time.Duration) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), uint64(timeout/(500*time.Millisecond)))
	err := backoff.Retry(func() error {
		if d.isConnected(ctx) {
			return nil
		}
		return errNotReady
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("timeout waiting for device %s", d.serial)
	}
	return nil
}

// isConnected checks if the device is connected.
func (d *AndroidDevice) isConnected(ctx context.Context) bool {
	out, err := d.adb(ctx, "get-state")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "device"
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //#nosec G204 -- adb path resolved via LookPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// findADB locates the ADB binary.
func findADB() (string, error) {
	// Try PATH first
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("adb not found in PATH; ensure Android SDK is installed")
}
