package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/element-scheduler/pkg/bridge"
	"github.com/devicelab-dev/element-scheduler/pkg/bridge/bridgetest"
	"github.com/devicelab-dev/element-scheduler/pkg/config"
	"github.com/devicelab-dev/element-scheduler/pkg/core"
)

const screenXML = `<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" package="com.example.player" bounds="[0,0][1080,1920]">
    <node text="Skip Ad" resource-id="com.example.player:id/skip" class="android.widget.Button" package="com.example.player" clickable="true" bounds="[880,1600][1080,1700]"/>
  </node>
</hierarchy>`

// withHome points the home directory at a temp dir for the test.
func withHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("ELEMENT_SCHEDULER_HOME", home)
	config.ResetHome()
	t.Cleanup(config.ResetHome)
	return home
}

// withDevice replaces the device connection with b and counts connects.
func withDevice(t *testing.T, b *bridgetest.Bridge) *int {
	t.Helper()
	connects := 0
	orig := connectDevice
	connectDevice = func(ctx context.Context, cfg config.DeviceConfig) (bridge.Bridge, func(), error) {
		connects++
		return b, func() {}, nil
	}
	t.Cleanup(func() { connectDevice = orig })
	return &connects
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	app := NewApp()
	var stdout, stderr bytes.Buffer
	app.Writer = &stdout
	app.ErrWriter = &stderr

	argv := append([]string{"element-scheduler", "--no-ansi", "--vision-url", ""}, args...)
	err := app.Run(argv)
	return stdout.String(), stderr.String(), err
}

func TestHelpAndVersion(t *testing.T) {
	withHome(t)

	stdout, _, err := runApp(t, "--help")
	if err != nil {
		t.Fatalf("--help: %v", err)
	}
	for _, want := range []string{"--verbose", "keep-controls", "mode-info"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("help output missing %q:\n%s", want, stdout)
		}
	}

	for _, flag := range []string{"--version", "-v"} {
		stdout, _, err := runApp(t, flag)
		if err != nil {
			t.Fatalf("%s: %v", flag, err)
		}
		if !strings.Contains(stdout, "element-scheduler version "+Version) {
			t.Errorf("%s output = %q", flag, stdout)
		}
	}
}

func TestElements_JSON(t *testing.T) {
	withHome(t)
	withDevice(t, bridgetest.New(screenXML))

	stdout, _, err := runApp(t, "elements", "--mode", "xml_only")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var snap map[string]any
	if err := json.Unmarshal([]byte(stdout), &snap); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout)
	}
	if snap["total_count"] != float64(2) {
		t.Errorf("expected total_count 2, got %v", snap["total_count"])
	}
	if snap["extraction_mode"] != "xml_only" {
		t.Errorf("expected xml_only, got %v", snap["extraction_mode"])
	}
	if snap["outcome"] != "success" {
		t.Errorf("expected success, got %v", snap["outcome"])
	}
}

func TestElements_PackageFilter(t *testing.T) {
	withHome(t)
	withDevice(t, bridgetest.New(screenXML))

	stdout, _, err := runApp(t, "elements", "--mode", "xml", "--package", "systemui")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, `"total_count": 0`) {
		t.Errorf("expected empty snapshot, got %s", stdout)
	}
}

func TestElements_Summary(t *testing.T) {
	withHome(t)
	withDevice(t, bridgetest.New(screenXML))

	stdout, _, err := runApp(t, "elements", "--mode", "xml_only", "--summary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "success 2 elements via xml_only") {
		t.Errorf("missing summary header in:\n%s", stdout)
	}
	if !strings.Contains(stdout, `"Skip Ad"`) {
		t.Errorf("missing element line in:\n%s", stdout)
	}
}

func TestElements_Output(t *testing.T) {
	withHome(t)
	withDevice(t, bridgetest.New(screenXML))
	path := filepath.Join(t.TempDir(), "out", "snap.json")

	stdout, stderr, err := runApp(t, "elements", "--mode", "xml_only", "--output", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stdout != "" {
		t.Errorf("expected no stdout when writing to a file, got %q", stdout)
	}
	if !strings.Contains(stderr, "Saved") {
		t.Errorf("expected save message on stderr, got %q", stderr)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("output is not a snapshot: %v", err)
	}
	if snap.TotalCount != 2 {
		t.Errorf("expected 2 elements, got %d", snap.TotalCount)
	}
}

func TestElements_Save(t *testing.T) {
	home := withHome(t)
	withDevice(t, bridgetest.New(screenXML))

	if _, _, err := runApp(t, "elements", "--mode", "xml_only", "--save"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(home, "dumps", "elements_*.json"))
	if len(matches) != 1 {
		t.Errorf("expected one dump in %s/dumps, got %v", home, matches)
	}
}

func TestElements_Failed(t *testing.T) {
	withHome(t)
	b := bridgetest.New(screenXML)
	b.HierarchyErr = errors.New("device offline")
	withDevice(t, b)

	stdout, _, err := runApp(t, "elements", "--mode", "xml_only")
	if !errors.Is(err, core.ErrExtractionFailed) {
		t.Fatalf("expected extraction failure, got %v", err)
	}
	if !strings.Contains(stdout, `"outcome": "failed"`) {
		t.Errorf("failed snapshot should still be printed, got %s", stdout)
	}
}

func TestElements_InvalidMode(t *testing.T) {
	withHome(t)
	withDevice(t, bridgetest.New(screenXML))

	_, _, err := runApp(t, "elements", "--mode", "ocr")
	if err == nil || !strings.Contains(err.Error(), "unknown extraction mode") {
		t.Errorf("expected unknown mode error, got %v", err)
	}
}

func TestElements_DefaultModeFromConfig(t *testing.T) {
	home := withHome(t)
	withDevice(t, bridgetest.New(screenXML))
	cfg := "defaultMode: hybrid\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := runApp(t, "elements")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// No vision service, so hybrid degrades to the accessibility tree.
	if !strings.Contains(stdout, `"extraction_mode": "xml_only"`) || !strings.Contains(stdout, `"outcome": "degraded"`) {
		t.Errorf("expected degraded xml_only snapshot, got %s", stdout)
	}
}

func TestTap_ByText(t *testing.T) {
	withHome(t)
	b := bridgetest.New(screenXML)
	withDevice(t, b)

	stdout, _, err := runApp(t, "tap", "--mode", "xml_only", "--text", "skip")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var report map[string]any
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("stdout is not JSON: %v", err)
	}
	if report["success"] != true {
		t.Errorf("expected success, got %v", report["success"])
	}
	taps := b.RecordedTaps()
	if len(taps) != 1 || taps[0] != (bridgetest.Point{X: 980, Y: 1650}) {
		t.Errorf("expected one tap at (980,1650), got %v", taps)
	}
}

func TestTap_ByUUIDNotFound(t *testing.T) {
	withHome(t)
	b := bridgetest.New(screenXML)
	withDevice(t, b)

	stdout, _, err := runApp(t, "tap", "--mode", "xml_only", "--uuid", "xml_42")
	if !errors.Is(err, core.ErrElementNotFound) {
		t.Errorf("expected element not found, got %v", err)
	}
	if !strings.Contains(stdout, `"success": false`) {
		t.Errorf("expected failed report, got %s", stdout)
	}
	if b.TapCount() != 0 {
		t.Errorf("expected no taps, got %d", b.TapCount())
	}
}

func TestTap_RequiresExactlyOneTarget(t *testing.T) {
	withHome(t)
	connects := withDevice(t, bridgetest.New(screenXML))

	for _, args := range [][]string{
		{"tap"},
		{"tap", "--text", "Skip", "--uuid", "xml_1"},
	} {
		if _, _, err := runApp(t, args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
	if *connects != 0 {
		t.Errorf("expected no device connection, got %d", *connects)
	}
}

func TestKeepControls_Expires(t *testing.T) {
	withHome(t)
	b := bridgetest.New(`<hierarchy><node class="android.view.SurfaceView" bounds="[0,0][1080,1920]"/></hierarchy>`)
	withDevice(t, b)

	stdout, _, err := runApp(t, "keep-controls", "--duration", "300ms", "--interval", "50ms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "keeper expired") {
		t.Errorf("expected expired keeper, got %q", stdout)
	}
	if b.TapCount() == 0 {
		t.Error("expected the keeper to tap while controls were hidden")
	}
	for _, p := range b.RecordedTaps() {
		if p != (bridgetest.Point{X: 540, Y: 288}) {
			t.Errorf("tap outside the safe point: %v", p)
		}
	}
}

func TestModeInfo(t *testing.T) {
	withHome(t)
	withDevice(t, bridgetest.New(screenXML))

	stdout, _, err := runApp(t, "mode-info")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"Default mode:   auto",
		"Auto would use: xml_only",
		"Playback:       stopped",
		"Vision service: no",
		"Device:         yes (1080x1920)",
		"Keeper:         idle",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("missing %q in:\n%s", want, stdout)
		}
	}
}

func TestModeInfo_JSON(t *testing.T) {
	withHome(t)
	withDevice(t, bridgetest.New(screenXML))

	stdout, _, err := runApp(t, "mode-info", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var info map[string]any
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("stdout is not JSON: %v", err)
	}
	if info["current_mode"] != "auto" || info["device_connected"] != true {
		t.Errorf("unexpected info: %v", info)
	}
}

func TestHierarchy(t *testing.T) {
	withHome(t)
	withDevice(t, bridgetest.New(screenXML))

	stdout, _, err := runApp(t, "hierarchy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(stdout) != screenXML {
		t.Errorf("expected raw dump, got %q", stdout)
	}
}

func TestConnectError(t *testing.T) {
	withHome(t)
	orig := connectDevice
	connectDevice = func(ctx context.Context, cfg config.DeviceConfig) (bridge.Bridge, func(), error) {
		return nil, nil, errors.New("no devices found")
	}
	t.Cleanup(func() { connectDevice = orig })

	_, _, err := runApp(t, "elements")
	if err == nil || !strings.Contains(err.Error(), "no devices found") {
		t.Errorf("expected connect error, got %v", err)
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	home := withHome(t)
	cfgPath := filepath.Join(home, "custom.yaml")
	yaml := "device:\n  serial: from-file\n  uia2Port: 7001\nvision:\n  url: http://file:9333\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	var got *config.Config
	app := &cli.App{
		Flags: GlobalFlags,
		Action: func(c *cli.Context) error {
			var err error
			got, err = loadConfig(c)
			return err
		},
	}
	err := app.Run([]string{"x", "--config", cfgPath, "--device", "emulator-5554", "--vision-url", "http://flag:9333"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Device.Serial != "emulator-5554" {
		t.Errorf("expected flag serial, got %s", got.Device.Serial)
	}
	if got.Vision.URL != "http://flag:9333" {
		t.Errorf("expected flag vision url, got %s", got.Vision.URL)
	}
	if got.Device.UIA2Port != 7001 {
		t.Errorf("expected port from file, got %d", got.Device.UIA2Port)
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	home := withHome(t)
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("dispatch:\n  biasRatio: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	withDevice(t, bridgetest.New(screenXML))

	_, _, err := runApp(t, "elements")
	if !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("expected invalid config, got %v", err)
	}
}

func TestLogFileDefaultsToHome(t *testing.T) {
	home := withHome(t)
	withDevice(t, bridgetest.New(screenXML))

	if _, _, err := runApp(t, "elements", "--mode", "xml_only"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(home, "logs", "element-scheduler.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "xml_only") {
		t.Errorf("expected scheduler log lines, got %q", data)
	}
}
