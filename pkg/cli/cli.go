// Package cli provides the command-line interface for element-scheduler.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/element-scheduler/pkg/config"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"serial", "s"},
		Usage:   "ADB serial of the device (auto-detected when empty)",
		EnvVars: []string{"ELEMENT_SCHEDULER_DEVICE", "ANDROID_SERIAL"},
	},
	&cli.StringFlag{
		Name:    "vision-url",
		Usage:   "Base URL of the vision parsing service (empty disables vision)",
		EnvVars: []string{"ELEMENT_SCHEDULER_VISION_URL"},
	},
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config.yaml (default: <home>/config.yaml)",
		EnvVars: []string{"ELEMENT_SCHEDULER_CONFIG"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable debug logging on stderr",
		EnvVars: []string{"ELEMENT_SCHEDULER_VERBOSE"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Append logs to this file (default: <home>/logs/element-scheduler.log)",
		EnvVars: []string{"ELEMENT_SCHEDULER_LOG_FILE"},
	},
	&cli.IntFlag{
		Name:    "uia2-port",
		Usage:   "Local port for the UIAutomator2 server (0 = adb only)",
		EnvVars: []string{"ELEMENT_SCHEDULER_UIA2_PORT"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "element-scheduler",
		Usage:   "Discover and tap UI elements on Android, even over video",
		Version: Version,
		Description: `element-scheduler extracts on-screen elements from an Android device
through the accessibility tree, a vision parsing service, or both, and
taps them by text or uuid.

Examples:
  element-scheduler elements --mode auto
  element-scheduler tap --text "Skip Ad" --bias
  element-scheduler keep-controls --duration 2m
  element-scheduler --vision-url http://127.0.0.1:9333 mode-info`,
		Flags:  GlobalFlags,
		Before: setupLogging,
		After: func(*cli.Context) error {
			logger.Close()
			return nil
		},
		Commands: []*cli.Command{
			elementsCommand,
			tapCommand,
			keepControlsCommand,
			modeInfoCommand,
			hierarchyCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	// A .env in the working directory may carry the ELEMENT_SCHEDULER_* settings.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: .env: %v\n", err)
	}

	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(c *cli.Context) error {
	if c.Bool("no-ansi") {
		colorsEnabled = false
	}
	path := c.String("log-file")
	if path == "" {
		dir := config.GetLogDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		path = filepath.Join(dir, "element-scheduler.log")
	}
	if err := logger.Init(path); err != nil {
		return err
	}
	if c.Bool("verbose") {
		logger.SetVerbose(true)
		logger.EnableConsole(c.App.ErrWriter)
	}
	return nil
}
