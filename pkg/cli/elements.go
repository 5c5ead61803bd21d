package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/element-scheduler/pkg/config"
	"github.com/devicelab-dev/element-scheduler/pkg/core"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
)

var modeFlag = &cli.StringFlag{
	Name:    "mode",
	Aliases: []string{"m"},
	Usage:   "Extraction mode: auto, xml_only, visual_only, hybrid",
}

var elementsCommand = &cli.Command{
	Name:  "elements",
	Usage: "Extract the elements currently on screen",
	Description: `Extract on-screen elements and print them as a JSON snapshot.

Examples:
  element-scheduler elements
  element-scheduler elements --mode hybrid --package com.example.player
  element-scheduler elements --summary
  element-scheduler elements --save`,
	Flags: []cli.Flag{
		modeFlag,
		&cli.StringFlag{
			Name:    "package",
			Aliases: []string{"p"},
			Usage:   "Keep only elements whose package contains this value",
		},
		&cli.BoolFlag{
			Name:  "summary",
			Usage: "Print a human-readable summary instead of JSON",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write the JSON snapshot to this file",
		},
		&cli.BoolFlag{
			Name:  "save",
			Usage: "Write the JSON snapshot to <home>/dumps",
		},
	},
	Action: runElements,
}

// resolveMode picks --mode, else the configured default mode.
func resolveMode(c *cli.Context, s *session) (core.ExtractionMode, error) {
	if !c.IsSet("mode") {
		return s.cfg.DefaultMode, nil
	}
	return core.ParseExtractionMode(c.String("mode"))
}

func runElements(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	mode, err := resolveMode(c, s)
	if err != nil {
		return err
	}

	start := time.Now()
	snap := s.sched.Snapshot(c.Context, mode, c.String("package"))
	took := time.Since(start)
	logger.Timing("snapshot", start)

	path := c.String("output")
	if path == "" && c.Bool("save") {
		path = filepath.Join(config.GetDumpDir(), fmt.Sprintf("elements_%s.json", start.Format("20060102_150405")))
	}
	if path != "" {
		n, err := saveSnapshot(path, snap)
		if err != nil {
			return err
		}
		printSetupSuccess(c, fmt.Sprintf("Saved %s to %s", humanize.Bytes(uint64(n)), path))
	}

	if c.Bool("summary") {
		printSnapshotSummary(c.App.Writer, snap, took)
	} else if path == "" {
		if err := writeJSON(c.App.Writer, snap); err != nil {
			return err
		}
	}

	if snap.Outcome == core.OutcomeFailed {
		return core.ErrExtractionFailed.WithMessage("no backend produced elements")
	}
	return nil
}

func saveSnapshot(path string, snap *core.Snapshot) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path) //#nosec G304 -- user-provided output path
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	if err := writeJSON(f, snap); err != nil {
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
