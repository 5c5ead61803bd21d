package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// printSetupStep prints a setup step to stderr so stdout stays parseable.
func printSetupStep(c *cli.Context, msg string) {
	fmt.Fprintf(c.App.ErrWriter, "  %s⏳%s %s\n", color(colorCyan), color(colorReset), msg)
}

// printSetupSuccess prints a success message for setup
func printSetupSuccess(c *cli.Context, msg string) {
	fmt.Fprintf(c.App.ErrWriter, "  %s✓%s %s\n", color(colorGreen), color(colorReset), msg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outcomeColor(o core.Outcome) string {
	switch o {
	case core.OutcomeSuccess:
		return colorGreen
	case core.OutcomeDegraded:
		return colorYellow
	default:
		return colorRed
	}
}

// printSnapshotSummary writes the human-readable form of a snapshot.
func printSnapshotSummary(w io.Writer, snap *core.Snapshot, took time.Duration) {
	fmt.Fprintf(w, "%s%s%s %s elements via %s in %s (%s)\n",
		color(outcomeColor(snap.Outcome)), snap.Outcome, color(colorReset),
		humanize.Comma(int64(snap.TotalCount)), snap.ExtractionMode,
		took.Round(time.Millisecond), snap.PlaybackState)
	fmt.Fprintf(w, "  %sxml %d  visual %d  clickable %d  text %d%s\n", color(colorGray),
		snap.Statistics.XMLElements, snap.Statistics.VisualElements,
		snap.Statistics.ClickableElements, snap.Statistics.TextElements, color(colorReset))
	for _, warning := range snap.Warnings {
		fmt.Fprintf(w, "  %s! %s%s\n", color(colorYellow), warning, color(colorReset))
	}
	for _, e := range snap.Elements {
		label := e.Text
		if label == "" {
			label = e.Name
		}
		marker := " "
		if e.Clickable {
			marker = "*"
		}
		fmt.Fprintf(w, "  %s %-12s %s%-8s%s %q (%.3f, %.3f)\n", marker, e.UUID,
			color(colorGray), e.Type, color(colorReset), label, e.CenterX, e.CenterY)
	}
}
