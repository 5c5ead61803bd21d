package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/element-scheduler/pkg/scheduler"
)

var modeInfoCommand = &cli.Command{
	Name:  "mode-info",
	Usage: "Show playback state, vision availability and the mode auto would pick",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print JSON",
		},
	},
	Action: runModeInfo,
}

func runModeInfo(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	info := s.sched.ModeInfo(c.Context)
	if c.Bool("json") {
		return writeJSON(c.App.Writer, info)
	}
	printModeInfo(c, info)
	return nil
}

func printModeInfo(c *cli.Context, info scheduler.ModeInfo) {
	w := c.App.Writer
	yesNo := func(b bool) string {
		if b {
			return color(colorGreen) + "yes" + color(colorReset)
		}
		return color(colorRed) + "no" + color(colorReset)
	}

	fmt.Fprintf(w, "%sDefault mode:%s   %s\n", color(colorBold), color(colorReset), info.DefaultMode)
	fmt.Fprintf(w, "%sAuto would use:%s %s\n", color(colorBold), color(colorReset),
		scheduler.DecideMode(info.Playback, info.VisionAvailable))
	fmt.Fprintf(w, "Playback:       %s\n", info.Playback)
	fmt.Fprintf(w, "Vision service: %s\n", yesNo(info.VisionAvailable))
	fmt.Fprintf(w, "Device:         %s", yesNo(info.DeviceConnected))
	if info.DeviceConnected {
		fmt.Fprintf(w, " (%dx%d)", info.ScreenSize.Width, info.ScreenSize.Height)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Keeper:         %s\n", info.Keeper)

	now := time.Now()
	for _, e := range info.Cache {
		state := "stale"
		if e.Fresh {
			state = "fresh"
		}
		fmt.Fprintf(w, "Cache %-11s %d elements, captured %s (%s)\n", e.Mode.String()+":", e.Count,
			humanize.RelTime(now.Add(-e.Age), now, "ago", "from now"), state)
	}
}
