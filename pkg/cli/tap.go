package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/element-scheduler/pkg/scheduler"
)

var tapCommand = &cli.Command{
	Name:  "tap",
	Usage: "Tap an element by text or uuid",
	Description: `Find an element in the current extraction and tap its center.
Text matching is partial and case-insensitive; clickable matches win.

Examples:
  element-scheduler tap --text "Skip Ad"
  element-scheduler tap --uuid xml_12 --mode xml_only
  element-scheduler tap --text Play --bias`,
	Flags: []cli.Flag{
		modeFlag,
		&cli.StringFlag{
			Name:    "text",
			Aliases: []string{"t"},
			Usage:   "Text or name of the element",
		},
		&cli.StringFlag{
			Name:  "uuid",
			Usage: "UUID of the element from a previous extraction",
		},
		&cli.BoolFlag{
			Name:  "bias",
			Usage: "Tap slightly above the center",
		},
	},
	Action: runTap,
}

func runTap(c *cli.Context) error {
	text, id := c.String("text"), c.String("uuid")
	if (text == "") == (id == "") {
		return fmt.Errorf("exactly one of --text or --uuid is required")
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	mode, err := resolveMode(c, s)
	if err != nil {
		return err
	}
	s.sched.SetDefaultMode(mode)

	var report scheduler.TapReport
	if id != "" {
		report, err = s.sched.TapByUUID(c.Context, id, c.Bool("bias"))
	} else {
		report, err = s.sched.TapByText(c.Context, text, c.Bool("bias"))
	}
	if werr := writeJSON(c.App.Writer, report); werr != nil {
		return werr
	}
	return err
}
