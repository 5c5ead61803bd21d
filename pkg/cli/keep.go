package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/element-scheduler/pkg/scheduler"
)

var keepControlsCommand = &cli.Command{
	Name:  "keep-controls",
	Usage: "Keep video player controls visible",
	Description: `Poll the accessibility tree and tap a safe point whenever the
player controls disappear. Runs until --duration elapses or Ctrl-C.

Examples:
  element-scheduler keep-controls
  element-scheduler keep-controls --duration 5m --keyword "Seek bar"
  element-scheduler keep-controls --duration 0`,
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:    "duration",
			Aliases: []string{"d"},
			Usage:   "How long to run (0 = until interrupted; default from config)",
		},
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "Poll interval (minimum 50ms)",
		},
		&cli.StringFlag{
			Name:  "keyword",
			Usage: "Text present while the controls are visible",
		},
	},
	Action: runKeepControls,
}

func runKeepControls(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := scheduler.KeeperOptions(s.cfg.Keeper)
	if c.IsSet("duration") {
		opts.Duration = c.Duration("duration")
	}
	if c.IsSet("interval") {
		opts.Interval = c.Duration("interval")
	}
	if c.IsSet("keyword") {
		opts.Keyword = c.String("keyword")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.sched.StartKeeper(ctx, opts); err != nil {
		return err
	}
	until := "interrupted"
	if opts.Duration > 0 {
		until = opts.Duration.String() + " or interrupted"
	}
	printSetupSuccess(c, fmt.Sprintf("Keeping controls visible (keyword %q) until %s", opts.Keyword, until))

	start := time.Now()
	<-s.sched.Keeper().Done()

	k := s.sched.Keeper()
	stats := k.Stats()
	fmt.Fprintf(c.App.Writer, "keeper %s after %s: %d polls, %d taps\n",
		k.State(), time.Since(start).Round(time.Millisecond), stats.Polls, stats.Taps)
	return nil
}
