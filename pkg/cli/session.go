package cli

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/element-scheduler/pkg/bridge"
	"github.com/devicelab-dev/element-scheduler/pkg/config"
	"github.com/devicelab-dev/element-scheduler/pkg/scheduler"
)

// connectDevice opens the bridge for a command. Tests replace it.
var connectDevice = func(ctx context.Context, cfg config.DeviceConfig) (bridge.Bridge, func(), error) {
	b, cleanup, err := bridge.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return b, cleanup, nil
}

// loadConfig reads --config, or config.yaml in the home directory, and
// applies the global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(config.GetHome())
	}
	if err != nil {
		return nil, err
	}

	if c.IsSet("device") {
		cfg.Device.Serial = c.String("device")
	}
	if c.IsSet("vision-url") {
		cfg.Vision.URL = c.String("vision-url")
	}
	if c.IsSet("uia2-port") {
		cfg.Device.UIA2Port = c.Int("uia2-port")
	}
	return cfg, nil
}

// session is one connected device with its scheduler.
type session struct {
	cfg     *config.Config
	bridge  bridge.Bridge
	sched   *scheduler.Scheduler
	cleanup func()
}

func openSession(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	printSetupStep(c, "Connecting to device...")
	b, cleanup, err := connectDevice(c.Context, cfg.Device)
	if err != nil {
		return nil, err
	}
	printSetupSuccess(c, "Device connected")

	return &session{
		cfg:     cfg,
		bridge:  b,
		sched:   scheduler.FromConfig(b, cfg),
		cleanup: cleanup,
	}, nil
}

func (s *session) Close() {
	s.sched.Close()
	s.cleanup()
}
