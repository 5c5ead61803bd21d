package bridge

import (
	"context"
	"fmt"

	"github.com/devicelab-dev/element-scheduler/pkg/config"
	"github.com/devicelab-dev/element-scheduler/pkg/device"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
	"github.com/devicelab-dev/element-scheduler/pkg/uiautomator2"
)

// Connect opens the device named in cfg. When cfg.UIA2Port is set and the
// UIAutomator2 server is installed, a session is created and attached;
// otherwise any agent holding the UiAutomation connection is stopped so that
// `uiautomator dump` works. The returned cleanup tears the session down.
func Connect(ctx context.Context, cfg config.DeviceConfig) (*Composite, func(), error) {
	if cfg.Serial != "" {
		logger.Info("Connecting to Android device: %s", cfg.Serial)
	} else {
		logger.Info("Auto-detecting Android device...")
	}
	dev, err := device.New(ctx, cfg.Serial, cfg.ShellTimeout)
	if err != nil {
		logger.Error("Failed to connect to device: %v", err)
		return nil, nil, fmt.Errorf("connect to device: %w", err)
	}

	info, err := dev.Info(ctx)
	if err != nil {
		logger.Warn("Failed to get device info: %v", err)
	} else {
		logger.Info("Device info: %s %s, SDK %s, Serial %s, Emulator: %v",
			info.Brand, info.Model, info.SDK, info.Serial, info.IsEmulator)
	}

	if cfg.UIA2Port == 0 || !dev.IsInstalled(ctx, device.UIAutomator2Server) {
		dev.StopUIAutomatorAgents(ctx)
		logger.Info("Using adb-only bridge for %s", dev.Serial())
		return New(dev, nil), func() {}, nil
	}

	client, stop, err := startSession(ctx, dev, cfg.UIA2Port, info)
	if err != nil {
		logger.Warn("UIAutomator2 unavailable, using adb only: %v", err)
		dev.StopUIAutomatorAgents(ctx)
		return New(dev, nil), func() {}, nil
	}
	return New(dev, client), stop, nil
}

func startSession(ctx context.Context, dev *device.AndroidDevice, port int, info device.DeviceInfo) (*uiautomator2.Client, func(), error) {
	uia2Cfg := device.DefaultUIAutomator2Config()
	uia2Cfg.LocalPort = port

	logger.Info("Starting UIAutomator2 server on device %s", dev.Serial())
	if err := dev.StartUIAutomator2(ctx, uia2Cfg); err != nil {
		return nil, nil, fmt.Errorf("start UIAutomator2: %w", err)
	}

	client := uiautomator2.NewClientTCP(port)
	caps := uiautomator2.Capabilities{
		PlatformName: "Android",
		DeviceName:   info.Model,
	}
	if err := client.CreateSession(ctx, caps); err != nil {
		dev.StopUIAutomator2(ctx, uia2Cfg)
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	logger.Info("Session created successfully: %s", client.SessionID())

	cleanup := func() {
		client.Close()
		dev.StopUIAutomator2(context.Background(), uia2Cfg)
	}
	return client, cleanup, nil
}
