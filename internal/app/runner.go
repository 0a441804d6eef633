// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/speedcal/internal/clock"
	"github.com/relabs-tech/speedcal/internal/config"
	"github.com/relabs-tech/speedcal/internal/detector"
	"github.com/relabs-tech/speedcal/internal/latch"
	"github.com/relabs-tech/speedcal/internal/logging"
	"github.com/relabs-tech/speedcal/internal/pass"
	"github.com/relabs-tech/speedcal/internal/sensors"
)

// DetectorConfig converts the loaded configuration into detector tuning.
func DetectorConfig(cfg *config.Config) detector.Config {
	return detector.Config{
		SensorCount:  cfg.SensorCount,
		Timeout:      time.Duration(cfg.DetectionTimeoutMS) * time.Millisecond,
		MinRetrigger: time.Duration(cfg.MinRetriggerUS) * time.Microsecond,
		Settle:       time.Duration(cfg.ArmSettleMS) * time.Millisecond,
	}
}

// NewTrack assembles a latch, detector and controller over bus.
func NewTrack(cfg *config.Config, bus sensors.Bus, clk clock.Clock, logger *slog.Logger) (*Controller, *latch.Latch, error) {
	l := latch.New(clk)
	det, err := detector.New(DetectorConfig(cfg), bus, l, clk, logger)
	if err != nil {
		return nil, nil, err
	}
	return NewController(det, bus, cfg.Geometry(), clk, logger), l, nil
}

// RunTrack runs the track host until ctx is cancelled: sensors, poll loop,
// MQTT bridge and the optional serial console. logs is the process log
// handler; its sink is pointed at the broker once MQTT is up.
func RunTrack(ctx context.Context, cfg *config.Config, logger *slog.Logger, logs *logging.MQTTHandler) error {
	g, ctx := errgroup.WithContext(ctx)
	clk := clock.NewMonotonic()

	var (
		bus  sensors.Bus
		sim  *sensors.SimBus
		ctrl *Controller
		l    *latch.Latch
		err  error
	)

	switch cfg.SensorSource {
	case "mock":
		sim = sensors.NewSimBus()
		bus = sim
		logger.Info("using simulated sensors", "speed_mm_s", cfg.MockSpeedMMS, "direction", cfg.MockDirection)
	default:
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("failed to initialize periph: %w", err)
		}
		i2cBus, err := i2creg.Open(cfg.I2CBus)
		if err != nil {
			return fmt.Errorf("failed to open I2C bus: %w", err)
		}
		defer i2cBus.Close()

		found := sensors.ScanI2C(i2cBus)
		logger.Info("I2C scan complete", "devices", formatAddrs(found))

		mcp, err := sensors.NewMCP23017(i2cBus, cfg.MCP23017Addr, cfg.SensorCount)
		if err != nil {
			return err
		}
		bus = mcp
	}

	ctrl, l, err = NewTrack(cfg, bus, clk, logger)
	if err != nil {
		return err
	}

	if sim != nil {
		mock := &MockPasses{
			Ctrl:      ctrl,
			Sim:       &sensors.Simulator{Bus: sim, Notify: l, Dwell: 20 * time.Millisecond},
			Geometry:  cfg.Geometry(),
			SpeedMMS:  cfg.MockSpeedMMS,
			Direction: parseDirection(cfg.MockDirection),
			Lead:      time.Duration(cfg.ArmSettleMS)*time.Millisecond + 500*time.Millisecond,
		}
		g.Go(func() error { return mock.Run(ctx) })
	} else {
		pin := gpioreg.ByName(cfg.IntPin)
		if pin == nil {
			return fmt.Errorf("INT pin %q not found", cfg.IntPin)
		}
		watcher, err := sensors.NewEdgeWatcher(pin, l)
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.Run(ctx) })
	}

	if cfg.MQTTBroker != "" {
		var levels LevelCommander
		if logs != nil {
			levels = logs
		}
		bridge := ConnectTrackMQTT(cfg, ctrl, levels, logger, 5*time.Second)
		defer bridge.Close()
		ctrl.SetConnectivity(bridge.Connected)
		ctrl.AddPublisher(bridge)
		if logs != nil {
			logs.SetSink(bridge)
			defer logs.SetSink(nil)
		}
	} else {
		logger.Info("MQTT disabled, no broker configured")
	}

	if cfg.SerialConsolePort != "" {
		port, err := OpenSerialConsole(cfg.SerialConsolePort, cfg.SerialConsoleBaud)
		if err != nil {
			return err
		}
		console := NewConsole(ctrl, port, cfg.SensorCount)
		ctrl.AddPublisher(console)
		// A blocked serial read only returns once the port is closed, so the
		// console is not part of the group.
		go func() {
			if err := console.Serve(ctx, port); err != nil {
				logger.Warn("serial console stopped", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			port.Close()
		}()
		logger.Info("serial console started", "port", cfg.SerialConsolePort, "baud", cfg.SerialConsoleBaud)
	}

	g.Go(func() error {
		return ctrl.Run(ctx, time.Duration(cfg.PollIntervalUS)*time.Microsecond)
	})

	logger.Info("Speed calibration ready",
		"sensors", cfg.SensorCount,
		"spacing_mm", cfg.SpacingMM,
		"scale", fmt.Sprintf("1:%.1f", cfg.ScaleFactor))
	return g.Wait()
}

func parseDirection(s string) pass.Direction {
	if s == pass.BtoA.String() {
		return pass.BtoA
	}
	return pass.AtoB
}

func formatAddrs(addrs []uint16) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = fmt.Sprintf("0x%02X", a)
	}
	return out
}

// MockPasses plays a simulated pass every time the track is armed.
type MockPasses struct {
	Ctrl      *Controller
	Sim       *sensors.Simulator
	Geometry  pass.Geometry
	SpeedMMS  float64
	Direction pass.Direction
	// Lead is the delay between arming and the first simulated trigger.
	Lead time.Duration
	// Check is how often the controller state is sampled. Zero means 100ms.
	Check time.Duration
}

// Run blocks until ctx is cancelled.
func (m *MockPasses) Run(ctx context.Context) error {
	events, err := sensors.PassSchedule(m.Geometry, m.SpeedMMS, m.Direction)
	if err != nil {
		return err
	}
	check := m.Check
	if check <= 0 {
		check = 100 * time.Millisecond
	}
	ticker := time.NewTicker(check)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if m.Ctrl.Status().State != detector.Armed.String() {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.Lead):
		}
		if err := m.Sim.Run(ctx, events); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
