// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package detector implements the pass detection state machine. A Detector
// is driven from a single polling goroutine; interrupt-side code only
// touches the event source.
package detector

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/relabs-tech/speedcal/internal/clock"
	"github.com/relabs-tech/speedcal/internal/pass"
	"github.com/relabs-tech/speedcal/internal/sensors"
)

// State of a detection cycle.
type State int

const (
	Idle State = iota
	Armed
	Measuring
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Measuring:
		return "measuring"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// EventSource is the poller's side of the interrupt latch.
type EventSource interface {
	Take() (us uint32, ok bool)
	Clear()
}

// Config holds detector tuning.
type Config struct {
	SensorCount int
	// Timeout ends a pass that has started but not reached every sensor.
	Timeout time.Duration
	// MinRetrigger is the shortest gap accepted after the previous trigger.
	MinRetrigger time.Duration
	// Settle is the window after Arm during which events are discarded.
	Settle time.Duration
}

// Windows are measured on wrapping 32-bit counters and compared through
// signed differences, so each must stay below half the counter range.
const (
	MaxTimeout      = math.MaxInt32 * time.Millisecond
	MaxSettle       = math.MaxInt32 * time.Millisecond
	MaxMinRetrigger = math.MaxInt32 * time.Microsecond
)

// DefaultConfig returns the tuning used on the reference track.
func DefaultConfig() Config {
	return Config{
		SensorCount:  4,
		Timeout:      60 * time.Second,
		MinRetrigger: 1000 * time.Microsecond,
		Settle:       50 * time.Millisecond,
	}
}

// Detector turns interrupt events and captured channel masks into a
// pass.Record.
type Detector struct {
	cfg    Config
	bus    sensors.Bus
	events EventSource
	clk    clock.Clock
	logger *slog.Logger

	timeoutMs    uint32
	settleMs     uint32
	minRetrigger int32

	state     State
	rec       pass.Record
	armMs     uint32
	lastUs    uint32
	busErrors uint64
}

// New returns an idle Detector.
func New(cfg Config, bus sensors.Bus, events EventSource, clk clock.Clock, logger *slog.Logger) (*Detector, error) {
	if cfg.SensorCount < 1 || cfg.SensorCount > pass.MaxSensors {
		return nil, fmt.Errorf("detector: sensor count must be 1-%d, got %d", pass.MaxSensors, cfg.SensorCount)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("detector: timeout must be positive")
	}
	if cfg.MinRetrigger < 0 || cfg.Settle < 0 {
		return nil, fmt.Errorf("detector: retrigger and settle windows must not be negative")
	}
	if cfg.Timeout > MaxTimeout {
		return nil, fmt.Errorf("detector: timeout %v exceeds %v", cfg.Timeout, MaxTimeout)
	}
	if cfg.Settle > MaxSettle {
		return nil, fmt.Errorf("detector: settle %v exceeds %v", cfg.Settle, MaxSettle)
	}
	if cfg.MinRetrigger > MaxMinRetrigger {
		return nil, fmt.Errorf("detector: retrigger window %v exceeds %v", cfg.MinRetrigger, MaxMinRetrigger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{
		cfg:          cfg,
		bus:          bus,
		events:       events,
		clk:          clk,
		logger:       logger.With("component", "detector"),
		timeoutMs:    uint32(cfg.Timeout / time.Millisecond),
		settleMs:     uint32(cfg.Settle / time.Millisecond),
		minRetrigger: int32(cfg.MinRetrigger / time.Microsecond),
	}
	d.rec.Reset(cfg.SensorCount)
	return d, nil
}

// Arm starts a new cycle. It is only honoured from Idle or Complete and
// reports whether it took effect.
func (d *Detector) Arm() bool {
	if d.state != Idle && d.state != Complete {
		return false
	}
	// Drop anything the expander latched before this cycle.
	if _, err := d.bus.ReadInterruptCapture(); err != nil {
		d.busError(err)
	}
	if _, err := d.bus.ReadActive(); err != nil {
		d.busError(err)
	}
	d.events.Clear()

	d.rec.Reset(d.cfg.SensorCount)
	d.lastUs = 0
	d.armMs = d.clk.Millis()
	d.state = Armed
	d.logger.Info("armed", "sensors", d.cfg.SensorCount)
	return true
}

// Disarm abandons the current cycle without a result. It is only honoured
// from Armed or Measuring.
func (d *Detector) Disarm() bool {
	if d.state != Armed && d.state != Measuring {
		return false
	}
	d.events.Clear()
	d.state = Idle
	d.logger.Info("disarmed", "triggered", d.rec.TriggeredCount)
	return true
}

// Update advances the state machine by at most one event. It returns true
// exactly once per cycle, on the call that enters Complete.
func (d *Detector) Update() bool {
	if d.state == Idle || d.state == Complete {
		return false
	}

	if d.state == Measuring && clock.ElapsedMs(d.clk.Millis(), d.rec.RunStartMs) > d.timeoutMs {
		d.rec.TimedOut = true
		d.finish()
		d.logger.Warn("pass timed out", "triggered", d.rec.TriggeredCount, "sensors", d.cfg.SensorCount)
		return true
	}

	ts, ok := d.events.Take()
	if !ok {
		return false
	}

	if d.state == Armed && clock.ElapsedMs(d.clk.Millis(), d.armMs) < d.settleMs {
		// Reading the capture re-arms the expander's edge detector.
		if _, err := d.bus.ReadInterruptCapture(); err != nil {
			d.busError(err)
		}
		d.logger.Debug("event discarded during settle window")
		return false
	}

	active, err := d.bus.ReadInterruptCapture()
	if err != nil {
		d.busError(err)
		return false
	}

	for i := 0; i < d.cfg.SensorCount; i++ {
		if d.rec.Triggered[i] || active&(1<<i) == 0 {
			continue
		}
		if d.rec.TriggeredCount > 0 && int32(ts-d.lastUs) < d.minRetrigger {
			d.logger.Debug("retrigger filtered", "sensor", i, "since_last_us", int32(ts-d.lastUs))
			continue
		}
		d.rec.Mark(i, ts)
		d.lastUs = ts
		d.logger.Debug("sensor triggered", "sensor", i, "ts_us", ts)

		if d.rec.TriggeredCount == 1 {
			d.rec.RunStartMs = d.clk.Millis()
			d.state = Measuring
		}
	}

	d.inferDirection()

	if d.rec.TriggeredCount >= d.cfg.SensorCount {
		d.finish()
		d.logger.Info("pass complete", "direction", d.rec.Direction, "duration_us", d.rec.DurationUs)
		return true
	}
	return false
}

// inferDirection decides the travel direction once, from the endpoint
// sensors. It leaves Unknown in place until an endpoint has fired.
func (d *Detector) inferDirection() {
	if d.rec.Direction != pass.Unknown || d.rec.TriggeredCount < 2 {
		return
	}
	last := d.cfg.SensorCount - 1
	a, b := d.rec.Triggered[0], d.rec.Triggered[last]
	switch {
	case a && b:
		if clock.Before(d.rec.TimestampUs[0], d.rec.TimestampUs[last]) {
			d.rec.Direction = pass.AtoB
		} else {
			d.rec.Direction = pass.BtoA
		}
	case a:
		d.rec.Direction = pass.AtoB
	case b:
		d.rec.Direction = pass.BtoA
	}
}

func (d *Detector) finish() {
	d.rec.DurationUs = d.rec.Span()
	d.state = Complete
}

func (d *Detector) busError(err error) {
	d.busErrors++
	d.logger.Debug("sensor bus read failed", "error", err, "count", d.busErrors)
}

// State returns the current state.
func (d *Detector) State() State {
	return d.state
}

// StateName returns the lower-case state name.
func (d *Detector) StateName() string {
	return d.state.String()
}

// Result returns the frozen record. ok is false unless the state is Complete.
func (d *Detector) Result() (rec pass.Record, ok bool) {
	if d.state != Complete {
		return pass.Record{}, false
	}
	return d.rec, true
}

// Snapshot returns a copy of the record in any state.
func (d *Detector) Snapshot() pass.Record {
	return d.rec
}

// TriggeredCount returns how many sensors have fired in the current cycle.
func (d *Detector) TriggeredCount() int {
	return d.rec.TriggeredCount
}

// BusErrors returns the number of failed bus reads since start.
func (d *Detector) BusErrors() uint64 {
	return d.busErrors
}

// SensorCount returns the configured number of channels.
func (d *Detector) SensorCount() int {
	return d.cfg.SensorCount
}
