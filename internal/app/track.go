// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/speedcal/internal/clock"
	"github.com/relabs-tech/speedcal/internal/detector"
	"github.com/relabs-tech/speedcal/internal/pass"
	"github.com/relabs-tech/speedcal/internal/sensors"
	"github.com/relabs-tech/speedcal/internal/speed"
)

// Command is a request executed on the poll goroutine.
type Command int

const (
	CmdArm Command = iota
	CmdDisarm
	CmdStatus
	CmdReadSensors
)

func (c Command) String() string {
	switch c {
	case CmdArm:
		return "arm"
	case CmdDisarm:
		return "disarm"
	case CmdStatus:
		return "status"
	case CmdReadSensors:
		return "read"
	default:
		return "unknown"
	}
}

// Reply is what the poll goroutine sends back for a command.
type Reply struct {
	// Applied is false when arm/disarm was a no-op in the current state.
	Applied bool
	Status  StatusPayload
	// Active is the live channel mask, for CmdReadSensors.
	Active uint16
	Err    error
}

// Publisher receives everything the controller emits. Calls come from the
// poll goroutine and must not block for long.
type Publisher interface {
	PublishStatus(StatusPayload)
	PublishResult(Outcome)
}

// ErrQueueFull is returned when the command queue cannot take more work.
var ErrQueueFull = errors.New("command queue full")

type request struct {
	cmd   Command
	reply chan Reply
}

// Controller owns the Detector. Only the goroutine running Step or Run
// touches it; everything else goes through the command queue.
type Controller struct {
	det    *detector.Detector
	bus    sensors.Bus
	geom   pass.Geometry
	clk    clock.Clock
	logger *slog.Logger

	cmds chan request

	pubMu sync.RWMutex
	pubs  []Publisher

	connected func() bool
	newRunID  func() string
	now       func() time.Time

	mu     sync.RWMutex
	status StatusPayload
	last   *Outcome
}

// NewController wraps det. bus is the same bus the detector reads.
func NewController(det *detector.Detector, bus sensors.Bus, geom pass.Geometry, clk clock.Clock, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		det:       det,
		bus:       bus,
		geom:      geom,
		clk:       clk,
		logger:    logger.With("component", "track"),
		cmds:      make(chan request, 16),
		connected: func() bool { return false },
		newRunID:  func() string { return uuid.NewString() },
		now:       time.Now,
	}
	c.refreshStatus()
	return c
}

// AddPublisher registers p for status and result events.
func (c *Controller) AddPublisher(p Publisher) {
	c.pubMu.Lock()
	c.pubs = append(c.pubs, p)
	c.pubMu.Unlock()
}

// SetConnectivity installs the function reported as "mqtt" in status.
func (c *Controller) SetConnectivity(f func() bool) {
	c.mu.Lock()
	c.connected = f
	c.mu.Unlock()
}

// Post queues cmd without waiting for it to run.
func (c *Controller) Post(cmd Command) error {
	select {
	case c.cmds <- request{cmd: cmd}:
		return nil
	default:
		c.logger.Warn("command dropped", "command", cmd)
		return ErrQueueFull
	}
}

// Do queues cmd and waits for the poll goroutine to execute it.
func (c *Controller) Do(ctx context.Context, cmd Command) (Reply, error) {
	reply := make(chan Reply, 1)
	select {
	case c.cmds <- request{cmd: cmd, reply: reply}:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Status returns the latest status snapshot. Safe from any goroutine.
func (c *Controller) Status() StatusPayload {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// LastResult returns the most recent outcome, if any.
func (c *Controller) LastResult() (Outcome, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return Outcome{}, false
	}
	return *c.last, true
}

// Run calls Step every interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("poll loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("poll loop stopped")
			return nil
		case <-ticker.C:
			c.Step()
		}
	}
}

// Step drains queued commands, advances the detector once and publishes a
// result if the pass just completed. It reports whether it did.
func (c *Controller) Step() bool {
drain:
	for {
		select {
		case req := <-c.cmds:
			r := c.execute(req.cmd)
			if req.reply != nil {
				req.reply <- r
			}
		default:
			break drain
		}
	}

	if !c.det.Update() {
		c.refreshStatus()
		return false
	}

	rec, _ := c.det.Result()
	res, valid := speed.Compute(rec, c.geom)
	out := Outcome{
		Record:  rec,
		Speed:   res,
		Payload: BuildResult(rec, res, valid, c.newRunID(), c.now()),
	}
	if valid {
		c.logger.Info("pass measured",
			"run_id", out.Payload.RunID,
			"direction", rec.Direction,
			"intervals", res.IntervalCount,
			"avg_mph", out.Payload.AvgSpeedMPH)
	} else {
		c.logger.Warn("pass produced no speed", "run_id", out.Payload.RunID, "triggered", rec.TriggeredCount)
	}

	c.mu.Lock()
	c.last = &out
	c.mu.Unlock()

	st := c.refreshStatus()
	for _, p := range c.publishers() {
		p.PublishResult(out)
		p.PublishStatus(st)
	}
	return true
}

func (c *Controller) execute(cmd Command) Reply {
	var r Reply
	switch cmd {
	case CmdArm:
		r.Applied = c.det.Arm()
	case CmdDisarm:
		r.Applied = c.det.Disarm()
	case CmdStatus:
		r.Applied = true
	case CmdReadSensors:
		r.Active, r.Err = c.bus.ReadActive()
		r.Applied = r.Err == nil
	}
	r.Status = c.refreshStatus()

	if cmd != CmdReadSensors {
		for _, p := range c.publishers() {
			p.PublishStatus(r.Status)
		}
	}
	return r
}

func (c *Controller) refreshStatus() StatusPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := StatusPayload{
		Type:        "status",
		State:       c.det.StateName(),
		Sensors:     c.geom.SensorCount,
		SpacingMM:   c.geom.SpacingMM,
		ScaleFactor: c.geom.ScaleFactor,
		UptimeMS:    c.clk.Millis(),
		MQTT:        c.connected(),
		BusErrors:   c.det.BusErrors(),
	}
	if c.det.State() == detector.Measuring {
		st.SensorsTriggered = c.det.TriggeredCount()
	}
	c.status = st
	return st
}

func (c *Controller) publishers() []Publisher {
	c.pubMu.RLock()
	defer c.pubMu.RUnlock()
	return append([]Publisher(nil), c.pubs...)
}
