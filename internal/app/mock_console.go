// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/relabs-tech/speedcal/internal/clock"
	"github.com/relabs-tech/speedcal/internal/config"
	"github.com/relabs-tech/speedcal/internal/pass"
	"github.com/relabs-tech/speedcal/internal/sensors"
)

// RunMockConsole drives simulated passes of alternating direction through
// the detector and prints each report to w. It stops after the given number
// of passes, or only when ctx is cancelled if passes is zero.
func RunMockConsole(ctx context.Context, cfg *config.Config, w io.Writer, passes int) error {
	logger := slog.Default()
	sim := sensors.NewSimBus()
	ctrl, l, err := NewTrack(cfg, sim, clock.NewMonotonic(), logger)
	if err != nil {
		return err
	}
	console := NewConsole(ctrl, w, cfg.SensorCount)
	ctrl.AddPublisher(console)

	results := make(chan Outcome, 1)
	ctrl.AddPublisher(outcomeFunc(func(o Outcome) {
		select {
		case results <- o:
		default:
		}
	}))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- ctrl.Run(ctx, time.Duration(cfg.PollIntervalUS)*time.Microsecond)
	}()

	simulator := &sensors.Simulator{Bus: sim, Notify: l, Dwell: 20 * time.Millisecond}
	settle := time.Duration(cfg.ArmSettleMS)*time.Millisecond + 50*time.Millisecond
	dir := parseDirection(cfg.MockDirection)

	for n := 0; passes == 0 || n < passes; n++ {
		events, err := sensors.PassSchedule(cfg.Geometry(), cfg.MockSpeedMMS, dir)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "\n=== Simulated pass %d: %s at %.0f mm/s ===\n", n+1, dir, cfg.MockSpeedMMS)
		console.Execute(ctx, "arm")
		if err := sleepFor(ctx, settle); err != nil {
			break
		}
		if err := simulator.Run(ctx, events); err != nil {
			break
		}

		select {
		case <-results:
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
			fmt.Fprintln(w, "No result, disarming.")
			console.Execute(ctx, "disarm")
		}
		if ctx.Err() != nil {
			break
		}

		if dir == pass.AtoB {
			dir = pass.BtoA
		} else {
			dir = pass.AtoB
		}
	}

	cancel()
	return <-done
}

// outcomeFunc adapts a function to Publisher, ignoring status.
type outcomeFunc func(Outcome)

func (f outcomeFunc) PublishStatus(StatusPayload) {}
func (f outcomeFunc) PublishResult(o Outcome)     { f(o) }

func sleepFor(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
