// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/speedcal/internal/pass"
)

// SimBus is an in-memory Bus. Channels set with Set go active immediately;
// the interrupt capture also remembers channels that went active since the
// last capture read, even if they have since released.
type SimBus struct {
	mu       sync.Mutex
	active   uint16
	captured uint16
	err      error
}

// NewSimBus returns a SimBus with every channel idle.
func NewSimBus() *SimBus {
	return &SimBus{}
}

// Set drives channel ch active or idle.
func (b *SimBus) Set(ch int, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bit := uint16(1) << ch
	if on {
		b.active |= bit
		b.captured |= bit
	} else {
		b.active &^= bit
	}
}

// SetError makes every subsequent read fail with err until cleared with nil.
func (b *SimBus) SetError(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// ReadActive implements Bus.
func (b *SimBus) ReadActive() (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	return b.active, nil
}

// ReadInterruptCapture implements Bus.
func (b *SimBus) ReadInterruptCapture() (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	c := b.captured | b.active
	b.captured = 0
	return c, nil
}

// SimEvent is one channel going active at an offset from the start of a pass.
type SimEvent struct {
	Channel int
	Offset  time.Duration
}

// PassSchedule returns the activation order and offsets for a vehicle moving
// at a constant speedMMs over geom in direction dir.
func PassSchedule(geom pass.Geometry, speedMMs float64, dir pass.Direction) ([]SimEvent, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if speedMMs <= 0 {
		return nil, fmt.Errorf("simulated speed must be positive, got %v", speedMMs)
	}
	step := time.Duration(geom.SpacingMM / speedMMs * float64(time.Second))
	events := make([]SimEvent, geom.SensorCount)
	for i := range events {
		ch := i
		if dir == pass.BtoA {
			ch = geom.SensorCount - 1 - i
		}
		events[i] = SimEvent{Channel: ch, Offset: time.Duration(i) * step}
	}
	return events, nil
}

// Simulator replays a pass schedule against a SimBus in real time.
type Simulator struct {
	Bus    *SimBus
	Notify Notifier
	// Dwell is how long each channel stays active after it fires.
	Dwell time.Duration
}

// Run plays events and returns when the last channel has released or ctx
// is cancelled.
func (s *Simulator) Run(ctx context.Context, events []SimEvent) error {
	start := time.Now()
	for _, ev := range events {
		if err := sleepCtx(ctx, time.Until(start.Add(ev.Offset))); err != nil {
			return err
		}
		s.Bus.Set(ev.Channel, true)
		s.Notify.Notify()
		ch := ev.Channel
		time.AfterFunc(s.Dwell, func() { s.Bus.Set(ch, false) })
	}
	if err := sleepCtx(ctx, s.Dwell); err != nil {
		return err
	}
	log.Printf("sensors: simulated pass over %d channels finished", len(events))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
