// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package clock provides the free-running 32-bit microsecond and millisecond
// counters used for pass timing. Both counters wrap at 2^32.
package clock

import (
	"sync"
	"time"
)

// Clock is a pair of monotonic, wrapping counters.
type Clock interface {
	// Micros returns microseconds since an arbitrary epoch, modulo 2^32.
	Micros() uint32
	// Millis returns milliseconds since the same epoch, modulo 2^32.
	Millis() uint32
}

// ElapsedUs returns now-then in microseconds, correct across a single wrap.
func ElapsedUs(now, then uint32) uint32 {
	return now - then
}

// ElapsedMs returns now-then in milliseconds, correct across a single wrap.
func ElapsedMs(now, then uint32) uint32 {
	return now - then
}

// Before reports whether a precedes b, assuming they lie within 2^31 ticks
// of each other.
func Before(a, b uint32) bool {
	return int32(a-b) < 0
}

// Monotonic reads the host's monotonic clock.
type Monotonic struct {
	start time.Time
}

// NewMonotonic returns a Monotonic clock whose epoch is now.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

func (m *Monotonic) Micros() uint32 {
	return uint32(time.Since(m.start).Microseconds())
}

func (m *Monotonic) Millis() uint32 {
	return uint32(time.Since(m.start).Milliseconds())
}

// Manual is a clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu sync.Mutex
	us uint64
}

// NewManual returns a Manual clock reading startUs microseconds.
func NewManual(startUs uint64) *Manual {
	return &Manual{us: startUs}
}

func (m *Manual) Micros() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(m.us)
}

func (m *Manual) Millis() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(m.us / 1000)
}

// Advance moves the clock forward by d, truncated to whole microseconds.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.us += uint64(d / time.Microsecond)
	m.mu.Unlock()
}

// AdvanceUs moves the clock forward by us microseconds.
func (m *Manual) AdvanceUs(us uint64) {
	m.mu.Lock()
	m.us += us
	m.mu.Unlock()
}

// Set moves the clock to an absolute microsecond reading.
func (m *Manual) Set(us uint64) {
	m.mu.Lock()
	m.us = us
	m.mu.Unlock()
}
