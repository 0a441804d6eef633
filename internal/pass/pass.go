// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pass holds the data recorded for one vehicle pass over the sensor
// array, and the fixed track geometry used to turn it into speeds.
package pass

import (
	"errors"
	"fmt"
)

// MaxSensors is the channel capacity of the sensor bus (two 8-bit ports).
const MaxSensors = 16

// Direction of travel along the array.
type Direction int

const (
	Unknown Direction = iota
	AtoB              // sensor 0 toward sensor N-1
	BtoA              // sensor N-1 toward sensor 0
)

func (d Direction) String() string {
	switch d {
	case AtoB:
		return "A-B"
	case BtoA:
		return "B-A"
	default:
		return "unknown"
	}
}

// Geometry is the fixed description of the installed array.
type Geometry struct {
	SensorCount int     `json:"sensors"`
	SpacingMM   float64 `json:"spacing_mm"`
	ScaleFactor float64 `json:"scale_factor"`
}

// Validate checks that the geometry can be used for speed computation.
func (g Geometry) Validate() error {
	if g.SensorCount < 1 || g.SensorCount > MaxSensors {
		return fmt.Errorf("sensor count must be 1-%d, got %d", MaxSensors, g.SensorCount)
	}
	if g.SpacingMM <= 0 {
		return errors.New("sensor spacing must be positive")
	}
	if g.ScaleFactor <= 0 {
		return errors.New("scale factor must be positive")
	}
	return nil
}

// Record is everything captured during one pass. Timestamps are raw
// microsecond counter readings and are only meaningful where Triggered is set.
type Record struct {
	SensorCount    int
	TriggeredCount int
	Triggered      [MaxSensors]bool
	TimestampUs    [MaxSensors]uint32
	Direction      Direction
	RunStartMs     uint32
	DurationUs     uint32
	TimedOut       bool
}

// Reset clears the record for a new pass over count sensors.
func (r *Record) Reset(count int) {
	*r = Record{SensorCount: count}
}

// Mark records sensor i as triggered at us. It reports false if i was
// already triggered or is out of range.
func (r *Record) Mark(i int, us uint32) bool {
	if i < 0 || i >= r.SensorCount || r.Triggered[i] {
		return false
	}
	r.Triggered[i] = true
	r.TimestampUs[i] = us
	r.TriggeredCount++
	return true
}

// First returns the earliest trigger timestamp (wrap-aware).
func (r *Record) First() (uint32, bool) {
	var first uint32
	found := false
	for i := 0; i < r.SensorCount; i++ {
		if !r.Triggered[i] {
			continue
		}
		if !found || int32(r.TimestampUs[i]-first) < 0 {
			first = r.TimestampUs[i]
			found = true
		}
	}
	return first, found
}

// Last returns the latest trigger timestamp (wrap-aware).
func (r *Record) Last() (uint32, bool) {
	var last uint32
	found := false
	for i := 0; i < r.SensorCount; i++ {
		if !r.Triggered[i] {
			continue
		}
		if !found || int32(r.TimestampUs[i]-last) > 0 {
			last = r.TimestampUs[i]
			found = true
		}
	}
	return last, found
}

// Span returns last-first over the triggered sensors, or 0 with fewer than two.
func (r *Record) Span() uint32 {
	if r.TriggeredCount < 2 {
		return 0
	}
	first, _ := r.First()
	last, _ := r.Last()
	return last - first
}

// RelativeUs returns each sensor's timestamp relative to the first trigger,
// with -1 for sensors that never fired.
func (r *Record) RelativeUs() []int64 {
	out := make([]int64, r.SensorCount)
	first, ok := r.First()
	for i := range out {
		if !ok || !r.Triggered[i] {
			out[i] = -1
			continue
		}
		out[i] = int64(r.TimestampUs[i] - first)
	}
	return out
}

// TriggeredList returns the triggered flags for the configured sensors.
func (r *Record) TriggeredList() []bool {
	out := make([]bool, r.SensorCount)
	copy(out, r.Triggered[:r.SensorCount])
	return out
}
