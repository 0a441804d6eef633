// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package speed converts a completed pass into per-interval model and
// prototype speeds.
package speed

import (
	"github.com/relabs-tech/speedcal/internal/pass"
)

const (
	microsPerSecond = 1_000_000
	kmPerMile       = 1.609344
)

// MaxIntervals is the most intervals a pass can yield.
const MaxIntervals = pass.MaxSensors - 1

// Result holds one entry per retained sensor pair, in travel order.
type Result struct {
	IntervalCount int
	IntervalUs    [MaxIntervals]uint32
	ModelMMs      [MaxIntervals]float64 // model millimetres per second
	ScaleMPH      [MaxIntervals]float64 // prototype miles per hour
	AverageMPH    float64
}

// Intervals returns the retained interval durations in microseconds.
func (r *Result) Intervals() []uint32 { return r.IntervalUs[:r.IntervalCount] }

// ModelSpeeds returns the retained model speeds in mm/s.
func (r *Result) ModelSpeeds() []float64 { return r.ModelMMs[:r.IntervalCount] }

// ScaleSpeeds returns the retained prototype speeds in mph.
func (r *Result) ScaleSpeeds() []float64 { return r.ScaleMPH[:r.IntervalCount] }

// MPHPerMMPerSec is the factor from model mm/s to prototype mph at the given
// linear scale.
func MPHPerMMPerSec(scale float64) float64 {
	return scale * 3600 / (microsPerSecond * kmPerMile)
}

// Compute derives interval speeds from rec. Pairs with a missing endpoint or
// a non-positive delta are skipped without shifting later entries. ok is
// false when no interval survives. An Unknown direction is walked in the
// order the outermost triggered sensors fired, not in physical order.
func Compute(rec pass.Record, geom pass.Geometry) (res Result, ok bool) {
	if rec.TriggeredCount < 2 {
		return Result{}, false
	}
	n := rec.SensorCount
	if n > pass.MaxSensors {
		n = pass.MaxSensors
	}

	reverse := false
	switch rec.Direction {
	case pass.BtoA:
		reverse = true
	case pass.Unknown:
		reverse = reversedByTiming(&rec, n)
	}

	var ts [pass.MaxSensors]uint32
	var valid [pass.MaxSensors]bool
	for i := 0; i < n; i++ {
		src := i
		if reverse {
			src = n - 1 - i
		}
		ts[i] = rec.TimestampUs[src]
		valid[i] = rec.Triggered[src]
	}

	factor := MPHPerMMPerSec(geom.ScaleFactor)
	var total float64
	for i := 0; i+1 < n; i++ {
		if !valid[i] || !valid[i+1] {
			continue
		}
		dt := ts[i+1] - ts[i]
		if int32(dt) <= 0 {
			continue
		}
		k := res.IntervalCount
		res.IntervalUs[k] = dt
		res.ModelMMs[k] = geom.SpacingMM / (float64(dt) / microsPerSecond)
		res.ScaleMPH[k] = res.ModelMMs[k] * factor
		total += res.ScaleMPH[k]
		res.IntervalCount++
	}

	if res.IntervalCount > 0 {
		res.AverageMPH = total / float64(res.IntervalCount)
	}
	return res, res.IntervalCount > 0
}

// reversedByTiming reports whether the earliest trigger sits at a higher
// physical index than the latest, for passes whose direction was never
// decided.
func reversedByTiming(rec *pass.Record, n int) bool {
	first, last := -1, -1
	for i := 0; i < n; i++ {
		if !rec.Triggered[i] {
			continue
		}
		if first < 0 || int32(rec.TimestampUs[i]-rec.TimestampUs[first]) < 0 {
			first = i
		}
		if last < 0 || int32(rec.TimestampUs[i]-rec.TimestampUs[last]) > 0 {
			last = i
		}
	}
	return first > last
}
