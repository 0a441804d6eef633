// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/speedcal/internal/pass"
	"github.com/relabs-tech/speedcal/internal/speed"
)

// StatusPayload is published on every state change and on request.
type StatusPayload struct {
	Type             string  `json:"type"` // "status"
	State            string  `json:"state"`
	Sensors          int     `json:"sensors"`
	SpacingMM        float64 `json:"spacing_mm"`
	ScaleFactor      float64 `json:"scale_factor"`
	UptimeMS         uint32  `json:"uptime_ms"`
	SensorsTriggered int     `json:"sensors_triggered,omitempty"` // only while measuring
	MQTT             bool    `json:"mqtt"`
	BusErrors        uint64  `json:"bus_errors"`
}

// ResultPayload describes one completed pass.
type ResultPayload struct {
	Type             string    `json:"type"` // "result"
	RunID            string    `json:"run_id"`
	CompletedAt      time.Time `json:"completed_at"`
	Direction        string    `json:"direction"`
	Sensors          int       `json:"sensors"`
	SensorsTriggered int       `json:"sensors_triggered"`
	TimedOut         bool      `json:"timed_out"`
	DurationMS       float64   `json:"duration_ms"`
	Triggered        []bool    `json:"triggered"`
	TimestampsUS     []int64   `json:"timestamps_us"` // relative to first trigger, -1 if missing
	IntervalsUS      []uint32  `json:"intervals_us"`
	SpeedsMMS        []float64 `json:"speeds_mm_s"`
	SpeedsMPH        []float64 `json:"speeds_mph"`
	AvgSpeedMPH      float64   `json:"avg_speed_mph"`
	Valid            bool      `json:"valid"`
}

// ErrorPayload reports a pass that produced no usable measurement.
type ErrorPayload struct {
	Type    string `json:"type"` // "error"
	RunID   string `json:"run_id,omitempty"`
	Message string `json:"message"`
}

// Outcome bundles a completed pass with its computed speeds.
type Outcome struct {
	Record  pass.Record
	Speed   speed.Result
	Payload ResultPayload
}

// BuildResult converts a frozen record and its speeds into a payload.
func BuildResult(rec pass.Record, res speed.Result, valid bool, runID string, at time.Time) ResultPayload {
	p := ResultPayload{
		Type:             "result",
		RunID:            runID,
		CompletedAt:      at.UTC(),
		Direction:        rec.Direction.String(),
		Sensors:          rec.SensorCount,
		SensorsTriggered: rec.TriggeredCount,
		TimedOut:         rec.TimedOut,
		DurationMS:       round1(float64(rec.DurationUs) / 1000),
		Triggered:        rec.TriggeredList(),
		TimestampsUS:     rec.RelativeUs(),
		IntervalsUS:      append(make([]uint32, 0, res.IntervalCount), res.Intervals()...),
		SpeedsMMS:        make([]float64, 0, res.IntervalCount),
		SpeedsMPH:        make([]float64, 0, res.IntervalCount),
		AvgSpeedMPH:      round1(res.AverageMPH),
		Valid:            valid,
	}
	for i := 0; i < res.IntervalCount; i++ {
		p.SpeedsMMS = append(p.SpeedsMMS, round1(res.ModelMMs[i]))
		p.SpeedsMPH = append(p.SpeedsMPH, round1(res.ScaleMPH[i]))
	}
	return p
}

// ErrorFor returns the error payload for an unusable pass, or false if the
// pass produced speeds.
func ErrorFor(p ResultPayload) (ErrorPayload, bool) {
	switch {
	case p.SensorsTriggered < 2:
		return ErrorPayload{
			Type:    "error",
			RunID:   p.RunID,
			Message: fmt.Sprintf("Run ended with fewer than 2 sensors triggered (%d)", p.SensorsTriggered),
		}, true
	case !p.Valid:
		return ErrorPayload{
			Type:    "error",
			RunID:   p.RunID,
			Message: "Run complete but could not compute speeds",
		}, true
	}
	return ErrorPayload{}, false
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
