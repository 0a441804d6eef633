// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package speed

import (
	"fmt"
	"io"

	"github.com/relabs-tech/speedcal/internal/pass"
)

// WriteReport prints a human-readable summary of a pass.
func WriteReport(w io.Writer, rec pass.Record, res Result) error {
	ew := &errWriter{w: w}
	ew.printf("=== Run Complete ===\n")
	ew.printf("Direction: %s\n", rec.Direction)
	ew.printf("Sensors triggered: %d / %d\n", rec.TriggeredCount, rec.SensorCount)
	if rec.TimedOut {
		ew.printf("Timed out before every sensor fired\n")
	}
	ew.printf("Total time: %.1f ms\n\n", float64(rec.DurationUs)/1000)

	ew.printf("Sensor timestamps (us from first trigger):\n")
	for i, rel := range rec.RelativeUs() {
		if rel < 0 {
			ew.printf("  S%d: --\n", i)
		} else {
			ew.printf("  S%d: %d us\n", i, rel)
		}
	}
	ew.printf("\n")

	if res.IntervalCount > 0 {
		ew.printf("Interval speeds:\n")
		for i := 0; i < res.IntervalCount; i++ {
			ew.printf("  [%d] %d us -> %.1f mm/s -> %.1f scale mph\n",
				i, res.IntervalUs[i], res.ModelMMs[i], res.ScaleMPH[i])
		}
		ew.printf("\nAverage: %.1f scale mph\n", res.AverageMPH)
	} else {
		ew.printf("No valid intervals computed.\n")
	}
	ew.printf("====================\n")
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
