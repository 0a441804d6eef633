// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Notifier receives one call per interrupt edge.
type Notifier interface {
	Notify()
}

// EdgeWatcher turns falling edges on the expander's INT line into Notify
// calls. It does nothing else: no bus access, no detector state.
type EdgeWatcher struct {
	pin    gpio.PinIn
	notify Notifier
	// poll bounds how long a WaitForEdge blocks before ctx is rechecked.
	poll time.Duration
}

// NewEdgeWatcher configures pin as a pulled-up input with falling-edge
// detection.
func NewEdgeWatcher(pin gpio.PinIn, n Notifier) (*EdgeWatcher, error) {
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("configure INT pin %s: %w", pin, err)
	}
	return &EdgeWatcher{pin: pin, notify: n, poll: 100 * time.Millisecond}, nil
}

// Run blocks until ctx is cancelled.
func (w *EdgeWatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if w.pin.WaitForEdge(w.poll) {
			w.notify.Notify()
		}
	}
}
