// Package latch holds the single-slot timestamp written by the sensor
// interrupt and drained by the poll loop.
package latch

import (
	"sync/atomic"

	"github.com/relabs-tech/speedcal/internal/clock"
)

const pendingBit = uint64(1) << 32

// Latch stores the most recent event timestamp and a pending flag in one
// atomic word. A newer Notify overwrites an undrained one.
type Latch struct {
	clk  clock.Clock
	word atomic.Uint64
}

// New returns an empty latch that stamps events from clk.
func New(clk clock.Clock) *Latch {
	return &Latch{clk: clk}
}

// Notify records "an event happened now". It is the only call made from the
// edge-handling goroutine and never blocks.
func (l *Latch) Notify() {
	l.word.Store(pendingBit | uint64(l.clk.Micros()))
}

// NotifyAt records an event with an explicit timestamp.
func (l *Latch) NotifyAt(us uint32) {
	l.word.Store(pendingBit | uint64(us))
}

// Take returns the pending timestamp and clears the flag. ok is false when
// nothing was pending.
func (l *Latch) Take() (us uint32, ok bool) {
	w := l.word.Swap(0)
	if w&pendingBit == 0 {
		return 0, false
	}
	return uint32(w), true
}

// Pending reports whether an event is waiting without consuming it.
func (l *Latch) Pending() bool {
	return l.word.Load()&pendingBit != 0
}

// Clear drops any pending event.
func (l *Latch) Clear() {
	l.word.Store(0)
}
