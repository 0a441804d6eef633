// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

// Bus reports which sensor channels are active. Bit i of a mask is channel i
// and a set bit means "vehicle present". Implementations translate from the
// hardware's electrical polarity.
//
// On a failed transaction both methods return 0 along with the error, so a
// caller that ignores the error sees "no channels active".
type Bus interface {
	// ReadActive samples the live channel state.
	ReadActive() (uint16, error)
	// ReadInterruptCapture returns the channel state latched when the last
	// interrupt fired, and clears the interrupt so the next edge can fire.
	ReadInterruptCapture() (uint16, error)
}
