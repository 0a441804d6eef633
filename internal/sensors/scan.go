// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import "periph.io/x/conn/v3/i2c"

// ScanI2C probes every 7-bit address with a one-byte read and returns the
// ones that acknowledged.
func ScanI2C(bus i2c.Bus) []uint16 {
	var found []uint16
	var buf [1]byte
	for addr := uint16(0x08); addr < 0x78; addr++ {
		if err := bus.Tx(addr, nil, buf[:]); err == nil {
			found = append(found, addr)
		}
	}
	return found
}
