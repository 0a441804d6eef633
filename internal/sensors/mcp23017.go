// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/i2c"
)

// MCP23017 register addresses (IOCON.BANK = 0).
const (
	RegIODIRA   byte = 0x00
	RegIODIRB   byte = 0x01
	RegIPOLA    byte = 0x02
	RegIPOLB    byte = 0x03
	RegGPINTENA byte = 0x04
	RegGPINTENB byte = 0x05
	RegDEFVALA  byte = 0x06
	RegDEFVALB  byte = 0x07
	RegINTCONA  byte = 0x08
	RegINTCONB  byte = 0x09
	RegIOCON    byte = 0x0A
	RegGPPUA    byte = 0x0C
	RegGPPUB    byte = 0x0D
	RegINTFA    byte = 0x0E
	RegINTFB    byte = 0x0F
	RegINTCAPA  byte = 0x10
	RegINTCAPB  byte = 0x11
	RegGPIOA    byte = 0x12
	RegGPIOB    byte = 0x13
)

// IOCON bits.
const (
	ioconMirror byte = 0x40 // INTA and INTB wired together
)

// DefaultMCP23017Addr is the address with A0-A2 pulled high.
const DefaultMCP23017Addr uint16 = 0x27

// rawErrorValue is returned for a port when the bus transaction fails.
const rawErrorValue byte = 0xFF

// MCP23017 drives the expander as a sensor input board. Channels 0-7 are on
// port A and 8-15 on port B. Sensors pull their pin low when a vehicle is
// present, so raw readings are inverted before being returned.
type MCP23017 struct {
	dev  *i2c.Dev
	mask uint16
}

// NewMCP23017 configures the expander at addr for count input channels with
// interrupt-on-change against an all-high default.
func NewMCP23017(bus i2c.Bus, addr uint16, count int) (*MCP23017, error) {
	if count < 1 || count > 16 {
		return nil, fmt.Errorf("mcp23017: channel count must be 1-16, got %d", count)
	}
	m := &MCP23017{
		dev:  &i2c.Dev{Bus: bus, Addr: addr},
		mask: uint16(1<<count - 1),
	}
	if err := m.init(); err != nil {
		return nil, fmt.Errorf("mcp23017 at 0x%02X: %w", addr, err)
	}
	log.Printf("sensors: MCP23017 at 0x%02X configured for %d channels (mask 0x%04X)", addr, count, m.mask)
	return m, nil
}

func (m *MCP23017) init() error {
	maskA := byte(m.mask)
	maskB := byte(m.mask >> 8)

	seq := []struct {
		reg byte
		val byte
	}{
		{RegIOCON, ioconMirror},
		{RegIODIRA, 0xFF},
		{RegIODIRB, 0xFF},
		// External pull-ups are fitted on the sensor board.
		{RegGPPUA, 0x00},
		{RegGPPUB, 0x00},
		{RegIPOLA, 0x00},
		{RegIPOLB, 0x00},
		{RegGPINTENA, maskA},
		{RegGPINTENB, maskB},
		// Compare against DEFVAL rather than the previous pin value, so the
		// interrupt fires on the high-to-low transition only.
		{RegINTCONA, maskA},
		{RegINTCONB, maskB},
		{RegDEFVALA, maskA},
		{RegDEFVALB, maskB},
	}
	for _, s := range seq {
		if err := m.WriteRegister(s.reg, s.val); err != nil {
			return err
		}
	}

	// Clear anything latched before configuration.
	if _, err := m.ReadInterruptCapture(); err != nil {
		return err
	}
	if _, err := m.ReadActive(); err != nil {
		return err
	}
	return nil
}

// Mask returns the bit mask of configured channels.
func (m *MCP23017) Mask() uint16 {
	return m.mask
}

// WriteRegister writes a single register.
func (m *MCP23017) WriteRegister(reg, val byte) error {
	if err := m.dev.Tx([]byte{reg, val}, nil); err != nil {
		return fmt.Errorf("write reg 0x%02X: %w", reg, err)
	}
	return nil
}

// ReadRegister reads a single register. On error the value is 0xFF.
func (m *MCP23017) ReadRegister(reg byte) (byte, error) {
	var buf [1]byte
	if err := m.dev.Tx([]byte{reg}, buf[:]); err != nil {
		return rawErrorValue, fmt.Errorf("read reg 0x%02X: %w", reg, err)
	}
	return buf[0], nil
}

// readPorts reads the A register at regA and, when channels 8-15 are in use,
// the B register that follows it. Unused port bits read high.
func (m *MCP23017) readPorts(regA byte) (uint16, error) {
	if m.mask <= 0xFF {
		a, err := m.ReadRegister(regA)
		return 0xFF00 | uint16(a), err
	}
	var buf [2]byte
	if err := m.dev.Tx([]byte{regA}, buf[:]); err != nil {
		return 0xFFFF, fmt.Errorf("read regs 0x%02X-0x%02X: %w", regA, regA+1, err)
	}
	return uint16(buf[1])<<8 | uint16(buf[0]), nil
}

// ReadActive implements Bus.
func (m *MCP23017) ReadActive() (uint16, error) {
	raw, err := m.readPorts(RegGPIOA)
	return ^raw & m.mask, err
}

// ReadInterruptCapture implements Bus. Reading INTCAP clears the interrupt.
func (m *MCP23017) ReadInterruptCapture() (uint16, error) {
	raw, err := m.readPorts(RegINTCAPA)
	return ^raw & m.mask, err
}

// ReadInterruptFlags returns which configured channels caused the pending
// interrupt. It does not clear the interrupt.
func (m *MCP23017) ReadInterruptFlags() (uint16, error) {
	raw, err := m.readPorts(RegINTFA)
	if err != nil {
		return 0, err
	}
	return raw & m.mask, nil
}

// DumpRegisters reads every documented register, keyed by address.
func (m *MCP23017) DumpRegisters() (map[byte]byte, error) {
	out := make(map[byte]byte)
	for _, info := range MCP23017RegisterMap() {
		v, err := m.ReadRegister(info.Addr)
		if err != nil {
			return out, err
		}
		out[info.Addr] = v
	}
	return out, nil
}
