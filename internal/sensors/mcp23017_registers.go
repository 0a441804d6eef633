// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

// BitField describes a field inside a register.
type BitField struct {
	Bits        string `json:"bits"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Values      string `json:"values,omitempty"`
}

// RegisterInfo is documentation metadata for one register.
type RegisterInfo struct {
	Addr        byte       `json:"addr"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Access      string     `json:"access"` // "R", "RW"
	Default     byte       `json:"default"`
	BitFields   []BitField `json:"bit_fields,omitempty"`
}

// MCP23017RegisterMap returns metadata for the MCP23017 registers in BANK=0
// addressing. Port B registers mirror port A and are listed without fields.
func MCP23017RegisterMap() []RegisterInfo {
	return []RegisterInfo{
		{Addr: RegIODIRA, Name: "IODIRA", Description: "I/O Direction A", Access: "RW", Default: 0xFF,
			BitFields: []BitField{
				{Bits: "7:0", Name: "IO", Description: "Pin direction", Values: "1=Input, 0=Output"},
			}},
		{Addr: RegIODIRB, Name: "IODIRB", Description: "I/O Direction B", Access: "RW", Default: 0xFF},
		{Addr: RegIPOLA, Name: "IPOLA", Description: "Input Polarity A", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:0", Name: "IP", Description: "GPIO bit reflects inverted pin", Values: "0=Same, 1=Inverted"},
			}},
		{Addr: RegIPOLB, Name: "IPOLB", Description: "Input Polarity B", Access: "RW"},
		{Addr: RegGPINTENA, Name: "GPINTENA", Description: "Interrupt-on-Change Enable A", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:0", Name: "GPINT", Description: "Enable interrupt for pin", Values: "0=Disabled, 1=Enabled"},
			}},
		{Addr: RegGPINTENB, Name: "GPINTENB", Description: "Interrupt-on-Change Enable B", Access: "RW"},
		{Addr: RegDEFVALA, Name: "DEFVALA", Description: "Default Compare Value A", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:0", Name: "DEF", Description: "Interrupt fires when pin differs from this bit (if INTCON set)"},
			}},
		{Addr: RegDEFVALB, Name: "DEFVALB", Description: "Default Compare Value B", Access: "RW"},
		{Addr: RegINTCONA, Name: "INTCONA", Description: "Interrupt Control A", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:0", Name: "IOC", Description: "Compare source", Values: "0=Previous value, 1=DEFVAL"},
			}},
		{Addr: RegINTCONB, Name: "INTCONB", Description: "Interrupt Control B", Access: "RW"},
		{Addr: RegIOCON, Name: "IOCON", Description: "Expander Configuration", Access: "RW",
			BitFields: []BitField{
				{Bits: "7", Name: "BANK", Description: "Register addressing", Values: "0=Sequential pairs, 1=Separate banks"},
				{Bits: "6", Name: "MIRROR", Description: "INT pins mirror", Values: "0=Independent, 1=Connected"},
				{Bits: "5", Name: "SEQOP", Description: "Sequential operation", Values: "0=Enabled, 1=Disabled"},
				{Bits: "4", Name: "DISSLW", Description: "SDA slew rate", Values: "0=Enabled, 1=Disabled"},
				{Bits: "2", Name: "ODR", Description: "INT open drain", Values: "0=Push-pull, 1=Open drain"},
				{Bits: "1", Name: "INTPOL", Description: "INT polarity", Values: "0=Active low, 1=Active high"},
			}},
		{Addr: RegGPPUA, Name: "GPPUA", Description: "Pull-Up Resistor A", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:0", Name: "PU", Description: "100k internal pull-up", Values: "0=Disabled, 1=Enabled"},
			}},
		{Addr: RegGPPUB, Name: "GPPUB", Description: "Pull-Up Resistor B", Access: "RW"},
		{Addr: RegINTFA, Name: "INTFA", Description: "Interrupt Flag A", Access: "R",
			BitFields: []BitField{
				{Bits: "7:0", Name: "INT", Description: "Pin caused the interrupt"},
			}},
		{Addr: RegINTFB, Name: "INTFB", Description: "Interrupt Flag B", Access: "R"},
		{Addr: RegINTCAPA, Name: "INTCAPA", Description: "Interrupt Capture A", Access: "R",
			BitFields: []BitField{
				{Bits: "7:0", Name: "ICP", Description: "Port value at interrupt time; reading clears the interrupt"},
			}},
		{Addr: RegINTCAPB, Name: "INTCAPB", Description: "Interrupt Capture B", Access: "R"},
		{Addr: RegGPIOA, Name: "GPIOA", Description: "Port A", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:0", Name: "GP", Description: "Pin level", Values: "0=Low, 1=High"},
			}},
		{Addr: RegGPIOB, Name: "GPIOB", Description: "Port B", Access: "RW"},
	}
}

// LookupRegister finds a register by name or returns false.
func LookupRegister(name string) (RegisterInfo, bool) {
	for _, r := range MCP23017RegisterMap() {
		if r.Name == name {
			return r, true
		}
	}
	return RegisterInfo{}, false
}
