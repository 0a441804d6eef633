// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/speedcal/internal/sensors"
)

// RegisterDevice is the register-level view of the port expander.
type RegisterDevice interface {
	ReadRegister(reg byte) (byte, error)
	WriteRegister(reg, val byte) error
	DumpRegisters() (map[byte]byte, error)
}

// RegisterCmd is a websocket request from the register debug page.
type RegisterCmd struct {
	Action  string `json:"action"` // "get_map", "read", "read_all", "write", "scan", "export_config"
	Address string `json:"addr,omitempty"`
	Value   string `json:"value,omitempty"`
}

// RegisterResponse is sent back for every request.
type RegisterResponse struct {
	Type        string                 `json:"type"` // "register_data", "register_map", "scan", "config", "error"
	Address     string                 `json:"addr,omitempty"`
	Value       string                 `json:"value,omitempty"`
	Registers   map[string]string      `json:"registers,omitempty"`
	Devices     []string               `json:"devices,omitempty"`
	Timestamp   string                 `json:"timestamp,omitempty"`
	Message     string                 `json:"message,omitempty"`
	RegisterMap []sensors.RegisterInfo `json:"register_map,omitempty"`
	Config      *RegisterConfigFile    `json:"config,omitempty"`
}

// RegisterConfigFile is the exported register snapshot.
type RegisterConfigFile struct {
	Version   int               `json:"version"`
	Device    string            `json:"device"`
	Timestamp string            `json:"timestamp"`
	Registers map[string]string `json:"registers"` // hex address -> hex value
}

// RegisterDebugger serves register reads and writes for one MCP23017.
type RegisterDebugger struct {
	dev  RegisterDevice
	scan func() []uint16

	// mu serializes bus access between sessions.
	mu  sync.Mutex
	now func() time.Time
}

// NewRegisterDebugger wraps dev. scan may be nil.
func NewRegisterDebugger(dev RegisterDevice, scan func() []uint16) *RegisterDebugger {
	return &RegisterDebugger{dev: dev, scan: scan, now: time.Now}
}

// ServeHTTP upgrades to a websocket and answers RegisterCmd messages until
// the client goes away.
func (d *RegisterDebugger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("register_debug: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(d.Handle(RegisterCmd{Action: "get_map"})); err != nil {
		log.Printf("register_debug: error sending register map: %v", err)
		return
	}

	for {
		var cmd RegisterCmd
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("register_debug: websocket error: %v", err)
			}
			return
		}
		if err := conn.WriteJSON(d.Handle(cmd)); err != nil {
			log.Printf("register_debug: write error: %v", err)
			return
		}
	}
}

// Handle executes one request.
func (d *RegisterDebugger) Handle(cmd RegisterCmd) RegisterResponse {
	switch cmd.Action {
	case "get_map":
		return RegisterResponse{Type: "register_map", RegisterMap: sensors.MCP23017RegisterMap()}
	case "read":
		return d.handleRead(cmd)
	case "read_all":
		return d.handleReadAll()
	case "write":
		return d.handleWrite(cmd)
	case "scan":
		return d.handleScan()
	case "export_config":
		return d.handleExport()
	default:
		return errorResponse(fmt.Sprintf("unknown action: %s", cmd.Action))
	}
}

func (d *RegisterDebugger) handleRead(cmd RegisterCmd) RegisterResponse {
	addr, err := parseHexByte(cmd.Address)
	if err != nil {
		return errorResponse(fmt.Sprintf("invalid address format: %s", cmd.Address))
	}

	d.mu.Lock()
	value, err := d.dev.ReadRegister(addr)
	d.mu.Unlock()
	if err != nil {
		return errorResponse(fmt.Sprintf("read error: %v", err))
	}

	return RegisterResponse{
		Type:      "register_data",
		Address:   fmt.Sprintf("0x%02X", addr),
		Value:     fmt.Sprintf("0x%02X", value),
		Timestamp: d.now().Format(time.RFC3339),
	}
}

func (d *RegisterDebugger) dump() (map[string]string, error) {
	d.mu.Lock()
	registers, err := d.dev.DumpRegisters()
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	regMap := make(map[string]string, len(registers))
	for addr, value := range registers {
		regMap[fmt.Sprintf("0x%02X", addr)] = fmt.Sprintf("0x%02X", value)
	}
	return regMap, nil
}

func (d *RegisterDebugger) handleReadAll() RegisterResponse {
	regMap, err := d.dump()
	if err != nil {
		return errorResponse(fmt.Sprintf("read all error: %v", err))
	}
	return RegisterResponse{
		Type:      "register_data",
		Registers: regMap,
		Timestamp: d.now().Format(time.RFC3339),
	}
}

func (d *RegisterDebugger) handleWrite(cmd RegisterCmd) RegisterResponse {
	addr, err := parseHexByte(cmd.Address)
	if err != nil {
		return errorResponse(fmt.Sprintf("invalid address format: %s", cmd.Address))
	}
	value, err := parseHexByte(cmd.Value)
	if err != nil {
		return errorResponse(fmt.Sprintf("invalid value format: %s", cmd.Value))
	}
	if !isRegisterWritable(addr) {
		return errorResponse(fmt.Sprintf("register 0x%02X is not writable", addr))
	}

	d.mu.Lock()
	err = d.dev.WriteRegister(addr, value)
	d.mu.Unlock()
	if err != nil {
		return errorResponse(fmt.Sprintf("write error: %v", err))
	}

	return RegisterResponse{
		Type:      "register_data",
		Address:   fmt.Sprintf("0x%02X", addr),
		Value:     fmt.Sprintf("0x%02X", value),
		Timestamp: d.now().Format(time.RFC3339),
		Message:   "write successful",
	}
}

func (d *RegisterDebugger) handleScan() RegisterResponse {
	if d.scan == nil {
		return errorResponse("bus scan not available")
	}
	d.mu.Lock()
	found := d.scan()
	d.mu.Unlock()
	return RegisterResponse{
		Type:      "scan",
		Devices:   formatAddrs(found),
		Timestamp: d.now().Format(time.RFC3339),
	}
}

func (d *RegisterDebugger) handleExport() RegisterResponse {
	regMap, err := d.dump()
	if err != nil {
		return errorResponse(fmt.Sprintf("export error: %v", err))
	}
	ts := d.now().Format(time.RFC3339)
	return RegisterResponse{
		Type: "config",
		Config: &RegisterConfigFile{
			Version:   1,
			Device:    "mcp23017",
			Timestamp: ts,
			Registers: regMap,
		},
		Timestamp: ts,
	}
}

// FormatRegisterDump renders a register dump as "NAME (0xAA) = 0xVV" lines
// in address order.
func FormatRegisterDump(regs map[byte]byte) []string {
	names := make(map[byte]string)
	for _, info := range sensors.MCP23017RegisterMap() {
		names[info.Addr] = info.Name
	}
	addrs := make([]int, 0, len(regs))
	for a := range regs {
		addrs = append(addrs, int(a))
	}
	sort.Ints(addrs)

	lines := make([]string, 0, len(addrs))
	for _, a := range addrs {
		lines = append(lines, fmt.Sprintf("%-9s (0x%02X) = 0x%02X", names[byte(a)], a, regs[byte(a)]))
	}
	return lines
}

func errorResponse(message string) RegisterResponse {
	return RegisterResponse{Type: "error", Message: message}
}

func parseHexByte(s string) (byte, error) {
	var b byte
	if _, err := fmt.Sscanf(s, "0x%X", &b); err != nil {
		return 0, err
	}
	return b, nil
}

// isRegisterWritable reports whether addr is a documented read-write
// register.
func isRegisterWritable(addr byte) bool {
	for _, info := range sensors.MCP23017RegisterMap() {
		if info.Addr == addr {
			return info.Access == "RW"
		}
	}
	return false
}
