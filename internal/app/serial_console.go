// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/speedcal/internal/speed"
)

// OpenSerialConsole opens the console port at baud, 8N1.
func OpenSerialConsole(port string, baud int) (io.ReadWriteCloser, error) {
	serialOpts := serial.OpenOptions{
		PortName:              port,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	rwc, err := serial.Open(serialOpts)
	if err != nil {
		return nil, fmt.Errorf("open serial console %s: %w", port, err)
	}
	return rwc, nil
}

// Console is the line-oriented operator console: arm, disarm, status, read
// and help. It also prints a report for every completed pass.
type Console struct {
	ctrl    *Controller
	sensors int

	mu  sync.Mutex
	out io.Writer
}

// NewConsole writes to out. Register it with ctrl.AddPublisher to get pass
// reports.
func NewConsole(ctrl *Controller, out io.Writer, sensorCount int) *Console {
	return &Console{ctrl: ctrl, out: out, sensors: sensorCount}
}

// Serve reads commands from r until EOF, a read error or ctx is done.
func (c *Console) Serve(ctx context.Context, r io.Reader) error {
	c.printHelp()
	c.printf("> ")

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		cmd := strings.TrimSpace(scanner.Text())
		if cmd == "" {
			continue
		}
		c.Execute(ctx, cmd)
		c.printf("> ")
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("console read: %w", err)
	}
	return nil
}

// Execute runs one console command.
func (c *Console) Execute(ctx context.Context, cmd string) {
	switch strings.ToLower(cmd) {
	case "arm":
		r, err := c.ctrl.Do(ctx, CmdArm)
		if err != nil {
			c.printf("Error: %v\n", err)
			return
		}
		if r.Applied {
			c.printf("Armed. Waiting for locomotive pass...\n")
		} else {
			c.printf("Cannot arm while %s.\n", r.Status.State)
		}
	case "disarm":
		r, err := c.ctrl.Do(ctx, CmdDisarm)
		if err != nil {
			c.printf("Error: %v\n", err)
			return
		}
		if r.Applied {
			c.printf("Disarmed.\n")
		} else {
			c.printf("Nothing to disarm (%s).\n", r.Status.State)
		}
	case "status":
		r, err := c.ctrl.Do(ctx, CmdStatus)
		if err != nil {
			c.printf("Error: %v\n", err)
			return
		}
		c.printStatus(r.Status)
	case "read":
		r, err := c.ctrl.Do(ctx, CmdReadSensors)
		if err != nil {
			c.printf("Error: %v\n", err)
			return
		}
		if r.Err != nil {
			c.printf("Sensor read failed: %v\n", r.Err)
			return
		}
		c.printf("%s\n", FormatActive(r.Active, c.sensors))
	case "help":
		c.printHelp()
	default:
		c.printf("Unknown command: '%s' (type 'help')\n", cmd)
	}
}

// FormatActive renders a channel mask as "Active: 0x0005  [ S0:DET S1:--- ... ]".
func FormatActive(mask uint16, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Active: 0x%04X  [", mask)
	for i := 0; i < n; i++ {
		state := "---"
		if mask&(1<<i) != 0 {
			state = "DET"
		}
		fmt.Fprintf(&b, " S%d:%s", i, state)
	}
	b.WriteString(" ]")
	return b.String()
}

func (c *Console) printStatus(st StatusPayload) {
	c.printf("State: %s\n", st.State)
	if st.State == "measuring" {
		c.printf("Sensors triggered: %d / %d\n", st.SensorsTriggered, st.Sensors)
	}
	mqttState := "disconnected"
	if st.MQTT {
		mqttState = "connected"
	}
	c.printf("MQTT: %s\n", mqttState)
	if st.BusErrors > 0 {
		c.printf("Bus errors: %d\n", st.BusErrors)
	}
}

func (c *Console) printHelp() {
	c.printf("Commands:\n")
	c.printf("  arm     - Arm sensors for a speed measurement\n")
	c.printf("  disarm  - Cancel active measurement\n")
	c.printf("  status  - Show current state\n")
	c.printf("  read    - Read raw sensor state\n")
	c.printf("  help    - Show this message\n")
}

// PublishStatus implements Publisher. State changes are already echoed by
// the command that caused them.
func (c *Console) PublishStatus(StatusPayload) {}

// PublishResult implements Publisher.
func (c *Console) PublishResult(out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out)
	if out.Record.TriggeredCount < 2 {
		fmt.Fprintf(c.out, "Run ended with fewer than 2 sensors triggered.\nSensors triggered: %d\n", out.Record.TriggeredCount)
	} else if err := speed.WriteReport(c.out, out.Record, out.Speed); err != nil {
		return
	}
	fmt.Fprintf(c.out, "Type 'arm' to measure again.\n> ")
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
