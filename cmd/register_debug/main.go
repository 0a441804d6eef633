// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/speedcal/internal/app"
	"github.com/relabs-tech/speedcal/internal/config"
	"github.com/relabs-tech/speedcal/internal/sensors"
)

func main() {
	configPath := flag.String("config", "./speedcal_config.txt", "path to configuration file")
	dump := flag.Bool("dump", false, "print the register dump and exit")
	port := flag.Int("port", 8081, "HTTP port")
	flag.Parse()

	log.Println("starting MCP23017 register debug tool (standalone)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		log.Fatalf("failed to initialize periph: %v", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		log.Fatalf("failed to open I2C bus: %v", err)
	}
	defer bus.Close()

	for _, addr := range sensors.ScanI2C(bus) {
		log.Printf("I2C device at 0x%02X", addr)
	}

	mcp, err := sensors.NewMCP23017(bus, cfg.MCP23017Addr, cfg.SensorCount)
	if err != nil {
		log.Fatalf("failed to initialize MCP23017: %v", err)
	}

	if *dump {
		regs, err := mcp.DumpRegisters()
		if err != nil {
			log.Printf("Warning: register dump incomplete: %v", err)
		}
		for _, line := range app.FormatRegisterDump(regs) {
			fmt.Println(line)
		}
		return
	}

	debugger := app.NewRegisterDebugger(mcp, func() []uint16 { return sensors.ScanI2C(bus) })
	http.Handle("/ws", debugger)
	http.Handle("/", http.FileServer(http.Dir("web")))

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Register debug tool listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
