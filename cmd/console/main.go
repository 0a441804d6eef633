// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/speedcal/internal/app"
	"github.com/relabs-tech/speedcal/internal/config"
)

func main() {
	configPath := flag.String("config", "./speedcal_config.txt", "path to configuration file")
	passes := flag.Int("passes", 4, "number of simulated passes, 0 runs until interrupted")
	flag.Parse()

	log.Println("starting speedcal (mock console)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunMockConsole(ctx, config.Get(), os.Stdout, *passes); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
