// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/speedcal/internal/app"
	"github.com/relabs-tech/speedcal/internal/config"
	"github.com/relabs-tech/speedcal/internal/logging"
)

func main() {
	configPath := flag.String("config", "./speedcal_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting speedcal track host (sensors → MQTT)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	var consoleLevel slog.LevelVar
	consoleLevel.Set(level)

	var logs *logging.MQTTHandler
	logger := logging.Setup(os.Stderr, &consoleLevel, func(h slog.Handler) slog.Handler {
		logs = logging.NewMQTTHandler(h, level, cfg.LogRateMaxPerSec)
		return logs
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunTrack(ctx, cfg, logger, logs); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	log.Println("speedcal: shut down")
}
