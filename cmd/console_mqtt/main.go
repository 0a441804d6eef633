package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/speedcal/internal/app"
	"github.com/relabs-tech/speedcal/internal/config"
)

func main() {
	log.Println("starting speedcal console (MQTT subscriber)")

	if err := config.InitGlobal("speedcal_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsoleMQTT(ctx, os.Stdout); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
