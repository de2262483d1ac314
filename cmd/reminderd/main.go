// Package main runs the reminder engine daemon: the scheduler tick loop,
// the delivery dispatcher and the operational HTTP listener.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/runtime"
)

func main() {
	cfgPath := flag.String("config", "config/reminderd.yaml", "Path to configuration file")
	flag.Parse()

	// Optional .env for local development; absence is fine.
	_ = godotenv.Load()

	if v := os.Getenv("CONFIG_PATH"); v != "" {
		*cfgPath = v
	}

	app, err := runtime.NewApplication(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to initialise application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("Application error: %v", err)
	}

	if err := app.Shutdown(context.Background()); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
}
