package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/cloudburst-io/cloudburst/cmd/cloudburst/commands"
	"github.com/cloudburst-io/cloudburst/pkg/telemetry"
)

// Set via ldflags during build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// The root logger exists before any config file is read; commands may
	// tighten the level later from their configuration.
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  os.Getenv("CLOUDBURST_LOG_LEVEL"),
		Format: logFormat(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		os.Exit(1)
	}
}

// logFormat picks the log format: json when requested, console otherwise,
// since the binary is primarily driven interactively.
func logFormat() string {
	if f := os.Getenv("CLOUDBURST_LOG_FORMAT"); f != "" {
		return f
	}
	return "console"
}
