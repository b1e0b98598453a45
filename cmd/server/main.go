// Package main is the entry point for the plantdoc API server.
//
// main stays minimal: load configuration, build the logger, hand both to
// server.New and block in Start. All actual logic lives in internal/.
//
// Configuration comes from the environment (and an optional .env file in
// the working directory). See internal/config for every variable.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/sakif/plantdoc/internal/config"
	"github.com/sakif/plantdoc/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No configured logger yet.
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
