// Package main implements the ultra-aggregator daemon: it reads framed
// records from Unix domain sockets fed by validator-side writers and fans
// them out to the configured sinks.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/Numi2/solana-numistack/aggregator"
	"github.com/Numi2/solana-numistack/errors"
	"github.com/Numi2/solana-numistack/metric"
)

const (
	Version = "0.1.0"
	appName = "ultra-aggregator"
)

// Exit codes: 0 clean shutdown, 2 configuration error, 3 fatal socket bind
// failure, 4 unrecoverable internal error.
const (
	exitOK       = 0
	exitConfig   = 2
	exitBind     = 3
	exitInternal = 4
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(exitInternal)
		}
	}()

	os.Exit(run())
}

func run() int {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		return exitConfig
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return exitOK
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := aggregator.LoadConfig(cliCfg.ConfigPath)
	if err != nil {
		logger.Error("configuration error", "path", cliCfg.ConfigPath, "error", err)
		return exitConfig
	}
	if cliCfg.Validate {
		logger.Info("configuration is valid", "path", cliCfg.ConfigPath)
		return exitOK
	}

	logger.Info("starting",
		"version", Version,
		"listen_paths", cfg.ListenPaths,
		"max_frame_bytes", cfg.MaxFrameBytes,
		"sinks", len(cfg.Sinks))

	sinks, err := aggregator.BuildSinks(cfg.Sinks)
	if err != nil {
		logger.Error("sink construction failed", "error", err)
		if errors.IsInvalid(err) {
			return exitConfig
		}
		return exitInternal
	}

	srv, err := aggregator.NewServer(aggregator.Deps{
		Config:   cfg,
		Sinks:    sinks,
		Registry: metric.NewRegistry(),
		Logger:   logger,
	})
	if err != nil {
		logger.Error("server construction failed", "error", err)
		return exitConfig
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Run(ctx, cliCfg.ShutdownTimeout); err != nil {
		if stderrors.Is(err, errors.ErrBindFailed) {
			logger.Error("socket bind failed", "error", err)
			return exitBind
		}
		logger.Error("fatal error", "error", err)
		return exitInternal
	}

	logger.Info("clean shutdown")
	return exitOK
}
