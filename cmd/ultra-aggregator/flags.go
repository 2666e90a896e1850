package main

import (
	"flag"
	"fmt"
	"time"
)

// CLIConfig holds parsed command-line flags.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	Validate        bool
	ShowVersion     bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}
	flag.StringVar(&cfg.ConfigPath, "config", "/etc/ultra/aggregator.json", "Path to the aggregator config file")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", "json", "Log format (json, text)")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate the config and exit")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	flag.Parse()
	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown-timeout must be positive")
	}
	return nil
}
