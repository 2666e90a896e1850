// Package aggregator is the consumer side of the pipeline: it accepts UDS
// connections from writers, decodes frames, enforces size limits, and fans
// decoded records out to a closed set of sinks through bounded queues.
package aggregator

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Numi2/solana-numistack/codec"
	"github.com/Numi2/solana-numistack/errors"
	"github.com/Numi2/solana-numistack/shard"
)

// SinkConfig selects and parameterizes one egress target. Type is one of
// "stdout", "file", "nats", or "websocket"; the sink set is closed at build
// time.
type SinkConfig struct {
	Type string `json:"type"`
	// File sink
	Path string `json:"path,omitempty"`
	// NATS sink
	URL           string `json:"url,omitempty"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
	// Websocket sink
	Listen string `json:"listen,omitempty"`
}

// Config is the aggregator daemon configuration.
type Config struct {
	ListenPaths            []string     `json:"listen_paths"`
	MaxConnections         int          `json:"max_connections"`
	MaxFrameBytes          int          `json:"max_frame_bytes"`
	IdleTimeoutSecs        int          `json:"idle_timeout_secs"`
	OversizeLogIntervalSec int          `json:"oversize_log_interval_secs"`
	RecvBufferBytes        int          `json:"recv_buffer_bytes"`
	SinkQueueCapacity      int          `json:"sink_queue_capacity"`
	Backpressure           string       `json:"backpressure"`
	Sinks                  []SinkConfig `json:"sinks"`
	MetricsListen          string       `json:"metrics_listen"`
}

// DefaultConfig returns defaults for everything except listen_paths.
func DefaultConfig() Config {
	return Config{
		MaxConnections:         64,
		MaxFrameBytes:          codec.DefaultMaxFrameBytes,
		IdleTimeoutSecs:        60,
		OversizeLogIntervalSec: 10,
		SinkQueueCapacity:      1 << 14,
		Backpressure:           "drop_newest",
	}
}

// LoadConfig reads and validates a config file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WrapFatal(err, "Config", "LoadConfig", "read config file")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.WrapInvalid(err, "Config", "LoadConfig", "config parsing")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.ListenPaths) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"Config", "Validate", "listen_paths is required")
	}
	for _, p := range c.ListenPaths {
		if len(p) == 0 || p[0] != '/' {
			return errors.WrapInvalid(
				fmt.Errorf("listen path must be absolute: %q", p),
				"Config", "Validate", "listen path validation")
		}
	}
	if c.MaxConnections < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("max_connections %d out of range", c.MaxConnections),
			"Config", "Validate", "connection limit validation")
	}
	if c.MaxFrameBytes < 1024 || c.MaxFrameBytes > 64<<20 {
		return errors.WrapInvalid(
			fmt.Errorf("max_frame_bytes %d out of range (1KiB..=64MiB)", c.MaxFrameBytes),
			"Config", "Validate", "frame cap validation")
	}
	if c.RecvBufferBytes < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("recv_buffer_bytes %d cannot be negative", c.RecvBufferBytes),
			"Config", "Validate", "recv buffer validation")
	}
	if c.SinkQueueCapacity < 2 || c.SinkQueueCapacity&(c.SinkQueueCapacity-1) != 0 {
		return errors.WrapInvalid(
			fmt.Errorf("sink_queue_capacity %d must be a power of two", c.SinkQueueCapacity),
			"Config", "Validate", "sink queue validation")
	}
	if _, err := shard.ParsePolicy(c.Backpressure); err != nil {
		return err
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "file":
			if s.Path == "" {
				return errors.WrapInvalid(errors.ErrMissingConfig,
					"Config", "Validate", fmt.Sprintf("sink %d: file sink needs path", i))
			}
		case "nats":
			if s.URL == "" {
				return errors.WrapInvalid(errors.ErrMissingConfig,
					"Config", "Validate", fmt.Sprintf("sink %d: nats sink needs url", i))
			}
		case "websocket":
			if s.Listen == "" {
				return errors.WrapInvalid(errors.ErrMissingConfig,
					"Config", "Validate", fmt.Sprintf("sink %d: websocket sink needs listen", i))
			}
		default:
			return errors.WrapInvalid(
				fmt.Errorf("unknown sink type %q", s.Type),
				"Config", "Validate", fmt.Sprintf("sink %d validation", i))
		}
	}
	return nil
}

// IdleTimeout returns the per-connection idle timeout.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSecs) * time.Second
}

// OversizeLogInterval returns the minimum spacing between oversize-frame log
// lines.
func (c *Config) OversizeLogInterval() time.Duration {
	return time.Duration(c.OversizeLogIntervalSec) * time.Second
}

// Policy returns the parsed sink backpressure policy.
func (c *Config) Policy() shard.Policy {
	p, _ := shard.ParsePolicy(c.Backpressure)
	return p
}
