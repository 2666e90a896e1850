// Package plugin is the host-facing adapter: it translates validator
// callbacks into records, hashes them to a shard, and pushes without ever
// blocking the callback thread. The host loads it with a JSON config and
// drives it through the On* callbacks.
package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Numi2/solana-numistack/codec"
	"github.com/Numi2/solana-numistack/errors"
	"github.com/Numi2/solana-numistack/shard"
)

// udsPathMax is the kernel limit on sun_path for AF_UNIX sockets on Linux.
const udsPathMax = 108

// Streams selects which record kinds the adapter forwards. Disabled streams
// are dropped at the callback with zero work.
type Streams struct {
	Accounts     bool `json:"accounts"`
	Transactions bool `json:"transactions"`
	Blocks       bool `json:"blocks"`
	Slots        bool `json:"slots"`
}

// Config is the plugin configuration loaded by the host.
type Config struct {
	SocketPaths    []string `json:"socket_paths"`
	QueueCapacity  int      `json:"queue_capacity"`
	Backpressure   string   `json:"backpressure"`
	BatchMax       int      `json:"batch_max"`
	BatchBytesMax  int      `json:"batch_bytes_max"`
	BatchTimeMaxUS int      `json:"batch_time_max_us"`
	MaxFrameBytes  int      `json:"max_frame_bytes"`
	Compress       bool     `json:"compress"`
	Archive        bool     `json:"archive"`
	CPUAffinity    []int    `json:"cpu_affinity"`
	MetricsListen  string   `json:"metrics_listen"`
	Streams        *Streams `json:"streams"`
	PoolItemsMax   int      `json:"pool_items_max"`
}

// DefaultConfig returns defaults for everything except socket_paths, which
// has no sensible default and must be configured.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:  1 << 14,
		Backpressure:   "drop_newest",
		BatchMax:       512,
		BatchBytesMax:  2 << 20,
		BatchTimeMaxUS: 0,
		MaxFrameBytes:  codec.DefaultMaxFrameBytes,
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
	if len(c.SocketPaths) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"Config", "Validate", "socket_paths is required")
	}
	for _, p := range c.SocketPaths {
		if len(p) == 0 || p[0] != '/' {
			return errors.WrapInvalid(
				fmt.Errorf("socket path must be absolute: %q", p),
				"Config", "Validate", "socket path validation")
		}
		if len(p) > udsPathMax {
			return errors.WrapInvalid(
				fmt.Errorf("socket path length %d exceeds platform max %d", len(p), udsPathMax),
				"Config", "Validate", "socket path validation")
		}
	}

	if c.QueueCapacity < 2 || c.QueueCapacity > 1<<20 || c.QueueCapacity&(c.QueueCapacity-1) != 0 {
		return errors.WrapInvalid(
			fmt.Errorf("queue_capacity %d must be a power of two in 2..=1048576", c.QueueCapacity),
			"Config", "Validate", "queue capacity validation")
	}

	policy, err := shard.ParsePolicy(c.Backpressure)
	if err != nil {
		return err
	}
	// Validator callbacks are synchronous and latency-sensitive; a parked
	// producer would stall the host.
	if policy == shard.Block {
		return errors.WrapInvalid(
			fmt.Errorf("backpressure %q is not permitted for validator ingress", c.Backpressure),
			"Config", "Validate", "backpressure validation")
	}

	if c.BatchMax < 1 || c.BatchMax > 1<<16 {
		return errors.WrapInvalid(
			fmt.Errorf("batch_max %d out of range", c.BatchMax),
			"Config", "Validate", "batch validation")
	}
	if c.BatchBytesMax < 1024 || c.BatchBytesMax > 64<<20 {
		return errors.WrapInvalid(
			fmt.Errorf("batch_bytes_max %d out of range (1KiB..=64MiB)", c.BatchBytesMax),
			"Config", "Validate", "batch validation")
	}
	if c.MaxFrameBytes < 1024 || c.MaxFrameBytes > 64<<20 {
		return errors.WrapInvalid(
			fmt.Errorf("max_frame_bytes %d out of range (1KiB..=64MiB)", c.MaxFrameBytes),
			"Config", "Validate", "frame cap validation")
	}
	if c.CPUAffinity != nil && len(c.CPUAffinity) != len(c.SocketPaths) {
		return errors.WrapInvalid(
			fmt.Errorf("cpu_affinity needs one CPU per shard: got %d, want %d",
				len(c.CPUAffinity), len(c.SocketPaths)),
			"Config", "Validate", "affinity validation")
	}
	if c.PoolItemsMax < 0 || (c.PoolItemsMax > 0 && c.PoolItemsMax > c.QueueCapacity) {
		return errors.WrapInvalid(
			fmt.Errorf("pool_items_max must be in 1..=queue_capacity (%d), got %d",
				c.QueueCapacity, c.PoolItemsMax),
			"Config", "Validate", "pool validation")
	}
	return nil
}

// Shards returns the shard count, defined by the socket list length.
func (c *Config) Shards() int { return len(c.SocketPaths) }

// Policy returns the parsed backpressure policy. Validate must have passed.
func (c *Config) Policy() shard.Policy {
	p, _ := shard.ParsePolicy(c.Backpressure)
	return p
}

// BatchTimeMax returns the batch linger as a duration.
func (c *Config) BatchTimeMax() time.Duration {
	return time.Duration(c.BatchTimeMaxUS) * time.Microsecond
}

// EnabledStreams returns the stream selection, defaulting to all enabled.
func (c *Config) EnabledStreams() Streams {
	if c.Streams == nil {
		return Streams{Accounts: true, Transactions: true, Blocks: true, Slots: true}
	}
	return *c.Streams
}
