package plugin

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Numi2/solana-numistack/shard"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.SocketPaths = []string{"/var/run/ultra/aggregator-0.sock", "/var/run/ultra/aggregator-1.sock"}
	return cfg
}

func TestValidConfigPasses(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Shards())
	assert.Equal(t, shard.DropNewest, cfg.Policy())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no sockets", func(c *Config) { c.SocketPaths = nil }},
		{"relative path", func(c *Config) { c.SocketPaths = []string{"relative.sock"} }},
		{"path too long", func(c *Config) {
			long := "/tmp/"
			for len(long) <= udsPathMax {
				long += "x"
			}
			c.SocketPaths = []string{long}
		}},
		{"capacity not power of two", func(c *Config) { c.QueueCapacity = 1000 }},
		{"capacity too small", func(c *Config) { c.QueueCapacity = 1 }},
		{"unknown policy", func(c *Config) { c.Backpressure = "spill" }},
		{"block policy forbidden", func(c *Config) { c.Backpressure = "block" }},
		{"zero batch", func(c *Config) { c.BatchMax = 0 }},
		{"tiny batch bytes", func(c *Config) { c.BatchBytesMax = 100 }},
		{"huge batch bytes", func(c *Config) { c.BatchBytesMax = 128 << 20 }},
		{"tiny frame cap", func(c *Config) { c.MaxFrameBytes = 100 }},
		{"affinity length mismatch", func(c *Config) { c.CPUAffinity = []int{0} }},
		{"pool larger than queue", func(c *Config) { c.PoolItemsMax = 1 << 20 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugin.json")
	raw := `{
		"socket_paths": ["/var/run/ultra/aggregator.sock"],
		"queue_capacity": 4096,
		"backpressure": "drop_oldest",
		"batch_max": 64,
		"batch_bytes_max": 524288,
		"batch_time_max_us": 250,
		"max_frame_bytes": 1048576,
		"compress": true,
		"streams": {"accounts": true, "transactions": false, "blocks": true, "slots": true}
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Shards())
	assert.Equal(t, shard.DropOldest, cfg.Policy())
	assert.Equal(t, 512*1024, cfg.BatchBytesMax)
	assert.Equal(t, 250*time.Microsecond, cfg.BatchTimeMax())
	assert.True(t, cfg.Compress)
	assert.False(t, cfg.EnabledStreams().Transactions)
	assert.True(t, cfg.EnabledStreams().Accounts)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfigBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestStreamsDefaultAllEnabled(t *testing.T) {
	cfg := validConfig()
	s := cfg.EnabledStreams()
	assert.True(t, s.Accounts && s.Transactions && s.Blocks && s.Slots)
}
