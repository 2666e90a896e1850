package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegistersCoreMetrics(t *testing.T) {
	reg := NewRegistry()
	m := reg.Metrics

	m.RecordFrameEncoded("account")
	m.RecordFrameDecoded("account")
	m.RecordWrite(3, 1024, 8, 250*time.Microsecond)
	m.RecordQueueDepth(3, 17)
	m.RecordReconnect(3)
	m.Oversize.Inc()
	m.DecodeErrors.Inc()

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"frames_encoded_total",
		"frames_decoded_total",
		"bytes_written_total",
		"queue_depth",
		"oversize_frames_total",
		"decode_errors_total",
		"reconnects_total",
		"batch_size",
		"write_latency_us",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesEncoded.WithLabelValues("account")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.BytesWritten.WithLabelValues("3")))
	assert.Equal(t, 17.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconnects.WithLabelValues("3")))
}

func TestShardLabel(t *testing.T) {
	assert.Equal(t, "0", ShardLabel(0))
	assert.Equal(t, "15", ShardLabel(15))
}

func TestDropCountersCarryShardAndKind(t *testing.T) {
	reg := NewRegistry()
	reg.Metrics.DropsNewest.WithLabelValues("2", "account").Inc()
	reg.Metrics.DropsOldest.WithLabelValues("2", "slot").Add(5)

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Metrics.DropsNewest.WithLabelValues("2", "account")))
	assert.Equal(t, 5.0, testutil.ToFloat64(reg.Metrics.DropsOldest.WithLabelValues("2", "slot")))
}
