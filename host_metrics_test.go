package sessionload

import (
	"testing"
	"time"

	"github.com/mackerelio/go-osstat/cpu"
	"github.com/mackerelio/go-osstat/network"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostMetricsRegistry(t *testing.T) {
	hm, err := NewHostOSMetrics("test-host", "eth0")
	require.NoError(t, err)
	assert.NotNil(t, metrics.Get("test-host.cpu_used"))
	assert.NotNil(t, metrics.Get("test-host.net_eth0_rx"))

	_, err = NewHostOSMetrics("test-host", "eth0")
	assert.Error(t, err, "gauges are already registered")

	hm.Close()
	assert.Nil(t, metrics.Get("test-host.cpu_used"))

	again, err := NewHostOSMetrics("test-host", "eth0")
	require.NoError(t, err)
	again.Close()
}

func TestCPUUsedPercent(t *testing.T) {
	before := &cpu.Stats{Total: 1000, Idle: 800}
	after := &cpu.Stats{Total: 1200, Idle: 950}
	assert.Equal(t, int64(25), cpuUsedPercent(before, after))
	assert.Zero(t, cpuUsedPercent(after, after))
}

func TestBytesPerSec(t *testing.T) {
	before := &network.Stats{Name: "eth0", RxBytes: 1000, TxBytes: 500}
	after := &network.Stats{Name: "eth0", RxBytes: 3000, TxBytes: 1500}
	rx, tx := bytesPerSec(before, after, 2*time.Second)
	assert.Equal(t, int64(1000), rx)
	assert.Equal(t, int64(500), tx)
	rx, tx = bytesPerSec(before, after, 0)
	assert.Zero(t, rx)
	assert.Zero(t, tx)
}

func TestHostMetricsUpdateDoesNotBlock(t *testing.T) {
	hm, err := NewHostOSMetrics("update-host", "")
	require.NoError(t, err)
	defer hm.Close()
	prev := hm.sample()
	start := time.Now()
	hm.update(prev)
	assert.Less(t, int64(time.Since(start)), int64(500*time.Millisecond))
}
