/*
 *    Copyright [2020] Sergey Kudasov
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package sessionload

import (
	"context"
	"fmt"
	"time"

	"github.com/mackerelio/go-osstat/cpu"
	"github.com/mackerelio/go-osstat/memory"
	"github.com/mackerelio/go-osstat/network"
	"github.com/rcrowley/go-metrics"
)

// HostMetrics exports generator host cpu, memory and network gauges.
type HostMetrics struct {
	hostPrefix       string
	networkInterface string
	names            []string

	cpuUserSystemPercent metrics.Gauge

	memTotal     metrics.Gauge
	memFree      metrics.Gauge
	memUsed      metrics.Gauge
	memCached    metrics.Gauge
	memSwapTotal metrics.Gauge
	memSwapUsed  metrics.Gauge
	memSwapFree  metrics.Gauge

	rx metrics.Gauge
	tx metrics.Gauge
}

// NewHostOSMetrics registers host gauges prefixed with hostPrefix
func NewHostOSMetrics(hostPrefix string, networkInterface string) (*HostMetrics, error) {
	m := &HostMetrics{
		hostPrefix:       hostPrefix,
		networkInterface: networkInterface,
	}
	gauges := []struct {
		g    *metrics.Gauge
		name string
	}{
		{&m.cpuUserSystemPercent, "cpu_used"},
		{&m.memTotal, "mem_total"},
		{&m.memFree, "mem_free"},
		{&m.memUsed, "mem_used"},
		{&m.memCached, "mem_cached"},
		{&m.memSwapTotal, "mem_swap_total"},
		{&m.memSwapUsed, "mem_swap_used"},
		{&m.memSwapFree, "mem_swap_free"},
		{&m.rx, fmt.Sprintf("net_%s_rx", networkInterface)},
		{&m.tx, fmt.Sprintf("net_%s_tx", networkInterface)},
	}
	for _, each := range gauges {
		g, err := m.registerGauge(each.name)
		if err != nil {
			m.Close()
			return nil, err
		}
		*each.g = g
	}
	return m, nil
}

func (m *HostMetrics) registerGauge(name string) (metrics.Gauge, error) {
	if m.hostPrefix != "" {
		name = m.hostPrefix + "." + name
	}
	g := metrics.NewGauge()
	if err := metrics.Register(name, g); err != nil {
		return nil, fmt.Errorf("register host gauge %s: %w", name, err)
	}
	m.names = append(m.names, name)
	return g, nil
}

// Close unregisters host gauges
func (m *HostMetrics) Close() {
	for _, n := range m.names {
		metrics.Unregister(n)
	}
	m.names = nil
}

// hostCounters is one snapshot of cumulative cpu and network counters
type hostCounters struct {
	at  time.Time
	cpu *cpu.Stats
	net *network.Stats
}

// cpuUsedPercent is user + system cpu between two snapshots
func cpuUsedPercent(before, after *cpu.Stats) int64 {
	total := float64(after.Total - before.Total)
	if total == 0 {
		return 0
	}
	return int64(100 - float64(after.Idle-before.Idle)/total*100)
}

// bytesPerSec is the rx/tx rate between two snapshots of the same interface
func bytesPerSec(before, after *network.Stats, elapsed time.Duration) (int64, int64) {
	sec := elapsed.Seconds()
	if sec <= 0 {
		return 0, 0
	}
	return int64(float64(after.RxBytes-before.RxBytes) / sec), int64(float64(after.TxBytes-before.TxBytes) / sec)
}

func (m *HostMetrics) selectNetworkInterface(stats []network.Stats) (*network.Stats, error) {
	for i := range stats {
		if stats[i].Name == m.networkInterface {
			return &stats[i], nil
		}
	}
	return nil, fmt.Errorf("no interface found, interface %s doesn't exist", m.networkInterface)
}

func (m *HostMetrics) sample() hostCounters {
	c := hostCounters{at: time.Now()}
	cs, err := cpu.Get()
	if err != nil {
		L().Infof("[ OS Metrics ] failed to get cpu metrics: %s", err)
	} else {
		c.cpu = cs
	}
	if m.networkInterface == "" {
		return c
	}
	stats, err := network.Get()
	if err == nil {
		c.net, err = m.selectNetworkInterface(stats)
	}
	if err != nil {
		L().Infof("[ OS Metrics ] failed to get network metrics: %s", err)
	}
	return c
}

// GetMem get all mem and swap used/free/total stats
func (m *HostMetrics) GetMem() (*memory.Stats, error) {
	return memory.Get()
}

// update refreshes gauges from counters accumulated since prev and returns the new snapshot
func (m *HostMetrics) update(prev hostCounters) hostCounters {
	cur := m.sample()
	if prev.cpu != nil && cur.cpu != nil {
		m.cpuUserSystemPercent.Update(cpuUsedPercent(prev.cpu, cur.cpu))
	}
	if prev.net != nil && cur.net != nil {
		rx, tx := bytesPerSec(prev.net, cur.net, cur.at.Sub(prev.at))
		m.rx.Update(rx)
		m.tx.Update(tx)
	}
	if mem, err := m.GetMem(); err != nil {
		L().Infof("[ OS Metrics ] failed to get memory metrics: %s", err)
	} else {
		m.memTotal.Update(int64(mem.Total))
		m.memFree.Update(int64(mem.Free))
		m.memUsed.Update(int64(mem.Used))
		m.memCached.Update(int64(mem.Cached))
		m.memSwapTotal.Update(int64(mem.SwapTotal))
		m.memSwapUsed.Update(int64(mem.SwapUsed))
		m.memSwapFree.Update(int64(mem.SwapFree))
	}
	return cur
}

// Watch updates generator host metrics every interval until ctx is done,
// cpu and network gauges cover the same interval
func (m *HostMetrics) Watch(ctx context.Context, intervalSec int) {
	go func() {
		ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
		defer ticker.Stop()
		prev := m.sample()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prev = m.update(prev)
			}
		}
	}()
}
