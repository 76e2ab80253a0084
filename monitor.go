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
	"sync/atomic"
	"time"

	"github.com/rcrowley/go-metrics"
)

// Monitored exports per label timers and error counters to the go-metrics registry,
// they are flushed to graphite when it is configured.
type Monitored struct {
	Attack
}

func WithMonitor(a Attack) Monitored {
	return Monitored{a}
}

func (m Monitored) Do(ctx context.Context) DoResult {
	before := time.Now()
	result := m.Attack.Do(ctx)
	attackTime := time.Since(before)
	r := m.GetRunner()
	if r == nil {
		return result
	}
	if t := r.registerLabelTimings(result.RequestLabel); t != nil {
		t.Update(attackTime)
	}
	if result.failed() {
		if c := r.registerErrCount(result.RequestLabel); c != nil {
			c.Inc(1)
		}
	}
	return result
}

func (m Monitored) Clone(r *Runner) Attack {
	return Monitored{m.Attack.Clone(r)}
}

func (m Monitored) Pacing() Pacing {
	return pacingOf(m.Attack)
}

func pacingOf(a Attack) Pacing {
	if p, ok := a.(Paced); ok {
		return p.Pacing()
	}
	return NoWait
}

func (r *Runner) initMonitoring() {
	r.registerMetric("users", r.usersGauge)
	g := r.Manager.GeneratorConfig.Graphite
	if g.URL == "" {
		return
	}
	if err := StartGraphiteSender(g.LoadGeneratorPrefix, time.Duration(g.FlushIntervalSec)*time.Second, g.URL); err != nil {
		r.L.Infof("graphite export disabled: %s", err)
	}
}

func (r *Runner) metricName(name string) string {
	return r.name + "." + name
}

func (r *Runner) registerLabelTimings(label string) metrics.Timer {
	if atomic.LoadInt32(&r.exportClosed) == 1 {
		return nil
	}
	r.timerMu.RLock()
	timer, ok := r.timers[label]
	r.timerMu.RUnlock()
	if ok {
		return timer
	}
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if timer, ok = r.timers[label]; ok {
		return timer
	}
	timer = metrics.NewTimer()
	r.timers[label] = timer
	r.registerMetric(label+"-timer", timer)
	return timer
}

func (r *Runner) registerErrCount(label string) metrics.Counter {
	if atomic.LoadInt32(&r.exportClosed) == 1 {
		return nil
	}
	r.errorsMu.RLock()
	cnt, ok := r.errCounters[label]
	r.errorsMu.RUnlock()
	if ok {
		return cnt
	}
	r.errorsMu.Lock()
	defer r.errorsMu.Unlock()
	if cnt, ok = r.errCounters[label]; ok {
		return cnt
	}
	cnt = metrics.NewCounter()
	r.errCounters[label] = cnt
	r.registerMetric(label+"-err", cnt)
	return cnt
}

func (r *Runner) registerMetric(name string, metric interface{}) {
	name = r.metricName(name)
	r.metricsMu.Lock()
	r.registeredMetricsLabels = append(r.registeredMetricsLabels, name)
	r.metricsMu.Unlock()
	if err := metrics.Register(name, metric); err != nil {
		r.L.Infof("failed to register metric %s: %s", name, err)
	}
}

func (r *Runner) unregisterMetrics() {
	atomic.StoreInt32(&r.exportClosed, 1)
	r.metricsMu.Lock()
	defer r.metricsMu.Unlock()
	for _, m := range r.registeredMetricsLabels {
		metrics.Unregister(m)
	}
	r.registeredMetricsLabels = nil
}
