package sessionload

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// histogram range: 1us to 10min, 3 significant figures
	histMinUs   = 1
	histMaxUs   = int64(10 * time.Minute / time.Microsecond)
	histSigFigs = 3
)

// LatencyMetrics holds computed request latency metrics.
type LatencyMetrics struct {
	Total time.Duration `json:"total"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"50th"`
	P95   time.Duration `json:"95th"`
	P99   time.Duration `json:"99th"`
	Max   time.Duration `json:"max"`
}

// Metrics aggregates results of one request label.
// add is called by the runner collector, readers may run concurrently.
type Metrics struct {
	mu sync.Mutex

	Latencies   LatencyMetrics `json:"latencies"`
	Earliest    time.Time      `json:"earliest"`
	Latest      time.Time      `json:"latest"`
	End         time.Time      `json:"end"`
	BytesIn     int64          `json:"bytes_in"`
	BytesOut    int64          `json:"bytes_out"`
	Requests    uint64         `json:"requests"`
	Successes   uint64         `json:"successes"`
	Failures    uint64         `json:"failures"`
	Rate        float64        `json:"rate"`
	Success     float64        `json:"success"`
	StatusCodes map[string]int `json:"status_codes"`
	Errors      map[string]int `json:"errors"`

	hist *hdrhistogram.Histogram
}

// NewMetrics returns empty label metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		StatusCodes: make(map[string]int),
		Errors:      make(map[string]int),
		hist:        hdrhistogram.New(histMinUs, histMaxUs, histSigFigs),
	}
}

func (m *Metrics) add(r result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests++
	if m.Earliest.IsZero() || r.begin.Before(m.Earliest) {
		m.Earliest = r.begin
	}
	if r.begin.After(m.Latest) {
		m.Latest = r.begin
	}
	if r.end.After(m.End) {
		m.End = r.end
	}
	m.Latencies.Total += r.elapsed
	if r.elapsed > m.Latencies.Max {
		m.Latencies.Max = r.elapsed
	}
	us := int64(r.elapsed / time.Microsecond)
	if us < histMinUs {
		us = histMinUs
	}
	if us > histMaxUs {
		us = histMaxUs
	}
	_ = m.hist.RecordValue(us)
	m.BytesIn += r.doResult.BytesIn
	m.BytesOut += r.doResult.BytesOut
	if r.doResult.StatusCode != 0 {
		m.StatusCodes[strconv.Itoa(r.doResult.StatusCode)]++
	}
	if r.doResult.failed() {
		m.Failures++
		msg := "status " + strconv.Itoa(r.doResult.StatusCode)
		if r.doResult.Error != nil {
			msg = r.doResult.Error.Error()
		}
		m.Errors[msg]++
	} else {
		m.Successes++
	}
}

// updateLatencies computes percentiles, mean and rate from what was added so far.
func (m *Metrics) updateLatencies() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Requests == 0 {
		return
	}
	m.Latencies.Mean = time.Duration(int64(m.Latencies.Total) / int64(m.Requests))
	m.Latencies.P50 = m.quantile(50)
	m.Latencies.P95 = m.quantile(95)
	m.Latencies.P99 = m.quantile(99)
	if span := m.Latest.Sub(m.Earliest).Seconds(); span > 0 {
		m.Rate = float64(m.Requests) / span
	} else {
		m.Rate = float64(m.Requests)
	}
}

func (m *Metrics) quantile(q float64) time.Duration {
	return time.Duration(m.hist.ValueAtQuantile(q)) * time.Microsecond
}

func (m *Metrics) updateSuccessRatio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Requests == 0 {
		return
	}
	m.Success = float64(m.Successes) / float64(m.Requests)
}

// FailureRatio is failures/requests, 0 without requests.
func (m *Metrics) FailureRatio() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Requests == 0 {
		return 0
	}
	return float64(m.Failures) / float64(m.Requests)
}

// RequestCount returns the number of added results.
func (m *Metrics) RequestCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Requests
}

func (m *Metrics) meanLogEntry() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Latencies.Mean.String()
}

func (m *Metrics) successLogEntry() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("%.0f", m.Success*100)
}

// MaxRPS returns the highest observed rate.
func MaxRPS(rates []float64) float64 {
	var max float64
	for _, r := range rates {
		if r > max {
			max = r
		}
	}
	return max
}
