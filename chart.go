package sessionload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	chart "github.com/wcharczuk/go-chart"
)

const (
	chartHeight   = 512
	chartBarWidth = 60
)

var errNothingToPlot = errors.New("report has no latencies to plot")

// latencyBars returns p50 and p99 bars in milliseconds for every label of the report.
func latencyBars(rep *RunReport) []chart.Value {
	bars := make([]chart.Value, 0, 2*len(rep.Metrics))
	for _, label := range rep.SortedLabels() {
		m := rep.Metrics[label]
		if m == nil || m.Requests == 0 {
			continue
		}
		bars = append(bars,
			chart.Value{Label: label + " p50", Value: millis(m.Latencies.P50)},
			chart.Value{Label: label + " p99", Value: millis(m.Latencies.P99)},
		)
	}
	return bars
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// RenderLatencyChart renders p50/p99 latency bars of every label as PNG.
func RenderLatencyChart(rep *RunReport, w io.Writer) error {
	bars := latencyBars(rep)
	var nonZero bool
	for _, b := range bars {
		if b.Value > 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		return errNothingToPlot
	}
	graph := chart.BarChart{
		Title: fmt.Sprintf("%s latency, ms", rep.Configuration.HandleName),
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		Height:   chartHeight,
		Width:    chartBarWidth * (len(bars) + 2) * 2,
		BarWidth: chartBarWidth,
		Bars:     bars,
	}
	return graph.Render(chart.PNG, w)
}

// WriteLatencyChart loads a report file and writes its latency chart to out.
func WriteLatencyChart(reportPath, out string) error {
	rep, err := LoadReport(reportPath)
	if err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	if err := RenderLatencyChart(rep, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
