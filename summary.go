package sessionload

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

var (
	summaryHeader = color.New(color.FgCyan, color.Bold)
	summaryOK     = color.New(color.FgGreen, color.Bold)
	summaryFailed = color.New(color.FgRed, color.Bold)
)

// SortedLabels returns report labels in a stable order.
func (r *RunReport) SortedLabels() []string {
	labels := make([]string, 0, len(r.Metrics))
	for l := range r.Metrics {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// PrintSummary writes a per label table of the report.
func PrintSummary(w io.Writer, rep *RunReport) error {
	if rep == nil {
		return nil
	}
	summaryHeader.Fprintf(w, "handle [%s] %s - %s\n",
		rep.Configuration.HandleName,
		rep.StartedAt.Format(time.RFC3339),
		rep.FinishedAt.Format(time.RFC3339))
	if rep.RunError != "" {
		summaryFailed.Fprintf(w, "run error: %s\n", rep.RunError)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Name\t# reqs\t# fails\tAvg\tp50\tp95\tp99\tMax\treq/s\t")
	for _, label := range rep.SortedLabels() {
		writeSummaryRow(tw, label, rep.Metrics[label])
	}
	if rep.Total != nil {
		writeSummaryRow(tw, "Aggregated", rep.Total)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if rep.Total != nil && len(rep.Total.Errors) > 0 {
		fmt.Fprintln(w, "Errors:")
		msgs := make([]string, 0, len(rep.Total.Errors))
		for msg := range rep.Total.Errors {
			msgs = append(msgs, msg)
		}
		sort.Strings(msgs)
		for _, msg := range msgs {
			fmt.Fprintf(w, "  %d x %s\n", rep.Total.Errors[msg], msg)
		}
	}
	if rep.Failed {
		summaryFailed.Fprintln(w, "FAILED")
	} else {
		summaryOK.Fprintln(w, "OK")
	}
	return nil
}

func writeSummaryRow(w io.Writer, name string, m *Metrics) {
	if m == nil {
		return
	}
	l := m.Latencies
	fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%.2f\t\n",
		name, m.Requests, m.Failures,
		round(l.Mean), round(l.P50), round(l.P95), round(l.P99), round(l.Max),
		m.Rate)
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Microsecond)
}
