package sessionload

import (
	"context"
	"strconv"
	"time"
)

// CSVMonitored writes every request to the manager result.csv log:
// label, start time, duration, status code, ok/err.
type CSVMonitored struct {
	Attack
}

func WithCSVMonitor(a Attack) CSVMonitored {
	return CSVMonitored{a}
}

func (m CSVMonitored) Do(ctx context.Context) DoResult {
	before := time.Now()
	result := m.Attack.Do(ctx)
	attackTime := time.Since(before)
	lm := m.GetManager()
	if lm == nil {
		return result
	}
	status := "ok"
	if result.failed() {
		status = "err"
	}
	entry := []string{
		result.RequestLabel,
		before.Format(time.RFC3339Nano),
		attackTime.String(),
		strconv.Itoa(result.StatusCode),
		status,
	}
	if err := lm.writeCSVLog(entry); err != nil {
		L().Infof("failed to write csv log: %s", err)
	}
	return result
}

func (m CSVMonitored) Clone(r *Runner) Attack {
	return CSVMonitored{m.Attack.Clone(r)}
}

func (m CSVMonitored) Pacing() Pacing {
	return pacingOf(m.Attack)
}
