package sessionload

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reportWithP50(p50 time.Duration, failures uint64) *RunReport {
	m := NewMetrics()
	m.Requests = 10
	m.Failures = failures
	m.Latencies.P50 = p50
	return &RunReport{
		Configuration: RunnerConfig{HandleName: "session"},
		Metrics:       map[string]*Metrics{"/stats": m},
		Total:         m,
	}
}

func TestStoreReportsAndDegradation(t *testing.T) {
	lm := testManager(t, "http://localhost")
	lm.storeReport("session", reportWithP50(10*time.Millisecond, 0))

	require.NoError(t, lm.CheckDegradation())
	assert.False(t, lm.Degradation, "nothing to compare on the first run")
	require.NoError(t, lm.StoreHandleReports())

	last, err := lm.LastSuccessReportForHandle("session")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, last.Total.Latencies.P50)

	lm.storeReport("session", reportWithP50(11*time.Millisecond, 0))
	require.NoError(t, lm.CheckDegradation())
	assert.False(t, lm.Degradation, "ratio 1.1 is below threshold 1.2")

	lm.storeReport("session", reportWithP50(13*time.Millisecond, 0))
	require.NoError(t, lm.CheckDegradation())
	assert.True(t, lm.Degradation)
}

func TestFailedRunIsNotBaseline(t *testing.T) {
	lm := testManager(t, "http://localhost")
	lm.storeReport("session", reportWithP50(10*time.Millisecond, 1))
	lm.CheckErrors()
	assert.True(t, lm.Failed)
	require.NoError(t, lm.StoreHandleReports())
	_, err := lm.LastSuccessReportForHandle("session")
	assert.True(t, os.IsNotExist(err))
}

func TestCSVLog(t *testing.T) {
	gen := &GeneratorConfig{ReportDir: t.TempDir(), CSVLog: true}
	gen.Generator.Target = "http://localhost"
	lm, err := NewLoadManager(nil, gen)
	require.NoError(t, err)
	mock := newAttackMock(0)
	r, err := NewRunner("mock", lm, WithCSVMonitor(mock), nil, RunnerConfig{Users: 1, AttackTimeSec: 1})
	require.NoError(t, err)
	a, err := r.newAttacker()
	require.NoError(t, err)
	a.Do(context.Background())
	require.NoError(t, lm.Close())

	data, err := ioutil.ReadFile(filepath.Join(gen.ReportDir, csvLogName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "mock,")
	assert.Contains(t, string(data), ",ok\n")
}

const suiteYamlTmpl = `
steps:
  - name: warmup
    execution_mode: sequence
    handles:
      - name: items
        users: 2
        spawn_rate: 10
        attack_time_sec: 1
  - name: load
    execution_mode: parallel
    handles:
      - name: items
        users: 2
        spawn_rate: 10
        attack_time_sec: 1
      - name: other
        users: 1
        attack_time_sec: 1
`

func TestRunSuiteFromFiles(t *testing.T) {
	_, srv := newPathCounterServer(t)
	dir := t.TempDir()
	genPath := writeFile(t, dir, "generator.yaml", fmt.Sprintf("generator:\n  target: %s\nreport_dir: %s\n", srv.URL, filepath.Join(dir, "reports")))
	suitePath := writeFile(t, dir, "suite.yaml", suiteYamlTmpl)
	defer SetLogger(mustLogger("info", "console").Desugar())

	items := MustTaskSet(Task{Name: "item", Build: func(rnd Rand) Request {
		return Request{Method: "GET", Path: fmt.Sprintf("/item/%d", rnd.Intn(10)), Label: "/item/[id]"}
	}})
	factory := func(name string) Attack {
		switch name {
		case "items", "other":
			return WithMonitor(NewHTTPUser(items, NoWait))
		}
		return nil
	}
	lm, err := RunSuiteFromFiles(context.Background(), SuiteOptions{
		SuiteConfigPath:     suitePath,
		GeneratorConfigPath: genPath,
		Factory:             factory,
	})
	require.NoError(t, err)
	assert.False(t, lm.Failed)
	assert.Len(t, lm.Steps, 2)
	assert.Len(t, lm.Reports, 2)
	assert.Greater(t, lm.Reports["items"].Total.Requests, uint64(0))

	files, err := filepath.Glob(filepath.Join(dir, "reports", "items-*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
	_, err = lm.LastSuccessReportForHandle("items")
	assert.NoError(t, err)
}

func TestSuiteFromStepsUnknownHandle(t *testing.T) {
	gen := &GeneratorConfig{ReportDir: t.TempDir()}
	cfg := DefaultSuiteConfig("unknown")
	_, err := SuiteFromSteps(func(string) Attack { return nil }, nil, cfg, gen)
	assert.EqualError(t, err, "unknown attacker type: unknown")
}

func TestTestHandle(t *testing.T) {
	counter, srv := newPathCounterServer(t)
	gen := &GeneratorConfig{ReportDir: t.TempDir()}
	gen.Generator.Target = srv.URL
	gen.Generator.ResponseTimeoutSec = 5
	factory := func(string) Attack { return NewHTTPUser(itemTasks(), NoWait) }
	results, err := TestHandle(context.Background(), gen, factory, "items", 4)
	require.NoError(t, err)
	assert.Len(t, results, 4)
	assert.Equal(t, 4, counter.count("/"))
}
