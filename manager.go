package sessionload

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	ReportFileTmpl = "%s-%d.json"
	ParallelMode   = "parallel"
	SequenceMode   = "sequence"
	csvLogName     = "result.csv"
)

// LoadManager manages data and finish criteria
type LoadManager struct {
	// SuiteConfig holds data common for all groups
	SuiteConfig *SuiteConfig
	// GeneratorConfig holds generator data
	GeneratorConfig *GeneratorConfig
	// Steps runner objects that fires .Do()
	Steps []RunStep
	// Reports run reports for every handle
	Reports   map[string]*RunReport
	reportsMu sync.Mutex
	// all handles csv logs
	CSVLogMu  *sync.Mutex
	CSVLog    *csv.Writer
	csvFile   *os.File
	ReportDir string
	// When degradation threshold is reached for any handle, see default Config
	Degradation bool
	// When there are Errors in any handle
	Failed bool
}

type RunStep struct {
	Name          string
	ExecutionMode string
	Runners       []*Runner
}

// NewLoadManager creates the report dir and csv log when enabled
func NewLoadManager(suiteCfg *SuiteConfig, genCfg *GeneratorConfig) (*LoadManager, error) {
	lm := &LoadManager{
		SuiteConfig:     suiteCfg,
		GeneratorConfig: genCfg,
		CSVLogMu:        &sync.Mutex{},
		Steps:           make([]RunStep, 0),
		Reports:         make(map[string]*RunReport),
	}
	reportDir := genCfg.ReportDir
	if reportDir == "" {
		reportDir = "reports"
	}
	var err error
	if lm.ReportDir, err = filepath.Abs(reportDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(lm.ReportDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	if genCfg.CSVLog {
		f, err := createFileOrAppend(filepath.Join(lm.ReportDir, csvLogName))
		if err != nil {
			return nil, err
		}
		lm.csvFile = f
		lm.CSVLog = csv.NewWriter(f)
	}
	return lm, nil
}

func (m *LoadManager) writeCSVLog(entry []string) error {
	if m.CSVLog == nil {
		return nil
	}
	m.CSVLogMu.Lock()
	defer m.CSVLogMu.Unlock()
	return m.CSVLog.Write(entry)
}

func (m *LoadManager) storeReport(name string, rep *RunReport) {
	m.reportsMu.Lock()
	defer m.reportsMu.Unlock()
	m.Reports[name] = rep
}

func (m *LoadManager) markFailed() {
	m.reportsMu.Lock()
	defer m.reportsMu.Unlock()
	m.Failed = true
}

// HandleShutdownSignal shuts runners down and cancels the suite on SIGINT/SIGTERM,
// the returned func stops listening.
func (m *LoadManager) HandleShutdownSignal(cancel context.CancelFunc) func() {
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
		case <-done:
			return
		}
		L().Info("exit signal received, exiting")
		if m.SuiteConfig != nil && m.SuiteConfig.GoroutinesDump {
			buf := make([]byte, 1<<20)
			stacklen := runtime.Stack(buf, true)
			L().Infof("=== received SIGTERM ===\n*** goroutine dump...\n%s\n*** end\n", buf[:stacklen])
		}
		m.Shutdown()
		cancel()
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// Shutdown stops every runner of the suite
func (m *LoadManager) Shutdown() {
	for _, s := range m.Steps {
		for _, r := range s.Runners {
			r.Shutdown()
		}
	}
}

// Close flushes and closes the csv log
func (m *LoadManager) Close() error {
	if m.CSVLog == nil {
		return nil
	}
	m.CSVLogMu.Lock()
	defer m.CSVLogMu.Unlock()
	m.CSVLog.Flush()
	if err := m.CSVLog.Error(); err != nil {
		return err
	}
	return m.csvFile.Close()
}

// RunSuite runs steps one after another and waits for all runners of a step to finish
func (m *LoadManager) RunSuite(ctx context.Context) error {
	start := time.Now()
	for _, step := range m.Steps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		L().Infof("running step: %s, execution mode: %s", step.Name, step.ExecutionMode)
		switch step.ExecutionMode {
		case ParallelMode:
			var wg sync.WaitGroup
			wg.Add(len(step.Runners))
			for _, r := range step.Runners {
				go r.Run(ctx, &wg)
			}
			wg.Wait()
		case SequenceMode:
			for _, r := range step.Runners {
				r.Run(ctx, nil)
			}
		default:
			return fmt.Errorf("step %s: please set execution_mode, parallel or sequence", step.Name)
		}
	}
	finish := time.Now()
	tz := m.GeneratorConfig.Timezone
	L().Infof("Test time: %s - %s", timeHumanReadable(start, tz), timeHumanReadable(finish, tz))
	if url := m.GeneratorConfig.Grafana.URL; url != "" {
		L().Infof("Grafana test data: %s/dashboard/db/observer?orgId=1&from=%d&to=%d", url, epochMillis(start), epochMillis(finish))
	}
	return nil
}

// StoreHandleReports stores report for every handle in suite, successful ones become the degradation baseline
func (m *LoadManager) StoreHandleReports() error {
	m.reportsMu.Lock()
	defer m.reportsMu.Unlock()
	ts := time.Now().Unix()
	for handleName, r := range m.Reports {
		b, err := json.MarshalIndent(r, "", "    ")
		if err != nil {
			return err
		}
		repPath := filepath.Join(m.ReportDir, fmt.Sprintf(ReportFileTmpl, handleName, ts))
		L().Infof("writing report for handle [%s] in %s", handleName, repPath)
		if err := ioutil.WriteFile(repPath, b, 0644); err != nil {
			return err
		}
		if !m.Degradation && !m.Failed && !r.Failed {
			if err := m.WriteLastSuccess(handleName, ts); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteLastSuccess writes ts of last successful run for handle
func (m *LoadManager) WriteLastSuccess(handleName string, ts int64) error {
	lastSuccessFile := filepath.Join(m.ReportDir, handleName+"_last")
	return ioutil.WriteFile(lastSuccessFile, []byte(strconv.FormatInt(ts, 10)), 0644)
}

// CheckErrors marks the suite failed when any handle has failed requests or was stopped by a check
func (m *LoadManager) CheckErrors() {
	m.reportsMu.Lock()
	defer m.reportsMu.Unlock()
	for handleName, currentReport := range m.Reports {
		if currentReport.Failed || currentReport.RunError != "" {
			L().Infof("handle %s failed", handleName)
			m.Failed = true
			continue
		}
		if currentReport.Total != nil && currentReport.Total.Failures > 0 {
			L().Infof("handle %s has %d failed requests", handleName, currentReport.Total.Failures)
			m.Failed = true
		}
	}
}

// CheckDegradation checks handle p50 degradation to last successful run stored in *handle_name*_last file
func (m *LoadManager) CheckDegradation() error {
	handleThreshold := m.GeneratorConfig.HandleThresholdPercent
	m.reportsMu.Lock()
	defer m.reportsMu.Unlock()
	for handleName, currentReport := range m.Reports {
		lastReport, err := m.LastSuccessReportForHandle(handleName)
		if os.IsNotExist(err) {
			L().Infof("nothing to compare for %s handle, no reports in %s", handleName, m.ReportDir)
			continue
		}
		if err != nil {
			return err
		}
		if lastReport.Total == nil || currentReport.Total == nil {
			continue
		}
		currentP50 := currentReport.Total.Latencies.P50
		lastP50 := lastReport.Total.Latencies.P50
		if lastP50 == 0 {
			continue
		}
		ratio := float64(currentP50) / float64(lastP50)
		L().Infof("[ %s ] current: %s, last: %s, ratio: %f", handleName, currentP50, lastP50, ratio)
		if ratio >= handleThreshold {
			L().Infof("p50 degradation of %s handle: %s > %s", handleName, currentP50, lastP50)
			m.Degradation = true
		}
	}
	return nil
}

// LastSuccessReportForHandle gets last successful report for a handle
func (m *LoadManager) LastSuccessReportForHandle(handleName string) (*RunReport, error) {
	lastTs, err := ioutil.ReadFile(filepath.Join(m.ReportDir, handleName+"_last"))
	if err != nil {
		return nil, err
	}
	ts := strings.TrimSpace(string(lastTs))
	return LoadReport(filepath.Join(m.ReportDir, fmt.Sprintf("%s-%s.json", handleName, ts)))
}

func createFileOrAppend(fname string) (*os.File, error) {
	return os.OpenFile(fname, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}
