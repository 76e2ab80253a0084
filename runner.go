package sessionload

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/ratelimit"
)

// BeforeRunner can be implemented by an Attacker
// and its method is called before a test or Run.
type BeforeRunner interface {
	BeforeRun(c RunnerConfig) error
}

// AfterRunner can be implemented by an Attacker
// and its method is called after a test or Run.
// The report is passed to compute the Failed field and/or store values in Output.
type AfterRunner interface {
	AfterRun(r *RunReport) error
}

type RuntimeCheckFunc func(r *Runner) bool

const (
	rampUp int32 = iota
	constantLoad
)

// Default runner runtime check types
const (
	prometheusCheckType = "prometheus"
	errorRatioCheckType = "error"
)

// Runner drives one handle: it clones the prototype Attack into simulated users
// or rps attackers, collects their results and builds a RunReport.
// A Runner is meant to Run once.
type Runner struct {
	name      string
	Manager   *LoadManager
	Config    RunnerConfig
	prototype Attack

	testStage int32
	failed    int32

	attackersMu sync.Mutex
	attackers   []Attack
	attackersWg sync.WaitGroup
	inflightWg  sync.WaitGroup

	next      chan bool
	quit      chan struct{}
	stopOnce  sync.Once
	results   chan result
	collected chan struct{}

	// Checks whether to stop generator
	checkFunc RuntimeCheckFunc
	CheckData []Checks

	// Other clients for checks
	PromClient v1.API

	clientOnce sync.Once
	client     *http.Client
	seedMu     sync.Mutex
	seeds      *rand.Rand

	// Metrics
	metricsMu sync.RWMutex
	// Metrics store full attack metrics per request label
	Metrics map[string]*Metrics
	// Total aggregates all labels
	Total *Metrics
	// window collects results of the current second
	window      *Metrics
	windowStart time.Time
	lastWindow  *Metrics
	RateLog     []float64
	MaxRPS      float64
	startedAt   time.Time

	registeredMetricsLabels []string
	exportClosed            int32
	timerMu                 sync.RWMutex
	timers                  map[string]metrics.Timer
	errorsMu                sync.RWMutex
	errCounters             map[string]metrics.Counter
	usersGauge              metrics.Gauge
	usersCount              int64

	L *Logger
}

// NewRunner validates c and prepares a runner for the handle name.
func NewRunner(name string, lm *LoadManager, a Attack, ch RuntimeCheckFunc, c RunnerConfig) (*Runner, error) {
	if lm == nil || lm.GeneratorConfig == nil {
		return nil, errors.New("runner requires a load manager with generator config")
	}
	if a == nil {
		return nil, fmt.Errorf("no attacker for handle %s", name)
	}
	c = c.WithDefaults()
	if c.HandleName == "" {
		c.HandleName = name
	}
	if msg := c.Validate(); len(msg) > 0 {
		return nil, validationError("runner "+name+" config", msg)
	}
	var promClient v1.API
	if lm.GeneratorConfig.Prometheus != nil {
		promC, err := api.NewClient(api.Config{
			Address: lm.GeneratorConfig.Prometheus.URL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to setup prometheus client: %w", err)
		}
		promClient = v1.NewAPI(promC)
	}
	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r := &Runner{
		name:      name,
		Manager:   lm,
		Config:    c,
		prototype: a,

		checkFunc: ch,
		CheckData: c.StopIf,

		PromClient: promClient,
		seeds:      rand.New(rand.NewSource(seed)),

		next:      make(chan bool),
		quit:      make(chan struct{}),
		results:   make(chan result),
		collected: make(chan struct{}),
		attackers: []Attack{},

		Metrics:     make(map[string]*Metrics),
		Total:       NewMetrics(),
		window:      NewMetrics(),
		RateLog:     []float64{},
		timers:      make(map[string]metrics.Timer),
		errCounters: make(map[string]metrics.Counter),
		usersGauge:  metrics.NewGauge(),

		L: &Logger{L().With("runner", name)},
	}
	r.L.Infof("bootstraping generator")
	r.L.Infof("[%d] available logical CPUs", runtime.NumCPU())
	return r, nil
}

// Name is the handle name.
func (r *Runner) Name() string {
	return r.name
}

// HTTPClient is the connection pool shared by all attackers of the runner.
func (r *Runner) HTTPClient() *http.Client {
	r.clientOnce.Do(func() {
		gen := r.Manager.GeneratorConfig
		timeout := gen.responseTimeout()
		debug := gen.Generator.DumpTransport
		if s := r.Manager.SuiteConfig; s != nil {
			if s.HttpTimeout > 0 {
				timeout = time.Duration(s.HttpTimeout) * time.Second
			}
			debug = debug || s.DumpTransport
		}
		r.client = NewLoggingHTTPClient(debug, timeout, gen.Generator.MaxConnsPerHost)
	})
	return r.client
}

// Target is the base url of the attacked service.
func (r *Runner) Target() string {
	return r.Manager.GeneratorConfig.Generator.Target
}

func (r *Runner) nextSeed() int64 {
	r.seedMu.Lock()
	defer r.seedMu.Unlock()
	return r.seeds.Int63()
}

func (r *Runner) stage() int32 {
	return atomic.LoadInt32(&r.testStage)
}

func (r *Runner) setStage(s int32) {
	atomic.StoreInt32(&r.testStage, s)
}

// Failed reports whether a runtime check stopped the runner.
func (r *Runner) Failed() bool {
	return atomic.LoadInt32(&r.failed) == 1
}

func (r *Runner) stopped() bool {
	select {
	case <-r.quit:
		return true
	default:
		return false
	}
}

func (r *Runner) addAttacker(a Attack) int {
	r.attackersMu.Lock()
	defer r.attackersMu.Unlock()
	r.attackers = append(r.attackers, a)
	return len(r.attackers)
}

func (r *Runner) attackersCount() int {
	r.attackersMu.Lock()
	defer r.attackersMu.Unlock()
	return len(r.attackers)
}

func (r *Runner) newAttacker() (Attack, error) {
	attacker := r.prototype.Clone(r)
	if err := attacker.Setup(r.Config); err != nil {
		return nil, err
	}
	return attacker, nil
}

// spawnAttacker starts an rps mode attacker waiting for next tokens.
func (r *Runner) spawnAttacker() {
	if r.Config.Verbose {
		r.L.Infof("setup and spawn new attacker [%d]", r.attackersCount()+1)
	}
	attacker, err := r.newAttacker()
	if err != nil {
		r.L.Infof("attacker [%d] setup failed with [%v]", r.attackersCount()+1, err)
		return
	}
	r.addAttacker(attacker)
	r.attackersWg.Add(1)
	go func() {
		defer r.attackersWg.Done()
		attack(attacker, r.next, r.quit, r.results, r.Config.timeout(), &r.inflightWg)
	}()
}

// spawnUser starts a users mode simulated user running until ctx is done.
func (r *Runner) spawnUser(ctx context.Context) {
	attacker, err := r.newAttacker()
	if err != nil {
		r.L.Infof("user [%d] setup failed with [%v]", r.attackersCount()+1, err)
		return
	}
	pacing := NoWait
	if p, ok := attacker.(Paced); ok {
		pacing = p.Pacing()
	}
	n := r.addAttacker(attacker)
	if r.Config.Verbose {
		r.L.Infof("spawned user [%d] with pacing [%s, %s]", n, pacing.Min, pacing.Max)
	}
	r.usersGauge.Update(atomic.AddInt64(&r.usersCount, 1))
	rnd := NewLockedRand(r.nextSeed())
	r.attackersWg.Add(1)
	go func() {
		defer r.attackersWg.Done()
		defer r.usersGauge.Update(atomic.AddInt64(&r.usersCount, -1))
		swarm(ctx, attacker, pacing, rnd, r.quit, r.results, r.Config.timeout(), &r.inflightWg)
	}()
}

// addResult is called from the collector goroutine.
func (r *Runner) addResult(s result) {
	r.metricsMu.Lock()
	m, ok := r.Metrics[s.doResult.RequestLabel]
	if !ok {
		m = NewMetrics()
		r.Metrics[s.doResult.RequestLabel] = m
	}
	window := r.window
	r.metricsMu.Unlock()
	m.add(s)
	r.Total.add(s)
	window.add(s)
}

func (r *Runner) collectResults() {
	go func() {
		defer close(r.collected)
		for res := range r.results {
			r.addResult(res)
		}
	}()
}

// rollWindow starts a new one second window and returns the previous one with its rate.
func (r *Runner) rollWindow() (*Metrics, float64) {
	r.metricsMu.Lock()
	defer r.metricsMu.Unlock()
	prev, started := r.window, r.windowStart
	r.window = NewMetrics()
	r.windowStart = time.Now()
	var rate float64
	if elapsed := r.windowStart.Sub(started).Seconds(); elapsed > 0 {
		rate = float64(prev.RequestCount()) / elapsed
	}
	r.RateLog = append(r.RateLog, rate)
	r.lastWindow = prev
	return prev, rate
}

// flushWindow logs the rate of the last partial window.
// The rate is computed over at least one second so a short tail does not spike MaxRPS.
func (r *Runner) flushWindow() {
	r.metricsMu.Lock()
	defer r.metricsMu.Unlock()
	count := r.window.RequestCount()
	if count == 0 || r.windowStart.IsZero() {
		return
	}
	elapsed := time.Since(r.windowStart)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	r.RateLog = append(r.RateLog, float64(count)/elapsed.Seconds())
	r.lastWindow = r.window
	r.window = NewMetrics()
	r.windowStart = time.Now()
}

// LastWindow returns metrics of the last completed second, nil before the first one.
func (r *Runner) LastWindow() *Metrics {
	r.metricsMu.RLock()
	defer r.metricsMu.RUnlock()
	return r.lastWindow
}

func (r *Runner) watchWindows() {
	r.metricsMu.Lock()
	r.windowStart = time.Now()
	r.metricsMu.Unlock()
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-r.quit:
				return
			case <-ticker.C:
				w, rate := r.rollWindow()
				w.updateLatencies()
				w.updateSuccessRatio()
				if r.Config.Verbose {
					r.L.Infof("rate [%4f], mean response [%v], # requests [%d], # attackers [%d], %% success [%s]",
						rate, w.meanLogEntry(), w.RequestCount(), r.attackersCount(), w.successLogEntry())
				}
			}
		}
	}()
}

// Test uses the Attack to perform {count} calls and report its result
// it is intended for development of an Attack implementation.
func (r *Runner) Test(ctx context.Context, count int) ([]DoResult, error) {
	attacker, err := r.newAttacker()
	if err != nil {
		return nil, fmt.Errorf("test attack setup failed: %w", err)
	}
	defer attacker.Teardown()
	defer r.inflightWg.Wait()
	defer r.unregisterMetrics()
	out := make([]DoResult, 0, count)
	for s := count; s > 0; s-- {
		res := do(ctx, attacker, r.Config.timeout(), &r.inflightWg)
		r.L.Infof("test attack call [%s] took [%v] with status [%v] and error [%v]",
			res.doResult.RequestLabel, res.elapsed, res.doResult.StatusCode, res.doResult.Error)
		out = append(out, res.doResult)
	}
	return out, nil
}

// defaultCheckByData setups default prometheus or error ration check func
func (r *Runner) defaultCheckByData() {
	if r.checkFunc != nil {
		r.L.Info("custom check selected")
		return
	}
	if len(r.CheckData) == 0 {
		r.L.Info("no default check found")
		return
	}
	switch r.CheckData[0].Type {
	case prometheusCheckType:
		if r.PromClient == nil {
			r.L.Infof("prometheus check selected but prometheus is not configured, skipping runner runtime check")
			return
		}
		r.L.Infof("default prometheus check selected, query: %s", r.CheckData[0].Query)
		r.checkFunc = PromBooleanQuery
	case errorRatioCheckType:
		r.L.Infof("default error check selected, threshold: %.2f errors ratio", r.CheckData[0].Threshold)
		threshold := r.CheckData[0].Threshold
		r.checkFunc = func(r *Runner) bool {
			return ErrorPercentCheck(r, threshold)
		}
	default:
		r.L.Infof("unknown check type selected, skipping runner runtime check")
	}
}

// Run offers the complete flow of a test, the report is also stored in the manager.
func (r *Runner) Run(ctx context.Context, wg *sync.WaitGroup) *RunReport {
	if wg != nil {
		defer wg.Done()
	}
	if lifecycler, ok := r.prototype.(BeforeRunner); ok {
		if err := lifecycler.BeforeRun(r.Config); err != nil {
			r.L.Infof("BeforeRun failed: %s", err)
			rep := NewErrorReport(err, r.Config)
			r.Manager.storeReport(r.name, &rep)
			return &rep
		}
	}
	r.collectResults()
	r.initMonitoring()

	if r.Config.WaitBeforeSec != 0 {
		r.L.Infof("awaiting runner start, sleeping for %d sec", r.Config.WaitBeforeSec)
		wait(ctx, r.quit, time.Duration(r.Config.WaitBeforeSec)*time.Second)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.quit:
			cancel()
		case <-runCtx.Done():
		}
	}()
	r.defaultCheckByData()
	r.checkStopIf()
	r.startedAt = time.Now()
	r.watchWindows()

	switch r.Config.Mode {
	case RPSMode:
		if r.rampUp(runCtx) {
			r.fullAttack(runCtx)
		}
	default:
		r.swarmUsers(runCtx)
	}
	r.Shutdown()
	r.attackersWg.Wait()
	r.inflightWg.Wait()
	r.tearDownAttackers()
	close(r.results)
	<-r.collected
	r.flushWindow()
	r.unregisterMetrics()
	r.ReportMaxRPS()

	report := r.reportMetrics()
	if lifecycler, ok := r.prototype.(AfterRunner); ok {
		if err := lifecycler.AfterRun(report); err != nil {
			r.L.Infof("AfterRun failed: %s", err)
		}
	}
	r.Manager.storeReport(r.name, report)
	return report
}

// swarmUsers spawns users at the configured spawn rate and lets them work until the attack time ends.
func (r *Runner) swarmUsers(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, r.Config.attackTime())
	defer cancel()
	r.setStage(rampUp)
	r.L.Infof("spawning [%d] users at [%d] users/s for [%d] seconds", r.Config.Users, r.Config.SpawnRate, r.Config.AttackTimeSec)
	limiter := ratelimit.New(r.Config.SpawnRate)
	for i := 0; i < r.Config.Users; i++ {
		limiter.Take()
		if runCtx.Err() != nil {
			break
		}
		r.spawnUser(runCtx)
	}
	r.setStage(constantLoad)
	r.L.Infof("[%d] users spawned", r.attackersCount())
	<-runCtx.Done()
}

func (r *Runner) fullAttack(ctx context.Context) {
	r.setStage(constantLoad)
	remaining := time.Duration(r.Config.AttackTimeSec-r.Config.RampUpTimeSec) * time.Second
	if r.Config.Verbose {
		r.L.Infof("begin full attack of [%v] remaining", remaining)
	}
	runCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	limiter := ratelimit.New(r.Config.RPS) // per second
	for runCtx.Err() == nil {
		limiter.Take()
		select {
		case r.next <- true:
		case <-runCtx.Done():
		}
	}
	if r.Config.Verbose {
		r.L.Info("end full attack")
	}
}

func (r *Runner) rampUp(ctx context.Context) bool {
	r.setStage(rampUp)
	strategy := r.Config.rampupStrategy()
	if r.Config.Verbose {
		r.L.Infof("begin rampup of [%d] seconds to RPS [%d] within attack of [%d] seconds using strategy [%s]",
			r.Config.RampUpTimeSec,
			r.Config.RPS,
			r.Config.AttackTimeSec,
			strategy,
		)
	}
	var finished bool
	switch strategy {
	case "linear":
		finished = linearIncreasingGoroutinesAndRequestsPerSecondStrategy{}.execute(ctx, r)
	case "exp2":
		finished = spawnAsWeNeedStrategy{}.execute(ctx, r)
	}
	if r.Config.Verbose {
		r.L.Infof("end rampup ending up with [%d] attackers", r.attackersCount())
	}
	return finished
}

func (r *Runner) tearDownAttackers() {
	r.attackersMu.Lock()
	defer r.attackersMu.Unlock()
	if r.Config.Verbose {
		r.L.Infof("tearing down attackers [%d]", len(r.attackers))
	}
	for i, each := range r.attackers {
		if err := each.Teardown(); err != nil {
			r.L.Infof("failed to teardown attacker [%d]:%v", i, err)
		}
	}
}

func (r *Runner) reportMetrics() *RunReport {
	for _, each := range r.Metrics {
		each.updateLatencies()
		each.updateSuccessRatio()
	}
	r.Total.updateLatencies()
	r.Total.updateSuccessRatio()
	return &RunReport{
		StartedAt:     r.startedAt,
		FinishedAt:    time.Now(),
		Configuration: r.Config,
		Metrics:       r.Metrics,
		Total:         r.Total,
		Failed:        r.Failed(),
		Output:        map[string]interface{}{},
	}
}

func (r *Runner) ReportMaxRPS() {
	r.metricsMu.Lock()
	r.MaxRPS = MaxRPS(r.RateLog)
	r.metricsMu.Unlock()
	r.L.Infof("max rps: %.2f", r.MaxRPS)
}

// Shutdown stops every attacker, it is safe to call many times and from any goroutine.
func (r *Runner) Shutdown() {
	r.stopOnce.Do(func() {
		r.L.Infof("test ended, shutting down runner")
		close(r.quit)
	})
}

// checkStopIf executing check function, shutdown if it returns true
func (r *Runner) checkStopIf() {
	if r.checkFunc == nil {
		return
	}
	interval := time.Second
	if len(r.CheckData) > 0 && r.CheckData[0].Interval > 0 {
		interval = time.Duration(r.CheckData[0].Interval) * time.Second
	}
	check := r.checkFunc
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.quit:
				return
			case <-ticker.C:
				if check(r) {
					r.L.Infof("runtime check failed, exiting")
					atomic.StoreInt32(&r.failed, 1)
					r.Manager.markFailed()
					r.Shutdown()
					return
				}
			}
		}
	}()
}
