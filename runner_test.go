package sessionload

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T, target string) *LoadManager {
	t.Helper()
	gen := &GeneratorConfig{ReportDir: t.TempDir(), HandleThresholdPercent: 1.2, Timezone: "UTC"}
	gen.Generator.Target = target
	gen.Generator.ResponseTimeoutSec = 5
	lm, err := NewLoadManager(&SuiteConfig{}, gen)
	require.NoError(t, err)
	t.Cleanup(func() { lm.Close() })
	return lm
}

type failingBeforeRun struct {
	*attackMock
}

func (f failingBeforeRun) BeforeRun(c RunnerConfig) error {
	return errors.New("no target")
}

// ctxIgnoringUser keeps working after the run has ended
type ctxIgnoringUser struct {
	WithRunner
	active         *int64
	tornDownActive *int32
}

func (u *ctxIgnoringUser) Setup(c RunnerConfig) error { return nil }

func (u *ctxIgnoringUser) Do(ctx context.Context) DoResult {
	atomic.AddInt64(u.active, 1)
	defer atomic.AddInt64(u.active, -1)
	time.Sleep(1500 * time.Millisecond)
	return DoResult{RequestLabel: "slow"}
}

func (u *ctxIgnoringUser) Teardown() error {
	if atomic.LoadInt64(u.active) != 0 {
		atomic.StoreInt32(u.tornDownActive, 1)
	}
	return nil
}

func (u *ctxIgnoringUser) Clone(r *Runner) Attack {
	c := *u
	c.R = r
	return &c
}

func TestNewRunnerValidation(t *testing.T) {
	lm := testManager(t, "http://localhost")
	_, err := NewRunner("mock", lm, nil, nil, RunnerConfig{Users: 1, AttackTimeSec: 1})
	assert.Error(t, err)
	_, err = NewRunner("mock", lm, newAttackMock(0), nil, RunnerConfig{AttackTimeSec: 1})
	assert.Error(t, err)
	_, err = NewRunner("mock", nil, newAttackMock(0), nil, RunnerConfig{Users: 1, AttackTimeSec: 1})
	assert.Error(t, err)
	r, err := NewRunner("mock", lm, newAttackMock(0), nil, RunnerConfig{Users: 1, AttackTimeSec: 1})
	require.NoError(t, err)
	assert.Equal(t, "mock", r.Config.HandleName)
	assert.Equal(t, UsersMode, r.Config.Mode)
}

func TestRunUsersMode(t *testing.T) {
	lm := testManager(t, "http://localhost")
	mock := newAttackMock(time.Millisecond)
	r, err := NewRunner("mock", lm, mock, nil, RunnerConfig{
		Users:         5,
		SpawnRate:     100,
		AttackTimeSec: 1,
		Seed:          1,
	})
	require.NoError(t, err)

	start := time.Now()
	rep := r.Run(context.Background(), nil)
	assert.Less(t, int64(time.Since(start)), int64(3*time.Second))

	require.NotNil(t, rep.Total)
	assert.False(t, rep.Failed)
	assert.Equal(t, 5, r.attackersCount())
	assert.Greater(t, rep.Total.Requests, uint64(5))
	assert.Zero(t, rep.Total.Failures)
	assert.Equal(t, rep.Total.Requests, rep.Metrics["mock"].Requests)
	assert.GreaterOrEqual(t, uint64(mock.callsCount()), rep.Total.Requests)
	assert.Same(t, rep, lm.Reports["mock"])
}

func TestRunWaitsForAbandonedCalls(t *testing.T) {
	lm := testManager(t, "http://localhost")
	u := &ctxIgnoringUser{active: new(int64), tornDownActive: new(int32)}
	r, err := NewRunner("slow", lm, u, nil, RunnerConfig{
		Users:         2,
		SpawnRate:     100,
		AttackTimeSec: 1,
	})
	require.NoError(t, err)
	r.Run(context.Background(), nil)
	assert.Zero(t, atomic.LoadInt64(u.active))
	assert.Zero(t, atomic.LoadInt32(u.tornDownActive))
}

func TestRunReportsLastPartialWindow(t *testing.T) {
	lm := testManager(t, "http://localhost")
	r, err := NewRunner("mock", lm, newAttackMock(time.Millisecond), nil, RunnerConfig{
		Users:         5,
		SpawnRate:     100,
		AttackTimeSec: 1,
	})
	require.NoError(t, err)
	rep := r.Run(context.Background(), nil)
	require.Greater(t, rep.Total.Requests, uint64(0))
	assert.NotEmpty(t, r.RateLog)
	assert.Greater(t, r.MaxRPS, 0.0)
	assert.LessOrEqual(t, r.MaxRPS, 1.1*float64(rep.Total.Requests))
}

func TestRunRPSMode(t *testing.T) {
	lm := testManager(t, "http://localhost")
	r, err := NewRunner("mock", lm, newAttackMock(time.Millisecond), nil, RunnerConfig{
		Mode:           RPSMode,
		RPS:            20,
		AttackTimeSec:  2,
		RampUpTimeSec:  1,
		MaxAttackers:   5,
		RampUpStrategy: "linear",
	})
	require.NoError(t, err)
	rep := r.Run(context.Background(), nil)
	require.NotNil(t, rep.Total)
	assert.Greater(t, rep.Total.Requests, uint64(0))
	assert.LessOrEqual(t, rep.Total.Requests, uint64(60))
	assert.LessOrEqual(t, r.attackersCount(), 5)
}

func TestRunStoppedByErrorCheck(t *testing.T) {
	lm := testManager(t, "http://localhost")
	mock := newAttackMock(time.Millisecond)
	mock.err = errors.New("boom")
	r, err := NewRunner("mock", lm, mock, nil, RunnerConfig{
		Users:         2,
		SpawnRate:     100,
		AttackTimeSec: 10,
		StopIf:        []Checks{{Type: "error", Threshold: 0.1, Interval: 1}},
	})
	require.NoError(t, err)
	start := time.Now()
	rep := r.Run(context.Background(), nil)
	assert.Less(t, int64(time.Since(start)), int64(5*time.Second))
	assert.True(t, rep.Failed)
	assert.True(t, lm.Failed)
	assert.Equal(t, rep.Total.Requests, rep.Total.Failures)
	assert.Greater(t, rep.Total.Errors["boom"], 0)
}

func TestRunStoppedByCustomCheck(t *testing.T) {
	lm := testManager(t, "http://localhost")
	stop := func(r *Runner) bool { return true }
	r, err := NewRunner("mock", lm, newAttackMock(time.Millisecond), stop, RunnerConfig{
		Users:         1,
		AttackTimeSec: 10,
	})
	require.NoError(t, err)
	start := time.Now()
	rep := r.Run(context.Background(), nil)
	assert.Less(t, int64(time.Since(start)), int64(5*time.Second))
	assert.True(t, rep.Failed)
}

func TestRunContextCancel(t *testing.T) {
	lm := testManager(t, "http://localhost")
	r, err := NewRunner("mock", lm, newAttackMock(time.Millisecond), nil, RunnerConfig{
		Users:         1,
		AttackTimeSec: 30,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	start := time.Now()
	rep := r.Run(ctx, nil)
	assert.Less(t, int64(time.Since(start)), int64(5*time.Second))
	assert.False(t, rep.Failed)
}

func TestRunBeforeRunError(t *testing.T) {
	lm := testManager(t, "http://localhost")
	r, err := NewRunner("mock", lm, failingBeforeRun{newAttackMock(0)}, nil, RunnerConfig{Users: 1, AttackTimeSec: 1})
	require.NoError(t, err)
	rep := r.Run(context.Background(), nil)
	assert.True(t, rep.Failed)
	assert.Equal(t, "no target", rep.RunError)
}

func TestRunnerTest(t *testing.T) {
	lm := testManager(t, "http://localhost")
	mock := newAttackMock(0)
	mock.status = 200
	r, err := NewRunner("mock", lm, mock, nil, RunnerConfig{Users: 1, AttackTimeSec: 1})
	require.NoError(t, err)
	results, err := r.Test(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, res := range results {
		assert.Equal(t, 200, res.StatusCode)
	}
}

func TestShutdownTwice(t *testing.T) {
	lm := testManager(t, "http://localhost")
	r, err := NewRunner("mock", lm, newAttackMock(0), nil, RunnerConfig{Users: 1, AttackTimeSec: 1})
	require.NoError(t, err)
	r.Shutdown()
	r.Shutdown()
	assert.True(t, r.stopped())
}

func TestErrorPercentCheck(t *testing.T) {
	lm := testManager(t, "http://localhost")
	r, err := NewRunner("mock", lm, newAttackMock(0), nil, RunnerConfig{Users: 1, AttackTimeSec: 1})
	require.NoError(t, err)
	r.setStage(constantLoad)
	assert.False(t, ErrorPercentCheck(r, 0.1))
	now := time.Now()
	r.addResult(newResult(now, time.Millisecond, DoResult{RequestLabel: "a", StatusCode: 200}))
	r.addResult(newResult(now, time.Millisecond, DoResult{RequestLabel: "a", StatusCode: 500}))
	assert.True(t, ErrorPercentCheck(r, 0.1))
	assert.False(t, ErrorPercentCheck(r, 0.5))

	r.setStage(rampUp)
	assert.False(t, ErrorPercentCheck(r, 0.1), "no completed window yet")
	r.rollWindow()
	assert.True(t, ErrorPercentCheck(r, 0.1))
}
