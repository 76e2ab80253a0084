package sessionload

import (
	"context"
	"math"
	"time"

	"go.uber.org/ratelimit"
)

const defaultRampupStrategy = "exp2"

type rampupStrategy interface {
	execute(ctx context.Context, r *Runner) bool
}

var (
	_ rampupStrategy = linearIncreasingGoroutinesAndRequestsPerSecondStrategy{}
	_ rampupStrategy = spawnAsWeNeedStrategy{}
)

type linearIncreasingGoroutinesAndRequestsPerSecondStrategy struct{}

func (s linearIncreasingGoroutinesAndRequestsPerSecondStrategy) execute(ctx context.Context, r *Runner) bool {
	r.spawnAttacker()
	for i := 1; i <= r.Config.RampUpTimeSec; i++ {
		if r.stopped() || ctx.Err() != nil {
			return false
		}
		spawnAttackersToSize(r, i*r.Config.MaxAttackers/r.Config.RampUpTimeSec)
		takeDuringOneRampupSecond(ctx, r, i)
	}
	return true
}

func spawnAttackersToSize(r *Runner, count int) {
	routines := count
	if count > r.Config.MaxAttackers {
		routines = r.Config.MaxAttackers
	}
	// spawn extra goroutines
	for s := r.attackersCount(); s < routines; s++ {
		if r.stopped() {
			return
		}
		r.spawnAttacker()
	}
}

// takeDuringOneRampupSecond puts all attackers to work during one second with a reduced RPS.
// It returns the target rps and the rate attackers actually accepted tokens at.
func takeDuringOneRampupSecond(ctx context.Context, r *Runner, second int) (int, float64) {
	// rampup can only proceed when at least one attacker is waiting for rps tokens
	if r.attackersCount() == 0 {
		r.L.Info("no attackers available to start rampup or full attack")
		return 0, 0
	}
	// for each second start a new reduced rate limiter
	rps := second * r.Config.RPS / r.Config.RampUpTimeSec
	if rps == 0 { // minimal 1
		rps = 1
	}
	limiter := ratelimit.New(rps)
	secondCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	begin := time.Now()
	sent := 0
	// put the attackers to work
	for secondCtx.Err() == nil {
		limiter.Take()
		select {
		case r.next <- true:
			sent++
		case <-secondCtx.Done():
		}
	}
	current := float64(sent) / time.Since(begin).Seconds()
	if r.Config.Verbose {
		r.L.Infof("rampup second [%d]: rate [%4f -> %v], # attackers [%d]", second, current, rps, r.attackersCount())
	}
	return rps, current
}

type spawnAsWeNeedStrategy struct{}

func (s spawnAsWeNeedStrategy) execute(ctx context.Context, r *Runner) bool {
	r.spawnAttacker() // start at least one
	for i := 1; i <= r.Config.RampUpTimeSec; i++ {
		if r.stopped() || ctx.Err() != nil {
			return false
		}
		targetRate, currentRate := takeDuringOneRampupSecond(ctx, r, i)
		if currentRate < float64(targetRate) {
			factor := 2.0
			if currentRate > 0 {
				factor = math.Min(float64(targetRate)/currentRate, 2.0)
			}
			spawnAttackersToSize(r, int(math.Ceil(float64(r.attackersCount())*factor)))
		}
	}
	return true
}
