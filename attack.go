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
	e "errors"
	"sync"
	"time"
)

// Attack must be implemented by a service client.
// One Attack clone is one simulated user.
type Attack interface {
	Runnable
	// Setup should establish the connection to the service
	// It may want to access the Config of the Runner.
	Setup(c RunnerConfig) error
	// Do performs one request and is executed in a separate goroutine.
	// The context is used to cancel the request on timeout.
	Do(ctx context.Context) DoResult
	// Teardown can be used to close the connection to the service
	Teardown() error
	// Clone should return a fresh new Attack
	// Make sure the new Attack has values for shared struct fields initialized at Setup.
	Clone(r *Runner) Attack
}

// Runnable contains default generator/suite configs and methods to access them
type Runnable interface {
	// GetManager get test manager with all required data files/readers/writers
	GetManager() *LoadManager
	// GetRunner get current runner
	GetRunner() *Runner
}

// Paced can be implemented by an Attack to control the delay
// between two Do calls of the same simulated user in users mode.
type Paced interface {
	Pacing() Pacing
}

// WithRunner embeds Runner with all configs to be accessible for attacker
type WithRunner struct {
	R *Runner
}

func (a *WithRunner) Teardown() error { return nil }

func (a *WithRunner) GetManager() *LoadManager {
	if a.R == nil {
		return nil
	}
	return a.R.Manager
}

func (a *WithRunner) GetRunner() *Runner {
	return a.R
}

var errAttackDoTimedOut = e.New("Attack Do(ctx) timedout")

// do calls attacker.Do bounded by timeout and measures it.
// A Do call abandoned on timeout is still counted by inflight until it returns.
func do(parent context.Context, attacker Attack, timeout time.Duration, inflight *sync.WaitGroup) result {
	begin := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	done := make(chan DoResult, 1)
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		done <- attacker.Do(ctx)
	}()
	var dor DoResult
	// either get the result from the attacker or from the timeout
	select {
	case <-ctx.Done():
		dor = DoResult{Error: errAttackDoTimedOut}
	case dor = <-done:
	}
	end := time.Now()
	return result{
		doResult: dor,
		begin:    begin,
		end:      end,
		elapsed:  end.Sub(begin),
	}
}

// attack calls attacker.Do upon each received next token, forever
// attack aborts the loop on a quit receive
// attack sends a result on the results channel after each call.
func attack(attacker Attack, next <-chan bool, quit <-chan struct{}, results chan<- result, timeout time.Duration, inflight *sync.WaitGroup) {
	for {
		select {
		case <-next:
			res := do(context.Background(), attacker, timeout, inflight)
			select {
			case results <- res:
			case <-quit:
				return
			}
		case <-quit:
			return
		}
	}
}

// swarm runs one simulated user: Do, report, wait for pacing, repeat
// until ctx is done or quit is closed.
func swarm(ctx context.Context, attacker Attack, pacing Pacing, rnd Rand, quit <-chan struct{}, results chan<- result, timeout time.Duration, inflight *sync.WaitGroup) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		default:
		}
		res := do(ctx, attacker, timeout, inflight)
		if ctx.Err() != nil && res.doResult.Error != nil {
			// the run ended while the request was in flight
			return
		}
		select {
		case results <- res:
		case <-quit:
			return
		}
		if !wait(ctx, quit, pacing.Next(rnd)) {
			return
		}
	}
}
