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
	"fmt"
	"time"
)

// Pacing is the delay a simulated user waits between two tasks,
// drawn uniformly from [Min, Max].
type Pacing struct {
	Min time.Duration
	Max time.Duration
}

// Between returns a pacing rule waiting from min to max.
func Between(min, max time.Duration) Pacing {
	return Pacing{Min: min, Max: max}
}

// Constant returns a pacing rule always waiting d.
func Constant(d time.Duration) Pacing {
	return Pacing{Min: d, Max: d}
}

// NoWait issues the next task right after the previous one completes.
var NoWait = Between(0, 0)

// Validate reports a malformed rule.
func (p Pacing) Validate() error {
	if p.Min < 0 || p.Max < 0 {
		return fmt.Errorf("pacing must not be negative: [%s, %s]", p.Min, p.Max)
	}
	if p.Min > p.Max {
		return fmt.Errorf("pacing min %s is greater than max %s", p.Min, p.Max)
	}
	return nil
}

// Next draws the next delay.
func (p Pacing) Next(rnd Rand) time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + time.Duration(rnd.Int63n(int64(p.Max-p.Min)+1))
}

// wait sleeps for d, returning false if ctx or quit fired first.
func wait(ctx context.Context, quit <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-quit:
		return false
	}
}
