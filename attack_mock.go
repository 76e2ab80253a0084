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
	"sync/atomic"
	"time"
)

// attackMock sleeps and returns a fixed result, clones share the calls counter
type attackMock struct {
	WithRunner
	sleep  time.Duration
	label  string
	err    error
	status int
	pacing Pacing
	calls  *int64
}

func newAttackMock(sleep time.Duration) *attackMock {
	return &attackMock{sleep: sleep, label: "mock", calls: new(int64)}
}

func (m *attackMock) Setup(c RunnerConfig) error {
	return nil
}

func (m *attackMock) Do(ctx context.Context) DoResult {
	if m.calls != nil {
		atomic.AddInt64(m.calls, 1)
	}
	select {
	case <-time.After(m.sleep):
	case <-ctx.Done():
	}
	return DoResult{RequestLabel: m.label, Error: m.err, StatusCode: m.status}
}

func (m *attackMock) Clone(r *Runner) Attack {
	c := *m
	c.R = r
	return &c
}

func (m *attackMock) Pacing() Pacing {
	return m.pacing
}

func (m *attackMock) callsCount() int64 {
	return atomic.LoadInt64(m.calls)
}
