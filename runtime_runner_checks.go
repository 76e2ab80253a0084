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
	"strings"
	"time"

	"github.com/prometheus/common/model"
)

const promQueryTimeout = 10 * time.Second

// PromBooleanQuery executes prometheus boolean query, true means the runner must stop.
// Query errors are logged and never stop the runner.
func PromBooleanQuery(r *Runner) bool {
	q := r.CheckData[0].Query
	r.L.Infof("executing prometheus check: query: %s", q)
	if !strings.Contains(q, "bool") {
		r.L.Infof("only bool requests are allowed with default prometheus check, skipping")
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), promQueryTimeout)
	defer cancel()
	val, warnings, err := r.PromClient.Query(ctx, q, time.Now())
	if err != nil {
		r.L.Infof("error executing prometheus query: %s, err: %s", q, err)
		return false
	}
	for _, w := range warnings {
		r.L.Infof("prometheus warning: %s", w)
	}
	return promValueIsTrue(r.L, val)
}

func promValueIsTrue(l *Logger, val model.Value) bool {
	if val == nil {
		return false
	}
	l.Infof("check result: %s, val type: %s", val, val.Type())
	switch v := val.(type) {
	case *model.Scalar:
		return v.Value == 1
	case model.Vector:
		if len(v) == 0 {
			return false
		}
		if len(v) > 1 {
			l.Infof("ambigious default check, prometheus request must be bool and return one vector or scalar")
			return false
		}
		return v[0].Value == 1
	}
	return false
}

// ErrorPercentCheck is true when failed requests ratio is above threshold,
// during rampup the last second is checked, after it the whole run.
func ErrorPercentCheck(r *Runner, threshold float64) bool {
	if r.stage() == rampUp {
		if w := r.LastWindow(); w != nil && w.RequestCount() > 0 {
			return w.FailureRatio() > threshold
		}
		return false
	}
	return r.Total.RequestCount() > 0 && r.Total.FailureRatio() > threshold
}
