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
	"errors"
	"fmt"
	"sort"
)

// Rand is the part of *rand.Rand used by tasks and pacing rules.
// A *rand.Rand is not safe for concurrent use, every simulated user owns one.
type Rand interface {
	Intn(n int) int
	Int63n(n int64) int64
}

// Request describes one outbound HTTP call of a simulated user.
type Request struct {
	Method string
	Path   string
	// Label groups parametrically distinct paths under one reporting bucket.
	Label string
}

// ReportLabel returns the name the request is aggregated under.
func (r Request) ReportLabel() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Path
}

// Task is a named, weighted request builder.
type Task struct {
	Name string
	// Weight is the relative selection frequency, zero means 1.
	Weight int
	Build  func(rnd Rand) Request
}

func (t Task) weight() int {
	if t.Weight == 0 {
		return 1
	}
	return t.Weight
}

var ErrNoTasks = errors.New("task set must contain at least one task")

// TaskSet picks tasks at random proportionally to their weights.
// It is immutable after creation and safe for concurrent use.
type TaskSet struct {
	tasks      []Task
	cumulative []int
	total      int
}

// NewTaskSet validates tasks and builds a weighted set.
func NewTaskSet(tasks ...Task) (*TaskSet, error) {
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	s := &TaskSet{
		tasks:      make([]Task, 0, len(tasks)),
		cumulative: make([]int, 0, len(tasks)),
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if t.Name == "" {
			return nil, errors.New("task name must not be empty")
		}
		if _, ok := seen[t.Name]; ok {
			return nil, fmt.Errorf("duplicate task name: %s", t.Name)
		}
		seen[t.Name] = struct{}{}
		if t.Weight < 0 {
			return nil, fmt.Errorf("task %s: negative weight %d", t.Name, t.Weight)
		}
		if t.Build == nil {
			return nil, fmt.Errorf("task %s: no request builder", t.Name)
		}
		s.total += t.weight()
		s.tasks = append(s.tasks, t)
		s.cumulative = append(s.cumulative, s.total)
	}
	return s, nil
}

// MustTaskSet is like NewTaskSet but panics on a malformed set,
// it is meant for package level task declarations.
func MustTaskSet(tasks ...Task) *TaskSet {
	s, err := NewTaskSet(tasks...)
	if err != nil {
		panic(err)
	}
	return s
}

// Pick selects one task, each task is chosen with probability weight/total.
func (s *TaskSet) Pick(rnd Rand) Task {
	n := rnd.Intn(s.total)
	i := sort.Search(len(s.cumulative), func(i int) bool {
		return s.cumulative[i] > n
	})
	return s.tasks[i]
}

// Tasks returns a copy of the tasks in declaration order.
func (s *TaskSet) Tasks() []Task {
	out := make([]Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Share returns the expected fraction of picks for a named task, 0 if unknown.
func (s *TaskSet) Share(name string) float64 {
	for _, t := range s.tasks {
		if t.Name == name {
			return float64(t.weight()) / float64(s.total)
		}
	}
	return 0
}
