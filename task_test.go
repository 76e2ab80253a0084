package sessionload

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticRequest(path string) func(Rand) Request {
	return func(Rand) Request {
		return Request{Method: "GET", Path: path}
	}
}

// seqRand returns values from a fixed sequence
type seqRand struct {
	vals []int
	i    int
}

func (r *seqRand) Intn(n int) int {
	v := r.vals[r.i%len(r.vals)]
	r.i++
	return v % n
}

func (r *seqRand) Int63n(n int64) int64 {
	return int64(r.Intn(int(n)))
}

func TestNewTaskSetValidation(t *testing.T) {
	build := staticRequest("/")
	cases := []struct {
		name  string
		tasks []Task
		err   string
	}{
		{"empty", nil, ErrNoTasks.Error()},
		{"no name", []Task{{Build: build}}, "task name must not be empty"},
		{"duplicate", []Task{{Name: "a", Build: build}, {Name: "a", Build: build}}, "duplicate task name: a"},
		{"negative", []Task{{Name: "a", Weight: -1, Build: build}}, "task a: negative weight -1"},
		{"no builder", []Task{{Name: "a"}}, "task a: no request builder"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewTaskSet(c.tasks...)
			require.EqualError(t, err, c.err)
		})
	}
}

func TestMustTaskSetPanics(t *testing.T) {
	assert.Panics(t, func() { MustTaskSet() })
}

func TestZeroWeightDefaultsToOne(t *testing.T) {
	ts := MustTaskSet(
		Task{Name: "a", Build: staticRequest("/a")},
		Task{Name: "b", Weight: 1, Build: staticRequest("/b")},
	)
	assert.InDelta(t, 0.5, ts.Share("a"), 1e-9)
	assert.InDelta(t, 0.5, ts.Share("b"), 1e-9)
	assert.Zero(t, ts.Share("unknown"))
}

func TestPickBoundaries(t *testing.T) {
	ts := MustTaskSet(
		Task{Name: "light", Weight: 1, Build: staticRequest("/light")},
		Task{Name: "heavy", Weight: 3, Build: staticRequest("/heavy")},
	)
	// cumulative weights are [1, 4]: 0 picks light, 1..3 pick heavy
	rnd := &seqRand{vals: []int{0, 1, 2, 3}}
	got := []string{ts.Pick(rnd).Name, ts.Pick(rnd).Name, ts.Pick(rnd).Name, ts.Pick(rnd).Name}
	assert.Equal(t, []string{"light", "heavy", "heavy", "heavy"}, got)
}

func TestPickDistribution(t *testing.T) {
	ts := MustTaskSet(
		Task{Name: "a", Weight: 2, Build: staticRequest("/a")},
		Task{Name: "b", Weight: 5, Build: staticRequest("/b")},
		Task{Name: "c", Weight: 3, Build: staticRequest("/c")},
	)
	rnd := rand.New(rand.NewSource(3))
	counts := map[string]int{}
	const picks = 200000
	for i := 0; i < picks; i++ {
		counts[ts.Pick(rnd).Name]++
	}
	for _, task := range ts.Tasks() {
		assert.InDelta(t, ts.Share(task.Name), float64(counts[task.Name])/picks, 0.01, task.Name)
	}
}

func TestTasksReturnsCopy(t *testing.T) {
	ts := MustTaskSet(Task{Name: "a", Build: staticRequest("/a")})
	tasks := ts.Tasks()
	tasks[0].Name = "changed"
	assert.Equal(t, "a", ts.Tasks()[0].Name)
}

func TestReportLabel(t *testing.T) {
	assert.Equal(t, "/a", Request{Path: "/a"}.ReportLabel())
	assert.Equal(t, "/a/[id]", Request{Path: "/a/1", Label: "/a/[id]"}.ReportLabel())
}
