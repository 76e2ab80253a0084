package sessionload

import (
	"context"
	"errors"
	"io"
	"io/ioutil"
	"math/rand"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// HTTPUser is a simulated user issuing weighted tasks against the generator target.
// Clone gives every user its own random source and session id.
type HTTPUser struct {
	WithRunner
	tasks  *TaskSet
	pacing Pacing

	client    *http.Client
	target    string
	rnd       Rand
	sessionID string
}

// NewHTTPUser returns a prototype user, the runner clones it for every simulated user.
func NewHTTPUser(tasks *TaskSet, pacing Pacing) *HTTPUser {
	return &HTTPUser{
		tasks:  tasks,
		pacing: pacing,
		rnd:    NewLockedRand(rand.Int63()),
	}
}

func (u *HTTPUser) Setup(c RunnerConfig) error {
	if u.R == nil {
		return errors.New("http user is not bound to a runner")
	}
	if err := u.pacing.Validate(); err != nil {
		return err
	}
	u.client = u.R.HTTPClient()
	u.target = strings.TrimRight(u.R.Target(), "/")
	return nil
}

func (u *HTTPUser) Clone(r *Runner) Attack {
	return &HTTPUser{
		WithRunner: WithRunner{R: r},
		tasks:      u.tasks,
		pacing:     u.pacing,
		rnd:        NewLockedRand(r.nextSeed()),
		sessionID:  uuid.New().String(),
	}
}

func (u *HTTPUser) Pacing() Pacing {
	return u.pacing
}

// SessionID identifies the simulated user in logs.
func (u *HTTPUser) SessionID() string {
	return u.sessionID
}

// Do picks a task by weight and executes its request.
func (u *HTTPUser) Do(ctx context.Context) DoResult {
	task := u.tasks.Pick(u.rnd)
	return u.Send(ctx, task.Build(u.rnd))
}

// Send executes req, the response body is drained so the connection is reused.
func (u *HTTPUser) Send(ctx context.Context, req Request) DoResult {
	res := DoResult{RequestLabel: req.ReportLabel()}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.target+req.Path, nil)
	if err != nil {
		res.Error = err
		return res
	}
	resp, err := u.client.Do(httpReq)
	if err != nil {
		u.R.L.FromCtx(WithSessionId(ctx, u.sessionID)).Debugf("request %s %s failed: %s", req.Method, req.Path, err)
		res.Error = err
		return res
	}
	defer resp.Body.Close()
	res.StatusCode = resp.StatusCode
	res.BytesIn, err = io.Copy(ioutil.Discard, resp.Body)
	if err != nil {
		res.Error = err
	}
	return res
}

type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewLockedRand returns a seeded Rand safe for concurrent use.
func NewLockedRand(seed int64) Rand {
	return &lockedRand{rnd: rand.New(rand.NewSource(seed))}
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}

func (r *lockedRand) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Int63n(n)
}
