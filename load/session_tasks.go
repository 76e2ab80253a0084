package load

import (
	"net/http"
	"strconv"

	sessionload "github.com/skudasov/sessionload"
)

const (
	// MaxSessionID is the highest seeded session id, ids are drawn from [0, MaxSessionID].
	MaxSessionID = 9_999_999

	GetSessionTask = "get_session"
	CheckStatsTask = "check_stats"

	SessionPath        = "/user/session/"
	SessionRequestName = "/user/session/[id]"
	StatsPath          = "/stats"
)

// SessionPacing of a simulated session client, tasks are issued back to back.
var SessionPacing = sessionload.NoWait

// GetSession reads a random seeded session, every id is reported under one label.
func GetSession(rnd sessionload.Rand) sessionload.Request {
	id := rnd.Intn(MaxSessionID + 1)
	return sessionload.Request{
		Method: http.MethodGet,
		Path:   SessionPath + strconv.Itoa(id),
		Label:  SessionRequestName,
	}
}

// CheckStats polls service stats.
func CheckStats(_ sessionload.Rand) sessionload.Request {
	return sessionload.Request{
		Method: http.MethodGet,
		Path:   StatsPath,
		Label:  StatsPath,
	}
}

// SessionTasks is the session workload: one session read per three stats checks.
func SessionTasks() []sessionload.Task {
	return []sessionload.Task{
		{Name: GetSessionTask, Weight: 1, Build: GetSession},
		{Name: CheckStatsTask, Weight: 3, Build: CheckStats},
	}
}
