package sessionstore

import (
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// DefaultSeeded is the number of sessions a fresh store answers for
const DefaultSeeded = 10_000_000

type session struct {
	Status      string  `json:"status"`
	Role        string  `json:"role"`
	SeededAt    int64   `json:"seeded_at"`
	ValidatedAt float64 `json:"validated_at"`
}

type stats struct {
	OpsPerSec  int64  `json:"ops_per_sec"`
	MemoryUsed string `json:"memory_used"`
	TotalKeys  int64  `json:"total_keys"`
	Engine     string `json:"engine"`
	Timestamp  int64  `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// store answers like a seeded session store holding ids [0, seeded) without keeping them in memory
type store struct {
	seeded   int64
	seededAt int64
	ops      int64

	mu        sync.Mutex
	cached    stats
	lastOps   int64
	lastStats time.Time
}

func newStore(seeded int64) *store {
	return &store{seeded: seeded, seededAt: time.Now().Unix()}
}

func (s *store) countOps(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		atomic.AddInt64(&s.ops, 1)
		return next(c)
	}
}

func (s *store) getSession(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid session id"})
	}
	if id < 0 || id >= s.seeded {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "Session not found"})
	}
	return c.JSON(http.StatusOK, session{
		Status:      "active",
		Role:        "senior",
		SeededAt:    s.seededAt,
		ValidatedAt: float64(time.Now().UnixNano()) / float64(time.Second),
	})
}

// getStats is recomputed at most once a second
func (s *store) getStats(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if elapsed := now.Sub(s.lastStats); elapsed >= time.Second || s.lastStats.IsZero() {
		ops := atomic.LoadInt64(&s.ops)
		var rate int64
		if !s.lastStats.IsZero() {
			rate = int64(float64(ops-s.lastOps) / elapsed.Seconds())
		}
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		s.cached = stats{
			OpsPerSec:  rate,
			MemoryUsed: humanBytes(m.HeapAlloc),
			TotalKeys:  s.seeded,
			Engine:     "sessionload-mock",
			Timestamp:  now.Unix(),
		}
		s.lastOps = ops
		s.lastStats = now
	}
	return c.JSON(http.StatusOK, s.cached)
}

func humanBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f%c", float64(b)/float64(div), "KMGTPE"[exp])
}

// NewServer serves a session store seeded with ids [0, seeded)
func NewServer(seeded int64) *echo.Echo {
	s := newStore(seeded)
	e := echo.New()
	e.HideBanner = true
	e.Use(s.countOps)
	e.GET("/user/session/:id", s.getSession)
	e.GET("/stats", s.getStats)
	return e
}
