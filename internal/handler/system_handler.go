package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-engine/internal/response"
)

const healthTimeout = 2 * time.Second

// Pinger is a dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// QueueDepth reports the grade retry backlog.
type QueueDepth interface {
	Depth(ctx context.Context) (int64, error)
}

// SystemHandler serves health, Prometheus and runtime status endpoints.
type SystemHandler struct {
	deps      map[string]Pinger
	queue     QueueDepth
	metrics   http.Handler
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. deps maps a name ("postgres",
// "redis") to its liveness check.
func NewSystemHandler(deps map[string]Pinger, queue QueueDepth, metrics http.Handler, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		deps:      deps,
		queue:     queue,
		metrics:   metrics,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
// Returns 503 when any dependency fails its ping.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.deps))
	healthy := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Health check failed")
			checks[name] = "down"
			healthy = false
			continue
		}
		checks[name] = "up"
	}

	status, state := http.StatusOK, "ok"
	if !healthy {
		status, state = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

// Metrics godoc
// GET /metrics
func (h *SystemHandler) Metrics(c *gin.Context) {
	h.metrics.ServeHTTP(c.Writer, c.Request)
}

type systemStatus struct {
	Uptime          string `json:"uptime"`
	Goroutines      int    `json:"goroutines"`
	HeapAlloc       uint64 `json:"heap_alloc"`
	NumGC           uint32 `json:"num_gc"`
	GoVersion       string `json:"go_version"`
	GradeSyncQueued int64  `json:"grade_sync_queued"`
}

// Status godoc
// GET /api/v1/faculty/system/status
// Reports runtime figures and the grade retry backlog.
func (h *SystemHandler) Status(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := systemStatus{
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		NumGC:      mem.NumGC,
		GoVersion:  runtime.Version(),
	}
	if h.queue != nil {
		depth, err := h.queue.Depth(c.Request.Context())
		if err != nil {
			fail(c, h.log, err)
			return
		}
		st.GradeSyncQueued = depth
	}

	response.Success(c, http.StatusOK, gin.H{"system": st})
}
