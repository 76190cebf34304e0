package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/response"
	"github.com/stemsi/exam-engine/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// ExamMonitor exposes live exam progress.
type ExamMonitor interface {
	Snapshot(ctx context.Context, examID uuid.UUID, facultyID string) (*service.MonitorSnapshot, error)
	Subscribe(ctx context.Context, examID uuid.UUID, facultyID string) (<-chan model.MonitorEvent, func() error, error)
}

// MonitorHandler serves the faculty live monitor.
type MonitorHandler struct {
	monitor ExamMonitor
	log     zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(monitor ExamMonitor, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitor: monitor,
		log:     log.With().Str("component", "monitor_handler").Logger(),
	}
}

// GetSnapshot godoc
// GET /api/v1/faculty/exams/:id/monitor/snapshot
func (h *MonitorHandler) GetSnapshot(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	examID, ok := paramID(c, "id")
	if !ok {
		return
	}

	snap, err := h.monitor.Snapshot(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"snapshot": snap})
}

// MonitorExamSSE godoc
// GET /api/v1/faculty/exams/:id/monitor
// Streams a snapshot, then every attempt event, periodic refreshes and pings.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	examID, ok := paramID(c, "id")
	if !ok {
		return
	}

	reqCtx := c.Request.Context()
	snap, err := h.monitor.Snapshot(reqCtx, examID, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	events, closeFeed, err := h.monitor.Subscribe(reqCtx, examID, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	defer closeFeed()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.SSEvent("snapshot", snap)
	c.Writer.Flush()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()
	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Refreshes are skipped until something happens on the exam.
	active := snap.Ongoing > 0

	log := h.log.With().Str("exam_id", examID.String()).Str("faculty_id", claims.UserID).Logger()
	log.Info().Msg("Faculty attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Faculty disconnected from live monitor SSE")
			return

		case ev, open := <-events:
			if !open {
				log.Warn().Msg("Monitor feed closed")
				return
			}
			c.SSEvent(string(ev.Type), ev)
			c.Writer.Flush()
			active = true

		case <-refreshTicker.C:
			if !active {
				continue
			}
			h.sendRefresh(c, reqCtx, examID, claims.UserID)

		case <-keepAliveTicker.C:
			c.SSEvent("ping", gin.H{"type": "ping"})
			c.Writer.Flush()
		}
	}
}

// sendRefresh pushes a fresh snapshot, bounded by refreshTimeout.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, examID uuid.UUID, facultyID string) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	snap, err := h.monitor.Snapshot(ctx, examID, facultyID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to refresh monitor snapshot")
		return
	}
	c.SSEvent("refresh", snap)
	c.Writer.Flush()
}
