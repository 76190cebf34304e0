package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-engine/internal/apperr"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/service"
	ws "github.com/stemsi/exam-engine/internal/websocket"
)

// wsOpTimeout bounds each save or submit issued over the socket.
const wsOpTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams answer saves and the final submit of one attempt.
type WSHandler struct {
	attempts AttemptEngine
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts AttemptEngine, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:id/stream
// Upgrades to WebSocket for answer saves and submission of an ongoing attempt.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	attemptID, ok := paramID(c, "id")
	if !ok {
		return
	}

	// Refuse before upgrading so the client gets a normal HTTP error.
	attempt, err := h.attempts.GetByID(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	if attempt.Status != model.AttemptStatusOngoing {
		fail(c, h.log, service.ErrAttemptNotOngoing)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("student_id", claims.UserID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.Request
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var done bool
		switch msg.Action {
		case ws.ActionSaveAnswer:
			h.handleSave(conn, wsLog, attemptID, claims.UserID, msg)
		case ws.ActionSubmit:
			done = h.handleSubmit(conn, wsLog, attemptID, claims.UserID)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "UNKNOWN_ACTION", "unknown action: "+string(msg.Action))
		}
		if done {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "submitted"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (h *WSHandler) handleSave(conn *websocket.Conn, log zerolog.Logger, attemptID uuid.UUID, studentID string, msg ws.Request) {
	if _, err := uuid.Parse(msg.QuestionID); err != nil {
		ws.WriteError(conn, "INVALID_ID", "question_id must be a uuid")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsOpTimeout)
	defer cancel()

	receipt, err := h.attempts.SaveAnswer(ctx, attemptID, studentID, msg.QuestionID, msg.Answer)
	if err != nil {
		h.writeFailure(conn, log, err)
		return
	}

	ws.WriteTyped(conn, ws.SavedResponse{
		Event:      ws.EventSaved,
		QuestionID: receipt.QuestionID,
		UpdatedAt:  receipt.UpdatedAt.Format(time.RFC3339Nano),
	})
}

// handleSubmit reports whether the attempt is now closed.
func (h *WSHandler) handleSubmit(conn *websocket.Conn, log zerolog.Logger, attemptID uuid.UUID, studentID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), wsOpTimeout)
	defer cancel()

	attempt, err := h.attempts.Submit(ctx, attemptID, studentID)
	if err != nil {
		h.writeFailure(conn, log, err)
		return false
	}

	log.Info().Float64("total_score", attempt.TotalScore).Msg("Attempt submitted over WebSocket")
	ws.WriteTyped(conn, ws.SubmittedResponse{
		Event:          ws.EventSubmitted,
		Status:         string(attempt.Status),
		TotalScore:     attempt.TotalScore,
		Percentage:     attempt.Percentage,
		Grade:          attempt.Grade,
		FullyEvaluated: attempt.FullyEvaluated,
	})
	return true
}

func (h *WSHandler) writeFailure(conn *websocket.Conn, log zerolog.Logger, err error) {
	e := apperr.From(err)
	if e.Kind == apperr.KindInternal {
		log.Error().Err(err).Msg("WebSocket operation failed")
		ws.WriteError(conn, "INTERNAL_ERROR", "internal server error")
		return
	}
	ws.WriteError(conn, e.Code, e.Message)
}
