package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSaveAnswer Action = "save_answer"
	ActionSubmit     Action = "submit"
	ActionPing       Action = "ping"
)

// Request is a client message. QuestionID and Answer are only read for save_answer.
type Request struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id,omitempty"`
	Answer     string `json:"answer"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
)

// SavedResponse acknowledges a persisted answer.
type SavedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
	UpdatedAt  string `json:"updated_at"`
}

// SubmittedResponse carries the graded outcome of the attempt.
type SubmittedResponse struct {
	Event          Event   `json:"event"`
	Status         string  `json:"status"`
	TotalScore     float64 `json:"total_score"`
	Percentage     float64 `json:"percentage"`
	Grade          string  `json:"grade"`
	FullyEvaluated bool    `json:"fully_evaluated"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
