package model

import (
	"time"

	"github.com/google/uuid"
)

// MonitorEventType enumerates live-monitor event kinds.
type MonitorEventType string

const (
	MonitorAttemptStarted   MonitorEventType = "attempt_started"
	MonitorAnswerSaved      MonitorEventType = "answer_saved"
	MonitorAttemptSubmitted MonitorEventType = "attempt_submitted"
	MonitorAttemptTimedOut  MonitorEventType = "attempt_timed_out"
	MonitorResultsPublished MonitorEventType = "results_published"
)

// MonitorEvent is published on the exam's monitor channel.
type MonitorEvent struct {
	Type       MonitorEventType `json:"type"`
	ExamID     uuid.UUID        `json:"exam_id"`
	AttemptID  uuid.UUID        `json:"attempt_id,omitempty"`
	StudentID  string           `json:"student_id,omitempty"`
	QuestionID string           `json:"question_id,omitempty"`
	Score      *float64         `json:"score,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}
