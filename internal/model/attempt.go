package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states.
type AttemptStatus string

const (
	AttemptStatusOngoing   AttemptStatus = "ONGOING"
	AttemptStatusSubmitted AttemptStatus = "SUBMITTED"
)

// Answers maps question id (string form) to the student's raw answer text.
type Answers map[string]string

// Attempt represents one student's sitting of one exam.
type Attempt struct {
	ID                 uuid.UUID          `json:"id"`
	ExamID             uuid.UUID          `json:"exam_id"`
	ExamTitle          string             `json:"exam_title"`
	StudentID          string             `json:"student_id"`
	StudentName        string             `json:"student_name"`
	Subject            string             `json:"subject"`
	StartedAt          time.Time          `json:"started_at"`
	SubmittedAt        *time.Time         `json:"submitted_at,omitempty"`
	UpdatedAt          time.Time          `json:"updated_at"`
	Status             AttemptStatus      `json:"status"`
	Answers            Answers            `json:"answers"`
	QuestionMarks      map[string]float64 `json:"question_marks"`
	DescriptiveAnswers map[string]string  `json:"descriptive_answers"`
	TotalScore         float64            `json:"total_score"`
	TotalMarks         int                `json:"total_marks"`
	Percentage         float64            `json:"percentage"`
	Grade              string             `json:"grade"`
	TimeSpentSeconds   int64              `json:"time_spent_seconds"`
	FullyEvaluated     bool               `json:"fully_evaluated"`
	GradeIntegrated    bool               `json:"grade_integrated"`
}

// IsOwnedBy reports whether callerID may act on the attempt. An empty caller is trusted.
func (a *Attempt) IsOwnedBy(callerID string) bool {
	return callerID == "" || a.StudentID == callerID
}

// Submission is the graded outcome written atomically on submit.
type Submission struct {
	SubmittedAt        time.Time
	QuestionMarks      map[string]float64
	DescriptiveAnswers map[string]string
	TotalScore         float64
	Percentage         float64
	Grade              string
	TimeSpentSeconds   int64
	FullyEvaluated     bool
}

// SaveAnswerRequest is the payload for persisting one answer.
type SaveAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Answer     string `json:"answer" binding:"max=20000"`
}

// AnswerReceipt acknowledges a persisted answer.
type AnswerReceipt struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	QuestionID string    `json:"question_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}
