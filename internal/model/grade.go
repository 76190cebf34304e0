package model

import (
	"time"

	"github.com/google/uuid"
)

// MaxGradeTotal is the sum of the four component maxima (100 each).
const MaxGradeTotal = 400.0

// Grade is the per-student, per-subject aggregate record.
type Grade struct {
	ID                 uuid.UUID  `json:"id"`
	StudentID          string     `json:"student_id"`
	StudentName        string     `json:"student_name"`
	Subject            string     `json:"subject"`
	ExamMarks          float64    `json:"exam_marks"`
	AssignmentMarks    float64    `json:"assignment_marks"`
	ProjectMarks       float64    `json:"project_marks"`
	ParticipationMarks float64    `json:"participation_marks"`
	TotalMarks         float64    `json:"total_marks"`
	CGPA               float64    `json:"cgpa"`
	Grade              string     `json:"grade"`
	// ExamSubmittedAt is when the attempt behind ExamMarks was submitted.
	ExamSubmittedAt    *time.Time `json:"exam_submitted_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
