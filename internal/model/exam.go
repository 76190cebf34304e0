package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusScheduled ExamStatus = "SCHEDULED"
	ExamStatusOngoing   ExamStatus = "ONGOING"
	ExamStatusCompleted ExamStatus = "COMPLETED"
)

// Exam represents an exam definition together with its roster and published statistics.
type Exam struct {
	ID                  uuid.UUID   `json:"id"`
	Title               string      `json:"title"`
	Subject             string      `json:"subject"`
	FacultyID           string      `json:"faculty_id"`
	DurationMinutes     int         `json:"duration_minutes"`
	TotalMarks          int         `json:"total_marks"`
	Description         string      `json:"description"`
	Instructions        string      `json:"instructions"`
	StartTime           *time.Time  `json:"start_time,omitempty"`
	EndTime             *time.Time  `json:"end_time,omitempty"`
	Status              ExamStatus  `json:"status"`
	AutoSubmitOnTimeout bool        `json:"auto_submit_on_timeout"`
	NegativeMark        bool        `json:"negative_mark"`
	NegativeMarkPercent float64     `json:"negative_mark_percent"`
	ShuffleQuestions    bool        `json:"shuffle_questions"`
	ShuffleOptions      bool        `json:"shuffle_options"`
	QuestionIDs         []uuid.UUID `json:"question_ids"`
	EnrolledStudents    []string    `json:"enrolled_students"`
	ResultsPublished    bool        `json:"results_published"`
	ResultsPublishedAt  *time.Time  `json:"results_published_at,omitempty"`
	AverageScore        *float64    `json:"average_score,omitempty"`
	HighestScore        *float64    `json:"highest_score,omitempty"`
	LowestScore         *float64    `json:"lowest_score,omitempty"`
	TotalAttempts       int         `json:"total_attempts"`
	SubmittedCount      int         `json:"submitted_count"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// OwnedBy reports whether facultyID authored the exam.
func (e *Exam) OwnedBy(facultyID string) bool {
	return e != nil && e.FacultyID == facultyID
}

// IsEnrolled reports whether any of the given identifiers appears in the roster.
func (e *Exam) IsEnrolled(identifiers ...string) bool {
	for _, enrolled := range e.EnrolledStudents {
		for _, id := range identifiers {
			if id != "" && enrolled == id {
				return true
			}
		}
	}
	return false
}

// DeadlineFor returns the instant after which an attempt started at startedAt is overdue:
// the earlier of the exam end time and startedAt plus the exam duration.
func (e *Exam) DeadlineFor(startedAt time.Time) time.Time {
	deadline := startedAt.Add(time.Duration(e.DurationMinutes) * time.Minute)
	if e.EndTime != nil && e.EndTime.Before(deadline) {
		return *e.EndTime
	}
	return deadline
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title               string   `json:"title" binding:"required,min=3,max=255"`
	Subject             string   `json:"subject" binding:"required,min=1,max=100"`
	DurationMinutes     int      `json:"duration_minutes" binding:"required,min=1,max=480"`
	TotalMarks          int      `json:"total_marks" binding:"required,min=1"`
	Description         string   `json:"description" binding:"omitempty,max=2000"`
	Instructions        string   `json:"instructions" binding:"omitempty,max=4000"`
	AutoSubmitOnTimeout bool     `json:"auto_submit_on_timeout"`
	NegativeMark        bool     `json:"negative_mark"`
	NegativeMarkPercent float64  `json:"negative_mark_percent" binding:"omitempty,min=0,max=100"`
	ShuffleQuestions    bool     `json:"shuffle_questions"`
	ShuffleOptions      bool     `json:"shuffle_options"`
	QuestionIDs         []string `json:"question_ids" binding:"omitempty,dive,uuid"`
}

// UpdateExamRequest is the payload for updating a DRAFT exam. Nil fields are left untouched.
type UpdateExamRequest struct {
	Title               *string  `json:"title" binding:"omitempty,min=3,max=255"`
	Subject             *string  `json:"subject" binding:"omitempty,min=1,max=100"`
	DurationMinutes     *int     `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	TotalMarks          *int     `json:"total_marks" binding:"omitempty,min=1"`
	Description         *string  `json:"description" binding:"omitempty,max=2000"`
	Instructions        *string  `json:"instructions" binding:"omitempty,max=4000"`
	AutoSubmitOnTimeout *bool    `json:"auto_submit_on_timeout"`
	NegativeMark        *bool    `json:"negative_mark"`
	NegativeMarkPercent *float64 `json:"negative_mark_percent" binding:"omitempty,min=0,max=100"`
	ShuffleQuestions    *bool    `json:"shuffle_questions"`
	ShuffleOptions      *bool    `json:"shuffle_options"`
}

// ScheduleExamRequest enrolls students and opens the exam window.
type ScheduleExamRequest struct {
	Students  []string   `json:"students" binding:"required,min=1,dive,identifier"`
	StartTime *time.Time `json:"start_time" binding:"omitempty"`
	EndTime   *time.Time `json:"end_time" binding:"omitempty"`
}

// ScheduleAllRequest enrolls every known student.
type ScheduleAllRequest struct {
	StartTime *time.Time `json:"start_time" binding:"omitempty"`
	EndTime   *time.Time `json:"end_time" binding:"omitempty"`
}

// ExamQuestionsRequest attaches or detaches question ids.
type ExamQuestionsRequest struct {
	QuestionIDs []string `json:"question_ids" binding:"required,min=1,dive,uuid"`
}

// ExamStats is the aggregate computed at results publication.
type ExamStats struct {
	AverageScore   *float64
	HighestScore   *float64
	LowestScore    *float64
	TotalAttempts  int
	SubmittedCount int
}

// ExamPaper is the Redis-cached, student-facing paper (no correct answers).
type ExamPaper struct {
	ExamID          uuid.UUID       `json:"exam_id"`
	Title           string          `json:"title"`
	Subject         string          `json:"subject"`
	Instructions    string          `json:"instructions"`
	DurationMinutes int             `json:"duration_minutes"`
	TotalMarks      int             `json:"total_marks"`
	Questions       []PaperQuestion `json:"questions"`
}

// PaperQuestion is a question without the correct answer, sent to students.
type PaperQuestion struct {
	ID       uuid.UUID    `json:"id"`
	Type     QuestionType `json:"type"`
	Text     string       `json:"text"`
	Options  []string     `json:"options,omitempty"`
	Marks    int          `json:"marks"`
	OrderNum int          `json:"order_num"`
}

// AttemptPaper is the paper as seen by one attempt, after per-attempt shuffling.
type AttemptPaper struct {
	AttemptID uuid.UUID  `json:"attempt_id"`
	Deadline  time.Time  `json:"deadline"`
	Answers   Answers    `json:"answers"`
	Paper     *ExamPaper `json:"paper"`
}
