package model

import (
	"time"

	"github.com/google/uuid"
)

type QuestionType string

const (
	QuestionTypeMCQ         QuestionType = "MCQ"
	QuestionTypeDescriptive QuestionType = "DESCRIPTIVE"
)

// Question represents a single bank question authored by a faculty member.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	FacultyID     string       `json:"faculty_id"`
	Type          QuestionType `json:"type"`
	Subject       string       `json:"subject"`
	Text          string       `json:"text"`
	Options       []string     `json:"options"`
	CorrectAnswer string       `json:"correct_answer"`
	Explanation   string       `json:"explanation"`
	Marks         int          `json:"marks"`
	Active        bool         `json:"active"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ForPaper strips the answer key.
func (q *Question) ForPaper(order int) PaperQuestion {
	opts := make([]string, len(q.Options))
	copy(opts, q.Options)
	return PaperQuestion{
		ID:       q.ID,
		Type:     q.Type,
		Text:     q.Text,
		Options:  opts,
		Marks:    q.Marks,
		OrderNum: order,
	}
}

// CreateQuestionRequest is the payload for authoring a question.
type CreateQuestionRequest struct {
	Type          QuestionType `json:"type" binding:"required,oneof=MCQ DESCRIPTIVE"`
	Subject       string       `json:"subject" binding:"required,min=1,max=100"`
	Text          string       `json:"text" binding:"required,min=1,max=4000"`
	Options       []string     `json:"options" binding:"omitempty,dive,required"`
	CorrectAnswer string       `json:"correct_answer" binding:"omitempty,max=1000"`
	Explanation   string       `json:"explanation" binding:"omitempty,max=4000"`
	Marks         int          `json:"marks" binding:"required,min=1"`
}

// UpdateQuestionRequest updates a question. Nil fields are left untouched.
type UpdateQuestionRequest struct {
	Subject       *string   `json:"subject" binding:"omitempty,min=1,max=100"`
	Text          *string   `json:"text" binding:"omitempty,min=1,max=4000"`
	Options       *[]string `json:"options" binding:"omitempty"`
	CorrectAnswer *string   `json:"correct_answer" binding:"omitempty,max=1000"`
	Explanation   *string   `json:"explanation" binding:"omitempty,max=4000"`
	Marks         *int      `json:"marks" binding:"omitempty,min=1"`
	Active        *bool     `json:"active"`
}

// GenerateQuestionsRequest asks the generator for new questions.
type GenerateQuestionsRequest struct {
	Syllabus   string       `json:"syllabus" binding:"required,min=10,max=20000"`
	Subject    string       `json:"subject" binding:"required,min=1,max=100"`
	Type       QuestionType `json:"type" binding:"required,oneof=MCQ DESCRIPTIVE"`
	Count      int          `json:"count" binding:"required,min=1,max=50"`
	Difficulty string       `json:"difficulty" binding:"omitempty,oneof=easy medium hard"`
	Marks      int          `json:"marks" binding:"required,min=1"`
	ExamID     string       `json:"exam_id" binding:"omitempty,uuid"`
}
