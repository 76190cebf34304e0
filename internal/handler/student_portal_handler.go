package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/response"
	"github.com/stemsi/exam-engine/internal/validator"
)

// StudentExams lists and shows exams to students.
type StudentExams interface {
	ListForStudent(ctx context.Context, identifier string) ([]model.Exam, error)
	GetForStudent(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

// AttemptEngine runs a student's attempt.
type AttemptEngine interface {
	Start(ctx context.Context, examID uuid.UUID, identifier string) (*model.Attempt, error)
	SaveAnswer(ctx context.Context, attemptID uuid.UUID, callerID, questionID, answer string) (*model.AnswerReceipt, error)
	Submit(ctx context.Context, attemptID uuid.UUID, callerID string) (*model.Attempt, error)
	GetByID(ctx context.Context, attemptID uuid.UUID, callerID string) (*model.Attempt, error)
	ListForStudent(ctx context.Context, identifier string) ([]model.Attempt, error)
	GetPaper(ctx context.Context, attemptID uuid.UUID, callerID string) (*model.AttemptPaper, error)
}

// GradeBook lists a student's grade records.
type GradeBook interface {
	ListForStudent(ctx context.Context, identifier string) ([]model.Grade, error)
}

// StudentPortalHandler handles student-facing endpoints.
type StudentPortalHandler struct {
	exams    StudentExams
	attempts AttemptEngine
	grades   GradeBook
	log      zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(exams StudentExams, attempts AttemptEngine, grades GradeBook, log zerolog.Logger) *StudentPortalHandler {
	return &StudentPortalHandler{
		exams:    exams,
		attempts: attempts,
		grades:   grades,
		log:      log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// ListExams godoc
// GET /api/v1/student/exams
// Returns the exams the student is enrolled in plus every open exam.
func (h *StudentPortalHandler) ListExams(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	exams, err := h.exams.ListForStudent(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}

	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// GetExam godoc
// GET /api/v1/student/exams/:id
func (h *StudentPortalHandler) GetExam(c *gin.Context) {
	if _, ok := callerClaims(c); !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	exam, err := h.exams.GetForStudent(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// StartExam godoc
// POST /api/v1/student/exams/:id/start
// Starts an attempt, or resumes the student's ongoing one.
func (h *StudentPortalHandler) StartExam(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	attempt, err := h.attempts.Start(c.Request.Context(), id, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// ListAttempts godoc
// GET /api/v1/student/attempts
func (h *StudentPortalHandler) ListAttempts(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	attempts, err := h.attempts.ListForStudent(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// GetAttempt godoc
// GET /api/v1/student/attempts/:id
func (h *StudentPortalHandler) GetAttempt(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	attempt, err := h.attempts.GetByID(c.Request.Context(), id, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// GetPaper godoc
// GET /api/v1/student/attempts/:id/paper
// Returns the questions of an ongoing attempt, without answer keys.
func (h *StudentPortalHandler) GetPaper(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	paper, err := h.attempts.GetPaper(c.Request.Context(), id, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"paper": paper})
}

// SaveAnswer godoc
// PUT /api/v1/student/attempts/:id/answers
func (h *StudentPortalHandler) SaveAnswer(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	receipt, err := h.attempts.SaveAnswer(c.Request.Context(), id, claims.UserID, req.QuestionID, req.Answer)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"receipt": receipt})
}

// SubmitAttempt godoc
// POST /api/v1/student/attempts/:id/submit
// Grades and closes the attempt. Submitting twice returns the stored result.
func (h *StudentPortalHandler) SubmitAttempt(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	attempt, err := h.attempts.Submit(c.Request.Context(), id, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// ListGrades godoc
// GET /api/v1/student/grades
func (h *StudentPortalHandler) ListGrades(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	grades, err := h.grades.ListForStudent(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	if grades == nil {
		grades = []model.Grade{}
	}

	response.Success(c, http.StatusOK, gin.H{"grades": grades})
}
