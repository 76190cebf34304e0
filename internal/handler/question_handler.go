package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/response"
	"github.com/stemsi/exam-engine/internal/validator"
)

// QuestionBank is the faculty question bank.
type QuestionBank interface {
	Create(ctx context.Context, facultyID string, req model.CreateQuestionRequest) (*model.Question, error)
	GetOwned(ctx context.Context, id uuid.UUID, facultyID string) (*model.Question, error)
	List(ctx context.Context, facultyID, subject string, page, perPage int) ([]model.Question, *response.Pagination, error)
	Update(ctx context.Context, id uuid.UUID, facultyID string, req model.UpdateQuestionRequest) (*model.Question, error)
	Delete(ctx context.Context, id uuid.UUID, facultyID string) error
	Generate(ctx context.Context, facultyID string, req model.GenerateQuestionsRequest) ([]model.Question, error)
}

// QuestionHandler handles question management endpoints.
type QuestionHandler struct {
	questions QuestionBank
	log       zerolog.Logger
}

// NewQuestionHandler creates a new QuestionHandler.
func NewQuestionHandler(questions QuestionBank, log zerolog.Logger) *QuestionHandler {
	return &QuestionHandler{
		questions: questions,
		log:       log.With().Str("component", "question_handler").Logger(),
	}
}

// ListQuestions godoc
// GET /api/v1/faculty/questions?subject=&page=&per_page=
func (h *QuestionHandler) ListQuestions(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

	questions, pagination, err := h.questions.List(c.Request.Context(), claims.UserID, c.Query("subject"), page, perPage)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"questions": questions}, pagination)
}

// CreateQuestion godoc
// POST /api/v1/faculty/questions
func (h *QuestionHandler) CreateQuestion(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	var req model.CreateQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	q, err := h.questions.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"question": q})
}

// GetQuestion godoc
// GET /api/v1/faculty/questions/:id
func (h *QuestionHandler) GetQuestion(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	q, err := h.questions.GetOwned(c.Request.Context(), id, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"question": q})
}

// UpdateQuestion godoc
// PUT /api/v1/faculty/questions/:id
// Questions used by a scheduled or completed exam are read-only.
func (h *QuestionHandler) UpdateQuestion(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.UpdateQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	q, err := h.questions.Update(c.Request.Context(), id, claims.UserID, req)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"question": q})
}

// DeleteQuestion godoc
// DELETE /api/v1/faculty/questions/:id
func (h *QuestionHandler) DeleteQuestion(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.questions.Delete(c.Request.Context(), id, claims.UserID); err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "question deleted"})
}

// GenerateQuestions godoc
// POST /api/v1/faculty/questions/generate
// Drafts questions from a syllabus and optionally attaches them to a draft exam.
func (h *QuestionHandler) GenerateQuestions(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	var req model.GenerateQuestionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	questions, err := h.questions.Generate(c.Request.Context(), claims.UserID, req)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"questions": questions, "count": len(questions)})
}
