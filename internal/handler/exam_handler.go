package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/response"
	"github.com/stemsi/exam-engine/internal/roster"
	"github.com/stemsi/exam-engine/internal/validator"
)

// maxRosterUpload bounds roster spreadsheet uploads.
const maxRosterUpload = 8 << 20

// ExamManager is the faculty-side exam lifecycle.
type ExamManager interface {
	Create(ctx context.Context, facultyID string, req model.CreateExamRequest) (*model.Exam, error)
	GetOwned(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error)
	ListByFaculty(ctx context.Context, facultyID string, page, perPage int) ([]model.Exam, *response.Pagination, error)
	Update(ctx context.Context, id uuid.UUID, facultyID string, req model.UpdateExamRequest) (*model.Exam, error)
	Delete(ctx context.Context, id uuid.UUID, facultyID string) error
	Duplicate(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error)
	AddQuestions(ctx context.Context, id uuid.UUID, facultyID string, questionIDs []uuid.UUID) (*model.Exam, error)
	RemoveQuestions(ctx context.Context, id uuid.UUID, facultyID string, questionIDs []uuid.UUID) (*model.Exam, error)
	Schedule(ctx context.Context, id uuid.UUID, facultyID string, identifiers []string, start, end *time.Time) (*model.Exam, error)
	ScheduleAll(ctx context.Context, id uuid.UUID, facultyID string, start, end *time.Time) (*model.Exam, error)
	PublishResults(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error)
}

// ExamAttempts lists the attempts of an exam for its owner.
type ExamAttempts interface {
	ListByExam(ctx context.Context, examID uuid.UUID, facultyID string) ([]model.Attempt, error)
}

// ExamHandler handles faculty exam management endpoints.
type ExamHandler struct {
	exams    ExamManager
	attempts ExamAttempts
	log      zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(exams ExamManager, attempts ExamAttempts, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		exams:    exams,
		attempts: attempts,
		log:      log.With().Str("component", "exam_handler").Logger(),
	}
}

// ListExams godoc
// GET /api/v1/faculty/exams
// Lists the caller's exams with pagination.
func (h *ExamHandler) ListExams(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	exams, pagination, err := h.exams.ListByFaculty(c.Request.Context(), claims.UserID, page, perPage)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"exams": exams}, pagination)
}

// CreateExam godoc
// POST /api/v1/faculty/exams
// Creates a new draft exam.
func (h *ExamHandler) CreateExam(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.exams.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// GetExam godoc
// GET /api/v1/faculty/exams/:id
func (h *ExamHandler) GetExam(c *gin.Context) {
	h.withExam(c, http.StatusOK, func(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error) {
		return h.exams.GetOwned(ctx, id, facultyID)
	})
}

// UpdateExam godoc
// PUT /api/v1/faculty/exams/:id
// Edits a draft exam.
func (h *ExamHandler) UpdateExam(c *gin.Context) {
	var req model.UpdateExamRequest
	h.withBoundExam(c, &req, func(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error) {
		return h.exams.Update(ctx, id, facultyID, req)
	})
}

// DeleteExam godoc
// DELETE /api/v1/faculty/exams/:id
func (h *ExamHandler) DeleteExam(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.exams.Delete(c.Request.Context(), id, claims.UserID); err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "exam deleted"})
}

// DuplicateExam godoc
// POST /api/v1/faculty/exams/:id/duplicate
func (h *ExamHandler) DuplicateExam(c *gin.Context) {
	h.withExam(c, http.StatusCreated, func(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error) {
		return h.exams.Duplicate(ctx, id, facultyID)
	})
}

// AddQuestions godoc
// POST /api/v1/faculty/exams/:id/questions
func (h *ExamHandler) AddQuestions(c *gin.Context) {
	h.changeQuestions(c, h.exams.AddQuestions)
}

// RemoveQuestions godoc
// DELETE /api/v1/faculty/exams/:id/questions
func (h *ExamHandler) RemoveQuestions(c *gin.Context) {
	h.changeQuestions(c, h.exams.RemoveQuestions)
}

func (h *ExamHandler) changeQuestions(c *gin.Context, apply func(context.Context, uuid.UUID, string, []uuid.UUID) (*model.Exam, error)) {
	var req model.ExamQuestionsRequest
	h.withBoundExam(c, &req, func(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error) {
		ids, err := uuidsOf(req.QuestionIDs)
		if err != nil {
			return nil, err
		}
		return apply(ctx, id, facultyID, ids)
	})
}

// ScheduleExam godoc
// POST /api/v1/faculty/exams/:id/schedule
// Enrolls the listed students and opens the exam window.
func (h *ExamHandler) ScheduleExam(c *gin.Context) {
	var req model.ScheduleExamRequest
	h.withBoundExam(c, &req, func(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error) {
		return h.exams.Schedule(ctx, id, facultyID, req.Students, req.StartTime, req.EndTime)
	})
}

// ScheduleAll godoc
// POST /api/v1/faculty/exams/:id/schedule-all
// Enrolls every student in the directory.
func (h *ExamHandler) ScheduleAll(c *gin.Context) {
	var req model.ScheduleAllRequest
	h.withBoundExam(c, &req, func(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error) {
		return h.exams.ScheduleAll(ctx, id, facultyID, req.StartTime, req.EndTime)
	})
}

// UploadRoster godoc
// POST /api/v1/faculty/exams/:id/roster
// Schedules the exam from an uploaded .xlsx or .csv roster (multipart field "file",
// optional RFC3339 "start_time" and "end_time").
func (h *ExamHandler) UploadRoster(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRosterUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"file": "a roster file is required"})
		return
	}
	start, end, fields := windowFromForm(c)
	if fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	f, err := fh.Open()
	if err != nil {
		fail(c, h.log, err)
		return
	}
	defer f.Close()

	table, err := roster.Read(fh.Filename, f)
	if err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"file": err.Error()})
		return
	}
	identifiers, err := table.Identifiers()
	if err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"file": err.Error()})
		return
	}

	exam, err := h.exams.Schedule(c.Request.Context(), id, claims.UserID, identifiers, start, end)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// ListAttempts godoc
// GET /api/v1/faculty/exams/:id/attempts
func (h *ExamHandler) ListAttempts(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	attempts, err := h.attempts.ListByExam(c.Request.Context(), id, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// PublishResults godoc
// POST /api/v1/faculty/exams/:id/publish
// Computes statistics, completes the exam and integrates grades.
func (h *ExamHandler) PublishResults(c *gin.Context) {
	h.withExam(c, http.StatusOK, func(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error) {
		return h.exams.PublishResults(ctx, id, facultyID)
	})
}

type examOp func(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error)

func (h *ExamHandler) withExam(c *gin.Context, status int, op examOp) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	exam, err := op(c.Request.Context(), id, claims.UserID)
	if err != nil {
		if errors.Is(err, errMalformedID) {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		fail(c, h.log, err)
		return
	}

	response.Success(c, status, gin.H{"exam": exam})
}

// withBoundExam binds the JSON body into req before running op.
func (h *ExamHandler) withBoundExam(c *gin.Context, req interface{}, op examOp) {
	if _, ok := callerClaims(c); !ok {
		return
	}
	if fields := validator.Bind(c, req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	h.withExam(c, http.StatusOK, op)
}

var errMalformedID = errors.New("malformed id")

func uuidsOf(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errMalformedID
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func windowFromForm(c *gin.Context) (*time.Time, *time.Time, map[string]string) {
	parse := func(field string) (*time.Time, bool) {
		raw := c.PostForm(field)
		if raw == "" {
			return nil, true
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, false
		}
		return &t, true
	}

	start, ok := parse("start_time")
	if !ok {
		return nil, nil, map[string]string{"start_time": "start_time must be RFC3339"}
	}
	end, ok := parse("end_time")
	if !ok {
		return nil, nil, map[string]string{"end_time": "end_time must be RFC3339"}
	}
	return start, end, nil
}
