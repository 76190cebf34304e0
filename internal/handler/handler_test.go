package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exam-engine/internal/middleware"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/response"
	"github.com/stemsi/exam-engine/internal/service"
	"github.com/stemsi/exam-engine/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

var testLog = zerolog.Nop()

type stubExams struct {
	ExamManager
	exam       *model.Exam
	err        error
	scheduled  []string
	gotFaculty string
	gotStart   *time.Time
}

func (s *stubExams) Create(_ context.Context, facultyID string, req model.CreateExamRequest) (*model.Exam, error) {
	s.gotFaculty = facultyID
	if s.err != nil {
		return nil, s.err
	}
	return &model.Exam{ID: uuid.New(), Title: req.Title, FacultyID: facultyID, Status: model.ExamStatusDraft}, nil
}

func (s *stubExams) GetOwned(_ context.Context, id uuid.UUID, facultyID string) (*model.Exam, error) {
	s.gotFaculty = facultyID
	return s.exam, s.err
}

func (s *stubExams) Schedule(_ context.Context, id uuid.UUID, facultyID string, identifiers []string, start, end *time.Time) (*model.Exam, error) {
	s.scheduled = identifiers
	s.gotStart = start
	return s.exam, s.err
}

func (s *stubExams) AddQuestions(_ context.Context, id uuid.UUID, facultyID string, ids []uuid.UUID) (*model.Exam, error) {
	return s.exam, s.err
}

type stubAttempts struct {
	AttemptEngine
	attempt  *model.Attempt
	err      error
	callerID string
	question string
	answer   string
}

func (s *stubAttempts) Start(_ context.Context, examID uuid.UUID, identifier string) (*model.Attempt, error) {
	s.callerID = identifier
	return s.attempt, s.err
}

func (s *stubAttempts) SaveAnswer(_ context.Context, attemptID uuid.UUID, callerID, questionID, answer string) (*model.AnswerReceipt, error) {
	s.callerID, s.question, s.answer = callerID, questionID, answer
	if s.err != nil {
		return nil, s.err
	}
	return &model.AnswerReceipt{AttemptID: attemptID, QuestionID: questionID, UpdatedAt: time.Now()}, nil
}

func (s *stubAttempts) Submit(_ context.Context, attemptID uuid.UUID, callerID string) (*model.Attempt, error) {
	s.callerID = callerID
	return s.attempt, s.err
}

func withClaims(role service.Role, userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{Role: role, UserID: userID})
		c.Next()
	}
}

func perform(r http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var body response.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func examRouter(exams *stubExams) *gin.Engine {
	h := NewExamHandler(exams, nil, testLog)
	r := gin.New()
	r.Use(response.RequestIDMiddleware(), withClaims(service.RoleFaculty, "fac-1"))
	r.POST("/exams", h.CreateExam)
	r.GET("/exams/:id", h.GetExam)
	r.POST("/exams/:id/questions", h.AddQuestions)
	r.POST("/exams/:id/schedule", h.ScheduleExam)
	r.POST("/exams/:id/roster", h.UploadRoster)
	return r
}

func TestCreateExam(t *testing.T) {
	exams := &stubExams{}
	r := examRouter(exams)

	rec := perform(r, http.MethodPost, "/exams", gin.H{
		"title": "Midterm", "subject": "Physics", "duration_minutes": 60, "total_marks": 50,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "fac-1", exams.gotFaculty)
	assert.Contains(t, rec.Body.String(), `"status":"DRAFT"`)
}

func TestCreateExam_ValidationFields(t *testing.T) {
	rec := perform(examRouter(&stubExams{}), http.MethodPost, "/exams", gin.H{"title": "Mi"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	require.NotNil(t, body.Error)
	assert.Equal(t, response.ErrValidation, body.Error.Code)
	assert.Contains(t, body.Error.Fields, "title")
	assert.Contains(t, body.Error.Fields, "subject")
}

func TestGetExam_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   response.ErrCode
	}{
		{"not found", service.ErrExamNotFound, http.StatusNotFound, "EXAM_NOT_FOUND"},
		{"forbidden", service.ErrNotExamOwner, http.StatusForbidden, "NOT_EXAM_OWNER"},
		{"bad request", service.ErrExamNotDraft, http.StatusBadRequest, "EXAM_NOT_DRAFT"},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := perform(examRouter(&stubExams{err: tc.err}), http.MethodGet, "/exams/"+uuid.NewString(), nil)

			assert.Equal(t, tc.status, rec.Code)
			body := decode(t, rec)
			require.NotNil(t, body.Error)
			assert.Equal(t, tc.code, body.Error.Code)
			assert.NotContains(t, body.Error.Message, "connection reset")
			assert.NotEmpty(t, body.Metadata.RequestID)
		})
	}
}

func TestGetExam_InvalidID(t *testing.T) {
	rec := perform(examRouter(&stubExams{}), http.MethodGet, "/exams/not-a-uuid", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_ID")
}

func TestAddQuestions_MalformedQuestionID(t *testing.T) {
	exam := &model.Exam{ID: uuid.New()}
	rec := perform(examRouter(&stubExams{exam: exam}), http.MethodPost, "/exams/"+exam.ID.String()+"/questions",
		gin.H{"question_ids": []string{"nope"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleExam_RejectsBlankIdentifier(t *testing.T) {
	exams := &stubExams{exam: &model.Exam{ID: uuid.New()}}
	rec := perform(examRouter(exams), http.MethodPost, "/exams/"+uuid.NewString()+"/schedule",
		gin.H{"students": []string{"stu-1", "  "}})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "must be a student id or email")
	assert.Nil(t, exams.scheduled)
}

func TestScheduleExam(t *testing.T) {
	exams := &stubExams{exam: &model.Exam{ID: uuid.New(), Status: model.ExamStatusScheduled}}
	rec := perform(examRouter(exams), http.MethodPost, "/exams/"+uuid.NewString()+"/schedule", gin.H{
		"students":   []string{"stu-1", "ada@uni.edu"},
		"start_time": "2026-03-10T09:00:00Z",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"stu-1", "ada@uni.edu"}, exams.scheduled)
	require.NotNil(t, exams.gotStart)
	assert.True(t, exams.gotStart.Equal(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)))
}

func TestUploadRoster_CSV(t *testing.T) {
	exams := &stubExams{exam: &model.Exam{ID: uuid.New()}}
	r := examRouter(exams)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "roster.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("name,email\nAda,ada@uni.edu\nAlan,alan@uni.edu\n"))
	require.NoError(t, mw.WriteField("start_time", "2026-03-10T09:00:00Z"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/exams/"+uuid.NewString()+"/roster", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"ada@uni.edu", "alan@uni.edu"}, exams.scheduled)
	require.NotNil(t, exams.gotStart)
}

func TestUploadRoster_MissingFile(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/exams/"+uuid.NewString()+"/roster", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	examRouter(&stubExams{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "a roster file is required")
}

func studentRouter(attempts *stubAttempts) *gin.Engine {
	h := NewStudentPortalHandler(nil, attempts, nil, testLog)
	r := gin.New()
	r.Use(withClaims(service.RoleStudent, "stu-1"))
	r.POST("/exams/:id/start", h.StartExam)
	r.PUT("/attempts/:id/answers", h.SaveAnswer)
	r.POST("/attempts/:id/submit", h.SubmitAttempt)
	return r
}

func TestStartExam(t *testing.T) {
	attempts := &stubAttempts{attempt: &model.Attempt{ID: uuid.New(), Status: model.AttemptStatusOngoing}}

	rec := perform(studentRouter(attempts), http.MethodPost, "/exams/"+uuid.NewString()+"/start", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stu-1", attempts.callerID)
	assert.Contains(t, rec.Body.String(), `"status":"ONGOING"`)
}

func TestStartExam_WindowClosed(t *testing.T) {
	attempts := &stubAttempts{err: service.ErrExamEnded}

	rec := perform(studentRouter(attempts), http.MethodPost, "/exams/"+uuid.NewString()+"/start", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "EXAM_ENDED")
}

func TestSaveAnswer(t *testing.T) {
	attempts := &stubAttempts{}
	qid := uuid.NewString()

	rec := perform(studentRouter(attempts), http.MethodPut, "/attempts/"+uuid.NewString()+"/answers",
		gin.H{"question_id": qid, "answer": "B"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, qid, attempts.question)
	assert.Equal(t, "B", attempts.answer)
	assert.Equal(t, "stu-1", attempts.callerID)
}

func TestSaveAnswer_Validation(t *testing.T) {
	rec := perform(studentRouter(&stubAttempts{}), http.MethodPut, "/attempts/"+uuid.NewString()+"/answers",
		gin.H{"question_id": "q1", "answer": "B"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec).Error.Fields, "question_id")
}

func TestSubmitAttempt_Forbidden(t *testing.T) {
	rec := perform(studentRouter(&stubAttempts{err: service.ErrNotAttemptOwner}), http.MethodPost,
		"/attempts/"+uuid.NewString()+"/submit", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMissingClaims(t *testing.T) {
	h := NewStudentPortalHandler(nil, &stubAttempts{}, nil, testLog)
	r := gin.New()
	r.POST("/attempts/:id/submit", h.SubmitAttempt)

	rec := perform(r, http.MethodPost, "/attempts/"+uuid.NewString()+"/submit", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type stubDepth int64

func (d stubDepth) Depth(context.Context) (int64, error) { return int64(d), nil }

func TestHealth(t *testing.T) {
	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	h := NewSystemHandler(map[string]Pinger{"postgres": up, "redis": up}, stubDepth(3), http.NotFoundHandler(), testLog)
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/status", h.Status)

	rec := perform(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"up"`)

	rec = perform(r, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"grade_sync_queued":3`)

	h = NewSystemHandler(map[string]Pinger{"postgres": up, "redis": down}, nil, http.NotFoundHandler(), testLog)
	r = gin.New()
	r.GET("/health", h.Health)
	rec = perform(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"down"`)
}
