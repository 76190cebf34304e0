package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/handler"
	"github.com/stemsi/exam-engine/internal/middleware"
	"github.com/stemsi/exam-engine/internal/response"
	"github.com/stemsi/exam-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Exam          *handler.ExamHandler
	Question      *handler.QuestionHandler
	StudentPortal *handler.StudentPortalHandler
	WS            *handler.WSHandler
	Monitor       *handler.MonitorHandler
	System        *handler.SystemHandler
}

// Deps carries the shared middleware collaborators.
type Deps struct {
	Auth        middleware.TokenValidator
	Metrics     *service.MetricsService
	RateLimiter *middleware.RateLimiter
	Log         zerolog.Logger
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(deps Deps, handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so the access log and every envelope carry it.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(deps.Log))
	router.Use(middleware.Metrics(deps.Metrics))
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", handlers.System.Metrics)

	answerLimit := func(c *gin.Context) { c.Next() }
	if deps.RateLimiter != nil {
		answerLimit = deps.RateLimiter.Middleware()
	}

	// ─── 1. Faculty Group (JWT role=faculty) ───────────────────────────
	facultyAPI := router.Group("/api/v1/faculty")
	facultyAPI.Use(middleware.RequireFacultyJWT(deps.Auth))
	{
		exams := facultyAPI.Group("/exams")
		exams.GET("", handlers.Exam.ListExams)
		exams.POST("", handlers.Exam.CreateExam)
		exams.GET("/:id", handlers.Exam.GetExam)
		exams.PUT("/:id", handlers.Exam.UpdateExam)
		exams.DELETE("/:id", handlers.Exam.DeleteExam)
		exams.POST("/:id/duplicate", handlers.Exam.DuplicateExam)
		exams.POST("/:id/questions", handlers.Exam.AddQuestions)
		exams.DELETE("/:id/questions", handlers.Exam.RemoveQuestions)
		exams.POST("/:id/schedule", handlers.Exam.ScheduleExam)
		exams.POST("/:id/schedule-all", handlers.Exam.ScheduleAll)
		exams.POST("/:id/roster", handlers.Exam.UploadRoster)
		exams.GET("/:id/attempts", handlers.Exam.ListAttempts)
		exams.POST("/:id/publish", handlers.Exam.PublishResults)
		exams.GET("/:id/monitor", handlers.Monitor.MonitorExamSSE)
		exams.GET("/:id/monitor/snapshot", handlers.Monitor.GetSnapshot)

		questions := facultyAPI.Group("/questions")
		questions.GET("", handlers.Question.ListQuestions)
		questions.POST("", handlers.Question.CreateQuestion)
		questions.POST("/generate", handlers.Question.GenerateQuestions)
		questions.GET("/:id", handlers.Question.GetQuestion)
		questions.PUT("/:id", handlers.Question.UpdateQuestion)
		questions.DELETE("/:id", handlers.Question.DeleteQuestion)

		facultyAPI.GET("/system/status", handlers.System.Status)
	}

	// ─── 2. Student Group (JWT role=student) ───────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(deps.Auth))
	{
		studentAPI.GET("/exams", handlers.StudentPortal.ListExams)
		studentAPI.GET("/exams/:id", handlers.StudentPortal.GetExam)
		studentAPI.POST("/exams/:id/start", handlers.StudentPortal.StartExam)
		studentAPI.GET("/attempts", handlers.StudentPortal.ListAttempts)
		studentAPI.GET("/attempts/:id", handlers.StudentPortal.GetAttempt)
		studentAPI.GET("/attempts/:id/paper", handlers.StudentPortal.GetPaper)
		studentAPI.PUT("/attempts/:id/answers", answerLimit, handlers.StudentPortal.SaveAnswer)
		studentAPI.POST("/attempts/:id/submit", handlers.StudentPortal.SubmitAttempt)
		studentAPI.GET("/grades", handlers.StudentPortal.ListGrades)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(deps.Auth))
	{
		ws.GET("/student/attempts/:id/stream", handlers.WS.AttemptStream)
	}

	return router
}
