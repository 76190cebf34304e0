// Package app wires repositories, services and workers from configuration.
// The server and the examctl CLI share it.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/database"
	"github.com/stemsi/exam-engine/internal/generator"
	"github.com/stemsi/exam-engine/internal/repository"
	"github.com/stemsi/exam-engine/internal/service"
	"github.com/stemsi/exam-engine/internal/worker"
)

// App holds the connected infrastructure and the domain services.
type App struct {
	Config *config.Config
	Log    zerolog.Logger
	Pool   *pgxpool.Pool
	Redis  *redis.Client

	Students   *repository.StudentRepository
	GradeQueue *repository.GradeQueueRepository

	Metrics   *service.MetricsService
	Auth      *service.AuthService
	Grades    *service.GradeService
	Exams     *service.ExamService
	Attempts  *service.AttemptService
	Questions *service.QuestionService
	Monitor   *service.MonitorService
}

// New connects to PostgreSQL and Redis and builds every service.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	a := &App{
		Config:     cfg,
		Log:        log,
		Pool:       pool,
		Redis:      rdb,
		Students:   repository.NewStudentRepository(pool),
		GradeQueue: repository.NewGradeQueueRepository(rdb),
		Metrics:    service.NewMetricsService(),
		Auth:       service.NewAuthService(cfg),
	}

	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	gradeRepo := repository.NewGradeRepository(pool)
	paperCache := repository.NewPaperCacheRepository(rdb)
	monitorRepo := repository.NewMonitorRepository(pool, rdb)

	a.Grades = service.NewGradeService(gradeRepo, attemptRepo, a.Students, a.GradeQueue, a.Metrics, log)
	a.Exams = service.NewExamService(examRepo, questionRepo, attemptRepo, a.Students, paperCache, a.Grades, monitorRepo, a.Metrics, log)
	a.Attempts = service.NewAttemptService(examRepo, questionRepo, attemptRepo, a.Students, paperCache, a.Grades, monitorRepo, a.Metrics, cfg.PaperCacheTTL, log)
	a.Questions = service.NewQuestionService(questionRepo, a.Exams, newGenerator(cfg, log), log)
	a.Monitor = service.NewMonitorService(examRepo, attemptRepo, monitorRepo, log)

	return a, nil
}

// StartWorkers launches the background workers; they stop when ctx is cancelled.
// The returned channel is closed once every worker has returned.
func (a *App) StartWorkers(ctx context.Context) <-chan struct{} {
	gradeSync := worker.NewGradeSyncWorker(a.GradeQueue, a.Grades, a.Config.GradeSyncBatchSize, a.Log)
	autoSubmit := worker.NewAutoSubmitWorker(a.Attempts, a.Config.AutoSubmitInterval, a.Log)

	done := make(chan struct{})
	stopped := make(chan struct{}, 2)
	go func() { gradeSync.Start(ctx); stopped <- struct{}{} }()
	go func() { autoSubmit.Start(ctx); stopped <- struct{}{} }()
	go func() {
		<-stopped
		<-stopped
		close(done)
	}()
	return done
}

// Close releases the connections.
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.Log.Warn().Err(err).Msg("Redis close failed")
	}
	a.Pool.Close()
}

// newGenerator returns nil when no API key is configured, which disables generation.
func newGenerator(cfg *config.Config, log zerolog.Logger) generator.Generator {
	if cfg.OpenAIAPIKey == "" {
		log.Info().Msg("Question generator disabled: OPENAI_API_KEY not set")
		return nil
	}
	return generator.NewOpenAI(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
}
