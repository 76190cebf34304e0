package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/app"
	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/handler"
	"github.com/stemsi/exam-engine/internal/logger"
	"github.com/stemsi/exam-engine/internal/middleware"
	"github.com/stemsi/exam-engine/internal/router"
	"github.com/stemsi/exam-engine/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting exam engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect & Build Services ──────────────────────────────────────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	// ─── Initialize Handlers ──────────────────────────────────────────
	deps := map[string]handler.Pinger{
		"postgres": handler.PingFunc(a.Pool.Ping),
		"redis":    handler.PingFunc(func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }),
	}
	handlers := &router.Handlers{
		Exam:          handler.NewExamHandler(a.Exams, a.Attempts, log),
		Question:      handler.NewQuestionHandler(a.Questions, log),
		StudentPortal: handler.NewStudentPortalHandler(a.Exams, a.Attempts, a.Grades, log),
		WS:            handler.NewWSHandler(a.Attempts, log, cfg.AllowedOrigins),
		Monitor:       handler.NewMonitorHandler(a.Monitor, log),
		System:        handler.NewSystemHandler(deps, a.GradeQueue, a.Metrics.Handler(), log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workersDone := a.StartWorkers(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(router.Deps{
		Auth:        a.Auth,
		Metrics:     a.Metrics,
		RateLimiter: middleware.NewRateLimiter(a.Redis, cfg.AnswerRateLimit, time.Minute, log),
		Log:         log,
	}, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the in-flight batch.
	workerCancel()
	select {
	case <-workersDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Workers did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
