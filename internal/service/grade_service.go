package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/grading"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/repository"
)

// GradeService folds submitted attempts into the per-subject grade record.
type GradeService struct {
	grades   GradeStore
	attempts AttemptStore
	resolver *StudentResolver
	retry    GradeRetryQueue
	metrics  *MetricsService
	log      zerolog.Logger
}

// NewGradeService creates a new GradeService.
func NewGradeService(
	grades GradeStore,
	attempts AttemptStore,
	students StudentDirectory,
	retry GradeRetryQueue,
	metrics *MetricsService,
	log zerolog.Logger,
) *GradeService {
	return &GradeService{
		grades:   grades,
		attempts: attempts,
		resolver: NewStudentResolver(students),
		retry:    retry,
		metrics:  metrics,
		log:      log.With().Str("component", "grade_service").Logger(),
	}
}

// Integrate overwrites the exam component of the attempt's grade record unless a
// more recently submitted attempt already fed it. It never fails the caller:
// errors are logged and the attempt is queued for retry.
// It reports whether the grade record was written.
func (s *GradeService) Integrate(ctx context.Context, a *model.Attempt) bool {
	err := s.apply(ctx, a)
	if errors.Is(err, repository.ErrStale) {
		s.metrics.GradeIntegration("superseded")
		return false
	}
	if err != nil {
		s.metrics.GradeIntegration("failure")
		s.log.Error().Err(err).
			Str("attempt_id", a.ID.String()).
			Str("student_id", a.StudentID).
			Str("subject", a.Subject).
			Msg("Grade integration failed, queueing retry")

		if s.retry != nil {
			if qErr := s.retry.EnqueueGradeSync(ctx, a.ID); qErr != nil {
				s.log.Error().Err(qErr).Str("attempt_id", a.ID.String()).Msg("Failed to queue grade retry")
			}
		}
		return false
	}
	s.metrics.GradeIntegration("success")
	return true
}

// IntegrateByID reloads an attempt and integrates it, returning any error so the
// retry worker can requeue. Attempts that are not SUBMITTED are skipped.
func (s *GradeService) IntegrateByID(ctx context.Context, attemptID uuid.UUID) error {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn().Str("attempt_id", attemptID.String()).Msg("Dropping grade retry for missing attempt")
			return nil
		}
		return fmt.Errorf("get attempt: %w", err)
	}
	if a.Status != model.AttemptStatusSubmitted {
		return nil
	}
	if err := s.apply(ctx, a); err != nil {
		if errors.Is(err, repository.ErrStale) {
			s.metrics.GradeIntegration("superseded")
			return nil
		}
		return err
	}
	s.metrics.GradeIntegration("retried")
	return nil
}

// apply returns an error wrapping repository.ErrStale when the grade record
// already reflects a later submission.
func (s *GradeService) apply(ctx context.Context, a *model.Attempt) error {
	g, err := s.grades.ApplyExamMarks(ctx, a.StudentID, a.StudentName, a.Subject, a.TotalScore, submittedAt(a), grading.RecomputeGrade)
	if errors.Is(err, repository.ErrStale) {
		s.log.Info().
			Str("attempt_id", a.ID.String()).
			Str("student_id", a.StudentID).
			Str("subject", a.Subject).
			Msg("Grade already reflects a later attempt, skipping")
		return err
	}
	if err != nil {
		return fmt.Errorf("apply exam marks: %w", err)
	}

	if err := s.attempts.MarkGradeIntegrated(ctx, a.ID); err != nil {
		// The grade itself is written; only the bookkeeping flag is stale.
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to flag attempt as integrated")
	} else {
		a.GradeIntegrated = true
	}

	s.log.Debug().
		Str("student_id", g.StudentID).
		Str("subject", g.Subject).
		Float64("exam_marks", g.ExamMarks).
		Float64("cgpa", g.CGPA).
		Str("grade", g.Grade).
		Msg("Grade integrated")
	return nil
}

// ListForStudent returns the grade records of the student behind identifier.
func (s *GradeService) ListForStudent(ctx context.Context, identifier string) ([]model.Grade, error) {
	studentID, err := s.resolver.CanonicalID(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return s.grades.ListByStudent(ctx, studentID)
}

func submittedAt(a *model.Attempt) time.Time {
	if a.SubmittedAt != nil {
		return *a.SubmittedAt
	}
	return a.UpdatedAt
}
