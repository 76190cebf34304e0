package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exam-engine/internal/model"
)

const attemptColumns = `id, exam_id, exam_title, student_id, student_name, subject,
	started_at, submitted_at, updated_at, status, answers, question_marks,
	descriptive_answers, total_score, total_marks, percentage, grade,
	time_spent_seconds, fully_evaluated, grade_integrated`

func scanAttempt(row rowScanner) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(&a.ID, &a.ExamID, &a.ExamTitle, &a.StudentID, &a.StudentName, &a.Subject,
		&a.StartedAt, &a.SubmittedAt, &a.UpdatedAt, &a.Status, &a.Answers, &a.QuestionMarks,
		&a.DescriptiveAnswers, &a.TotalScore, &a.TotalMarks, &a.Percentage, &a.Grade,
		&a.TimeSpentSeconds, &a.FullyEvaluated, &a.GradeIntegrated)
	if err != nil {
		return nil, err
	}
	if a.Answers == nil {
		a.Answers = model.Answers{}
	}
	if a.QuestionMarks == nil {
		a.QuestionMarks = map[string]float64{}
	}
	if a.DescriptiveAnswers == nil {
		a.DescriptiveAnswers = map[string]string{}
	}
	return a, nil
}

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// GetByID retrieves an attempt by id.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return a, nil
}

// FindOngoing returns the ONGOING attempt of studentID for examID.
func (r *AttemptRepository) FindOngoing(ctx context.Context, examID uuid.UUID, studentID string) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts
		 WHERE exam_id = $1 AND student_id = $2 AND status = 'ONGOING'`, examID, studentID))
	if err != nil {
		return nil, translate(err)
	}
	return a, nil
}

// CreateOngoing inserts a new ONGOING attempt unless one already exists for the
// same exam and student, in which case ErrConflict is returned. The partial unique
// index on (exam_id, student_id) WHERE status = 'ONGOING' arbitrates concurrent starts.
func (r *AttemptRepository) CreateOngoing(ctx context.Context, a *model.Attempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO attempts (exam_id, exam_title, student_id, student_name, subject,
		                       started_at, status, answers, question_marks, descriptive_answers, total_marks)
		 VALUES ($1, $2, $3, $4, $5, $6, 'ONGOING', '{}'::jsonb, '{}'::jsonb, '{}'::jsonb, $7)
		 ON CONFLICT (exam_id, student_id) WHERE status = 'ONGOING' DO NOTHING
		 RETURNING id, updated_at`,
		a.ExamID, a.ExamTitle, a.StudentID, a.StudentName, a.Subject, a.StartedAt, a.TotalMarks,
	).Scan(&a.ID, &a.UpdatedAt)
	if err != nil {
		err = translate(err)
		if errors.Is(err, ErrNotFound) {
			return ErrConflict
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	a.Status = model.AttemptStatusOngoing
	return nil
}

// SaveAnswer writes one answer key of an ONGOING attempt. Other keys are untouched.
// Returns ErrStale if the attempt is no longer ONGOING.
func (r *AttemptRepository) SaveAnswer(ctx context.Context, id uuid.UUID, questionID, answer string) (time.Time, error) {
	var updatedAt time.Time
	err := r.pool.QueryRow(ctx,
		`UPDATE attempts
		 SET answers = answers || jsonb_build_object($2::text, $3::text), updated_at = NOW()
		 WHERE id = $1 AND status = 'ONGOING'
		 RETURNING updated_at`, id, questionID, answer,
	).Scan(&updatedAt)
	if err != nil {
		return time.Time{}, staleOnNoRows(err)
	}
	return updatedAt, nil
}

// CompleteSubmission commits a graded submission if the attempt is still ONGOING and
// has not been modified since prevUpdatedAt. Returns ErrStale otherwise.
func (r *AttemptRepository) CompleteSubmission(ctx context.Context, id uuid.UUID, prevUpdatedAt time.Time, sub model.Submission) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`UPDATE attempts
		 SET status = 'SUBMITTED', submitted_at = $3, question_marks = $4,
		     descriptive_answers = $5, total_score = $6, percentage = $7, grade = $8,
		     time_spent_seconds = $9, fully_evaluated = $10, updated_at = NOW()
		 WHERE id = $1 AND status = 'ONGOING' AND updated_at = $2
		 RETURNING `+attemptColumns,
		id, prevUpdatedAt, sub.SubmittedAt, sub.QuestionMarks,
		sub.DescriptiveAnswers, sub.TotalScore, sub.Percentage, sub.Grade,
		sub.TimeSpentSeconds, sub.FullyEvaluated))
	if err != nil {
		return nil, staleOnNoRows(err)
	}
	return a, nil
}

// MarkGradeIntegrated records that the attempt has been folded into its grade record.
func (r *AttemptRepository) MarkGradeIntegrated(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE attempts SET grade_integrated = TRUE WHERE id = $1`, id)
	return err
}

// ListByStudent returns every attempt of a student, newest first.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID string) ([]model.Attempt, error) {
	return r.list(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE student_id = $1 ORDER BY started_at DESC`, studentID)
}

// ListByExam returns every attempt of an exam, oldest first.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error) {
	return r.list(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = $1 ORDER BY started_at`, examID)
}

// ListDueForAutoSubmit returns ONGOING attempts of auto-submitting exams whose
// deadline, the earlier of the exam end and start plus duration, passed before now.
func (r *AttemptRepository) ListDueForAutoSubmit(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id
		 FROM attempts a
		 JOIN exams e ON e.id = a.exam_id
		 WHERE a.status = 'ONGOING'
		   AND e.auto_submit_on_timeout
		   AND $1 > LEAST(COALESCE(e.end_time, 'infinity'::timestamptz),
		                  a.started_at + make_interval(mins => e.duration_minutes))
		 ORDER BY a.started_at
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *AttemptRepository) list(ctx context.Context, query string, args ...any) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []model.Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}
