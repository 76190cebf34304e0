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

const examColumns = `id, title, subject, faculty_id, duration_minutes, total_marks,
	description, instructions, start_time, end_time, status,
	auto_submit_on_timeout, negative_mark, negative_mark_percent,
	shuffle_questions, shuffle_options, question_ids, enrolled_students,
	results_published, results_published_at, average_score, highest_score, lowest_score,
	total_attempts, submitted_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExam(row rowScanner) (*model.Exam, error) {
	e := &model.Exam{}
	err := row.Scan(&e.ID, &e.Title, &e.Subject, &e.FacultyID, &e.DurationMinutes, &e.TotalMarks,
		&e.Description, &e.Instructions, &e.StartTime, &e.EndTime, &e.Status,
		&e.AutoSubmitOnTimeout, &e.NegativeMark, &e.NegativeMarkPercent,
		&e.ShuffleQuestions, &e.ShuffleOptions, &e.QuestionIDs, &e.EnrolledStudents,
		&e.ResultsPublished, &e.ResultsPublishedAt, &e.AverageScore, &e.HighestScore, &e.LowestScore,
		&e.TotalAttempts, &e.SubmittedCount, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if e.QuestionIDs == nil {
		e.QuestionIDs = []uuid.UUID{}
	}
	if e.EnrolledStudents == nil {
		e.EnrolledStudents = []string{}
	}
	return e, nil
}

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, subject, faculty_id, duration_minutes, total_marks,
		                    description, instructions, start_time, end_time, status,
		                    auto_submit_on_timeout, negative_mark, negative_mark_percent,
		                    shuffle_questions, shuffle_options, question_ids, enrolled_students)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Subject, e.FacultyID, e.DurationMinutes, e.TotalMarks,
		e.Description, e.Instructions, e.StartTime, e.EndTime, e.Status,
		e.AutoSubmitOnTimeout, e.NegativeMark, e.NegativeMarkPercent,
		e.ShuffleQuestions, e.ShuffleOptions, nonNilUUIDs(e.QuestionIDs), nonNilStrings(e.EnrolledStudents),
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert exam: %w", err)
	}
	return nil
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e, err := scanExam(r.pool.QueryRow(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return e, nil
}

// ListByFaculty retrieves a faculty member's exams, newest first.
func (r *ExamRepository) ListByFaculty(ctx context.Context, facultyID string, limit, offset int) ([]model.Exam, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exams WHERE faculty_id = $1`, facultyID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams
		 WHERE faculty_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, facultyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	exams := []model.Exam{}
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, 0, err
		}
		exams = append(exams, *e)
	}
	return exams, total, rows.Err()
}

// ListVisible returns exams whose roster contains any of identifiers, plus every
// exam currently SCHEDULED or ONGOING.
func (r *ExamRepository) ListVisible(ctx context.Context, identifiers []string) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams
		 WHERE enrolled_students && $1::text[]
		    OR status IN ('SCHEDULED', 'ONGOING')
		 ORDER BY start_time NULLS LAST, created_at DESC`, nonNilStrings(identifiers))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exams := []model.Exam{}
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// UpdateContent writes the editable fields of a DRAFT exam.
// Returns ErrStale if the exam is no longer DRAFT.
func (r *ExamRepository) UpdateContent(ctx context.Context, e *model.Exam) error {
	err := r.pool.QueryRow(ctx,
		`UPDATE exams
		 SET title = $2, subject = $3, duration_minutes = $4, total_marks = $5,
		     description = $6, instructions = $7, auto_submit_on_timeout = $8,
		     negative_mark = $9, negative_mark_percent = $10,
		     shuffle_questions = $11, shuffle_options = $12, updated_at = NOW()
		 WHERE id = $1 AND status = 'DRAFT'
		 RETURNING updated_at`,
		e.ID, e.Title, e.Subject, e.DurationMinutes, e.TotalMarks,
		e.Description, e.Instructions, e.AutoSubmitOnTimeout,
		e.NegativeMark, e.NegativeMarkPercent,
		e.ShuffleQuestions, e.ShuffleOptions,
	).Scan(&e.UpdatedAt)
	return staleOnNoRows(err)
}

// SetQuestionIDs replaces the question list of a DRAFT exam.
func (r *ExamRepository) SetQuestionIDs(ctx context.Context, id uuid.UUID, questionIDs []uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams SET question_ids = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'DRAFT'`, id, nonNilUUIDs(questionIDs))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

// Delete removes a DRAFT exam.
func (r *ExamRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM exams WHERE id = $1 AND status = 'DRAFT'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

// UpdateSchedule sets the window and roster and moves the exam to SCHEDULED.
// Only the scheduling columns are written; COMPLETED exams are left untouched
// and reported as ErrStale.
func (r *ExamRepository) UpdateSchedule(ctx context.Context, id uuid.UUID, start, end time.Time, enrolled []string) (*model.Exam, error) {
	e, err := scanExam(r.pool.QueryRow(ctx,
		`UPDATE exams
		 SET status = 'SCHEDULED', start_time = $2, end_time = $3,
		     enrolled_students = $4, updated_at = NOW()
		 WHERE id = $1 AND status <> 'COMPLETED'
		 RETURNING `+examColumns, id, start, end, nonNilStrings(enrolled)))
	if err != nil {
		return nil, staleOnNoRows(err)
	}
	return e, nil
}

// MarkOngoing flips SCHEDULED to ONGOING. It reports whether this call made the change.
func (r *ExamRepository) MarkOngoing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = 'ONGOING', updated_at = NOW()
		 WHERE id = $1 AND status = 'SCHEDULED'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SavePublication stores result statistics and completes the exam.
func (r *ExamRepository) SavePublication(ctx context.Context, id uuid.UUID, stats model.ExamStats, publishedAt time.Time) (*model.Exam, error) {
	e, err := scanExam(r.pool.QueryRow(ctx,
		`UPDATE exams
		 SET average_score = $2, highest_score = $3, lowest_score = $4,
		     total_attempts = $5, submitted_count = $6,
		     results_published = TRUE, results_published_at = $7,
		     status = 'COMPLETED', updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+examColumns,
		id, stats.AverageScore, stats.HighestScore, stats.LowestScore,
		stats.TotalAttempts, stats.SubmittedCount, publishedAt))
	if err != nil {
		return nil, translate(err)
	}
	return e, nil
}

func staleOnNoRows(err error) error {
	err = translate(err)
	if errors.Is(err, ErrNotFound) {
		return ErrStale
	}
	return err
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilUUIDs(s []uuid.UUID) []uuid.UUID {
	if s == nil {
		return []uuid.UUID{}
	}
	return s
}
