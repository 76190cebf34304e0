package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exam-engine/internal/model"
)

const gradeColumns = `id, student_id, student_name, subject, exam_marks, assignment_marks,
	project_marks, participation_marks, total_marks, cgpa, grade, exam_submitted_at, updated_at`

func scanGrade(row rowScanner) (*model.Grade, error) {
	g := &model.Grade{}
	err := row.Scan(&g.ID, &g.StudentID, &g.StudentName, &g.Subject, &g.ExamMarks, &g.AssignmentMarks,
		&g.ProjectMarks, &g.ParticipationMarks, &g.TotalMarks, &g.CGPA, &g.Grade, &g.ExamSubmittedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GradeRepository handles per-subject grade records. The record is shared with
// other grade contributors, so this repository only ever writes the exam component
// and the fields derived from it.
type GradeRepository struct {
	pool *pgxpool.Pool
}

// NewGradeRepository creates a new GradeRepository.
func NewGradeRepository(pool *pgxpool.Pool) *GradeRepository {
	return &GradeRepository{pool: pool}
}

// ApplyExamMarks overwrites the exam component of (studentID, subject), creating a
// zeroed record first if absent. The row is locked for the read-modify-write and
// recompute derives the total, cgpa and letter from the locked snapshot.
// It returns ErrStale, leaving the row untouched, when the stored marks come from
// a submission later than submittedAt.
func (r *GradeRepository) ApplyExamMarks(
	ctx context.Context,
	studentID, studentName, subject string,
	examMarks float64,
	submittedAt time.Time,
	recompute func(*model.Grade),
) (*model.Grade, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO grades (student_id, student_name, subject)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (student_id, subject) DO NOTHING`,
		studentID, studentName, subject,
	); err != nil {
		return nil, fmt.Errorf("ensure grade row: %w", err)
	}

	g, err := scanGrade(tx.QueryRow(ctx,
		`SELECT `+gradeColumns+` FROM grades
		 WHERE student_id = $1 AND subject = $2
		 FOR UPDATE`, studentID, subject))
	if err != nil {
		return nil, fmt.Errorf("lock grade row: %w", translate(err))
	}

	if g.ExamSubmittedAt != nil && g.ExamSubmittedAt.After(submittedAt) {
		return g, ErrStale
	}

	g.ExamMarks = examMarks
	g.ExamSubmittedAt = &submittedAt
	if studentName != "" {
		g.StudentName = studentName
	}
	recompute(g)

	if err := tx.QueryRow(ctx,
		`UPDATE grades
		 SET exam_marks = $2, student_name = $3, total_marks = $4, cgpa = $5, grade = $6,
		     exam_submitted_at = $7, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		g.ID, g.ExamMarks, g.StudentName, g.TotalMarks, g.CGPA, g.Grade, submittedAt,
	).Scan(&g.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update grade: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit grade: %w", err)
	}
	return g, nil
}

// FindByStudentAndSubject retrieves one grade record.
func (r *GradeRepository) FindByStudentAndSubject(ctx context.Context, studentID, subject string) (*model.Grade, error) {
	g, err := scanGrade(r.pool.QueryRow(ctx,
		`SELECT `+gradeColumns+` FROM grades WHERE student_id = $1 AND subject = $2`, studentID, subject))
	if err != nil {
		return nil, translate(err)
	}
	return g, nil
}

// ListByStudent returns all grade records of a student ordered by subject.
func (r *GradeRepository) ListByStudent(ctx context.Context, studentID string) ([]model.Grade, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+gradeColumns+` FROM grades WHERE student_id = $1 ORDER BY subject`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grades := []model.Grade{}
	for rows.Next() {
		g, err := scanGrade(rows)
		if err != nil {
			return nil, err
		}
		grades = append(grades, *g)
	}
	return grades, rows.Err()
}
