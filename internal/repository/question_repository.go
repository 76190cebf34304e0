package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exam-engine/internal/model"
)

const questionColumns = `id, faculty_id, type, subject, text, options, correct_answer,
	explanation, marks, active, created_at, updated_at`

func scanQuestion(row rowScanner) (*model.Question, error) {
	q := &model.Question{}
	err := row.Scan(&q.ID, &q.FacultyID, &q.Type, &q.Subject, &q.Text, &q.Options, &q.CorrectAnswer,
		&q.Explanation, &q.Marks, &q.Active, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if q.Options == nil {
		q.Options = []string{}
	}
	return q, nil
}

// QuestionRepository handles question bank data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO questions (faculty_id, type, subject, text, options, correct_answer, explanation, marks, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		q.FacultyID, q.Type, q.Subject, q.Text, nonNilStrings(q.Options), q.CorrectAnswer,
		q.Explanation, q.Marks, q.Active,
	).Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

// GetByID retrieves a question by id.
func (r *QuestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	q, err := scanQuestion(r.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return q, nil
}

// FindAllByID loads the questions that still exist among ids, keyed by id.
func (r *QuestionRepository) FindAllByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Question, error) {
	result := make(map[uuid.UUID]*model.Question, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		result[q.ID] = q
	}
	return result, rows.Err()
}

// List returns questions filtered by faculty and optionally subject, newest first.
func (r *QuestionRepository) List(ctx context.Context, facultyID, subject string, limit, offset int) ([]model.Question, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM questions
		 WHERE faculty_id = $1 AND ($2 = '' OR subject = $2)`, facultyID, subject,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions
		 WHERE faculty_id = $1 AND ($2 = '' OR subject = $2)
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`, facultyID, subject, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	questions := []model.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, 0, err
		}
		questions = append(questions, *q)
	}
	return questions, total, rows.Err()
}

// Update writes every mutable field of a question.
func (r *QuestionRepository) Update(ctx context.Context, q *model.Question) error {
	err := r.pool.QueryRow(ctx,
		`UPDATE questions
		 SET subject = $2, text = $3, options = $4, correct_answer = $5,
		     explanation = $6, marks = $7, active = $8, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		q.ID, q.Subject, q.Text, nonNilStrings(q.Options), q.CorrectAnswer,
		q.Explanation, q.Marks, q.Active,
	).Scan(&q.UpdatedAt)
	return translate(err)
}

// Delete removes a question. Exams keep any dangling reference.
func (r *QuestionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsReferencedByLiveExam reports whether any non-DRAFT exam lists the question.
func (r *QuestionRepository) IsReferencedByLiveExam(ctx context.Context, id uuid.UUID) (bool, error) {
	var referenced bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM exams WHERE $1 = ANY(question_ids) AND status <> 'DRAFT'
		 )`, id,
	).Scan(&referenced)
	return referenced, err
}
