package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exam-engine/internal/model"
)

// StudentRepository is the student directory backed by PostgreSQL.
type StudentRepository struct {
	pool *pgxpool.Pool
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

// FindByID retrieves a student by the auth-system id.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*model.Student, error) {
	s := &model.Student{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, created_at FROM students WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.Email, &s.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return s, nil
}

// FindByEmail retrieves a student by full email, case-insensitively.
func (r *StudentRepository) FindByEmail(ctx context.Context, email string) (*model.Student, error) {
	s := &model.Student{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, created_at FROM students WHERE LOWER(email) = LOWER($1)`, email,
	).Scan(&s.ID, &s.Name, &s.Email, &s.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return s, nil
}

// FindByEmailPrefix returns students whose email starts with prefix + "@",
// case-insensitively, oldest first.
func (r *StudentRepository) FindByEmailPrefix(ctx context.Context, prefix string) ([]model.Student, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, email, created_at
		 FROM students
		 WHERE LEFT(LOWER(email), LENGTH($1) + 1) = LOWER($1) || '@'
		 ORDER BY created_at, id`, prefix,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []model.Student
	for rows.Next() {
		var s model.Student
		if err := rows.Scan(&s.ID, &s.Name, &s.Email, &s.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// ListEmails returns every student's email.
func (r *StudentRepository) ListEmails(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT email FROM students ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// Upsert inserts a student or refreshes name/email for an existing id.
func (r *StudentRepository) Upsert(ctx context.Context, s *model.Student) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO students (id, name, email)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email
		 RETURNING created_at`,
		s.ID, s.Name, s.Email,
	).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert student %s: %w", s.ID, translate(err))
	}
	return nil
}
