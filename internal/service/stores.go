package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/repository"
)

// Collaborator contracts consumed by the services. The pgx and Redis
// repositories implement them; tests use in-memory fakes.

// StudentDirectory looks up students. Misses return repository.ErrNotFound.
type StudentDirectory interface {
	FindByID(ctx context.Context, id string) (*model.Student, error)
	FindByEmail(ctx context.Context, email string) (*model.Student, error)
	FindByEmailPrefix(ctx context.Context, prefix string) ([]model.Student, error)
	ListEmails(ctx context.Context) ([]string, error)
}

// ExamStore persists exam definitions with field-level updates.
type ExamStore interface {
	Create(ctx context.Context, e *model.Exam) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListByFaculty(ctx context.Context, facultyID string, limit, offset int) ([]model.Exam, int, error)
	ListVisible(ctx context.Context, identifiers []string) ([]model.Exam, error)
	UpdateContent(ctx context.Context, e *model.Exam) error
	SetQuestionIDs(ctx context.Context, id uuid.UUID, questionIDs []uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	UpdateSchedule(ctx context.Context, id uuid.UUID, start, end time.Time, enrolled []string) (*model.Exam, error)
	MarkOngoing(ctx context.Context, id uuid.UUID) (bool, error)
	SavePublication(ctx context.Context, id uuid.UUID, stats model.ExamStats, publishedAt time.Time) (*model.Exam, error)
}

// QuestionStore is the question bank.
type QuestionStore interface {
	Create(ctx context.Context, q *model.Question) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error)
	FindAllByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Question, error)
	List(ctx context.Context, facultyID, subject string, limit, offset int) ([]model.Question, int, error)
	Update(ctx context.Context, q *model.Question) error
	Delete(ctx context.Context, id uuid.UUID) error
	IsReferencedByLiveExam(ctx context.Context, id uuid.UUID) (bool, error)
}

// AttemptStore persists attempts. CreateOngoing returns repository.ErrConflict when
// another ONGOING attempt already exists; guarded writes return repository.ErrStale.
type AttemptStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	FindOngoing(ctx context.Context, examID uuid.UUID, studentID string) (*model.Attempt, error)
	CreateOngoing(ctx context.Context, a *model.Attempt) error
	SaveAnswer(ctx context.Context, id uuid.UUID, questionID, answer string) (time.Time, error)
	CompleteSubmission(ctx context.Context, id uuid.UUID, prevUpdatedAt time.Time, sub model.Submission) (*model.Attempt, error)
	MarkGradeIntegrated(ctx context.Context, id uuid.UUID) error
	ListByStudent(ctx context.Context, studentID string) ([]model.Attempt, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error)
	ListDueForAutoSubmit(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// GradeStore owns the per-subject grade records. ApplyExamMarks returns
// repository.ErrStale when the record already holds marks from a submission later
// than submittedAt.
type GradeStore interface {
	ApplyExamMarks(ctx context.Context, studentID, studentName, subject string, examMarks float64, submittedAt time.Time, recompute func(*model.Grade)) (*model.Grade, error)
	FindByStudentAndSubject(ctx context.Context, studentID, subject string) (*model.Grade, error)
	ListByStudent(ctx context.Context, studentID string) ([]model.Grade, error)
}

// PaperCache caches student-facing papers. GetPaper returns repository.ErrCacheMiss on a miss.
type PaperCache interface {
	GetPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error)
	SetPaper(ctx context.Context, paper *model.ExamPaper, ttl time.Duration) error
	InvalidatePaper(ctx context.Context, examID uuid.UUID) error
}

// EventPublisher fans live-monitor events out to subscribers.
type EventPublisher interface {
	PublishMonitorEvent(ctx context.Context, ev model.MonitorEvent) error
}

// GradeRetryQueue records attempts whose grade integration must be retried.
type GradeRetryQueue interface {
	EnqueueGradeSync(ctx context.Context, attemptID uuid.UUID) error
}

var (
	_ StudentDirectory = (*repository.StudentRepository)(nil)
	_ ExamStore        = (*repository.ExamRepository)(nil)
	_ QuestionStore    = (*repository.QuestionRepository)(nil)
	_ AttemptStore     = (*repository.AttemptRepository)(nil)
	_ GradeStore       = (*repository.GradeRepository)(nil)
	_ PaperCache       = (*repository.PaperCacheRepository)(nil)
	_ EventPublisher   = (*repository.MonitorRepository)(nil)
	_ MonitorFeed      = (*repository.MonitorRepository)(nil)
	_ GradeRetryQueue  = (*repository.GradeQueueRepository)(nil)
)
