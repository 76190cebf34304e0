package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/model"
)

// MonitorFeed reads live progress for the monitor.
type MonitorFeed interface {
	AnsweredCounts(ctx context.Context, examID uuid.UUID) (map[string]int64, error)
	Listen(ctx context.Context, examID uuid.UUID) (<-chan model.MonitorEvent, func() error, error)
}

// MonitorService orchestrates live exam monitoring for the owning faculty.
type MonitorService struct {
	exams    ExamStore
	attempts AttemptStore
	feed     MonitorFeed
	log      zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(exams ExamStore, attempts AttemptStore, feed MonitorFeed, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		exams:    exams,
		attempts: attempts,
		feed:     feed,
		log:      log.With().Str("component", "monitor_service").Logger(),
	}
}

// MonitorSnapshot is the progress of an exam at one instant.
type MonitorSnapshot struct {
	ExamID         uuid.UUID        `json:"exam_id"`
	Status         model.ExamStatus `json:"status"`
	Enrolled       int              `json:"enrolled"`
	AnsweredCounts map[string]int64 `json:"answered_counts"`
	Ongoing        int              `json:"ongoing"`
	Submitted      int              `json:"submitted"`
}

// Snapshot returns answered counts and attempt totals for an exam owned by facultyID.
// The two reads run concurrently; attempt totals are best-effort.
func (s *MonitorService) Snapshot(ctx context.Context, examID uuid.UUID, facultyID string) (*MonitorSnapshot, error) {
	exam, err := s.owned(ctx, examID, facultyID)
	if err != nil {
		return nil, err
	}

	var (
		answered    map[string]int64
		attempts    []model.Attempt
		answeredErr error
		attemptsErr error
		wg          sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		answered, answeredErr = s.feed.AnsweredCounts(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		attempts, attemptsErr = s.attempts.ListByExam(ctx, examID)
	}()
	wg.Wait()

	if answeredErr != nil {
		return nil, answeredErr
	}

	snap := &MonitorSnapshot{
		ExamID:         exam.ID,
		Status:         exam.Status,
		Enrolled:       len(exam.EnrolledStudents),
		AnsweredCounts: answered,
	}
	if snap.AnsweredCounts == nil {
		snap.AnsweredCounts = map[string]int64{}
	}

	if attemptsErr != nil {
		s.log.Warn().Err(attemptsErr).Str("exam_id", examID.String()).Msg("Failed to load attempts for snapshot")
		return snap, nil
	}
	for _, a := range attempts {
		switch a.Status {
		case model.AttemptStatusOngoing:
			snap.Ongoing++
		case model.AttemptStatusSubmitted:
			snap.Submitted++
		}
	}
	return snap, nil
}

// Subscribe streams live events for an exam owned by facultyID. The caller must
// invoke the returned close function.
func (s *MonitorService) Subscribe(ctx context.Context, examID uuid.UUID, facultyID string) (<-chan model.MonitorEvent, func() error, error) {
	if _, err := s.owned(ctx, examID, facultyID); err != nil {
		return nil, nil, err
	}
	return s.feed.Listen(ctx, examID)
}

func (s *MonitorService) owned(ctx context.Context, examID uuid.UUID, facultyID string) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, notFoundAs(err, ErrExamNotFound, "get exam")
	}
	if !exam.OwnedBy(facultyID) {
		return nil, ErrNotExamOwner
	}
	return exam, nil
}
