package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/grading"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/repository"
)

const (
	maxSubmitRetries  = 3
	autoSubmitBatch   = 200
	submitTriggerUser = "student"
	submitTriggerAuto = "timeout"
)

// AttemptService runs the per-student attempt lifecycle: start, save, submit.
type AttemptService struct {
	exams     ExamStore
	questions QuestionStore
	attempts  AttemptStore
	resolver  *StudentResolver
	papers    PaperCache
	grades    *GradeService
	events    EventPublisher
	metrics   *MetricsService
	paperTTL  time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	exams ExamStore,
	questions QuestionStore,
	attempts AttemptStore,
	students StudentDirectory,
	papers PaperCache,
	grades *GradeService,
	events EventPublisher,
	metrics *MetricsService,
	paperTTL time.Duration,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		exams:     exams,
		questions: questions,
		attempts:  attempts,
		resolver:  NewStudentResolver(students),
		papers:    papers,
		grades:    grades,
		events:    events,
		metrics:   metrics,
		paperTTL:  paperTTL,
		log:       log.With().Str("component", "attempt_service").Logger(),
		now:       time.Now,
	}
}

// Start opens or resumes the caller's attempt. Inside the exam window it lazily
// moves a SCHEDULED exam to ONGOING, then returns the existing ONGOING attempt
// of the student if any, otherwise creates one. Concurrent starts for the same
// student converge on a single attempt.
func (s *AttemptService) Start(ctx context.Context, examID uuid.UUID, identifier string) (*model.Attempt, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, notFoundAs(err, ErrExamNotFound, "get exam")
	}

	switch exam.Status {
	case model.ExamStatusDraft:
		return nil, ErrExamNotScheduled
	case model.ExamStatusCompleted:
		return nil, ErrExamCompleted
	}
	if exam.StartTime == nil {
		return nil, ErrExamNotScheduled
	}

	now := s.now()
	if now.Before(*exam.StartTime) {
		return nil, ErrExamNotStarted
	}
	if exam.EndTime != nil && now.After(*exam.EndTime) {
		return nil, ErrExamEnded
	}

	student, err := s.resolver.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}

	for _, key := range uniqueStrings(identifier, student.ID) {
		existing, err := s.attempts.FindOngoing(ctx, exam.ID, key)
		if err == nil {
			if err := s.markOngoing(ctx, exam); err != nil {
				return nil, err
			}
			return existing, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("find ongoing attempt: %w", err)
		}
	}

	attempt := &model.Attempt{
		ExamID:             exam.ID,
		ExamTitle:          exam.Title,
		StudentID:          student.ID,
		StudentName:        student.Name,
		Subject:            exam.Subject,
		StartedAt:          now,
		Status:             model.AttemptStatusOngoing,
		Answers:            model.Answers{},
		QuestionMarks:      map[string]float64{},
		DescriptiveAnswers: map[string]string{},
		TotalMarks:         exam.TotalMarks,
	}

	if err := s.attempts.CreateOngoing(ctx, attempt); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Concurrent start detected
			winner, fetchErr := s.attempts.FindOngoing(ctx, exam.ID, student.ID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			if err := s.markOngoing(ctx, exam); err != nil {
				return nil, err
			}
			return winner, nil
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	if err := s.markOngoing(ctx, exam); err != nil {
		return nil, err
	}

	s.metrics.AttemptStarted()
	s.publish(ctx, model.MonitorEvent{
		Type:      model.MonitorAttemptStarted,
		ExamID:    exam.ID,
		AttemptID: attempt.ID,
		StudentID: student.ID,
	})
	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Str("attempt_id", attempt.ID.String()).
		Str("student_id", student.ID).
		Msg("Attempt started")
	return attempt, nil
}

// markOngoing flips a SCHEDULED exam to ONGOING once a student holds an attempt.
func (s *AttemptService) markOngoing(ctx context.Context, exam *model.Exam) error {
	if exam.Status != model.ExamStatusScheduled {
		return nil
	}
	flipped, err := s.exams.MarkOngoing(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("mark exam ongoing: %w", err)
	}
	if flipped {
		s.log.Info().Str("exam_id", exam.ID.String()).Msg("Exam is now ONGOING")
	}
	return nil
}

// SaveAnswer persists one answer of an ONGOING attempt; the last write per
// question wins. An empty callerID skips the ownership check.
func (s *AttemptService) SaveAnswer(ctx context.Context, attemptID uuid.UUID, callerID, questionID, answer string) (*model.AnswerReceipt, error) {
	attempt, err := s.owned(ctx, attemptID, callerID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptStatusOngoing {
		return nil, ErrAttemptNotOngoing
	}

	qid, err := uuid.Parse(questionID)
	if err != nil {
		return nil, ErrQuestionNotInExam
	}
	exam, err := s.exams.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return nil, notFoundAs(err, ErrExamNotFound, "get exam")
	}
	if !slices.Contains(exam.QuestionIDs, qid) {
		return nil, ErrQuestionNotInExam
	}

	key := qid.String()
	updatedAt, err := s.attempts.SaveAnswer(ctx, attempt.ID, key, answer)
	if err != nil {
		if errors.Is(err, repository.ErrStale) {
			return nil, ErrAttemptNotOngoing
		}
		return nil, fmt.Errorf("save answer: %w", err)
	}

	s.metrics.AnswerSaved()
	s.publish(ctx, model.MonitorEvent{
		Type:       model.MonitorAnswerSaved,
		ExamID:     attempt.ExamID,
		AttemptID:  attempt.ID,
		StudentID:  attempt.StudentID,
		QuestionID: key,
	})
	return &model.AnswerReceipt{AttemptID: attempt.ID, QuestionID: key, UpdatedAt: updatedAt}, nil
}

// Submit grades and closes an attempt. Submitting an already SUBMITTED attempt
// returns the stored result unchanged. Fully evaluated results are folded into
// the grade record on a best-effort basis.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, callerID string) (*model.Attempt, error) {
	return s.submit(ctx, attemptID, callerID, submitTriggerUser)
}

func (s *AttemptService) submit(ctx context.Context, attemptID uuid.UUID, callerID, trigger string) (*model.Attempt, error) {
	for range maxSubmitRetries {
		attempt, err := s.owned(ctx, attemptID, callerID)
		if err != nil {
			return nil, err
		}
		if attempt.Status == model.AttemptStatusSubmitted {
			return attempt, nil
		}

		exam, err := s.exams.GetByID(ctx, attempt.ExamID)
		if err != nil {
			return nil, notFoundAs(err, ErrExamNotFound, "get exam")
		}
		questions, err := s.questions.FindAllByID(ctx, exam.QuestionIDs)
		if err != nil {
			return nil, fmt.Errorf("load questions: %w", err)
		}

		result := grading.Evaluate(grading.ConfigFor(exam), exam.QuestionIDs, questions, attempt.Answers)
		now := s.now()
		spent := int64(now.Sub(attempt.StartedAt).Seconds())
		if spent < 0 {
			spent = 0
		}

		done, err := s.attempts.CompleteSubmission(ctx, attempt.ID, attempt.UpdatedAt, model.Submission{
			SubmittedAt:        now,
			QuestionMarks:      result.QuestionMarks,
			DescriptiveAnswers: result.DescriptiveAnswers,
			TotalScore:         result.TotalScore,
			Percentage:         result.Percentage,
			Grade:              result.Grade,
			TimeSpentSeconds:   spent,
			FullyEvaluated:     result.FullyEvaluated,
		})
		if errors.Is(err, repository.ErrStale) {
			// An answer landed or another submit won; reload and decide again.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("complete submission: %w", err)
		}

		s.metrics.AttemptSubmitted(trigger)
		evType := model.MonitorAttemptSubmitted
		if trigger == submitTriggerAuto {
			evType = model.MonitorAttemptTimedOut
		}
		score := done.TotalScore
		s.publish(ctx, model.MonitorEvent{
			Type:      evType,
			ExamID:    done.ExamID,
			AttemptID: done.ID,
			StudentID: done.StudentID,
			Score:     &score,
		})
		s.log.Info().
			Str("attempt_id", done.ID.String()).
			Str("student_id", done.StudentID).
			Float64("score", done.TotalScore).
			Bool("fully_evaluated", done.FullyEvaluated).
			Str("trigger", trigger).
			Msg("Attempt submitted")

		if done.FullyEvaluated {
			s.grades.Integrate(ctx, done)
		}
		return done, nil
	}
	return nil, ErrSubmitContention
}

// SweepTimeouts force-submits ONGOING attempts of auto-submitting exams whose
// deadline has passed. It returns how many attempts were submitted.
func (s *AttemptService) SweepTimeouts(ctx context.Context) (int, error) {
	due, err := s.attempts.ListDueForAutoSubmit(ctx, s.now(), autoSubmitBatch)
	if err != nil {
		return 0, fmt.Errorf("list overdue attempts: %w", err)
	}

	submitted := 0
	for _, id := range due {
		if ctx.Err() != nil {
			return submitted, ctx.Err()
		}
		if _, err := s.submit(ctx, id, "", submitTriggerAuto); err != nil {
			s.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Auto-submit failed")
			continue
		}
		submitted++
	}
	return submitted, nil
}

// GetByID returns an attempt visible to callerID.
func (s *AttemptService) GetByID(ctx context.Context, attemptID uuid.UUID, callerID string) (*model.Attempt, error) {
	return s.owned(ctx, attemptID, callerID)
}

// ListForStudent returns the attempts of the student behind identifier, newest first.
func (s *AttemptService) ListForStudent(ctx context.Context, identifier string) ([]model.Attempt, error) {
	studentID, err := s.resolver.CanonicalID(ctx, identifier)
	if err != nil {
		return nil, err
	}
	attempts, err := s.attempts.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

// ListByExam returns every attempt of an exam owned by facultyID.
func (s *AttemptService) ListByExam(ctx context.Context, examID uuid.UUID, facultyID string) ([]model.Attempt, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, notFoundAs(err, ErrExamNotFound, "get exam")
	}
	if !exam.OwnedBy(facultyID) {
		return nil, ErrNotExamOwner
	}
	attempts, err := s.attempts.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

// GetPaper returns the question paper for an ONGOING attempt without answer keys.
// Question and option order is shuffled per attempt when the exam asks for it,
// and is stable across reloads of the same attempt.
func (s *AttemptService) GetPaper(ctx context.Context, attemptID uuid.UUID, callerID string) (*model.AttemptPaper, error) {
	attempt, err := s.owned(ctx, attemptID, callerID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptStatusOngoing {
		return nil, ErrAttemptNotOngoing
	}

	exam, err := s.exams.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return nil, notFoundAs(err, ErrExamNotFound, "get exam")
	}

	paper, err := s.loadPaper(ctx, exam)
	if err != nil {
		return nil, err
	}

	personal := clonePaper(paper)
	if exam.ShuffleQuestions || exam.ShuffleOptions {
		rng := attemptRand(attempt.ID)
		if exam.ShuffleQuestions {
			rng.Shuffle(len(personal.Questions), func(i, j int) {
				personal.Questions[i], personal.Questions[j] = personal.Questions[j], personal.Questions[i]
			})
		}
		if exam.ShuffleOptions {
			for i := range personal.Questions {
				opts := personal.Questions[i].Options
				rng.Shuffle(len(opts), func(a, b int) { opts[a], opts[b] = opts[b], opts[a] })
			}
		}
	}
	for i := range personal.Questions {
		personal.Questions[i].OrderNum = i + 1
	}

	return &model.AttemptPaper{
		AttemptID: attempt.ID,
		Deadline:  exam.DeadlineFor(attempt.StartedAt),
		Answers:   attempt.Answers,
		Paper:     personal,
	}, nil
}

func (s *AttemptService) loadPaper(ctx context.Context, exam *model.Exam) (*model.ExamPaper, error) {
	if s.papers != nil {
		cached, err := s.papers.GetPaper(ctx, exam.ID)
		switch {
		case err == nil:
			s.metrics.PaperCacheLookup(true)
			return cached, nil
		case errors.Is(err, repository.ErrCacheMiss):
			s.metrics.PaperCacheLookup(false)
		default:
			s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Paper cache unavailable, building from database")
		}
	}

	questions, err := s.questions.FindAllByID(ctx, exam.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	paper := &model.ExamPaper{
		ExamID:          exam.ID,
		Title:           exam.Title,
		Subject:         exam.Subject,
		Instructions:    exam.Instructions,
		DurationMinutes: exam.DurationMinutes,
		TotalMarks:      exam.TotalMarks,
		Questions:       make([]model.PaperQuestion, 0, len(exam.QuestionIDs)),
	}
	for _, qid := range exam.QuestionIDs {
		q, ok := questions[qid]
		if !ok {
			continue
		}
		paper.Questions = append(paper.Questions, q.ForPaper(len(paper.Questions)+1))
	}

	if s.papers != nil {
		if err := s.papers.SetPaper(ctx, paper, s.paperTTL); err != nil {
			s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Failed to cache paper")
		}
	}
	return paper, nil
}

func (s *AttemptService) owned(ctx context.Context, attemptID uuid.UUID, callerID string) (*model.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, notFoundAs(err, ErrAttemptNotFound, "get attempt")
	}
	if attempt.IsOwnedBy(callerID) {
		return attempt, nil
	}
	// Callers may hold an email or email prefix; attempts store the directory id.
	studentID, err := s.resolver.CanonicalID(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if !attempt.IsOwnedBy(studentID) {
		return nil, ErrNotAttemptOwner
	}
	return attempt, nil
}

func (s *AttemptService) publish(ctx context.Context, ev model.MonitorEvent) {
	if s.events == nil {
		return
	}
	ev.Timestamp = s.now()
	if err := s.events.PublishMonitorEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("exam_id", ev.ExamID.String()).Msg("Failed to publish monitor event")
	}
}

// attemptRand seeds a generator from the attempt id so every reload of the same
// attempt sees the same order.
func attemptRand(id uuid.UUID) *rand.Rand {
	return rand.New(rand.NewPCG(binary.BigEndian.Uint64(id[:8]), binary.BigEndian.Uint64(id[8:])))
}

func clonePaper(p *model.ExamPaper) *model.ExamPaper {
	out := *p
	out.Questions = make([]model.PaperQuestion, len(p.Questions))
	for i, q := range p.Questions {
		q.Options = slices.Clone(q.Options)
		out.Questions[i] = q
	}
	return &out
}

func uniqueStrings(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
