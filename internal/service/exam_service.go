package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/apperr"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/repository"
	"github.com/stemsi/exam-engine/internal/response"
)

// ExamService handles exam definitions, scheduling and results publication.
type ExamService struct {
	exams     ExamStore
	questions QuestionStore
	attempts  AttemptStore
	students  StudentDirectory
	resolver  *StudentResolver
	papers    PaperCache
	grades    *GradeService
	events    EventPublisher
	metrics   *MetricsService
	log       zerolog.Logger
	now       func() time.Time
}

// NewExamService creates a new ExamService.
func NewExamService(
	exams ExamStore,
	questions QuestionStore,
	attempts AttemptStore,
	students StudentDirectory,
	papers PaperCache,
	grades *GradeService,
	events EventPublisher,
	metrics *MetricsService,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		exams:     exams,
		questions: questions,
		attempts:  attempts,
		students:  students,
		resolver:  NewStudentResolver(students),
		papers:    papers,
		grades:    grades,
		events:    events,
		metrics:   metrics,
		log:       log.With().Str("component", "exam_service").Logger(),
		now:       time.Now,
	}
}

// Create inserts a new exam as DRAFT owned by facultyID.
func (s *ExamService) Create(ctx context.Context, facultyID string, req model.CreateExamRequest) (*model.Exam, error) {
	questionIDs, err := parseUUIDs(req.QuestionIDs)
	if err != nil {
		return nil, err
	}
	if err := s.ensureQuestionsExist(ctx, questionIDs); err != nil {
		return nil, err
	}

	exam := &model.Exam{
		Title:               strings.TrimSpace(req.Title),
		Subject:             strings.TrimSpace(req.Subject),
		FacultyID:           facultyID,
		DurationMinutes:     req.DurationMinutes,
		TotalMarks:          req.TotalMarks,
		Description:         req.Description,
		Instructions:        req.Instructions,
		Status:              model.ExamStatusDraft,
		AutoSubmitOnTimeout: req.AutoSubmitOnTimeout,
		NegativeMark:        req.NegativeMark,
		NegativeMarkPercent: req.NegativeMarkPercent,
		ShuffleQuestions:    req.ShuffleQuestions,
		ShuffleOptions:      req.ShuffleOptions,
		QuestionIDs:         dedupeUUIDs(questionIDs),
		EnrolledStudents:    []string{},
	}
	if err := s.exams.Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}

	s.log.Info().Str("exam_id", exam.ID.String()).Str("faculty_id", facultyID).Msg("Exam created")
	return exam, nil
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, ErrExamNotFound, "get exam")
	}
	return exam, nil
}

// GetOwned retrieves an exam and checks that facultyID owns it.
func (s *ExamService) GetOwned(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error) {
	exam, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exam.OwnedBy(facultyID) {
		return nil, ErrNotExamOwner
	}
	return exam, nil
}

// ListByFaculty retrieves a faculty member's exams with pagination.
func (s *ExamService) ListByFaculty(ctx context.Context, facultyID string, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	page, perPage = normalizePage(page, perPage)

	exams, total, err := s.exams.ListByFaculty(ctx, facultyID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, fmt.Errorf("list exams: %w", err)
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	return exams, response.NewPagination(page, perPage, total), nil
}

// Update edits the content fields of a DRAFT exam.
func (s *ExamService) Update(ctx context.Context, id uuid.UUID, facultyID string, req model.UpdateExamRequest) (*model.Exam, error) {
	exam, err := s.draftOwned(ctx, id, facultyID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		exam.Title = strings.TrimSpace(*req.Title)
	}
	if req.Subject != nil {
		exam.Subject = strings.TrimSpace(*req.Subject)
	}
	if req.DurationMinutes != nil {
		exam.DurationMinutes = *req.DurationMinutes
	}
	if req.TotalMarks != nil {
		exam.TotalMarks = *req.TotalMarks
	}
	if req.Description != nil {
		exam.Description = *req.Description
	}
	if req.Instructions != nil {
		exam.Instructions = *req.Instructions
	}
	if req.AutoSubmitOnTimeout != nil {
		exam.AutoSubmitOnTimeout = *req.AutoSubmitOnTimeout
	}
	if req.NegativeMark != nil {
		exam.NegativeMark = *req.NegativeMark
	}
	if req.NegativeMarkPercent != nil {
		exam.NegativeMarkPercent = *req.NegativeMarkPercent
	}
	if req.ShuffleQuestions != nil {
		exam.ShuffleQuestions = *req.ShuffleQuestions
	}
	if req.ShuffleOptions != nil {
		exam.ShuffleOptions = *req.ShuffleOptions
	}

	if err := s.exams.UpdateContent(ctx, exam); err != nil {
		if errors.Is(err, repository.ErrStale) {
			return nil, ErrExamNotDraft
		}
		return nil, fmt.Errorf("update exam: %w", err)
	}
	return exam, nil
}

// Delete removes a DRAFT exam.
func (s *ExamService) Delete(ctx context.Context, id uuid.UUID, facultyID string) error {
	if _, err := s.draftOwned(ctx, id, facultyID); err != nil {
		return err
	}
	if err := s.exams.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrStale) {
			return ErrExamNotDraft
		}
		return fmt.Errorf("delete exam: %w", err)
	}
	s.log.Info().Str("exam_id", id.String()).Msg("Exam deleted")
	return nil
}

// Duplicate copies an exam's configuration and question list into a new DRAFT.
// Roster, window and results are not copied.
func (s *ExamService) Duplicate(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error) {
	src, err := s.GetOwned(ctx, id, facultyID)
	if err != nil {
		return nil, err
	}

	questionIDs := make([]uuid.UUID, len(src.QuestionIDs))
	copy(questionIDs, src.QuestionIDs)

	dup := &model.Exam{
		Title:               src.Title + " (Copy)",
		Subject:             src.Subject,
		FacultyID:           facultyID,
		DurationMinutes:     src.DurationMinutes,
		TotalMarks:          src.TotalMarks,
		Description:         src.Description,
		Instructions:        src.Instructions,
		Status:              model.ExamStatusDraft,
		AutoSubmitOnTimeout: src.AutoSubmitOnTimeout,
		NegativeMark:        src.NegativeMark,
		NegativeMarkPercent: src.NegativeMarkPercent,
		ShuffleQuestions:    src.ShuffleQuestions,
		ShuffleOptions:      src.ShuffleOptions,
		QuestionIDs:         questionIDs,
		EnrolledStudents:    []string{},
	}
	if err := s.exams.Create(ctx, dup); err != nil {
		return nil, fmt.Errorf("duplicate exam: %w", err)
	}

	s.log.Info().Str("source_exam_id", id.String()).Str("exam_id", dup.ID.String()).Msg("Exam duplicated")
	return dup, nil
}

// AddQuestions appends question ids to a DRAFT exam, skipping ids already present.
func (s *ExamService) AddQuestions(ctx context.Context, id uuid.UUID, facultyID string, questionIDs []uuid.UUID) (*model.Exam, error) {
	exam, err := s.draftOwned(ctx, id, facultyID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureQuestionsExist(ctx, questionIDs); err != nil {
		return nil, err
	}

	merged := dedupeUUIDs(append(append([]uuid.UUID{}, exam.QuestionIDs...), questionIDs...))
	if err := s.setQuestionIDs(ctx, exam, merged); err != nil {
		return nil, err
	}
	return exam, nil
}

// RemoveQuestions drops question ids from a DRAFT exam.
func (s *ExamService) RemoveQuestions(ctx context.Context, id uuid.UUID, facultyID string, questionIDs []uuid.UUID) (*model.Exam, error) {
	exam, err := s.draftOwned(ctx, id, facultyID)
	if err != nil {
		return nil, err
	}

	drop := make(map[uuid.UUID]struct{}, len(questionIDs))
	for _, qid := range questionIDs {
		drop[qid] = struct{}{}
	}
	kept := make([]uuid.UUID, 0, len(exam.QuestionIDs))
	for _, qid := range exam.QuestionIDs {
		if _, ok := drop[qid]; !ok {
			kept = append(kept, qid)
		}
	}

	if err := s.setQuestionIDs(ctx, exam, kept); err != nil {
		return nil, err
	}
	return exam, nil
}

func (s *ExamService) setQuestionIDs(ctx context.Context, exam *model.Exam, ids []uuid.UUID) error {
	if err := s.exams.SetQuestionIDs(ctx, exam.ID, ids); err != nil {
		if errors.Is(err, repository.ErrStale) {
			return ErrExamNotDraft
		}
		return fmt.Errorf("set question ids: %w", err)
	}
	exam.QuestionIDs = ids
	return nil
}

// Schedule enrolls students and opens the exam window. Every identifier is kept
// verbatim; emails are additionally resolved so the roster holds the canonical id
// too. Re-scheduling a SCHEDULED or ONGOING exam refreshes window and roster.
func (s *ExamService) Schedule(ctx context.Context, id uuid.UUID, facultyID string, identifiers []string, start, end *time.Time) (*model.Exam, error) {
	exam, err := s.GetOwned(ctx, id, facultyID)
	if err != nil {
		return nil, err
	}
	if exam.Status == model.ExamStatusCompleted {
		return nil, ErrExamCompleted
	}

	windowStart, windowEnd, err := resolveWindow(exam, start, end)
	if err != nil {
		return nil, err
	}

	roster, err := s.buildRoster(ctx, exam.ID, identifiers)
	if err != nil {
		return nil, err
	}
	if len(roster) == 0 {
		return nil, ErrEmptyRoster
	}

	updated, err := s.exams.UpdateSchedule(ctx, exam.ID, windowStart, windowEnd, roster)
	if err != nil {
		if errors.Is(err, repository.ErrStale) {
			return nil, ErrExamCompleted
		}
		return nil, notFoundAs(err, ErrExamNotFound, "schedule exam")
	}

	if s.papers != nil {
		if err := s.papers.InvalidatePaper(ctx, exam.ID); err != nil {
			s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Failed to invalidate paper cache")
		}
	}

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Int("enrolled", len(roster)).
		Time("start_time", windowStart).
		Time("end_time", windowEnd).
		Msg("Exam scheduled")
	return updated, nil
}

// ScheduleAll enrolls every student in the directory.
func (s *ExamService) ScheduleAll(ctx context.Context, id uuid.UUID, facultyID string, start, end *time.Time) (*model.Exam, error) {
	emails, err := s.students.ListEmails(ctx)
	if err != nil {
		return nil, fmt.Errorf("list student emails: %w", err)
	}
	return s.Schedule(ctx, id, facultyID, emails, start, end)
}

func resolveWindow(exam *model.Exam, start, end *time.Time) (time.Time, time.Time, error) {
	var windowStart time.Time
	switch {
	case start != nil:
		windowStart = *start
	case exam.StartTime != nil:
		windowStart = *exam.StartTime
	default:
		return time.Time{}, time.Time{}, ErrStartTimeRequired
	}

	duration := time.Duration(exam.DurationMinutes) * time.Minute
	var windowEnd time.Time
	switch {
	case end != nil:
		windowEnd = *end
	case start == nil && exam.EndTime != nil:
		windowEnd = *exam.EndTime
	default:
		windowEnd = windowStart.Add(duration)
	}

	if !windowEnd.After(windowStart) {
		return time.Time{}, time.Time{}, ErrInvalidWindow
	}
	return windowStart, windowEnd, nil
}

func (s *ExamService) buildRoster(ctx context.Context, examID uuid.UUID, identifiers []string) ([]string, error) {
	seen := make(map[string]struct{}, len(identifiers)*2)
	roster := make([]string, 0, len(identifiers)*2)
	add := func(v string) {
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		roster = append(roster, v)
	}

	for _, raw := range identifiers {
		identifier := strings.TrimSpace(raw)
		if identifier == "" {
			continue
		}
		add(identifier)

		if !strings.Contains(identifier, "@") {
			continue
		}
		student, err := s.resolver.Resolve(ctx, identifier)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				s.log.Warn().Str("exam_id", examID.String()).Str("identifier", identifier).
					Msg("Enrolled identifier does not resolve to a student")
				continue
			}
			return nil, err
		}
		add(student.ID)
	}
	return roster, nil
}

// ListForStudent returns the exams visible to a student: those whose roster holds
// the identifier, the student's canonical id or email, plus every SCHEDULED or
// ONGOING exam. Rosters are stripped from the result.
func (s *ExamService) ListForStudent(ctx context.Context, identifier string) ([]model.Exam, error) {
	identifiers := []string{identifier}
	student, err := s.resolver.Resolve(ctx, identifier)
	switch {
	case err == nil:
		identifiers = append(identifiers, student.ID, student.Email)
	case apperr.IsKind(err, apperr.KindNotFound):
	default:
		return nil, err
	}

	exams, err := s.exams.ListVisible(ctx, identifiers)
	if err != nil {
		return nil, fmt.Errorf("list visible exams: %w", err)
	}
	for i := range exams {
		exams[i].EnrolledStudents = nil
	}
	return exams, nil
}

// GetForStudent returns an exam with its roster stripped.
func (s *ExamService) GetForStudent(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exam.Status == model.ExamStatusDraft {
		return nil, ErrExamNotFound
	}
	exam.EnrolledStudents = nil
	return exam, nil
}

// PublishResults aggregates statistics over the exam's attempts, completes the
// exam and integrates every submitted attempt into the grade records. Publishing
// again recomputes the same figures and re-applies the same grades.
func (s *ExamService) PublishResults(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error) {
	exam, err := s.GetOwned(ctx, id, facultyID)
	if err != nil {
		return nil, err
	}

	attempts, err := s.attempts.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	submitted := make([]model.Attempt, 0, len(attempts))
	for _, a := range attempts {
		if a.Status == model.AttemptStatusSubmitted {
			submitted = append(submitted, a)
		}
	}
	stats := ComputeStats(len(attempts), submitted)

	published, err := s.exams.SavePublication(ctx, exam.ID, stats, s.now())
	if err != nil {
		return nil, notFoundAs(err, ErrExamNotFound, "save publication")
	}

	integrated := 0
	for i := range submitted {
		if s.grades.Integrate(ctx, &submitted[i]) {
			integrated++
		}
	}

	s.metrics.ResultsPublished()
	s.publish(ctx, model.MonitorEvent{Type: model.MonitorResultsPublished, ExamID: exam.ID})
	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Int("attempts", len(attempts)).
		Int("submitted", len(submitted)).
		Int("integrated", integrated).
		Msg("Results published")
	return published, nil
}

// ComputeStats aggregates score statistics over the submitted attempts.
// Score fields stay nil when nothing was submitted.
func ComputeStats(totalAttempts int, submitted []model.Attempt) model.ExamStats {
	stats := model.ExamStats{
		TotalAttempts:  totalAttempts,
		SubmittedCount: len(submitted),
	}
	if len(submitted) == 0 {
		return stats
	}

	sum := 0.0
	high := submitted[0].TotalScore
	low := submitted[0].TotalScore
	for _, a := range submitted {
		sum += a.TotalScore
		if a.TotalScore > high {
			high = a.TotalScore
		}
		if a.TotalScore < low {
			low = a.TotalScore
		}
	}
	avg := sum / float64(len(submitted))
	stats.AverageScore = &avg
	stats.HighestScore = &high
	stats.LowestScore = &low
	return stats
}

func (s *ExamService) draftOwned(ctx context.Context, id uuid.UUID, facultyID string) (*model.Exam, error) {
	exam, err := s.GetOwned(ctx, id, facultyID)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusDraft {
		return nil, ErrExamNotDraft
	}
	return exam, nil
}

func (s *ExamService) ensureQuestionsExist(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := s.questions.FindAllByID(ctx, ids)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	for _, qid := range ids {
		if _, ok := found[qid]; !ok {
			return apperr.Wrap(ErrQuestionNotFound, fmt.Errorf("question %s", qid))
		}
	}
	return nil
}

func (s *ExamService) publish(ctx context.Context, ev model.MonitorEvent) {
	if s.events == nil {
		return
	}
	ev.Timestamp = s.now()
	if err := s.events.PublishMonitorEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("exam_id", ev.ExamID.String()).Msg("Failed to publish monitor event")
	}
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(strings.TrimSpace(r))
		if err != nil {
			return nil, apperr.Wrap(apperr.BadRequest("INVALID_ID", "invalid question id"), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func dedupeUUIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
