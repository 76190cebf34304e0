package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/apperr"
	"github.com/stemsi/exam-engine/internal/generator"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/response"
)

// QuestionService handles the faculty question bank.
type QuestionService struct {
	questions QuestionStore
	exams     *ExamService
	generator generator.Generator
	log       zerolog.Logger
}

// NewQuestionService creates a new QuestionService. A nil generator disables Generate.
func NewQuestionService(questions QuestionStore, exams *ExamService, gen generator.Generator, log zerolog.Logger) *QuestionService {
	return &QuestionService{
		questions: questions,
		exams:     exams,
		generator: gen,
		log:       log.With().Str("component", "question_service").Logger(),
	}
}

// Create validates and stores a question owned by facultyID.
func (s *QuestionService) Create(ctx context.Context, facultyID string, req model.CreateQuestionRequest) (*model.Question, error) {
	q := &model.Question{
		FacultyID:     facultyID,
		Type:          req.Type,
		Subject:       strings.TrimSpace(req.Subject),
		Text:          strings.TrimSpace(req.Text),
		Options:       trimAll(req.Options),
		CorrectAnswer: strings.TrimSpace(req.CorrectAnswer),
		Explanation:   req.Explanation,
		Marks:         req.Marks,
		Active:        true,
	}
	if err := validateQuestion(q); err != nil {
		return nil, err
	}
	if err := s.questions.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	return q, nil
}

// GetOwned retrieves a question and checks that facultyID authored it.
func (s *QuestionService) GetOwned(ctx context.Context, id uuid.UUID, facultyID string) (*model.Question, error) {
	q, err := s.questions.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, ErrQuestionNotFound, "get question")
	}
	if q.FacultyID != facultyID {
		return nil, ErrNotQuestionOwner
	}
	return q, nil
}

// List returns facultyID's questions, optionally filtered by subject.
func (s *QuestionService) List(ctx context.Context, facultyID, subject string, page, perPage int) ([]model.Question, *response.Pagination, error) {
	page, perPage = normalizePage(page, perPage)
	items, total, err := s.questions.List(ctx, facultyID, strings.TrimSpace(subject), perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, fmt.Errorf("list questions: %w", err)
	}
	if items == nil {
		items = []model.Question{}
	}
	return items, response.NewPagination(page, perPage, total), nil
}

// Update changes a question that no scheduled or completed exam references.
func (s *QuestionService) Update(ctx context.Context, id uuid.UUID, facultyID string, req model.UpdateQuestionRequest) (*model.Question, error) {
	q, err := s.mutable(ctx, id, facultyID)
	if err != nil {
		return nil, err
	}

	if req.Subject != nil {
		q.Subject = strings.TrimSpace(*req.Subject)
	}
	if req.Text != nil {
		q.Text = strings.TrimSpace(*req.Text)
	}
	if req.Options != nil {
		q.Options = trimAll(*req.Options)
	}
	if req.CorrectAnswer != nil {
		q.CorrectAnswer = strings.TrimSpace(*req.CorrectAnswer)
	}
	if req.Explanation != nil {
		q.Explanation = *req.Explanation
	}
	if req.Marks != nil {
		q.Marks = *req.Marks
	}
	if req.Active != nil {
		q.Active = *req.Active
	}

	if err := validateQuestion(q); err != nil {
		return nil, err
	}
	if err := s.questions.Update(ctx, q); err != nil {
		return nil, notFoundAs(err, ErrQuestionNotFound, "update question")
	}
	return q, nil
}

// Delete removes a question that no scheduled or completed exam references.
func (s *QuestionService) Delete(ctx context.Context, id uuid.UUID, facultyID string) error {
	if _, err := s.mutable(ctx, id, facultyID); err != nil {
		return err
	}
	if err := s.questions.Delete(ctx, id); err != nil {
		return notFoundAs(err, ErrQuestionNotFound, "delete question")
	}
	return nil
}

// Generate asks the generator for questions, stores them under facultyID and, when
// req.ExamID is set, attaches them to that DRAFT exam.
func (s *QuestionService) Generate(ctx context.Context, facultyID string, req model.GenerateQuestionsRequest) ([]model.Question, error) {
	if s.generator == nil {
		return nil, ErrGeneratorDisabled
	}

	var examID uuid.UUID
	if req.ExamID != "" {
		id, err := uuid.Parse(req.ExamID)
		if err != nil {
			return nil, apperr.Wrap(ErrExamNotFound, err)
		}
		if _, err := s.exams.draftOwned(ctx, id, facultyID); err != nil {
			return nil, err
		}
		examID = id
	}

	generated, err := s.generator.Generate(ctx, generator.Request{
		Syllabus:   req.Syllabus,
		Subject:    strings.TrimSpace(req.Subject),
		Type:       req.Type,
		Count:      req.Count,
		Difficulty: req.Difficulty,
		Marks:      req.Marks,
	})
	if err != nil {
		if errors.Is(err, generator.ErrEmptyResponse) {
			return nil, apperr.Wrap(ErrInvalidQuestion, err)
		}
		return nil, fmt.Errorf("generate questions: %w", err)
	}

	saved := make([]model.Question, 0, len(generated))
	ids := make([]uuid.UUID, 0, len(generated))
	for i := range generated {
		q := generated[i]
		q.FacultyID = facultyID
		if err := validateQuestion(&q); err != nil {
			s.log.Warn().Err(err).Str("text", q.Text).Msg("Discarding generated question")
			continue
		}
		if err := s.questions.Create(ctx, &q); err != nil {
			return nil, fmt.Errorf("save generated question: %w", err)
		}
		saved = append(saved, q)
		ids = append(ids, q.ID)
	}

	if examID != uuid.Nil && len(ids) > 0 {
		if _, err := s.exams.AddQuestions(ctx, examID, facultyID, ids); err != nil {
			return nil, err
		}
	}

	s.log.Info().
		Str("faculty_id", facultyID).
		Str("subject", req.Subject).
		Int("requested", req.Count).
		Int("saved", len(saved)).
		Msg("Questions generated")
	return saved, nil
}

func (s *QuestionService) mutable(ctx context.Context, id uuid.UUID, facultyID string) (*model.Question, error) {
	q, err := s.GetOwned(ctx, id, facultyID)
	if err != nil {
		return nil, err
	}
	inUse, err := s.questions.IsReferencedByLiveExam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check question usage: %w", err)
	}
	if inUse {
		return nil, ErrQuestionInUse
	}
	return q, nil
}

func validateQuestion(q *model.Question) error {
	if q.Text == "" {
		return apperr.WithMessage(ErrInvalidQuestion, "question text is required")
	}
	if q.Marks <= 0 {
		return apperr.WithMessage(ErrInvalidQuestion, "marks must be positive")
	}
	switch q.Type {
	case model.QuestionTypeMCQ:
		if len(q.Options) < 2 {
			return apperr.WithMessage(ErrInvalidQuestion, "multiple choice questions need at least two options")
		}
		if !slices.Contains(q.Options, q.CorrectAnswer) {
			return apperr.WithMessage(ErrInvalidQuestion, "correct answer must match one of the options")
		}
	case model.QuestionTypeDescriptive:
		if len(q.Options) > 0 {
			return apperr.WithMessage(ErrInvalidQuestion, "descriptive questions take no options")
		}
	default:
		return apperr.WithMessage(ErrInvalidQuestion, "unknown question type")
	}
	return nil
}

func trimAll(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}
