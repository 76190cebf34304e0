package service

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/repository"
)

var testLog = zerolog.Nop()

// fakeStudents is an in-memory StudentDirectory.
type fakeStudents struct {
	students []model.Student
	err      error
}

func (f *fakeStudents) FindByID(_ context.Context, id string) (*model.Student, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, s := range f.students {
		if s.ID == id {
			s := s
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStudents) FindByEmail(_ context.Context, email string) (*model.Student, error) {
	for _, s := range f.students {
		if strings.EqualFold(s.Email, email) {
			s := s
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStudents) FindByEmailPrefix(_ context.Context, prefix string) ([]model.Student, error) {
	var out []model.Student
	for _, s := range f.students {
		if strings.HasPrefix(strings.ToLower(s.Email), strings.ToLower(prefix)+"@") {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStudents) ListEmails(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(f.students))
	for _, s := range f.students {
		out = append(out, s.Email)
	}
	return out, nil
}

// fakeExams is an in-memory ExamStore.
type fakeExams struct {
	mu    sync.Mutex
	exams map[uuid.UUID]*model.Exam
}

func newFakeExams(exams ...*model.Exam) *fakeExams {
	f := &fakeExams{exams: map[uuid.UUID]*model.Exam{}}
	for _, e := range exams {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		f.exams[e.ID] = cloneExam(e)
	}
	return f
}

func cloneExam(e *model.Exam) *model.Exam {
	c := *e
	c.QuestionIDs = slices.Clone(e.QuestionIDs)
	c.EnrolledStudents = slices.Clone(e.EnrolledStudents)
	return &c
}

func (f *fakeExams) get(id uuid.UUID) *model.Exam {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.exams[id]; ok {
		return cloneExam(e)
	}
	return nil
}

func (f *fakeExams) Create(_ context.Context, e *model.Exam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	f.exams[e.ID] = cloneExam(e)
	return nil
}

func (f *fakeExams) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	if e := f.get(id); e != nil {
		return e, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeExams) ListByFaculty(_ context.Context, facultyID string, limit, offset int) ([]model.Exam, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []model.Exam
	for _, e := range f.exams {
		if e.FacultyID == facultyID {
			all = append(all, *cloneExam(e))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Title < all[j].Title })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	return all[offset:min(total, offset+limit)], total, nil
}

func (f *fakeExams) ListVisible(_ context.Context, identifiers []string) ([]model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Exam
	for _, e := range f.exams {
		live := e.Status == model.ExamStatusScheduled || e.Status == model.ExamStatusOngoing
		if live || e.IsEnrolled(identifiers...) {
			out = append(out, *cloneExam(e))
		}
	}
	return out, nil
}

func (f *fakeExams) UpdateContent(_ context.Context, e *model.Exam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.exams[e.ID]
	if !ok || cur.Status != model.ExamStatusDraft {
		return repository.ErrStale
	}
	c := cloneExam(e)
	c.QuestionIDs = cur.QuestionIDs
	c.EnrolledStudents = cur.EnrolledStudents
	f.exams[e.ID] = c
	return nil
}

func (f *fakeExams) SetQuestionIDs(_ context.Context, id uuid.UUID, questionIDs []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.exams[id]
	if !ok || cur.Status != model.ExamStatusDraft {
		return repository.ErrStale
	}
	cur.QuestionIDs = slices.Clone(questionIDs)
	return nil
}

func (f *fakeExams) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.exams[id]
	if !ok || cur.Status != model.ExamStatusDraft {
		return repository.ErrStale
	}
	delete(f.exams, id)
	return nil
}

func (f *fakeExams) UpdateSchedule(_ context.Context, id uuid.UUID, start, end time.Time, enrolled []string) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.exams[id]
	if !ok || cur.Status == model.ExamStatusCompleted {
		return nil, repository.ErrStale
	}
	cur.Status = model.ExamStatusScheduled
	cur.StartTime = &start
	cur.EndTime = &end
	cur.EnrolledStudents = slices.Clone(enrolled)
	return cloneExam(cur), nil
}

func (f *fakeExams) MarkOngoing(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.exams[id]
	if !ok || cur.Status != model.ExamStatusScheduled {
		return false, nil
	}
	cur.Status = model.ExamStatusOngoing
	return true, nil
}

func (f *fakeExams) SavePublication(_ context.Context, id uuid.UUID, stats model.ExamStats, publishedAt time.Time) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.exams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cur.AverageScore = stats.AverageScore
	cur.HighestScore = stats.HighestScore
	cur.LowestScore = stats.LowestScore
	cur.TotalAttempts = stats.TotalAttempts
	cur.SubmittedCount = stats.SubmittedCount
	cur.ResultsPublished = true
	cur.ResultsPublishedAt = &publishedAt
	cur.Status = model.ExamStatusCompleted
	return cloneExam(cur), nil
}

// fakeQuestions is an in-memory QuestionStore.
type fakeQuestions struct {
	mu        sync.Mutex
	questions map[uuid.UUID]*model.Question
	inUse     map[uuid.UUID]bool
	creates   int
}

func newFakeQuestions(qs ...*model.Question) *fakeQuestions {
	f := &fakeQuestions{questions: map[uuid.UUID]*model.Question{}, inUse: map[uuid.UUID]bool{}}
	for _, q := range qs {
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		c := *q
		f.questions[q.ID] = &c
	}
	return f
}

func (f *fakeQuestions) Create(_ context.Context, q *model.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q.ID = uuid.New()
	c := *q
	f.questions[q.ID] = &c
	f.creates++
	return nil
}

func (f *fakeQuestions) GetByID(_ context.Context, id uuid.UUID) (*model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.questions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *q
	return &c, nil
}

func (f *fakeQuestions) FindAllByID(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]*model.Question, len(ids))
	for _, id := range ids {
		if q, ok := f.questions[id]; ok {
			c := *q
			out[id] = &c
		}
	}
	return out, nil
}

func (f *fakeQuestions) List(_ context.Context, facultyID, subject string, limit, offset int) ([]model.Question, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []model.Question
	for _, q := range f.questions {
		if q.FacultyID == facultyID && (subject == "" || q.Subject == subject) {
			all = append(all, *q)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Text < all[j].Text })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	return all[offset:min(total, offset+limit)], total, nil
}

func (f *fakeQuestions) Update(_ context.Context, q *model.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.questions[q.ID]; !ok {
		return repository.ErrNotFound
	}
	c := *q
	f.questions[q.ID] = &c
	return nil
}

func (f *fakeQuestions) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.questions[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.questions, id)
	return nil
}

func (f *fakeQuestions) IsReferencedByLiveExam(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inUse[id], nil
}

// fakeAttempts is an in-memory AttemptStore whose guarded writes mirror the SQL.
type fakeAttempts struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*model.Attempt
	clock    time.Time
	creates  int
	// beforeComplete runs once, unlocked, before the next CompleteSubmission.
	beforeComplete func()
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{
		attempts: map[uuid.UUID]*model.Attempt{},
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func cloneAttempt(a *model.Attempt) *model.Attempt {
	c := *a
	c.Answers = maps.Clone(a.Answers)
	c.QuestionMarks = maps.Clone(a.QuestionMarks)
	c.DescriptiveAnswers = maps.Clone(a.DescriptiveAnswers)
	return &c
}

// tick returns a strictly increasing updated_at. Callers hold mu.
func (f *fakeAttempts) tick() time.Time {
	f.clock = f.clock.Add(time.Millisecond)
	return f.clock
}

func (f *fakeAttempts) put(a *model.Attempt) *model.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Answers == nil {
		a.Answers = model.Answers{}
	}
	a.UpdatedAt = f.tick()
	f.attempts[a.ID] = cloneAttempt(a)
	return a
}

func (f *fakeAttempts) get(id uuid.UUID) *model.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.attempts[id]; ok {
		return cloneAttempt(a)
	}
	return nil
}

func (f *fakeAttempts) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	if a := f.get(id); a != nil {
		return a, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAttempts) FindOngoing(_ context.Context, examID uuid.UUID, studentID string) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.ExamID == examID && a.StudentID == studentID && a.Status == model.AttemptStatusOngoing {
			return cloneAttempt(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAttempts) CreateOngoing(_ context.Context, a *model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cur := range f.attempts {
		if cur.ExamID == a.ExamID && cur.StudentID == a.StudentID && cur.Status == model.AttemptStatusOngoing {
			return repository.ErrConflict
		}
	}
	a.ID = uuid.New()
	a.UpdatedAt = f.tick()
	f.attempts[a.ID] = cloneAttempt(a)
	f.creates++
	return nil
}

func (f *fakeAttempts) SaveAnswer(_ context.Context, id uuid.UUID, questionID, answer string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok || a.Status != model.AttemptStatusOngoing {
		return time.Time{}, repository.ErrStale
	}
	if a.Answers == nil {
		a.Answers = model.Answers{}
	}
	a.Answers[questionID] = answer
	a.UpdatedAt = f.tick()
	return a.UpdatedAt, nil
}

func (f *fakeAttempts) CompleteSubmission(_ context.Context, id uuid.UUID, prevUpdatedAt time.Time, sub model.Submission) (*model.Attempt, error) {
	f.mu.Lock()
	hook := f.beforeComplete
	f.beforeComplete = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok || a.Status != model.AttemptStatusOngoing || !a.UpdatedAt.Equal(prevUpdatedAt) {
		return nil, repository.ErrStale
	}
	submittedAt := sub.SubmittedAt
	a.Status = model.AttemptStatusSubmitted
	a.SubmittedAt = &submittedAt
	a.QuestionMarks = sub.QuestionMarks
	a.DescriptiveAnswers = sub.DescriptiveAnswers
	a.TotalScore = sub.TotalScore
	a.Percentage = sub.Percentage
	a.Grade = sub.Grade
	a.TimeSpentSeconds = sub.TimeSpentSeconds
	a.FullyEvaluated = sub.FullyEvaluated
	a.UpdatedAt = f.tick()
	return cloneAttempt(a), nil
}

func (f *fakeAttempts) MarkGradeIntegrated(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.GradeIntegrated = true
	return nil
}

func (f *fakeAttempts) ListByStudent(_ context.Context, studentID string) ([]model.Attempt, error) {
	return f.filter(func(a *model.Attempt) bool { return a.StudentID == studentID }), nil
}

func (f *fakeAttempts) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Attempt, error) {
	return f.filter(func(a *model.Attempt) bool { return a.ExamID == examID }), nil
}

func (f *fakeAttempts) ListDueForAutoSubmit(_ context.Context, _ time.Time, _ int) ([]uuid.UUID, error) {
	return nil, errors.New("fakeAttempts: use dueAttempts")
}

func (f *fakeAttempts) filter(keep func(*model.Attempt) bool) []model.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Attempt
	for _, a := range f.attempts {
		if keep(a) {
			out = append(out, *cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (f *fakeAttempts) ongoingCount(examID uuid.UUID, studentID string) int {
	n := 0
	for _, a := range f.filter(func(a *model.Attempt) bool { return a.ExamID == examID && a.StudentID == studentID }) {
		if a.Status == model.AttemptStatusOngoing {
			n++
		}
	}
	return n
}

// dueAttempts wraps fakeAttempts with the auto-submit query evaluated against fakeExams.
type dueAttempts struct {
	*fakeAttempts
	exams *fakeExams
}

func (d *dueAttempts) ListDueForAutoSubmit(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, a := range d.filter(func(a *model.Attempt) bool { return a.Status == model.AttemptStatusOngoing }) {
		exam := d.exams.get(a.ExamID)
		if exam == nil || !exam.AutoSubmitOnTimeout {
			continue
		}
		if now.After(exam.DeadlineFor(a.StartedAt)) {
			ids = append(ids, a.ID)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// fakeGrades is an in-memory GradeStore.
type fakeGrades struct {
	mu     sync.Mutex
	grades map[string]*model.Grade
	err    error
	calls  int
}

func newFakeGrades() *fakeGrades {
	return &fakeGrades{grades: map[string]*model.Grade{}}
}

func gradeKey(studentID, subject string) string { return studentID + "|" + subject }

func (f *fakeGrades) ApplyExamMarks(_ context.Context, studentID, studentName, subject string, examMarks float64, submittedAt time.Time, recompute func(*model.Grade)) (*model.Grade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	g, ok := f.grades[gradeKey(studentID, subject)]
	if !ok {
		g = &model.Grade{ID: uuid.New(), StudentID: studentID, Subject: subject}
		f.grades[gradeKey(studentID, subject)] = g
	}
	if g.ExamSubmittedAt != nil && g.ExamSubmittedAt.After(submittedAt) {
		c := *g
		return &c, repository.ErrStale
	}
	g.StudentName = studentName
	g.ExamMarks = examMarks
	g.ExamSubmittedAt = &submittedAt
	recompute(g)
	c := *g
	return &c, nil
}

func (f *fakeGrades) FindByStudentAndSubject(_ context.Context, studentID, subject string) (*model.Grade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grades[gradeKey(studentID, subject)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *g
	return &c, nil
}

func (f *fakeGrades) ListByStudent(_ context.Context, studentID string) ([]model.Grade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Grade
	for _, g := range f.grades {
		if g.StudentID == studentID {
			out = append(out, *g)
		}
	}
	return out, nil
}

// fakePapers is an in-memory PaperCache.
type fakePapers struct {
	mu          sync.Mutex
	papers      map[uuid.UUID]*model.ExamPaper
	sets        int
	invalidated []uuid.UUID
}

func newFakePapers() *fakePapers {
	return &fakePapers{papers: map[uuid.UUID]*model.ExamPaper{}}
}

func (f *fakePapers) GetPaper(_ context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.papers[examID]
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	return clonePaper(p), nil
}

func (f *fakePapers) SetPaper(_ context.Context, paper *model.ExamPaper, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.papers[paper.ExamID] = clonePaper(paper)
	f.sets++
	return nil
}

func (f *fakePapers) InvalidatePaper(_ context.Context, examID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.papers, examID)
	f.invalidated = append(f.invalidated, examID)
	return nil
}

// fakeEvents records published monitor events.
type fakeEvents struct {
	mu     sync.Mutex
	events []model.MonitorEvent
}

func (f *fakeEvents) PublishMonitorEvent(_ context.Context, ev model.MonitorEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEvents) types() []model.MonitorEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.MonitorEventType, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}

// fakeRetry records queued grade retries.
type fakeRetry struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (f *fakeRetry) EnqueueGradeSync(_ context.Context, attemptID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, attemptID)
	return nil
}

// fixture wires every service over shared fakes.
type fixture struct {
	now       time.Time
	students  *fakeStudents
	exams     *fakeExams
	questions *fakeQuestions
	attempts  *fakeAttempts
	grades    *fakeGrades
	papers    *fakePapers
	events    *fakeEvents
	retry     *fakeRetry

	gradeSvc    *GradeService
	examSvc     *ExamService
	attemptSvc  *AttemptService
	questionSvc *QuestionService
}

func newFixture() *fixture {
	f := &fixture{
		now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		students: &fakeStudents{students: []model.Student{
			{ID: "stu-1", Name: "Ada Lovelace", Email: "ada@uni.edu"},
			{ID: "stu-2", Name: "Alan Turing", Email: "alan@uni.edu"},
		}},
		exams:     newFakeExams(),
		questions: newFakeQuestions(),
		attempts:  newFakeAttempts(),
		grades:    newFakeGrades(),
		papers:    newFakePapers(),
		events:    &fakeEvents{},
		retry:     &fakeRetry{},
	}
	f.gradeSvc = NewGradeService(f.grades, f.attempts, f.students, f.retry, nil, testLog)
	f.examSvc = NewExamService(f.exams, f.questions, f.attempts, f.students, f.papers, f.gradeSvc, f.events, nil, testLog)
	f.attemptSvc = NewAttemptService(f.exams, f.questions, f.attempts, f.students, f.papers, f.gradeSvc, f.events, nil, time.Hour, testLog)
	f.questionSvc = NewQuestionService(f.questions, f.examSvc, nil, testLog)
	clock := func() time.Time { return f.now }
	f.examSvc.now = clock
	f.attemptSvc.now = clock
	return f
}

// scheduledExam stores a SCHEDULED exam open from one hour ago to one hour ahead.
func (f *fixture) scheduledExam(questions ...*model.Question) *model.Exam {
	start := f.now.Add(-time.Hour)
	end := f.now.Add(time.Hour)
	exam := &model.Exam{
		ID:               uuid.New(),
		Title:            "Midterm",
		Subject:          "Physics",
		FacultyID:        "fac-1",
		DurationMinutes:  60,
		TotalMarks:       0,
		Status:           model.ExamStatusScheduled,
		StartTime:        &start,
		EndTime:          &end,
		EnrolledStudents: []string{"ada@uni.edu", "stu-1"},
	}
	for _, q := range questions {
		f.questions.questions[q.ID] = q
		exam.QuestionIDs = append(exam.QuestionIDs, q.ID)
		exam.TotalMarks += q.Marks
	}
	f.exams.exams[exam.ID] = cloneExam(exam)
	return exam
}

func mcqQuestion(marks int, correct string) *model.Question {
	return &model.Question{
		ID:            uuid.New(),
		FacultyID:     "fac-1",
		Type:          model.QuestionTypeMCQ,
		Subject:       "Physics",
		Text:          "Pick " + correct,
		Options:       []string{"A", "B", "C", "D"},
		CorrectAnswer: correct,
		Marks:         marks,
		Active:        true,
	}
}

func descriptiveQuestion(marks int) *model.Question {
	return &model.Question{
		ID:        uuid.New(),
		FacultyID: "fac-1",
		Type:      model.QuestionTypeDescriptive,
		Subject:   "Physics",
		Text:      "Explain inertia",
		Marks:     marks,
		Active:    true,
	}
}
