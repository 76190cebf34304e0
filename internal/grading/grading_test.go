package grading

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exam-engine/internal/model"
)

func mcq(marks int, correct string) *model.Question {
	return &model.Question{
		ID:            uuid.New(),
		Type:          model.QuestionTypeMCQ,
		Options:       []string{"A", "B", "C", "D"},
		CorrectAnswer: correct,
		Marks:         marks,
	}
}

func bank(qs ...*model.Question) ([]uuid.UUID, map[uuid.UUID]*model.Question) {
	ids := make([]uuid.UUID, 0, len(qs))
	m := make(map[uuid.UUID]*model.Question, len(qs))
	for _, q := range qs {
		ids = append(ids, q.ID)
		m[q.ID] = q
	}
	return ids, m
}

func TestEvaluate_SkipVersusWrong(t *testing.T) {
	q1, q2, q3, q4 := mcq(4, "A"), mcq(4, "B"), mcq(4, "C"), mcq(4, "D")
	ids, questions := bank(q1, q2, q3, q4)
	cfg := Config{TotalMarks: 16, NegativeMark: true, NegativeMarkPercent: 25}

	res := Evaluate(cfg, ids, questions, model.Answers{
		q1.ID.String(): "A",
		q2.ID.String(): "B",
		q3.ID.String(): "A",
		// q4 skipped
	})

	assert.Equal(t, 4.0, res.QuestionMarks[q1.ID.String()])
	assert.Equal(t, 4.0, res.QuestionMarks[q2.ID.String()])
	assert.Equal(t, -1.0, res.QuestionMarks[q3.ID.String()])
	assert.Equal(t, 0.0, res.QuestionMarks[q4.ID.String()])
	assert.Equal(t, 7.0, res.TotalScore)
	assert.InDelta(t, 43.75, res.Percentage, 1e-9)
	assert.Equal(t, "F", res.Grade)
	assert.True(t, res.FullyEvaluated)
}

func TestEvaluate_WhitespaceOnlyIsSkipped(t *testing.T) {
	q := mcq(5, "B")
	ids, questions := bank(q)

	res := Evaluate(Config{TotalMarks: 5, NegativeMark: true, NegativeMarkPercent: 50}, ids, questions,
		model.Answers{q.ID.String(): "   "})

	assert.Equal(t, 0.0, res.QuestionMarks[q.ID.String()])
	assert.Equal(t, 0.0, res.TotalScore)
}

func TestEvaluate_TrimmedMatch(t *testing.T) {
	q := mcq(2, "Paris")
	ids, questions := bank(q)

	res := Evaluate(Config{TotalMarks: 2}, ids, questions, model.Answers{q.ID.String(): " Paris\n"})

	assert.Equal(t, 2.0, res.TotalScore)
	assert.Equal(t, "A", res.Grade)
}

func TestEvaluate_TotalClampedAtZero(t *testing.T) {
	q1, q2 := mcq(4, "A"), mcq(4, "A")
	ids, questions := bank(q1, q2)

	res := Evaluate(Config{TotalMarks: 8, NegativeMark: true, NegativeMarkPercent: 100}, ids, questions,
		model.Answers{q1.ID.String(): "B", q2.ID.String(): "C"})

	assert.Equal(t, -4.0, res.QuestionMarks[q1.ID.String()])
	assert.Equal(t, -4.0, res.QuestionMarks[q2.ID.String()])
	assert.Equal(t, 0.0, res.TotalScore)
	assert.Equal(t, 0.0, res.Percentage)
	assert.Equal(t, "F", res.Grade)
}

func TestEvaluate_NoPenaltyWhenDisabled(t *testing.T) {
	q := mcq(4, "A")
	ids, questions := bank(q)

	res := Evaluate(Config{TotalMarks: 4, NegativeMarkPercent: 25}, ids, questions,
		model.Answers{q.ID.String(): "B"})

	assert.Equal(t, 0.0, res.QuestionMarks[q.ID.String()])
}

func TestEvaluate_DescriptiveBlocksFullEvaluation(t *testing.T) {
	q1 := mcq(5, "A")
	essay := &model.Question{ID: uuid.New(), Type: model.QuestionTypeDescriptive, Marks: 10}
	ids, questions := bank(q1, essay)

	res := Evaluate(Config{TotalMarks: 15}, ids, questions, model.Answers{
		q1.ID.String():    "A",
		essay.ID.String(): "Photosynthesis converts light into chemical energy.",
	})

	assert.False(t, res.FullyEvaluated)
	assert.Equal(t, 5.0, res.TotalScore)
	assert.Equal(t, 0.0, res.QuestionMarks[essay.ID.String()])
	assert.Equal(t, "Photosynthesis converts light into chemical energy.", res.DescriptiveAnswers[essay.ID.String()])
}

func TestEvaluate_MissingQuestionSkipped(t *testing.T) {
	q := mcq(5, "A")
	ids, questions := bank(q)
	orphan := uuid.New()
	ids = append(ids, orphan)

	res := Evaluate(Config{TotalMarks: 10}, ids, questions, model.Answers{
		q.ID.String():   "A",
		orphan.String(): "A",
	})

	require.Len(t, res.QuestionMarks, 1)
	assert.NotContains(t, res.QuestionMarks, orphan.String())
	assert.Equal(t, 5.0, res.TotalScore)
	assert.Equal(t, 50.0, res.Percentage)
	assert.True(t, res.FullyEvaluated)
}

func TestPercentage_ZeroTotal(t *testing.T) {
	assert.Equal(t, 0.0, Percentage(10, 0))
	assert.Equal(t, 0.0, Percentage(10, -5))
	assert.Equal(t, 50.0, Percentage(5, 10))
}

func TestLetterGrade_Boundaries(t *testing.T) {
	cases := []struct {
		pct  float64
		want string
	}{
		{100, "A"},
		{90.0, "A"},
		{89.9999, "B"},
		{80, "B"},
		{79.99, "C"},
		{70, "C"},
		{69.5, "D"},
		{60, "D"},
		{59.9999, "F"},
		{0, "F"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LetterGrade(tc.pct), "pct=%v", tc.pct)
	}
}

func TestRecomputeGrade(t *testing.T) {
	g := &model.Grade{ExamMarks: 90, AssignmentMarks: 80, ProjectMarks: 100, ParticipationMarks: 90}

	RecomputeGrade(g)

	assert.Equal(t, 360.0, g.TotalMarks)
	assert.InDelta(t, 9.0, g.CGPA, 1e-9)
	assert.Equal(t, "A", g.Grade)

	g.ExamMarks = 10
	RecomputeGrade(g)
	assert.Equal(t, 280.0, g.TotalMarks)
	assert.InDelta(t, 7.0, g.CGPA, 1e-9)
	assert.Equal(t, "C", g.Grade)
}
