// Package grading scores submitted answers. It is free of I/O so the same
// computation backs submission, auto-submit and any offline re-scoring.
package grading

import (
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/stemsi/exam-engine/internal/model"
)

// Config is the subset of exam settings that influences scoring.
type Config struct {
	TotalMarks          int
	NegativeMark        bool
	NegativeMarkPercent float64
}

// ConfigFor extracts the scoring configuration from an exam.
func ConfigFor(exam *model.Exam) Config {
	return Config{
		TotalMarks:          exam.TotalMarks,
		NegativeMark:        exam.NegativeMark,
		NegativeMarkPercent: exam.NegativeMarkPercent,
	}
}

// Result is the outcome of evaluating one attempt.
type Result struct {
	QuestionMarks      map[string]float64
	DescriptiveAnswers map[string]string
	TotalScore         float64
	Percentage         float64
	Grade              string
	FullyEvaluated     bool
}

// Evaluate scores answers against the exam's question list. Questions absent from
// the bank award nothing and are left out of QuestionMarks.
func Evaluate(cfg Config, questionIDs []uuid.UUID, questions map[uuid.UUID]*model.Question, answers model.Answers) Result {
	res := Result{
		QuestionMarks:      make(map[string]float64, len(questionIDs)),
		DescriptiveAnswers: make(map[string]string),
		FullyEvaluated:     true,
	}

	var total float64
	for _, qid := range questionIDs {
		q, ok := questions[qid]
		if !ok || q == nil {
			continue
		}
		key := qid.String()
		answer := answers[key]

		switch q.Type {
		case model.QuestionTypeMCQ:
			mark := scoreMCQ(cfg, q, answer)
			res.QuestionMarks[key] = mark
			total += mark
		case model.QuestionTypeDescriptive:
			res.QuestionMarks[key] = 0
			res.DescriptiveAnswers[key] = answer
			res.FullyEvaluated = false
		}
	}

	res.TotalScore = math.Max(0, total)
	res.Percentage = Percentage(res.TotalScore, cfg.TotalMarks)
	res.Grade = LetterGrade(res.Percentage)
	return res
}

func scoreMCQ(cfg Config, q *model.Question, answer string) float64 {
	given := strings.TrimSpace(answer)
	if given != "" && given == strings.TrimSpace(q.CorrectAnswer) {
		return float64(q.Marks)
	}
	// Skipped questions are never penalised.
	if cfg.NegativeMark && given != "" {
		return -(float64(q.Marks) * cfg.NegativeMarkPercent / 100)
	}
	return 0
}

// Percentage returns score as a percentage of total, or 0 when total is not positive.
func Percentage(score float64, total int) float64 {
	if total <= 0 {
		return 0
	}
	return score / float64(total) * 100
}

// LetterGrade maps a 0-100 percentage onto A-F with inclusive lower bounds.
func LetterGrade(pct float64) string {
	switch {
	case pct >= 90:
		return "A"
	case pct >= 80:
		return "B"
	case pct >= 70:
		return "C"
	case pct >= 60:
		return "D"
	default:
		return "F"
	}
}

// RecomputeGrade refreshes the derived fields of a grade record after one of its
// components changed.
func RecomputeGrade(g *model.Grade) {
	g.TotalMarks = g.ExamMarks + g.AssignmentMarks + g.ProjectMarks + g.ParticipationMarks
	g.CGPA = g.TotalMarks * 10 / model.MaxGradeTotal
	// letter from cgpa expressed on the 0-100 scale
	g.Grade = LetterGrade(g.TotalMarks * 100 / model.MaxGradeTotal)
}
