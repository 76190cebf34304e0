package service

import (
	"errors"
	"fmt"

	"github.com/stemsi/exam-engine/internal/apperr"
	"github.com/stemsi/exam-engine/internal/repository"
)

// Domain errors surfaced by the services.
var (
	ErrExamNotFound     = apperr.NotFound("EXAM_NOT_FOUND", "exam not found")
	ErrQuestionNotFound = apperr.NotFound("QUESTION_NOT_FOUND", "question not found")
	ErrAttemptNotFound  = apperr.NotFound("ATTEMPT_NOT_FOUND", "attempt not found")
	ErrStudentNotFound  = apperr.NotFound("STUDENT_NOT_FOUND", "student not found")

	ErrNotExamOwner     = apperr.Forbidden("NOT_EXAM_OWNER", "you do not own this exam")
	ErrNotQuestionOwner = apperr.Forbidden("NOT_QUESTION_OWNER", "you do not own this question")
	ErrNotAttemptOwner  = apperr.Forbidden("NOT_ATTEMPT_OWNER", "this attempt belongs to another student")

	ErrExamNotDraft      = apperr.BadRequest("EXAM_NOT_DRAFT", "exam can only be changed while in DRAFT")
	ErrExamCompleted     = apperr.BadRequest("EXAM_COMPLETED", "exam is completed")
	ErrExamNotScheduled  = apperr.BadRequest("EXAM_NOT_SCHEDULED", "exam has not been scheduled")
	ErrExamNotStarted    = apperr.BadRequest("EXAM_NOT_STARTED", "exam has not started yet")
	ErrExamEnded         = apperr.BadRequest("EXAM_ENDED", "exam window has closed")
	ErrStartTimeRequired = apperr.BadRequest("START_TIME_REQUIRED", "a start time is required to schedule the exam")
	ErrInvalidWindow     = apperr.BadRequest("INVALID_WINDOW", "end time must be after start time")
	ErrEmptyRoster       = apperr.BadRequest("EMPTY_ROSTER", "at least one student must be enrolled")
	ErrAttemptNotOngoing = apperr.BadRequest("ATTEMPT_NOT_ONGOING", "attempt is not in progress")
	ErrQuestionNotInExam = apperr.BadRequest("QUESTION_NOT_IN_EXAM", "question is not part of this exam")
	ErrInvalidQuestion   = apperr.BadRequest("INVALID_QUESTION", "invalid question")
	ErrQuestionInUse     = apperr.BadRequest("QUESTION_IN_USE", "question is referenced by a scheduled or completed exam")
	ErrGeneratorDisabled = apperr.BadRequest("GENERATOR_NOT_CONFIGURED", "question generator is not configured")
	ErrSubmitContention  = apperr.New(apperr.KindInternal, "SUBMIT_CONTENTION", "attempt kept changing during submission")
)

// notFoundAs maps a repository miss onto the given domain error and wraps anything else.
func notFoundAs(err error, notFound *apperr.Error, op string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
