package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	GradeSyncPollTimeout = 1 * time.Second
	GradeSyncRetryDelay  = 5 * time.Second
)

// GradeQueue is the retry list filled by best-effort grade integration.
type GradeQueue interface {
	PopBatch(ctx context.Context, max int, timeout time.Duration) ([]string, error)
	Requeue(ctx context.Context, ids []string) error
}

// GradeIntegrator re-applies a submitted attempt's score to its grade record.
type GradeIntegrator interface {
	IntegrateByID(ctx context.Context, attemptID uuid.UUID) error
}

// GradeSyncWorker drains the grade retry queue in batches and requeues ids that
// still fail.
type GradeSyncWorker struct {
	queue      GradeQueue
	grades     GradeIntegrator
	batchSize  int
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewGradeSyncWorker creates a new GradeSyncWorker.
func NewGradeSyncWorker(queue GradeQueue, grades GradeIntegrator, batchSize int, log zerolog.Logger) *GradeSyncWorker {
	if batchSize < 1 {
		batchSize = 1
	}
	return &GradeSyncWorker{
		queue:      queue,
		grades:     grades,
		batchSize:  batchSize,
		retryDelay: GradeSyncRetryDelay,
		log:        log.With().Str("component", "grade_sync_worker").Logger(),
	}
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *GradeSyncWorker) Start(ctx context.Context) {
	w.log.Info().Msg("GradeSyncWorker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("GradeSyncWorker stopped")
			return
		default:
		}

		batch, err := w.queue.PopBatch(ctx, w.batchSize, GradeSyncPollTimeout)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error().Err(err).Msg("Failed to pop grade sync batch")
				w.sleep(ctx)
			}
			continue
		}
		if len(batch) == 0 {
			continue
		}

		if failed := w.Process(ctx, batch); len(failed) > 0 {
			w.sleep(ctx)
		}
	}
}

// Process integrates every id in batch and returns the ids that were requeued.
// Malformed ids are dropped.
func (w *GradeSyncWorker) Process(ctx context.Context, batch []string) []string {
	var failed []string
	for _, raw := range batch {
		id, err := uuid.Parse(raw)
		if err != nil {
			w.log.Error().Err(err).Str("payload", raw).Msg("Invalid attempt id in grade sync queue")
			continue
		}
		if err := w.grades.IntegrateByID(ctx, id); err != nil {
			w.log.Warn().Err(err).Str("attempt_id", raw).Msg("Grade sync failed, requeueing")
			failed = append(failed, raw)
		}
	}

	if len(failed) > 0 {
		// Requeue with a fresh context so ids survive shutdown.
		if err := w.queue.Requeue(context.WithoutCancel(ctx), failed); err != nil {
			w.log.Error().Err(err).Int("count", len(failed)).Msg("Failed to requeue grade sync ids")
		}
	}

	w.log.Debug().Int("processed", len(batch)).Int("failed", len(failed)).Msg("Grade sync batch done")
	return failed
}

func (w *GradeSyncWorker) sleep(ctx context.Context) {
	t := time.NewTimer(w.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
