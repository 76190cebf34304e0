package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exam-engine/internal/config"
)

// GradeQueueRepository is the Redis list holding attempt ids whose grade
// integration must be retried.
type GradeQueueRepository struct {
	rdb *redis.Client
}

// NewGradeQueueRepository creates a new GradeQueueRepository.
func NewGradeQueueRepository(rdb *redis.Client) *GradeQueueRepository {
	return &GradeQueueRepository{rdb: rdb}
}

// EnqueueGradeSync schedules a retry for attemptID.
func (r *GradeQueueRepository) EnqueueGradeSync(ctx context.Context, attemptID uuid.UUID) error {
	return r.rdb.RPush(ctx, config.WorkerKey.GradeSyncQueue, attemptID.String()).Err()
}

// PopBatch blocks up to timeout for the first id, then drains up to max-1 more
// without blocking. An empty slice means the timeout elapsed.
func (r *GradeQueueRepository) PopBatch(ctx context.Context, max int, timeout time.Duration) ([]string, error) {
	result, err := r.rdb.BLPop(ctx, timeout, config.WorkerKey.GradeSyncQueue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	// result[0] is the key name, result[1] the value.
	batch := []string{result[1]}
	for len(batch) < max {
		val, err := r.rdb.LPop(ctx, config.WorkerKey.GradeSyncQueue).Result()
		if err != nil {
			break
		}
		batch = append(batch, val)
	}
	return batch, nil
}

// Requeue pushes ids back onto the queue.
func (r *GradeQueueRepository) Requeue(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.rdb.RPush(ctx, config.WorkerKey.GradeSyncQueue, args...).Err()
}

// Depth returns the number of attempts awaiting a grade retry.
func (r *GradeQueueRepository) Depth(ctx context.Context) (int64, error) {
	return r.rdb.LLen(ctx, config.WorkerKey.GradeSyncQueue).Result()
}
