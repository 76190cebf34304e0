package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/model"
)

// MonitorRepository provides data access for the live exam monitoring feature.
// It combines PostgreSQL (attempt progress) and Redis Pub/Sub (live events).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// PublishMonitorEvent sends ev on the exam's monitor channel.
func (r *MonitorRepository) PublishMonitorEvent(ctx context.Context, ev model.MonitorEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode monitor event: %w", err)
	}
	return r.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID.String()), payload).Err()
}

// Listen subscribes to the exam's monitor channel and decodes events until ctx is
// cancelled or the returned close function is called.
func (r *MonitorRepository) Listen(ctx context.Context, examID uuid.UUID) (<-chan model.MonitorEvent, func() error, error) {
	sub := r.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe monitor channel: %w", err)
	}

	out := make(chan model.MonitorEvent, 16)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev model.MonitorEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, sub.Close, nil
}

// AnsweredCounts returns the number of answered questions per student for the exam's
// ONGOING attempts.
func (r *MonitorRepository) AnsweredCounts(ctx context.Context, examID uuid.UUID) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, (SELECT COUNT(*) FROM jsonb_object_keys(answers))
		 FROM attempts
		 WHERE exam_id = $1 AND status = 'ONGOING'`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var sid string
		var count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		result[sid] = count
	}
	return result, rows.Err()
}
