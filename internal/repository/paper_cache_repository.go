package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/model"
)

// PaperCacheRepository caches the student-facing question paper of an exam in Redis.
type PaperCacheRepository struct {
	rdb *redis.Client
}

// NewPaperCacheRepository creates a new PaperCacheRepository.
func NewPaperCacheRepository(rdb *redis.Client) *PaperCacheRepository {
	return &PaperCacheRepository{rdb: rdb}
}

// GetPaper returns the cached paper or ErrCacheMiss.
func (r *PaperCacheRepository) GetPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	raw, err := r.rdb.Get(ctx, config.CacheKey.ExamPaperKey(examID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get paper: %w", err)
	}

	var paper model.ExamPaper
	if err := json.Unmarshal(raw, &paper); err != nil {
		return nil, fmt.Errorf("decode paper: %w", err)
	}
	return &paper, nil
}

// SetPaper stores the paper with the given TTL.
func (r *PaperCacheRepository) SetPaper(ctx context.Context, paper *model.ExamPaper, ttl time.Duration) error {
	raw, err := json.Marshal(paper)
	if err != nil {
		return fmt.Errorf("encode paper: %w", err)
	}
	return r.rdb.Set(ctx, config.CacheKey.ExamPaperKey(paper.ExamID.String()), raw, ttl).Err()
}

// InvalidatePaper drops the cached paper.
func (r *PaperCacheRepository) InvalidatePaper(ctx context.Context, examID uuid.UUID) error {
	return r.rdb.Del(ctx, config.CacheKey.ExamPaperKey(examID.String())).Err()
}
