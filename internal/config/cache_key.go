package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamPaperKey returns the cache key for an exam's student-facing question paper
func (r *CacheKeyStruct) ExamPaperKey(examID string) string {
	return fmt.Sprintf("exam:%s:paper", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// AnswerRateLimitKey returns the fixed-window counter key for a student's answer saves
func (r *CacheKeyStruct) AnswerRateLimitKey(studentID string) string {
	return fmt.Sprintf("ratelimit:answers:%s", studentID)
}

var CacheKey = NewCacheKeyStruct()
