package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/adisharma29/tripcompass-sub000/pkg/redis"
)

var (
	ErrAlreadyProcessed   = errors.New("job already processed")
	ErrLockAcquireFailed  = errors.New("failed to acquire processing lock")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// IdempotencyConfig tunes the redis-side processing locks. The delivery
// ledger in Postgres is the durable idempotency layer; these locks only
// stop two consumers from racing on the same job while one is in flight.
type IdempotencyConfig struct {
	LockTTL time.Duration

	ProcessedTTL time.Duration

	MaxRetries int

	RetryKeyPrefix string

	LockKeyPrefix string

	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		ProcessedTTL:       24 * time.Hour,
		MaxRetries:         3,
		RetryKeyPrefix:     "delivery:retry:",
		LockKeyPrefix:      "delivery:lock:",
		ProcessedKeyPrefix: "delivery:done:",
	}
}

type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

type ProcessingContext struct {
	JobID        string
	RetryCount   int
	IsRetry      bool
	lockAcquired bool
	service      *IdempotencyService
}

func (s *IdempotencyService) AcquireProcessingLock(ctx context.Context, jobID string) (*ProcessingContext, error) {
	processedKey := s.config.ProcessedKeyPrefix + jobID
	exists, err := s.redis.Exist(processedKey)
	if err != nil {
		logger.Warn("failed to check processed marker", "job_id", jobID, "error", err)
		// A missed check risks a duplicate; blocking all processing is worse.
	} else if exists > 0 {
		return nil, ErrAlreadyProcessed
	}

	retryKey := s.config.RetryKeyPrefix + jobID
	retryCountBytes, err := s.redis.Get(retryKey)
	retryCount := 0
	if err == nil && len(retryCountBytes) > 0 {
		fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	}

	if retryCount >= s.config.MaxRetries {
		logger.Error("max retries exceeded", "job_id", jobID, "retry_count", retryCount)
		return nil, fmt.Errorf("%w: job_id=%s, retries=%d", ErrMaxRetriesExceeded, jobID, retryCount)
	}

	lockKey := s.config.LockKeyPrefix + jobID
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))

	acquired, err := s.redis.SetNX(lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		logger.Error("failed to acquire lock", "job_id", jobID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		return nil, ErrLockAcquireFailed
	}

	return &ProcessingContext{
		JobID:        jobID,
		RetryCount:   retryCount,
		IsRetry:      retryCount > 0,
		lockAcquired: true,
		service:      s,
	}, nil
}

func (s *IdempotencyService) MarkSuccess(ctx context.Context, pc *ProcessingContext) error {
	processedKey := s.config.ProcessedKeyPrefix + pc.JobID
	err := s.redis.Set(processedKey, []byte("1"), s.config.ProcessedTTL)
	if err != nil {
		logger.Error("failed to set processed marker", "job_id", pc.JobID, "error", err)
		return fmt.Errorf("failed to mark as processed: %w", err)
	}

	s.cleanup(ctx, pc)
	return nil
}

func (s *IdempotencyService) MarkFailure(ctx context.Context, pc *ProcessingContext, reason error) error {
	retryKey := s.config.RetryKeyPrefix + pc.JobID
	newRetryCount := pc.RetryCount + 1
	retryValue := []byte(fmt.Sprintf("%d", newRetryCount))

	if err := s.redis.Set(retryKey, retryValue, s.config.ProcessedTTL); err != nil {
		logger.Error("failed to increment retry counter", "job_id", pc.JobID, "error", err)
	}

	lockKey := s.config.LockKeyPrefix + pc.JobID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to remove lock", "job_id", pc.JobID, "error", err)
	}

	logger.Warn("job failed, will retry",
		"job_id", pc.JobID,
		"retry_count", newRetryCount,
		"max_retries", s.config.MaxRetries,
		"reason", reason)

	return nil
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, pc *ProcessingContext) error {
	if pc == nil || !pc.lockAcquired {
		return nil
	}

	lockKey := s.config.LockKeyPrefix + pc.JobID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to release lock", "job_id", pc.JobID, "error", err)
		return err
	}

	pc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) cleanup(ctx context.Context, pc *ProcessingContext) {
	lockKey := s.config.LockKeyPrefix + pc.JobID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to cleanup lock", "job_id", pc.JobID, "error", err)
	}

	retryKey := s.config.RetryKeyPrefix + pc.JobID
	if err := s.redis.Del(retryKey); err != nil {
		logger.Warn("failed to cleanup retry counter", "job_id", pc.JobID, "error", err)
	}

	pc.lockAcquired = false
}

func (s *IdempotencyService) GetRetryCount(ctx context.Context, jobID string) (int, error) {
	retryKey := s.config.RetryKeyPrefix + jobID
	retryCountBytes, err := s.redis.Get(retryKey)
	if err != nil {
		if err == redis.NilError {
			return 0, nil
		}
		return 0, err
	}

	retryCount := 0
	fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	return retryCount, nil
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, jobID string) (bool, error) {
	processedKey := s.config.ProcessedKeyPrefix + jobID
	exists, err := s.redis.Exist(processedKey)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
