package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rateLimitPrefix = "evv:ratelimit:"

// SlidingWindowLimiter rate limits with Redis sorted sets so every API
// replica shares one window per key
type SlidingWindowLimiter struct {
	client *redis.Client
	scope  string
	limit  int
	window time.Duration
	logger *zap.Logger
}

// NewSlidingWindowLimiter admits limit requests per key in any window
func NewSlidingWindowLimiter(client *redis.Client, scope string, limit int, window time.Duration, logger *zap.Logger) *SlidingWindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlidingWindowLimiter{
		client: client,
		scope:  scope,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// NewInspectorLimiter converts a token-bucket rate and burst into a window
// that admits burst requests per burst/rps seconds
func NewInspectorLimiter(client *redis.Client, rps float64, burst int, logger *zap.Logger) *SlidingWindowLimiter {
	window := time.Duration(float64(burst) / rps * float64(time.Second))
	if window < time.Millisecond {
		window = time.Millisecond
	}
	return NewSlidingWindowLimiter(client, "inspector", burst, window, logger)
}

// Allow records a request for key at now and reports whether it fits the window
func (r *SlidingWindowLimiter) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	windowStart := now.Add(-r.window)
	redisKey := r.key(key)
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.PExpire(ctx, redisKey, r.window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("rate limiter pipeline failed",
			zap.String("key", key),
			zap.Error(err))
		return false, fmt.Errorf("rate limiter pipeline failed: %w", err)
	}

	// count excludes the request just added
	if countCmd.Val() < int64(r.limit) {
		return true, nil
	}

	if err := r.client.ZRem(ctx, redisKey, member).Err(); err != nil {
		r.logger.Warn("failed to drop rejected request from window",
			zap.String("key", key),
			zap.Error(err))
	}
	r.logger.Debug("rate limit exceeded",
		zap.String("scope", r.scope),
		zap.String("key", key),
		zap.Int64("current_count", countCmd.Val()),
		zap.Int("limit", r.limit))
	return false, nil
}

// Reset clears the window for key
func (r *SlidingWindowLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("rate limiter reset failed: %w", err)
	}
	return nil
}

func (r *SlidingWindowLimiter) key(key string) string {
	return rateLimitPrefix + r.scope + ":" + key
}
