package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const processedMarker = "processed"

// ErrDuplicateTransaction is returned when a request identifier was already admitted.
var ErrDuplicateTransaction = errors.New("duplicate transaction")

// Guard marks request identifiers as seen.
type Guard interface {
	// CheckAndMark records requestID or fails with ErrDuplicateTransaction
	// when it is already present.
	CheckAndMark(ctx context.Context, requestID string) error
	// Release removes the marker for a request that was rejected before any
	// side effect happened, so the caller may retry with the same identifier.
	Release(ctx context.Context, requestID string)
}

// RedisGuard stores markers in Redis using SETNX, keyed by the bare request id.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisGuard builds a guard. A zero ttl keeps markers until evicted.
func NewRedisGuard(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl, logger: logger}
}

// CheckAndMark implements Guard.
func (g *RedisGuard) CheckAndMark(ctx context.Context, requestID string) error {
	if requestID == "" {
		return fmt.Errorf("request transaction id is required")
	}

	ok, err := g.client.SetNX(ctx, requestID, processedMarker, g.ttl).Result()
	if err != nil {
		return fmt.Errorf("reserve request %s: %w", requestID, err)
	}
	if !ok {
		return ErrDuplicateTransaction
	}
	return nil
}

// Release implements Guard. Failures are logged and otherwise ignored.
func (g *RedisGuard) Release(ctx context.Context, requestID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := g.client.Del(cleanupCtx, requestID).Err(); err != nil && g.logger != nil {
		g.logger.Warn("release idempotency marker", slog.String("request_transaction_id", requestID), slog.Any("error", err))
	}
}
