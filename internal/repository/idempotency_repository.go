package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IdempotencyRepository claims client-supplied idempotency keys in Redis with
// claim-if-absent semantics. Keys expire after the configured TTL so that an
// abandoned claim cannot block legitimate retries forever.
type IdempotencyRepository struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewIdempotencyRepository constructs the repository.
func NewIdempotencyRepository(client *redis.Client, ttl time.Duration, logger *zap.Logger) *IdempotencyRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdempotencyRepository{client: client, ttl: ttl, logger: logger}
}

func (r *IdempotencyRepository) key(token string) string {
	return "idempotency:booking:" + token
}

// Claim atomically claims the key. It returns false when the key is already
// held by an in-flight or recently completed request.
func (r *IdempotencyRepository) Claim(ctx context.Context, token string) (bool, error) {
	if r.client == nil {
		// Without Redis every request is treated as fresh.
		r.logger.Warn("idempotency store unavailable, skipping claim", zap.String("token", token))
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, r.key(token), "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return ok, nil
}

// Release frees the key so the client may retry after a failure.
func (r *IdempotencyRepository) Release(ctx context.Context, token string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, r.key(token)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
