package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect initializes a Redis client from URL or host:port input
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisQueue keeps pending emails in a Redis list so they survive restarts
// and can be drained by any instance.
type RedisQueue struct {
	client      *redis.Client
	key         string
	pollTimeout time.Duration
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue uses the list at key
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, pollTimeout: time.Second}
}

// Push appends the email to the head of the list
func (q *RedisQueue) Push(ctx context.Context, email LicenseEmail) error {
	payload, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("encode license email: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrQueueClosed
		}
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Pop takes from the tail of the list, polling so ctx cancellation is seen
func (q *RedisQueue) Pop(ctx context.Context) (LicenseEmail, error) {
	for {
		if err := ctx.Err(); err != nil {
			return LicenseEmail{}, err
		}

		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, redis.ErrClosed):
			return LicenseEmail{}, ErrQueueClosed
		case err != nil:
			if ctx.Err() != nil {
				return LicenseEmail{}, ctx.Err()
			}
			return LicenseEmail{}, fmt.Errorf("redis brpop: %w", err)
		}

		// res is [key, value]
		var email LicenseEmail
		if err := json.Unmarshal([]byte(res[1]), &email); err != nil {
			return LicenseEmail{}, fmt.Errorf("decode license email: %w", err)
		}
		return email, nil
	}
}

// Len reports the list length
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close closes the client
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
