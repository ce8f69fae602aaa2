// Package mergelock keeps two merges from working on the same batch at once.
package mergelock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 2 * time.Minute
	keyPrefix  = "upkeep:merge:batch:"
)

// ErrBusy is returned when another merge holds at least one of the batches.
var ErrBusy = errors.New("merge already in progress for one of the selected batches")

// Release gives back a lock obtained from Acquire.
type Release func(ctx context.Context) error

// Locker guards a set of batch ids for the duration of one merge.
type Locker interface {
	Acquire(ctx context.Context, batchIDs []int64) (Release, error)
}

// NopLocker always succeeds. It is used when no redis is configured.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, []int64) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

var unlockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker takes one SET NX key per batch id, in ascending id order.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// NewRedisLockerFromURL parses a redis:// URL and verifies the server answers.
func NewRedisLockerFromURL(ctx context.Context, rawURL string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisLocker(client, ttl), nil
}

func (l *RedisLocker) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

// Acquire locks every batch or none. On contention the keys taken so far are
// released and ErrBusy is returned.
func (l *RedisLocker) Acquire(ctx context.Context, batchIDs []int64) (Release, error) {
	ids := slices.Clone(batchIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	token := uuid.New().String()
	held := make([]string, 0, len(ids))

	release := func(ctx context.Context) error {
		var errs []error
		for _, key := range held {
			if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				errs = append(errs, fmt.Errorf("release %s: %w", key, err))
			}
		}
		return errors.Join(errs...)
	}

	for _, id := range ids {
		key := keyPrefix + strconv.FormatInt(id, 10)
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			_ = release(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("acquire merge lock for batch %d: %w", id, err)
		}
		if !ok {
			_ = release(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("batch %d: %w", id, ErrBusy)
		}
		held = append(held, key)
	}

	return release, nil
}
