package mergelock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, time.Minute), srv
}

func TestAcquireLocksEveryBatchAndReleases(t *testing.T) {
	t.Parallel()

	locker, srv := newTestLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, []int64{2, 1, 2})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	for _, key := range []string{"upkeep:merge:batch:1", "upkeep:merge:batch:2"} {
		if !srv.Exists(key) {
			t.Fatalf("expected key %s to be held", key)
		}
		if ttl := srv.TTL(key); ttl <= 0 {
			t.Fatalf("expected ttl on %s, got %s", key, ttl)
		}
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release returned error: %v", err)
	}
	if srv.Exists("upkeep:merge:batch:1") || srv.Exists("upkeep:merge:batch:2") {
		t.Fatalf("expected keys to be removed after release")
	}
}

func TestAcquireOverlappingSetIsBusy(t *testing.T) {
	t.Parallel()

	locker, srv := newTestLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, []int64{2, 3})
	if err != nil {
		t.Fatalf("first Acquire returned error: %v", err)
	}
	defer func() { _ = release(ctx) }()

	_, err = locker.Acquire(ctx, []int64{1, 2})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if srv.Exists("upkeep:merge:batch:1") {
		t.Fatalf("partially acquired key should be released on contention")
	}

	other, err := locker.Acquire(ctx, []int64{4, 5})
	if err != nil {
		t.Fatalf("disjoint Acquire returned error: %v", err)
	}
	_ = other(ctx)
}

func TestReleaseDoesNotDropForeignLock(t *testing.T) {
	t.Parallel()

	locker, srv := newTestLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, []int64{7})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if err := srv.Set("upkeep:merge:batch:7", "someone-else"); err != nil {
		t.Fatalf("overwrite key: %v", err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release returned error: %v", err)
	}
	got, err := srv.Get("upkeep:merge:batch:7")
	if err != nil || got != "someone-else" {
		t.Fatalf("expected foreign lock to survive, got %q err=%v", got, err)
	}
}

func TestNopLocker(t *testing.T) {
	t.Parallel()

	release, err := NopLocker{}.Acquire(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("NopLocker returned error: %v", err)
	}
	if err := release(context.Background()); err != nil {
		t.Fatalf("nop release returned error: %v", err)
	}
}
