package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestLock_ExcludesSecondHolder(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, accountLockPrefix+"lock-test")

	unlock, err := adapter.Lock(ctx, "lock-test", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := adapter.Lock(waitCtx, "lock-test", 5*time.Second); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second lock to time out, got: %v", err)
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	unlock, err = adapter.Lock(ctx, "lock-test", 5*time.Second)
	if err != nil {
		t.Fatalf("relock failed: %v", err)
	}
	unlock(ctx)
}

func TestLock_ReleaseAfterExpiry(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, accountLockPrefix+"expiry-test")

	unlock, err := adapter.Lock(ctx, "expiry-test", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	// Another holder took the expired lock; the stale unlock must not free it.
	other, err := adapter.Lock(ctx, "expiry-test", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := unlock(ctx); !errors.Is(err, ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld, got: %v", err)
	}
	if n, _ := client.Exists(ctx, accountLockPrefix+"expiry-test").Result(); n != 1 {
		t.Error("lock of the second holder was removed")
	}
	other(ctx)
}

func TestLock_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, accountLockPrefix+"concurrent-lock")

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := adapter.Lock(ctx, "concurrent-lock", 5*time.Second)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			n := inside.Add(1)
			for {
				cur := maxInside.Load()
				if n <= cur || maxInside.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			unlock(ctx)
		}()
	}

	wg.Wait()

	if maxInside.Load() != 1 {
		t.Errorf("expected at most 1 holder, saw %d", maxInside.Load())
	}
}

func TestClaim_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, "test-claim-key")

	ok, err := adapter.Claim(ctx, "test-claim-key", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected first claim to succeed")
	}

	ok, err = adapter.Claim(ctx, "test-claim-key", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second claim to fail")
	}

	if err := adapter.Release(ctx, "test-claim-key"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	ok, _ = adapter.Claim(ctx, "test-claim-key", time.Minute)
	if !ok {
		t.Error("expected claim after release to succeed")
	}
	client.Del(ctx, "test-claim-key")
}

func TestClaim_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, "concurrent-claim-key")

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.Claim(ctx, "concurrent-claim-key", time.Minute)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}
