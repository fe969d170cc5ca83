package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestLocalLocker_MutualExclusion 测试进程内互斥
func TestLocalLocker_MutualExclusion(t *testing.T) {
	locker := NewLocalLocker(time.Second)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		running int
		maxSeen int
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			lk, err := locker.Acquire(ctx, "variant:1", time.Second)
			if err != nil {
				t.Errorf("获取锁失败: %v", err)
				return
			}
			defer lk.Release(ctx)

			mu.Lock()
			running++
			if running > maxSeen {
				maxSeen = running
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
		}()
	}

	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("锁内并发度错误: expected=1, got=%d", maxSeen)
	}
}

// TestLocalLocker_Timeout 测试有界等待
func TestLocalLocker_Timeout(t *testing.T) {
	locker := NewLocalLocker(50 * time.Millisecond)
	ctx := context.Background()

	lk, err := locker.Acquire(ctx, "variant:2", time.Second)
	if err != nil {
		t.Fatalf("获取锁失败: %v", err)
	}

	// 锁被持有时第二次获取必须在waitTimeout内返回ErrLockTimeout
	start := time.Now()
	if _, err := locker.Acquire(ctx, "variant:2", time.Second); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("等待时间超过上限")
	}

	// 释放后可以再次获取
	if err := lk.Release(ctx); err != nil {
		t.Fatalf("释放锁失败: %v", err)
	}

	lk2, err := locker.Acquire(ctx, "variant:2", time.Second)
	if err != nil {
		t.Fatalf("释放后再次获取失败: %v", err)
	}
	lk2.Release(ctx)
}

// TestLocalLocker_DifferentKeys 不同key互不阻塞
func TestLocalLocker_DifferentKeys(t *testing.T) {
	locker := NewLocalLocker(50 * time.Millisecond)
	ctx := context.Background()

	lk1, err := locker.Acquire(ctx, "variant:1", time.Second)
	if err != nil {
		t.Fatalf("获取锁失败: %v", err)
	}
	defer lk1.Release(ctx)

	lk2, err := locker.Acquire(ctx, "variant:2", time.Second)
	if err != nil {
		t.Fatalf("不同key被错误阻塞: %v", err)
	}
	defer lk2.Release(ctx)
}

// TestLocalLock_ReleaseIdempotent 重复释放无副作用
func TestLocalLock_ReleaseIdempotent(t *testing.T) {
	locker := NewLocalLocker(50 * time.Millisecond)
	ctx := context.Background()

	lk, err := locker.Acquire(ctx, "variant:3", time.Second)
	if err != nil {
		t.Fatalf("获取锁失败: %v", err)
	}

	lk.Release(ctx)
	lk.Release(ctx) // 第二次释放不得让他人的锁凭空可用两次

	lk2, err := locker.Acquire(ctx, "variant:3", time.Second)
	if err != nil {
		t.Fatalf("再次获取失败: %v", err)
	}
	defer lk2.Release(ctx)

	if _, err := locker.Acquire(ctx, "variant:3", time.Second); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("重复释放破坏了互斥: %v", err)
	}
}
