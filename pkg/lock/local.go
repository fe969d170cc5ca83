package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker 进程内互斥锁
//
// 无Redis时的本地降级实现：同进程内per-key互斥，
// 跨进程场景不提供任何保证——数据库行锁仍是最终兜底。
// 每个key一条容量1的令牌通道，拿到令牌即持有锁
type LocalLocker struct {
	mu          sync.Mutex
	slots       map[string]chan struct{}
	waitTimeout time.Duration
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker(waitTimeout time.Duration) *LocalLocker {
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Second
	}

	return &LocalLocker{
		slots:       make(map[string]chan struct{}),
		waitTimeout: waitTimeout,
	}
}

// Acquire 获取锁（ttl在进程内实现中不生效，持有至显式释放）
func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	slot := l.slot(key)

	timer := time.NewTimer(l.waitTimeout)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		return &localLock{slot: slot}, nil
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	return slot
}

type localLock struct {
	slot chan struct{}
	once sync.Once
}

// Release 释放锁（幂等：重复释放无副作用）
func (lk *localLock) Release(ctx context.Context) error {
	lk.once.Do(func() { <-lk.slot })
	return nil
}
