package eventbus

import (
	"context"
	"sync"
	"time"
)

// Store 幂等存储接口
//
// 记录已处理事件ID。一行记录的存在意味着该事件的副作用
// 已经完整落地——这是调度前的闸门。
// 并发Mark同一eventID不是错误（冲突==已处理）
type Store interface {
	// Seen 判断事件是否已处理
	Seen(ctx context.Context, eventID string) (bool, error)

	// Mark 标记事件已处理（upsert语义，可安全并发）
	Mark(ctx context.Context, eventID string) error
}

// MemoryStore 纯内存幂等存储（测试与单机部署）
type MemoryStore struct {
	mu        sync.RWMutex
	processed map[string]time.Time
}

// NewMemoryStore 创建内存幂等存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{processed: make(map[string]time.Time)}
}

func (s *MemoryStore) Seen(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.processed[eventID]
	return ok, nil
}

func (s *MemoryStore) Mark(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed[eventID] = time.Now().UTC()
	return nil
}

// CachedStore 两级幂等存储
//
// 教学要点：
// 1. 进程内缓存挡住热路径的重复查询（重启后失效）
// 2. 持久层跨进程重启兜底——exactly-once边界靠它守住
// 3. Mark先写持久层再写缓存：顺序反过来的话，
//    宕机窗口内缓存说"已处理"而持久层没有记录，重启后就会重复处理
type CachedStore struct {
	mu      sync.RWMutex
	cache   map[string]struct{}
	durable Store
}

// NewCachedStore 在持久存储外面套进程内缓存
func NewCachedStore(durable Store) *CachedStore {
	return &CachedStore{
		cache:   make(map[string]struct{}),
		durable: durable,
	}
}

func (s *CachedStore) Seen(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	_, hit := s.cache[eventID]
	s.mu.RUnlock()

	if hit {
		return true, nil
	}

	seen, err := s.durable.Seen(ctx, eventID)
	if err != nil {
		return false, err
	}

	if seen {
		// 回填缓存，后续查询不再打持久层
		s.mu.Lock()
		s.cache[eventID] = struct{}{}
		s.mu.Unlock()
	}

	return seen, nil
}

func (s *CachedStore) Mark(ctx context.Context, eventID string) error {
	if err := s.durable.Mark(ctx, eventID); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[eventID] = struct{}{}
	s.mu.Unlock()
	return nil
}
