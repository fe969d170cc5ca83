package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrAvailabilityMiss 缓存未命中
var ErrAvailabilityMiss = errors.New("可售库存缓存未命中")

// AvailabilityStore Redis可售库存缓存
//
// 教学要点：
// 1. 读写分工
//   - MySQL为主（事实源头，行锁保护）
//   - Redis为辅（高频可售查询，商品页/购物车不打数据库）
//   - 每次调整提交后异步同步MySQL → Redis
//
// 2. 一致性取舍
//   - 缓存值允许短暂滞后，下单时刻以行锁内校验为准
//   - 同步失败只损失新鲜度，不损失正确性，所以尽力而为即可
//
// 3. Key设计规范
//   - stock:available:{variant_id}:{location_id}
type AvailabilityStore struct {
	client *redis.Client
}

// NewAvailabilityStore 创建可售库存缓存实例
func NewAvailabilityStore(client *redis.Client) *AvailabilityStore {
	return &AvailabilityStore{client: client}
}

func availabilityKey(variantID, locationID uint) string {
	return fmt.Sprintf("stock:available:%d:%d", variantID, locationID)
}

// SetAvailable 写入可售库存
func (s *AvailabilityStore) SetAvailable(ctx context.Context, variantID, locationID uint, available int) error {
	key := availabilityKey(variantID, locationID)

	if err := s.client.Set(ctx, key, available, 0).Err(); err != nil {
		return fmt.Errorf("写入可售库存缓存失败: %w", err)
	}

	return nil
}

// GetAvailable 读取可售库存
func (s *AvailabilityStore) GetAvailable(ctx context.Context, variantID, locationID uint) (int, error) {
	key := availabilityKey(variantID, locationID)

	val, err := s.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, ErrAvailabilityMiss
	}
	if err != nil {
		return 0, fmt.Errorf("读取可售库存缓存失败: %w", err)
	}

	return val, nil
}
