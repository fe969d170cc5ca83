package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:"

// releaseScript 比对token后删除
// 教学要点：不能直接DEL——如果自己的锁已TTL过期且被他人获取，
// 直接DEL会误删他人持有的锁。比对+删除必须在Lua里原子完成
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker Redis分布式锁
//
// SET NX PX实现：value是每次获取随机生成的token，
// 释放时Lua脚本比对token，保证只有持有者能释放
type RedisLocker struct {
	client        *redis.Client
	waitTimeout   time.Duration // 等待锁的上限
	retryInterval time.Duration // 竞争失败后的轮询间隔
}

// NewRedisLocker 创建Redis分布式锁
// waitTimeout<=0时使用默认30s
func NewRedisLocker(client *redis.Client, waitTimeout time.Duration) *RedisLocker {
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Second
	}

	return &RedisLocker{
		client:        client,
		waitTimeout:   waitTimeout,
		retryInterval: 50 * time.Millisecond,
	}
}

// Acquire 获取锁
// 有界等待：到达waitTimeout仍未获取返回ErrLockTimeout，绝不永久阻塞；
// Redis本身故障返回ErrUnavailable，与竞争超时严格区分
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.waitTimeout)

	for {
		ok, err := l.client.SetNX(ctx, lockKeyPrefix+key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if ok {
			return &redisLock{client: l.client, key: lockKeyPrefix + key, token: token}, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

// Release 释放锁（比对token，防止误删他人的锁）
func (lk *redisLock) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, lk.client, []string{lk.key}, lk.token).Int()
	if err != nil {
		return fmt.Errorf("释放分布式锁失败: %w", err)
	}

	if deleted == 0 {
		// TTL已过期且锁被他人获取——记录即可，行锁兜底保证了正确性
		return ErrNotHeld
	}

	return nil
}
