// Package lock 提供按key互斥的分布式锁
//
// 教学要点：
// 1. 两种实现，一个接口
//   - RedisLocker：跨进程/跨服务器互斥（SET NX PX + Lua比对释放）
//   - LocalLocker：进程内互斥（无Redis的本地/测试降级实现）
//     调用方只依赖Locker接口，核心算法不感知当前用的是哪种
//
// 2. 错误分类决定调用方策略
//   - ErrLockTimeout：锁竞争超时，瞬时状态，可退避重试
//   - ErrUnavailable：锁服务故障，调用方可降级（数据库行锁兜底）
//     两者绝不混为一谈
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLockTimeout 等待锁超时（竞争激烈，可重试）
	ErrLockTimeout = errors.New("获取分布式锁超时")

	// ErrUnavailable 锁服务不可用（基础设施故障，可降级）
	ErrUnavailable = errors.New("分布式锁服务不可用")

	// ErrNotHeld 释放时锁已不归当前持有者（TTL过期后被他人获取）
	ErrNotHeld = errors.New("锁已不归当前持有者")
)

// Locker 分布式锁获取器
type Locker interface {
	// Acquire 获取名为key的互斥锁，锁自动过期时间为ttl。
	// 最多等待构造时配置的waitTimeout，超时返回ErrLockTimeout
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock 已持有的锁句柄
type Lock interface {
	// Release 释放锁
	// 所有退出路径（成功或失败）都必须调用，通常配合defer
	Release(ctx context.Context) error
}
