// Package circuitbreaker 实现熔断器模式（Circuit Breaker Pattern）
//
// 熔断器核心思想：
// 1. 监控依赖调用的成功率
// 2. 失败达到阈值时快速失败（打开熔断器），不再等待超时
// 3. 过一段时间后放行少量请求探测恢复（半开状态）
//
// 本项目用途：包住分布式锁服务的调用。Redis持续不可用时，
// 库存协调器立刻降级为行锁模式，而不是每次调整都先等一个连接超时。
//
// 教学要点：
// - 理解三种状态（CLOSED、OPEN、HALF_OPEN）及转换条件
// - 竞争超时不是服务故障，不应喂给熔断器（见coordinator的用法）
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常）：请求通过，统计失败
	StateClosed State = iota

	// StateOpen 打开状态（熔断）：请求快速失败，给下游恢复时间
	StateOpen

	// StateHalfOpen 半开状态（探测）：放行少量请求，成功则关闭，失败则重新打开
	StateHalfOpen
)

// String 状态转字符串（便于日志）
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrOpenState 熔断器打开，请求被快速拒绝
	ErrOpenState = errors.New("circuit breaker is open")

	// ErrTooManyRequests 半开状态下探测额度已满
	ErrTooManyRequests = errors.New("circuit breaker half-open quota exceeded")
)

// Counts 统计数据
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) reset() {
	*c = Counts{}
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Config 熔断器配置
type Config struct {
	// MaxRequests 半开状态下允许的探测请求数（建议1-5）
	MaxRequests uint32

	// Interval 关闭状态的统计窗口（窗口到期重置计数）
	Interval time.Duration

	// Timeout 打开状态持续时间，到期转为半开
	Timeout time.Duration

	// ReadyToTrip 判断是否应该熔断（默认：连续失败>=3）
	ReadyToTrip func(counts Counts) bool
}

// CircuitBreaker 熔断器
type CircuitBreaker struct {
	name          string
	maxRequests   uint32
	interval      time.Duration
	timeout       time.Duration
	readyToTrip   func(counts Counts) bool
	onStateChange func(name string, from, to State)

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New 创建熔断器
func New(name string, config Config) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:          name,
		maxRequests:   config.MaxRequests,
		interval:      config.Interval,
		timeout:       config.Timeout,
		readyToTrip:   config.ReadyToTrip,
		onStateChange: func(string, State, State) {},
		state:         StateClosed,
	}

	if cb.maxRequests == 0 {
		cb.maxRequests = 1
	}
	if cb.interval <= 0 {
		cb.interval = 60 * time.Second
	}
	if cb.timeout <= 0 {
		cb.timeout = 30 * time.Second
	}
	if cb.readyToTrip == nil {
		cb.readyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 3
		}
	}

	cb.expiry = time.Now().Add(cb.interval)
	return cb
}

// SetStateChangeCallback 设置状态变化回调（记日志、报指标、发告警）
func (cb *CircuitBreaker) SetStateChangeCallback(fn func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// State 返回当前状态
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh(time.Now())
	return cb.state
}

// Execute 执行请求
// 返回业务错误，或熔断器错误（ErrOpenState/ErrTooManyRequests）
func (cb *CircuitBreaker) Execute(req func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := req()
	cb.afterRequest(err == nil)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.refresh(now)

	switch cb.state {
	case StateOpen:
		return ErrOpenState
	case StateHalfOpen:
		if cb.counts.Requests >= cb.maxRequests {
			return ErrTooManyRequests
		}
	}

	cb.counts.Requests++
	return nil
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.refresh(now)

	if success {
		cb.counts.onSuccess()
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.maxRequests {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.counts.onFailure()
	switch cb.state {
	case StateClosed:
		if cb.readyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		// 探测失败，重新熔断
		cb.setState(StateOpen, now)
	}
}

// refresh 处理基于时间的状态/窗口迁移（调用方必须持锁）
func (cb *CircuitBreaker) refresh(now time.Time) {
	switch cb.state {
	case StateClosed:
		if now.After(cb.expiry) {
			// 统计窗口到期，重开一轮
			cb.counts.reset()
			cb.expiry = now.Add(cb.interval)
		}
	case StateOpen:
		if now.After(cb.expiry) {
			cb.setState(StateHalfOpen, now)
		}
	}
}

// setState 状态迁移（调用方必须持锁）
func (cb *CircuitBreaker) setState(next State, now time.Time) {
	if cb.state == next {
		return
	}

	prev := cb.state
	cb.state = next
	cb.counts.reset()

	switch next {
	case StateOpen:
		cb.expiry = now.Add(cb.timeout)
	case StateClosed:
		cb.expiry = now.Add(cb.interval)
	default:
		cb.expiry = time.Time{}
	}

	cb.onStateChange(cb.name, prev, next)
}
