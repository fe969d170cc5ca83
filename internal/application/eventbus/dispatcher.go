package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/zhwei/shopcore/internal/domain/event"
	"github.com/zhwei/shopcore/pkg/metrics"
)

var (
	// ErrHandlerNotIdempotent 处理器未声明幂等能力（配置错误，fail fast）
	ErrHandlerNotIdempotent = errors.New("处理器未声明幂等能力")

	// ErrHandlerRegistered 同一事件类型重复注册
	ErrHandlerRegistered = errors.New("事件类型已注册处理器")

	// ErrMaxRetriesExceeded 重试耗尽（内部错误：触发死信安置，不向broker传播）
	ErrMaxRetriesExceeded = errors.New("重试次数耗尽")
)

// Outcome 单条消息的终态
type Outcome string

const (
	OutcomeSkipped      Outcome = "SKIPPED"       // 幂等门命中，未调用处理器
	OutcomeSucceeded    Outcome = "SUCCEEDED"     // 处理成功，已标记幂等
	OutcomeDeadLettered Outcome = "DEAD_LETTERED" // 重试耗尽，已安置到死信topic
)

// Publisher 事件发布接口（死信安置与重放发布复用）
type Publisher interface {
	Publish(ctx context.Context, topic string, env *event.Envelope) error
}

// Delivery 一条待处理的投递（broker适配器提供）
type Delivery struct {
	Topic string
	Body  []byte

	// Ack 确认消费位点
	Ack func() error

	// Nack 拒绝；requeue=true时重新投递
	Nack func(requeue bool) error
}

// Consumer 消息拉取接口
type Consumer interface {
	// Fetch 阻塞拉取下一条消息；ctx取消时返回ctx.Err()
	Fetch(ctx context.Context) (*Delivery, error)
}

// Config 调度器配置
type Config struct {
	// MaxAttempts 单次投递内的最大尝试次数，
	// 首次执行也算一次：默认4 = 首次 + 至多3次重试
	MaxAttempts int

	// BaseBackoff 首次重试退避，之后指数翻倍（默认1s，
	// 配合默认MaxAttempts即1s、2s、4s三级）
	BaseBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	return c
}

// Dispatcher 事件调度器
//
// 消费侧状态机：
//
//	RECEIVED → IDEMPOTENCY_CHECKED → (重复: SKIPPED)
//	                               → (新事件: DISPATCHING → SUCCEEDED
//	                                          | FAILED_RETRYABLE×N → FAILED_TERMINAL)
//
// 教学要点：
// 1. 幂等门在处理器之前：同一event_id第二次到达直接SKIPPED，
//    处理器一次都不会被调用——这就是at-most-once的边界
// 2. 成功后先落幂等标记再ack位点；顺序反了，崩溃窗口=静默丢数据
// 3. 毒消息绝不压垮消费者：重试耗尽即死信安置，位点照常确认
type Dispatcher struct {
	router    *event.TopicRouter
	store     Store
	publisher Publisher
	handlers  map[string]Handler
	cfg       Config
}

// NewDispatcher 创建调度器
// router/store由启动时显式构造注入（不依赖进程级全局注册表）
func NewDispatcher(router *event.TopicRouter, store Store, publisher Publisher, cfg Config) *Dispatcher {
	return &Dispatcher{
		router:    router,
		store:     store,
		publisher: publisher,
		handlers:  make(map[string]Handler),
		cfg:       cfg.withDefaults(),
	}
}

// Register 注册事件处理器
// 校验两件事：事件类型必须在主题注册表闭集内；处理器必须声明幂等
func (d *Dispatcher) Register(eventType string, h Handler) error {
	if _, err := d.router.RouteEventType(eventType); err != nil {
		return err
	}

	if !h.Idempotent() {
		return fmt.Errorf("%w: %s", ErrHandlerNotIdempotent, eventType)
	}

	if _, exists := d.handlers[eventType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerRegistered, eventType)
	}

	d.handlers[eventType] = h
	return nil
}

// EventTypes 已注册的事件类型（排序后返回，供启动时绑定队列）
func (d *Dispatcher) EventTypes() []string {
	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Dispatch 调度单条事件直至终态
//
// 返回error仅表示基础设施故障（幂等存储/死信投递不可用），
// 此时消息未到终态，调用方不得ack。处理器失败不是error——
// 重试耗尽后事件被死信安置，对消费循环而言已"处理完毕"
func (d *Dispatcher) Dispatch(ctx context.Context, env *event.Envelope) (Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveHistogram(metrics.DispatchDuration, time.Since(start).Seconds())
	}()

	// 幂等门：缓存+持久层双重检查
	seen, err := d.store.Seen(ctx, env.EventID)
	if err != nil {
		return "", fmt.Errorf("幂等检查失败: %w", err)
	}
	if seen {
		metrics.IncCounterVec(metrics.EventsDispatchedTotal, map[string]string{"outcome": string(OutcomeSkipped)})
		return OutcomeSkipped, nil
	}

	handler, ok := d.handlers[env.EventType]
	if !ok {
		// 没有处理器的事件同样是毒消息，安置而非阻塞队列
		if err := d.deadLetter(ctx, env, "未注册对应事件类型的处理器"); err != nil {
			return "", err
		}
		return OutcomeDeadLettered, nil
	}

	// 防御性复查：注册时已校验，但契约太重要，破坏它之前必须拦住
	if !handler.Idempotent() {
		return "", fmt.Errorf("%w: %s", ErrHandlerNotIdempotent, env.EventType)
	}

	lastErr := d.attempt(ctx, handler, env)
	if lastErr != nil {
		if err := d.deadLetter(ctx, env, lastErr.Error()); err != nil {
			return "", err
		}
		return OutcomeDeadLettered, nil
	}

	// 先落幂等标记，再由消费循环ack位点。
	// 标记失败则不ack：重投递会再次调用处理器，幂等能力兜底
	if err := d.store.Mark(ctx, env.EventID); err != nil {
		return "", fmt.Errorf("写入幂等标记失败: %w", err)
	}

	metrics.IncCounterVec(metrics.EventsDispatchedTotal, map[string]string{"outcome": string(OutcomeSucceeded)})
	return OutcomeSucceeded, nil
}

// attempt 带指数退避的重试循环（单次投递内，最多MaxAttempts次）
func (d *Dispatcher) attempt(ctx context.Context, handler Handler, env *event.Envelope) error {
	var lastErr error

	for i := 0; i < d.cfg.MaxAttempts; i++ {
		if i > 0 {
			metrics.IncCounter(metrics.EventRetriesTotal)

			backoff := d.cfg.BaseBackoff << (i - 1) // 第i次重试前睡 base<<(i-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if lastErr = handler.Handle(ctx, env); lastErr == nil {
			return nil
		}

		log.Printf("⚠️ 事件处理失败(第%d次): event_id=%s type=%s err=%v",
			i+1, env.EventID, env.EventType, lastErr)
	}

	return fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

// deadLetter 死信安置
// 死信对终端用户不可见，但必须对运维可见：日志带原因与原topic
func (d *Dispatcher) deadLetter(ctx context.Context, env *event.Envelope, reason string) error {
	topic, err := d.router.RouteEventType(env.EventType)
	if err != nil {
		// 类型不在闭集内的消息也要安置，topic名退化为事件类型本身
		topic = env.EventType
	}

	dl := env.DeadLetter(reason, topic)
	if err := d.publisher.Publish(ctx, d.router.DeadLetterTopic(topic), dl); err != nil {
		// 安置失败则不ack，消息随重投递再走一遍——宁可重复重试，不可丢事件
		return fmt.Errorf("死信安置失败: %w", err)
	}

	metrics.IncCounterVec(metrics.EventsDispatchedTotal, map[string]string{"outcome": string(OutcomeDeadLettered)})
	log.Printf("⚠️ 事件已死信安置: event_id=%s topic=%s reason=%s", env.EventID, topic, reason)
	return nil
}

// Run 消费主循环
//
// 教学要点：
// 1. 先处理后ack：消息必须到达终态（SKIPPED/SUCCEEDED/DEAD_LETTERED）
//    才确认位点，严禁先ack后处理
// 2. 串行确认：上一条未到终态绝不拉取下一条，保住分区内因果序
// 3. 基础设施故障时nack重投并退避，循环本身永不因单条消息崩溃
func (d *Dispatcher) Run(ctx context.Context, consumer Consumer) error {
	for {
		delivery, err := consumer.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("拉取消息失败: %w", err)
		}

		env, err := event.Unmarshal(delivery.Body)
		if err != nil {
			// 无法解析的消息重投多少次都没用，记录原文后确认丢弃
			log.Printf("⚠️ 丢弃非法消息: topic=%s err=%v body=%q", delivery.Topic, err, delivery.Body)
			if ackErr := delivery.Ack(); ackErr != nil {
				log.Printf("⚠️ 确认位点失败: %v", ackErr)
			}
			continue
		}

		if _, err := d.Dispatch(ctx, env); err != nil {
			log.Printf("⚠️ 调度失败(将重投): event_id=%s err=%v", env.EventID, err)
			if nackErr := delivery.Nack(true); nackErr != nil {
				log.Printf("⚠️ 拒绝消息失败: %v", nackErr)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.cfg.BaseBackoff):
			}
			continue
		}

		if err := delivery.Ack(); err != nil {
			log.Printf("⚠️ 确认位点失败: event_id=%s err=%v", env.EventID, err)
		}
	}
}
