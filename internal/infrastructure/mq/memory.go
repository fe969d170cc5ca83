package mq

import (
	"context"
	"sync"

	"github.com/zhwei/shopcore/internal/application/eventbus"
	"github.com/zhwei/shopcore/internal/domain/event"
)

// MemoryBroker 进程内broker
//
// 单机部署与集成测试的RabbitMQ替身：发布即投递到订阅队列，
// 同时按topic保留全量历史，因此也能充当重放数据源（eventbus.Source）。
// 跨进程场景不提供任何保证
type MemoryBroker struct {
	mu        sync.Mutex
	history   map[string][]*event.Envelope
	consumers map[string][]*MemoryConsumer
}

// NewMemoryBroker 创建进程内broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		history:   make(map[string][]*event.Envelope),
		consumers: make(map[string][]*MemoryConsumer),
	}
}

// Publish 发布事件：记入历史并投递给所有订阅该topic的消费者
func (b *MemoryBroker) Publish(ctx context.Context, topic string, env *event.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.history[topic] = append(b.history[topic], env)
	subscribers := append([]*MemoryConsumer(nil), b.consumers[topic]...)
	b.mu.Unlock()

	for _, c := range subscribers {
		c.push(topic, body)
	}
	return nil
}

// Read 按发布顺序读取topic历史（实现eventbus.Source）
func (b *MemoryBroker) Read(ctx context.Context, topic string) ([]*event.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*event.Envelope(nil), b.history[topic]...), nil
}

// Subscribe 创建订阅指定topic集合的消费者
func (b *MemoryBroker) Subscribe(topics ...string) *MemoryConsumer {
	c := &MemoryConsumer{signal: make(chan struct{}, 1)}

	b.mu.Lock()
	for _, topic := range topics {
		b.consumers[topic] = append(b.consumers[topic], c)
	}
	b.mu.Unlock()

	return c
}

type memoryDelivery struct {
	topic string
	body  []byte
}

// MemoryConsumer 进程内消费者
//
// 积压不设上限：broker替身承担的是"不丢消息"的契约，
// 消费慢时让内存顶住，而不是丢弃或让发布方崩溃
type MemoryConsumer struct {
	mu      sync.Mutex
	backlog []memoryDelivery
	signal  chan struct{}
}

func (c *MemoryConsumer) push(topic string, body []byte) {
	c.mu.Lock()
	c.backlog = append(c.backlog, memoryDelivery{topic: topic, body: body})
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// Fetch 阻塞拉取下一条消息
func (c *MemoryConsumer) Fetch(ctx context.Context) (*eventbus.Delivery, error) {
	for {
		c.mu.Lock()
		if len(c.backlog) > 0 {
			d := c.backlog[0]
			c.backlog = c.backlog[1:]
			c.mu.Unlock()

			return &eventbus.Delivery{
				Topic: d.topic,
				Body:  d.body,
				Ack:   func() error { return nil },
				Nack: func(requeue bool) error {
					if requeue {
						c.push(d.topic, d.body)
					}
					return nil
				},
			}, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.signal:
		}
	}
}
