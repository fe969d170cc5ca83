// Package mq 提供基于RabbitMQ的事件发布/消费适配器
//
// 核心概念（RabbitMQ）：
// 1. Topic Exchange：按routing_key（即事件topic名）路由消息
// 2. Queue：每个消费者组一个队列，绑定它关心的topic集合
// 3. 手动Ack：消息到达终态（成功/跳过/死信安置）后才确认位点
//
// 教学要点：
// - Qos PrefetchCount=1：上一条未到终态不取下一条，保住队列内因果序
// - 消息持久化（DeliveryMode=Persistent）+ 队列持久化，broker重启不丢事件
// - 死信topic只是普通topic（主topic+".dead_letter"后缀），不依赖
//   broker私有的DLX机制，换broker时语义可完整搬走
package mq

import (
	"context"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/zhwei/shopcore/internal/application/eventbus"
	"github.com/zhwei/shopcore/internal/domain/event"
)

// Broker RabbitMQ适配器（发布侧）
type Broker struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewBroker 连接RabbitMQ并声明topic exchange
func NewBroker(url, exchange string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("连接RabbitMQ失败: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建Channel失败: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // Exchange名称
		"topic",  // Exchange类型
		true,     // Durable（持久化）
		false,    // AutoDelete
		false,    // Internal
		false,    // NoWait
		nil,      // Arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("声明Exchange失败: %w", err)
	}

	log.Printf("✅ 消息broker已连接: Exchange=%s", exchange)

	return &Broker{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
	}, nil
}

// Publish 发布事件信封到指定topic
func (b *Broker) Publish(ctx context.Context, topic string, env *event.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return err
	}

	err = b.channel.PublishWithContext(
		ctx,
		b.exchange, // Exchange
		topic,      // Routing Key = topic名
		false,      // Mandatory
		false,      // Immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    env.EventID,
			Type:         env.EventType,
			Body:         body,
			DeliveryMode: amqp.Persistent, // 消息持久化
			Timestamp:    env.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}

	log.Printf("📤 事件已发布: topic=%s event_id=%s type=%s", topic, env.EventID, env.EventType)
	return nil
}

// Close 关闭连接
func (b *Broker) Close() error {
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}

// QueueConsumer RabbitMQ消费者（拉取侧）
type QueueConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	msgs    <-chan amqp.Delivery
}

// NewQueueConsumer 声明队列、绑定topic集合并开始消费
//
// topics支持通配符（* 匹配一个单词，# 匹配零或多个），
// 调度器通常按已注册的事件类型精确绑定
func NewQueueConsumer(url, exchange, queue string, topics []string) (*QueueConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("连接RabbitMQ失败: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建Channel失败: %w", err)
	}

	err = channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("声明Exchange失败: %w", err)
	}

	q, err := channel.QueueDeclare(
		queue, // Queue名称
		true,  // Durable
		false, // AutoDelete
		false, // Exclusive
		false, // NoWait
		nil,   // Arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("声明Queue失败: %w", err)
	}

	for _, topic := range topics {
		if err := channel.QueueBind(q.Name, topic, exchange, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("绑定Queue失败: %w", err)
		}
	}

	// PrefetchCount=1：串行确认，上一条到终态才取下一条
	if err := channel.Qos(1, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("设置Qos失败: %w", err)
	}

	msgs, err := channel.Consume(
		q.Name, // Queue名称
		"",     // Consumer标签（自动生成）
		false,  // AutoAck（手动确认）
		false,  // Exclusive
		false,  // NoLocal
		false,  // NoWait
		nil,    // Arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("开始消费失败: %w", err)
	}

	log.Printf("✅ 消费者已就绪: Queue=%s Topics=%v", queue, topics)

	return &QueueConsumer{
		conn:    conn,
		channel: channel,
		queue:   q.Name,
		msgs:    msgs,
	}, nil
}

// Fetch 阻塞拉取下一条消息
func (c *QueueConsumer) Fetch(ctx context.Context) (*eventbus.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case msg, ok := <-c.msgs:
		if !ok {
			return nil, fmt.Errorf("消息Channel已关闭")
		}

		return &eventbus.Delivery{
			Topic: msg.RoutingKey,
			Body:  msg.Body,
			Ack:   func() error { return msg.Ack(false) },
			Nack:  func(requeue bool) error { return msg.Nack(false, requeue) },
		}, nil
	}
}

// Close 关闭消费者
func (c *QueueConsumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}
