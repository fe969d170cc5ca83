package mq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhwei/shopcore/internal/domain/event"
)

func TestMemoryBrokerPublishAndFetch(t *testing.T) {
	broker := NewMemoryBroker()
	consumer := broker.Subscribe("order.order.paid")
	ctx := context.Background()

	env := event.NewEnvelope(event.TypeOrderPaid, map[string]any{"order_id": 1})
	require.NoError(t, broker.Publish(ctx, "order.order.paid", env))

	delivery, err := consumer.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "order.order.paid", delivery.Topic)

	got, err := event.Unmarshal(delivery.Body)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	require.NoError(t, delivery.Ack())
}

func TestMemoryBrokerNackRequeues(t *testing.T) {
	broker := NewMemoryBroker()
	consumer := broker.Subscribe("order.order.paid")
	ctx := context.Background()

	env := event.NewEnvelope(event.TypeOrderPaid, map[string]any{"order_id": 1})
	require.NoError(t, broker.Publish(ctx, "order.order.paid", env))

	delivery, err := consumer.Fetch(ctx)
	require.NoError(t, err)
	require.NoError(t, delivery.Nack(true))

	// 重投后可再次拉到同一条消息
	redelivered, err := consumer.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, delivery.Body, redelivered.Body)
}

func TestMemoryBrokerFetchRespectsContext(t *testing.T) {
	broker := NewMemoryBroker()
	consumer := broker.Subscribe("order.order.paid")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := consumer.Fetch(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBrokerAbsorbsSlowConsumerBacklog(t *testing.T) {
	broker := NewMemoryBroker()
	consumer := broker.Subscribe("order.order.paid")
	ctx := context.Background()

	// 消费者完全不动时连发大量消息：全部入积压，
	// 发布方不得被拒绝或崩溃
	const total = 500
	envs := make([]*event.Envelope, 0, total)
	for i := 0; i < total; i++ {
		env := event.NewEnvelope(event.TypeOrderPaid, map[string]any{"order_id": i})
		require.NoError(t, broker.Publish(ctx, "order.order.paid", env))
		envs = append(envs, env)
	}

	// 积压按发布顺序全量可拉
	for i := 0; i < total; i++ {
		delivery, err := consumer.Fetch(ctx)
		require.NoError(t, err)

		got, err := event.Unmarshal(delivery.Body)
		require.NoError(t, err)
		assert.Equal(t, envs[i].EventID, got.EventID)
		require.NoError(t, delivery.Ack())
	}
}

func TestMemoryBrokerHistoryAsReplaySource(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	first := event.NewEnvelope(event.TypeOrderPaid, map[string]any{"order_id": 1})
	second := event.NewEnvelope(event.TypeOrderPaid, map[string]any{"order_id": 2})
	require.NoError(t, broker.Publish(ctx, "order.order.paid", first))
	require.NoError(t, broker.Publish(ctx, "order.order.paid", second))

	// 无订阅者的topic同样留存历史
	envs, err := broker.Read(ctx, "order.order.paid")
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, first.EventID, envs[0].EventID)
	assert.Equal(t, second.EventID, envs[1].EventID)

	envs, err = broker.Read(ctx, "inventory.stock.adjusted")
	require.NoError(t, err)
	assert.Empty(t, envs)
}
