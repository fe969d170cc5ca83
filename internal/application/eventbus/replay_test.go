package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhwei/shopcore/internal/domain/event"
)

// memorySource 按topic返回固定事件序列的测试桩
type memorySource struct {
	topics map[string][]*event.Envelope
}

func (s *memorySource) Read(ctx context.Context, topic string) ([]*event.Envelope, error) {
	return s.topics[topic], nil
}

func newReplayFixture(t *testing.T, handler Handler) (*Engine, *Dispatcher, Store, *capturePublisher, *memorySource) {
	t.Helper()

	publisher := newCapturePublisher()
	store := NewCachedStore(NewMemoryStore())
	router := event.NewTopicRouter(event.DefaultRegistry())
	d := NewDispatcher(router, store, publisher, Config{MaxAttempts: 3, BaseBackoff: time.Millisecond})
	if handler != nil {
		require.NoError(t, d.Register(event.TypeOrderPaid, handler))
	}

	source := &memorySource{topics: make(map[string][]*event.Envelope)}
	engine := NewEngine(source, store, d, publisher)
	return engine, d, store, publisher, source
}

func paidEnvelope(orderID uint) *event.Envelope {
	return event.NewEnvelope(event.TypeOrderPaid, map[string]any{"order_id": orderID})
}

func TestReplayIsIdempotent(t *testing.T) {
	handler := &countingHandler{}
	engine, _, _, _, source := newReplayFixture(t, handler)
	ctx := context.Background()

	source.topics["order.order.paid"] = []*event.Envelope{
		paidEnvelope(1), paidEnvelope(2), paidEnvelope(3),
	}

	stats, err := engine.Replay(ctx, "order.order.paid", Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Replayed)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 3, handler.callCount())

	// 第二次重放：全部命中幂等门，处理器一次都不被调用
	stats, err = engine.Replay(ctx, "order.order.paid", Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 0, stats.Replayed)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 3, handler.callCount(), "重放两次，副作用只发生一次")
}

func TestReplayFilters(t *testing.T) {
	handler := &countingHandler{}
	engine, _, _, _, source := newReplayFixture(t, handler)
	ctx := context.Background()

	old := paidEnvelope(1)
	old.Timestamp = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	correlated := event.NewEnvelope(event.TypeOrderPaid,
		map[string]any{"order_id": 2},
		event.WithCorrelationID("flow-42"))
	recent := paidEnvelope(3)

	source.topics["order.order.paid"] = []*event.Envelope{old, correlated, recent}

	// 时间过滤
	stats, err := engine.Replay(ctx, "order.order.paid", Options{
		DryRun: true,
		Filter: Filter{From: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Filtered)
	assert.Equal(t, 2, stats.Replayed)

	// 关联ID过滤
	stats, err = engine.Replay(ctx, "order.order.paid", Options{
		DryRun: true,
		Filter: Filter{CorrelationIDs: []string{"flow-42"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Filtered)
	assert.Equal(t, 1, stats.Replayed)

	// 类型过滤（白名单外全部排除）
	stats, err = engine.Replay(ctx, "order.order.paid", Options{
		DryRun: true,
		Filter: Filter{EventTypes: []string{event.TypeOrderCancelled}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Filtered)
	assert.Equal(t, 0, stats.Replayed)
}

func TestReplayDryRunNoSideEffects(t *testing.T) {
	handler := &countingHandler{}
	engine, _, store, publisher, source := newReplayFixture(t, handler)
	ctx := context.Background()

	envs := []*event.Envelope{paidEnvelope(1), paidEnvelope(2)}
	source.topics["order.order.paid"] = envs

	stats, err := engine.Replay(ctx, "order.order.paid", Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Replayed, "dry-run统计将会重放的数量")

	// 零副作用：处理器未调用、无发布、幂等存储未写入
	assert.Equal(t, 0, handler.callCount())
	assert.Empty(t, publisher.published)
	for _, env := range envs {
		seen, _ := store.Seen(ctx, env.EventID)
		assert.False(t, seen)
	}
}

func TestReplayToTargetTopicDerivesNewEnvelope(t *testing.T) {
	engine, _, _, publisher, source := newReplayFixture(t, nil)
	ctx := context.Background()

	original := paidEnvelope(1)
	source.topics["order.order.paid"] = []*event.Envelope{original}

	stats, err := engine.Replay(ctx, "order.order.paid", Options{TargetTopic: "order.order.paid.replay"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Replayed)

	republished := publisher.topic("order.order.paid.replay")
	require.Len(t, republished, 1)
	assert.NotEqual(t, original.EventID, republished[0].EventID, "重放副本必须拿到新EventID")
	assert.Equal(t, original.EventID, republished[0].CausationID, "因果链指向原事件")
	assert.Equal(t, original.EventID, republished[0].Metadata[event.MetaReplayOf])
}

func TestReplayToTargetTopicIsIdempotent(t *testing.T) {
	engine, _, store, publisher, source := newReplayFixture(t, nil)
	ctx := context.Background()

	envs := []*event.Envelope{paidEnvelope(1), paidEnvelope(2)}
	source.topics["order.order.paid"] = envs
	opts := Options{TargetTopic: "order.order.paid.replay"}

	stats, err := engine.Replay(ctx, "order.order.paid", opts)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Replayed)
	assert.Equal(t, 0, stats.Skipped)

	// 成功发布后原事件必须落幂等标记
	for _, env := range envs {
		seen, err := store.Seen(ctx, env.EventID)
		require.NoError(t, err)
		assert.True(t, seen)
	}

	// 第二次重放：全部命中幂等门，不再发布任何副本
	stats, err = engine.Replay(ctx, "order.order.paid", opts)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Replayed)
	assert.Equal(t, 2, stats.Skipped)
	assert.Len(t, publisher.topic("order.order.paid.replay"), 2, "重放两次只允许发布两份副本")
}

func TestReplayDeadLetterRespectsRetryCap(t *testing.T) {
	engine, _, _, publisher, source := newReplayFixture(t, nil)
	ctx := context.Background()

	fresh := paidEnvelope(1).DeadLetter("处理失败", "order.order.paid")
	exhausted := paidEnvelope(2).DeadLetter("处理失败", "order.order.paid")
	exhausted.Metadata[event.MetaRetryCount] = "5"

	source.topics["order.order.paid.dead_letter"] = []*event.Envelope{fresh, exhausted}

	stats, err := engine.ReplayDeadLetter(ctx, "order.order.paid.dead_letter", "order.order.paid", 5, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Replayed)
	assert.Equal(t, 1, stats.MaxRetryExceeded)

	republished := publisher.topic("order.order.paid")
	require.Len(t, republished, 1)
	assert.Equal(t, fresh.EventID, republished[0].EventID, "死信重试保留原EventID")
	assert.Equal(t, 1, republished[0].RetryCount())
}

func TestReplayDeadLetterSkipsProcessed(t *testing.T) {
	engine, _, store, publisher, source := newReplayFixture(t, nil)
	ctx := context.Background()

	parked := paidEnvelope(1).DeadLetter("处理失败", "order.order.paid")
	source.topics["order.order.paid.dead_letter"] = []*event.Envelope{parked}

	// 该事件在别处已成功处理（比如重放后终于成功）
	require.NoError(t, store.Mark(ctx, parked.EventID))

	stats, err := engine.ReplayDeadLetter(ctx, "order.order.paid.dead_letter", "order.order.paid", 5, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Replayed)
	assert.Empty(t, publisher.topic("order.order.paid"))
}

func TestReplayFailureGoesToDeadLetter(t *testing.T) {
	handler := &countingHandler{failures: 99}
	engine, _, _, publisher, source := newReplayFixture(t, handler)
	ctx := context.Background()

	source.topics["order.order.paid"] = []*event.Envelope{paidEnvelope(1)}

	stats, err := engine.Replay(ctx, "order.order.paid", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Replayed)
	require.Len(t, publisher.topic("order.order.paid.dead_letter"), 1)
}
