package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhwei/shopcore/internal/domain/event"
	"github.com/zhwei/shopcore/internal/domain/inventory"
	"github.com/zhwei/shopcore/pkg/lock"
)

func orderEnvelope(t *testing.T, eventType string, payload any) *event.Envelope {
	t.Helper()
	data, err := event.EncodePayload(payload)
	require.NoError(t, err)
	return event.NewEnvelope(eventType, data)
}

func TestOrderPaidDecrementsEachLine(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(1, 1, 10, 0)
	repo.seed(2, 1, 5, 0)
	c := NewCoordinator(repo, repo, lock.NewLocalLocker(time.Second))
	handler := NewOrderEventHandler(c)

	env := orderEnvelope(t, event.TypeOrderPaid, event.OrderPaidPayload{
		OrderID: 100,
		UserID:  7,
		Lines: []event.OrderLinePayload{
			{VariantID: 1, Quantity: 3},
			{VariantID: 2, Quantity: 2},
		},
	})

	require.NoError(t, handler.Handle(context.Background(), env))

	inv1, _ := repo.GetByVariantLocation(context.Background(), 1, 1)
	inv2, _ := repo.GetByVariantLocation(context.Background(), 2, 1)
	assert.Equal(t, 7, inv1.QuantityOnHand)
	assert.Equal(t, 3, inv2.QuantityOnHand)

	// 每行一条流水，全部挂到同一订单
	logs, err := c.OrderAdjustments(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, inventory.ReasonOrderPurchase, l.Reason)
	}
}

func TestOrderPaidOutOfStockFails(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(1, 1, 1, 0)
	c := NewCoordinator(repo, repo, lock.NewLocalLocker(time.Second))
	handler := NewOrderEventHandler(c)

	env := orderEnvelope(t, event.TypeOrderPaid, event.OrderPaidPayload{
		OrderID: 101,
		Lines:   []event.OrderLinePayload{{VariantID: 1, Quantity: 5}},
	})

	err := handler.Handle(context.Background(), env)
	assert.ErrorIs(t, err, inventory.ErrOutOfStock)
}

func TestOrderCancelledRestocks(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(1, 1, 10, 0)
	c := NewCoordinator(repo, repo, lock.NewLocalLocker(time.Second))
	handler := NewOrderEventHandler(c)

	env := orderEnvelope(t, event.TypeOrderCancelled, event.OrderCancelledPayload{
		OrderID: 102,
		Reason:  "用户取消",
		Lines:   []event.OrderLinePayload{{VariantID: 1, Quantity: 4}},
	})

	require.NoError(t, handler.Handle(context.Background(), env))

	inv, _ := repo.GetByVariantLocation(context.Background(), 1, 1)
	assert.Equal(t, 14, inv.QuantityOnHand)
}

func TestOrderHandlerRejectsUnknownType(t *testing.T) {
	repo := newFakeRepo()
	c := NewCoordinator(repo, repo, nil)
	handler := NewOrderEventHandler(c)

	assert.True(t, handler.Idempotent())
	assert.Equal(t, []string{event.TypeOrderPaid, event.TypeOrderCancelled}, handler.EventTypes())

	env := orderEnvelope(t, event.TypeOrderCreated, event.OrderPaidPayload{OrderID: 1})
	err := handler.Handle(context.Background(), env)
	assert.ErrorIs(t, err, event.ErrInvalidEventType)
}
