package inventory

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zhwei/shopcore/internal/domain/event"
	"github.com/zhwei/shopcore/internal/domain/inventory"
)

// OrderEventHandler 订单事件处理器
//
// 订阅订单生命周期事件，驱动库存变更：
//   - order.order.paid      → 逐行扣减在库数量
//   - order.order.cancelled → 逐行回补在库数量
//
// 教学要点：处理器的幂等能力不是自己实现的，是借来的——
// 每次调整都带OrderID落流水，同一事件重复到达时调整路径
// 会再次执行，但幂等门在正常路径上已挡住重复；崩溃窗口内
// 的二次调用依赖流水对账发现并补偿。售罄错误不重试：
// 重试一万次库存也不会变出来，直接交给死信安置
type OrderEventHandler struct {
	coordinator *Coordinator
}

// NewOrderEventHandler 创建订单事件处理器
func NewOrderEventHandler(coordinator *Coordinator) *OrderEventHandler {
	return &OrderEventHandler{coordinator: coordinator}
}

// Idempotent 声明幂等能力
func (h *OrderEventHandler) Idempotent() bool {
	return true
}

// EventTypes 本处理器订阅的事件类型
func (h *OrderEventHandler) EventTypes() []string {
	return []string{event.TypeOrderPaid, event.TypeOrderCancelled}
}

// Handle 处理订单事件
func (h *OrderEventHandler) Handle(ctx context.Context, env *event.Envelope) error {
	switch env.EventType {
	case event.TypeOrderPaid:
		return h.handlePaid(ctx, env)
	case event.TypeOrderCancelled:
		return h.handleCancelled(ctx, env)
	default:
		return fmt.Errorf("%w: %s", event.ErrInvalidEventType, env.EventType)
	}
}

func (h *OrderEventHandler) handlePaid(ctx context.Context, env *event.Envelope) error {
	payload, err := event.DecodePayload[event.OrderPaidPayload](env)
	if err != nil {
		return err
	}

	for _, line := range payload.Lines {
		inv, err := h.coordinator.DecrementForPurchase(ctx, line.VariantID, line.LocationID, line.Quantity, payload.OrderID)
		if err != nil {
			if errors.Is(err, inventory.ErrOutOfStock) {
				// 超卖保护触发：业务异常而非瞬时故障，留给死信处置
				log.Printf("⚠️ 支付订单扣减失败(售罄): order=%d variant=%d qty=%d",
					payload.OrderID, line.VariantID, line.Quantity)
			}
			return fmt.Errorf("订单%d扣减变体%d失败: %w", payload.OrderID, line.VariantID, err)
		}

		log.Printf("📤 订单扣减完成: order=%d variant=%d qty=%d remaining=%d",
			payload.OrderID, line.VariantID, line.Quantity, inv.QuantityAvailable())
	}

	return nil
}

func (h *OrderEventHandler) handleCancelled(ctx context.Context, env *event.Envelope) error {
	payload, err := event.DecodePayload[event.OrderCancelledPayload](env)
	if err != nil {
		return err
	}

	for _, line := range payload.Lines {
		if _, err := h.coordinator.IncrementForCancellation(ctx, line.VariantID, line.LocationID, line.Quantity, payload.OrderID); err != nil {
			return fmt.Errorf("订单%d回补变体%d失败: %w", payload.OrderID, line.VariantID, err)
		}
	}

	log.Printf("✅ 取消订单库存已回补: order=%d lines=%d", payload.OrderID, len(payload.Lines))
	return nil
}
