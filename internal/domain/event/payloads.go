package event

import (
	"encoding/json"
	"fmt"
)

// 已知事件类型
const (
	TypeOrderCreated   = "order.order.created"
	TypeOrderPaid      = "order.order.paid"
	TypeOrderCancelled = "order.order.cancelled"
	TypeStockAdjusted  = "inventory.stock.adjusted"
	TypeStockLow       = "inventory.stock.low_stock"
)

// OrderLinePayload 订单行
type OrderLinePayload struct {
	VariantID  uint `json:"variant_id"`
	LocationID uint `json:"location_id,omitempty"`
	Quantity   int  `json:"quantity"`
}

// OrderPaidPayload order.order.paid 载荷
type OrderPaidPayload struct {
	OrderID uint               `json:"order_id"`
	UserID  uint               `json:"user_id"`
	Lines   []OrderLinePayload `json:"lines"`
}

// OrderCancelledPayload order.order.cancelled 载荷
type OrderCancelledPayload struct {
	OrderID uint               `json:"order_id"`
	UserID  uint               `json:"user_id"`
	Reason  string             `json:"reason,omitempty"`
	Lines   []OrderLinePayload `json:"lines"`
}

// StockAdjustedPayload inventory.stock.adjusted 载荷
type StockAdjustedPayload struct {
	VariantID     uint   `json:"variant_id"`
	LocationID    uint   `json:"location_id"`
	QuantityDelta int    `json:"quantity_delta"`
	AfterOnHand   int    `json:"after_on_hand"`
	Reason        string `json:"reason"`
}

// DecodePayload 将信封的动态Data解码为具体载荷类型
//
// 教学要点：每种event_type隐含一个schema，优先用显式结构体承接，
// 真正动态的部分才落在Metadata里——dict直取字段的写法把schema
// 散落在所有处理器中，改字段名时没人知道会炸在哪
func DecodePayload[T any](e *Envelope) (T, error) {
	var payload T

	raw, err := json.Marshal(e.Data)
	if err != nil {
		return payload, fmt.Errorf("编码事件载荷失败: %w", err)
	}

	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("解码事件载荷失败(%s): %w", e.EventType, err)
	}

	return payload, nil
}

// EncodePayload 将具体载荷类型编码为信封Data
func EncodePayload(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("编码事件载荷失败: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("编码事件载荷失败: %w", err)
	}

	return data, nil
}
