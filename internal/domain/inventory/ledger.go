package inventory

import "time"

// Reason 库存变更原因
type Reason string

const (
	ReasonOrderPurchase      Reason = "order_purchase"      // 订单购买扣减
	ReasonOrderCancelled     Reason = "order_cancelled"     // 订单取消回补
	ReasonManualAdjustment   Reason = "manual_adjustment"   // 人工调整
	ReasonWarehouseSync      Reason = "warehouse_sync"      // 仓库批量同步
	ReasonOrderReserved      Reason = "order_reserved"      // 下单预留
	ReasonReservationRelease Reason = "reservation_release" // 预留释放
)

// AdjustmentLog 库存调整流水（领域模型）
//
// 教学要点：
// 1. 只增不改（Append-Only）：任何库存变更必须同事务落一条流水，
//    流水永不修改、永不删除
//
//  2. 对账不变量：按创建顺序累加QuantityDelta，可以从初始值
//     精确重建当前QuantityOnHand（ReservedDelta同理重建预留量）——
//     流水是审计完备的事实源头
//
//  3. 因果元数据：ActorID为空表示系统自动操作（事件驱动、定时同步），
//     OrderID把流水与触发它的订单关联起来
type AdjustmentLog struct {
	// 主键ID
	ID uint `gorm:"primaryKey" json:"id"`

	// SKU变体ID
	VariantID uint `gorm:"index:idx_variant;not null" json:"variant_id"`

	// 仓库ID
	LocationID uint `gorm:"not null" json:"location_id"`

	// 变更原因
	Reason Reason `gorm:"type:varchar(32);not null" json:"reason"`

	// 在库数量变化（有符号，正数=增加，负数=减少）
	QuantityDelta int `gorm:"not null" json:"quantity_delta"`

	// 预留数量变化（有符号，仅预留类流水非零）
	ReservedDelta int `gorm:"not null;default:0" json:"reserved_delta"`

	// 变更前在库数量
	BeforeOnHand int `gorm:"not null" json:"before_on_hand"`

	// 变更后在库数量
	AfterOnHand int `gorm:"not null" json:"after_on_hand"`

	// 操作人ID（空=系统操作）
	ActorID *uint `gorm:"index:idx_actor" json:"actor_id,omitempty"`

	// 关联订单ID（可选）
	OrderID *uint `gorm:"index:idx_order" json:"order_id,omitempty"`

	// 备注
	Remark string `gorm:"type:varchar(255)" json:"remark,omitempty"`

	// 创建时间
	CreatedAt time.Time `gorm:"index:idx_created_at" json:"created_at"`
}

// TableName 指定表名
func (AdjustmentLog) TableName() string {
	return "stock_adjustment_logs"
}
