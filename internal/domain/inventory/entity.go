package inventory

import "time"

// Status 库存状态
type Status string

const (
	StatusActive       Status = "active"       // 正常
	StatusOutOfStock   Status = "out_of_stock" // 缺货
	StatusDiscontinued Status = "discontinued" // 停售（软禁用，订单仍有引用时不做物理删除）
)

// DefaultLocationID 默认仓库ID
// 调用方未指定location时使用（单仓库部署场景）
const DefaultLocationID uint = 1

// Inventory 库存记录（领域模型）
//
// 教学要点：
// 1. 复合唯一键：(variant_id, location_id)，同一SKU变体在每个仓库一条记录
//
//  2. QuantityAvailable是计算属性而非存储字段
//     事实来源只有QuantityOnHand和QuantityReserved两个字段，
//     可售库存每次派生计算，彻底消除"三字段各自更新导致漂移"这类一致性bug
//
//  3. Version乐观版本号
//     每次变更自增，用于检测读取与写入之间记录是否被他人修改
//
//  4. 写入纪律
//     quantity_*字段只允许通过InventoryCoordinator的原子调整路径修改，
//     任何其他组件直接写这些字段都是违规
type Inventory struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// SKU变体ID
	VariantID uint `gorm:"not null;uniqueIndex:uk_variant_location,priority:1" json:"variant_id"`

	// 仓库ID
	LocationID uint `gorm:"not null;uniqueIndex:uk_variant_location,priority:2" json:"location_id"`

	// 在库数量（物理库存）
	// 不变量：永远 >= 0
	QuantityOnHand int `gorm:"not null;default:0" json:"quantity_on_hand"`

	// 已预留数量（已下单未支付的占用）
	QuantityReserved int `gorm:"not null;default:0" json:"quantity_reserved"`

	// 低库存告警阈值（0表示不告警）
	LowStockThreshold int `gorm:"not null;default:0" json:"low_stock_threshold"`

	// 乐观版本号（每次变更自增）
	Version int64 `gorm:"not null;default:0" json:"version"`

	// 库存状态
	Status Status `gorm:"type:varchar(20);not null;default:'active'" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Inventory) TableName() string {
	return "inventory_records"
}

// QuantityAvailable 可售库存（计算属性）
// 不变量：available == max(0, on_hand - reserved)
func (i *Inventory) QuantityAvailable() int {
	available := i.QuantityOnHand - i.QuantityReserved
	if available < 0 {
		return 0
	}
	return available
}

// Validate 验证库存记录
func (i *Inventory) Validate() error {
	if i.VariantID == 0 {
		return ErrInvalidVariantID
	}

	if i.LocationID == 0 {
		return ErrInvalidLocationID
	}

	if i.QuantityOnHand < 0 {
		return ErrNegativeStock
	}

	if i.QuantityReserved < 0 {
		return ErrNegativeReserved
	}

	return nil
}

// ApplyDelta 应用在库数量变更（有符号）
//
// 教学要点：必须在行锁保护下、基于锁定后的最新值调用，
// 绝不信任锁外读到的快照。越界时不产生任何修改。
func (i *Inventory) ApplyDelta(delta int) error {
	if delta == 0 {
		return ErrInvalidQuantity
	}

	if i.QuantityOnHand+delta < 0 {
		return ErrInsufficientStock
	}

	i.QuantityOnHand += delta
	i.Version++
	i.refreshStatus()
	return nil
}

// ApplyReservedDelta 应用预留数量变更（有符号）
// 正数=下单预留（要求可售充足），负数=释放预留
func (i *Inventory) ApplyReservedDelta(delta int) error {
	if delta == 0 {
		return ErrInvalidQuantity
	}

	if delta > 0 && i.QuantityAvailable() < delta {
		return ErrInsufficientStock
	}

	if i.QuantityReserved+delta < 0 {
		return ErrInsufficientReserved
	}

	i.QuantityReserved += delta
	i.Version++
	i.refreshStatus()
	return nil
}

// CommitReservation 预留转扣减（支付成功）
// on_hand与reserved同步扣减，可售数量不变
func (i *Inventory) CommitReservation(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	if i.QuantityReserved < quantity {
		return ErrInsufficientReserved
	}

	if i.QuantityOnHand < quantity {
		return ErrInsufficientStock
	}

	i.QuantityOnHand -= quantity
	i.QuantityReserved -= quantity
	i.Version++
	i.refreshStatus()
	return nil
}

// refreshStatus 根据可售数量刷新状态
// 停售状态是人工决策，不被数量变化覆盖
func (i *Inventory) refreshStatus() {
	if i.Status == StatusDiscontinued {
		return
	}

	if i.QuantityAvailable() <= 0 {
		i.Status = StatusOutOfStock
	} else {
		i.Status = StatusActive
	}
}

// IsLowStock 判断是否低库存（需要告警）
func (i *Inventory) IsLowStock() bool {
	available := i.QuantityAvailable()
	return i.LowStockThreshold > 0 && available > 0 && available <= i.LowStockThreshold
}

// IsOutOfStock 判断是否缺货
func (i *Inventory) IsOutOfStock() bool {
	return i.QuantityAvailable() <= 0
}
