package inventory

import "context"

// AdjustFunc 在行锁保护的事务内执行的变更函数
// 入参是锁定后的最新记录；返回需要同事务追加的流水。
// 返回error时整个事务回滚，不产生任何变更。
type AdjustFunc func(inv *Inventory) (*AdjustmentLog, error)

// Repository 库存仓储接口（领域层定义）
//
// 教学要点：
// 1. 依赖倒置：领域层定义接口，基础设施层实现
// 2. AdjustInTx把"锁行→变更→落流水→提交"封装为单个原子单元，
//    调用方无法绕过行锁直接写quantity_*字段
type Repository interface {
	// GetByVariantLocation 按(variant, location)获取库存记录
	GetByVariantLocation(ctx context.Context, variantID, locationID uint) (*Inventory, error)

	// Create 创建库存记录（变体首次入库时）
	Create(ctx context.Context, inv *Inventory) error

	// AdjustInTx 打开事务并对目标记录加行级排他锁（SELECT ... FOR UPDATE），
	// 在锁内执行fn，保存记录并追加流水，整体原子提交
	AdjustInTx(ctx context.Context, variantID, locationID uint, fn AdjustFunc) (*Inventory, error)
}

// LogRepository 库存流水仓储接口（只读查询；写入只发生在AdjustInTx事务内）
type LogRepository interface {
	// ListByVariant 查询指定变体的流水（按创建顺序）
	ListByVariant(ctx context.Context, variantID, locationID uint, page, pageSize int) ([]*AdjustmentLog, int64, error)

	// ListByOrder 查询指定订单关联的流水
	ListByOrder(ctx context.Context, orderID uint) ([]*AdjustmentLog, error)
}
