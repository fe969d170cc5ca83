package mysql

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/zhwei/shopcore/internal/domain/inventory"
)

// ledgerRepository 库存流水仓储实现（只读；写入只发生在AdjustInTx事务内）
type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository 创建流水仓储实例
func NewLedgerRepository(db *gorm.DB) inventory.LogRepository {
	return &ledgerRepository{db: db}
}

// ListByVariant 查询指定变体的流水（按创建顺序，供对账重建）
func (r *ledgerRepository) ListByVariant(ctx context.Context, variantID, locationID uint, page, pageSize int) ([]*inventory.AdjustmentLog, int64, error) {
	// 参数验证
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	query := r.db.WithContext(ctx).
		Where("variant_id = ? AND location_id = ?", variantID, locationID)

	// 查询总数
	var total int64
	if err := query.Model(&inventory.AdjustmentLog{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("查询流水总数失败: %w", err)
	}

	// 分页查询
	var logs []*inventory.AdjustmentLog
	offset := (page - 1) * pageSize

	if err := query.
		Order("id ASC").
		Offset(offset).
		Limit(pageSize).
		Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("查询库存流水失败: %w", err)
	}

	return logs, total, nil
}

// ListByOrder 查询指定订单关联的流水
func (r *ledgerRepository) ListByOrder(ctx context.Context, orderID uint) ([]*inventory.AdjustmentLog, error) {
	var logs []*inventory.AdjustmentLog

	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("查询订单库存流水失败: %w", err)
	}

	return logs, nil
}
