package mysql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zhwei/shopcore/internal/domain/inventory"
)

// inventoryRepository MySQL库存仓储实现
//
// 教学要点：
// 1. SELECT FOR UPDATE悲观锁
//   - 锁定查询的行，其他事务的同行锁请求阻塞到本事务提交
//   - 锁内重读的值才是事实，锁外读到的一律视为过期快照
//
// 2. 事务边界即原子单元
//   - 锁行 → 执行变更函数 → 保存记录 → 追加流水，要么全部生效要么全部回滚
//   - 流水与库存变更同事务落库，对账不变量由此成立
//
// 3. DO vs DON'T
//   ✅ DO：事务 + SELECT FOR UPDATE + 锁内校验
//   ❌ DON'T：锁外读值后直接UPDATE（并发丢失更新）
type inventoryRepository struct {
	db *gorm.DB
}

// NewInventoryRepository 创建库存仓储实例
func NewInventoryRepository(db *gorm.DB) inventory.Repository {
	return &inventoryRepository{db: db}
}

// GetByVariantLocation 按(variant, location)获取库存记录
func (r *inventoryRepository) GetByVariantLocation(ctx context.Context, variantID, locationID uint) (*inventory.Inventory, error) {
	var inv inventory.Inventory

	if err := r.db.WithContext(ctx).
		Where("variant_id = ? AND location_id = ?", variantID, locationID).
		First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, inventory.ErrInventoryNotFound
		}
		return nil, fmt.Errorf("查询库存失败: %w", err)
	}

	return &inv, nil
}

// Create 创建库存记录
func (r *inventoryRepository) Create(ctx context.Context, inv *inventory.Inventory) error {
	if err := inv.Validate(); err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(inv).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return inventory.ErrInventoryExists
		}
		return fmt.Errorf("创建库存失败: %w", err)
	}

	return nil
}

// AdjustInTx 行锁事务内执行变更
func (r *inventoryRepository) AdjustInTx(ctx context.Context, variantID, locationID uint, fn inventory.AdjustFunc) (*inventory.Inventory, error) {
	var result *inventory.Inventory

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv inventory.Inventory

		// 步骤1：锁定库存记录（SELECT FOR UPDATE）
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("variant_id = ? AND location_id = ?", variantID, locationID).
			First(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return inventory.ErrInventoryNotFound
			}
			return fmt.Errorf("锁定库存失败: %w", err)
		}

		// 步骤2：在锁内最新值上执行变更（失败即回滚，零变更）
		logEntry, err := fn(&inv)
		if err != nil {
			return err
		}

		// 步骤3：保存记录
		if err := tx.Save(&inv).Error; err != nil {
			return fmt.Errorf("保存库存失败: %w", err)
		}

		// 步骤4：同事务追加流水
		if logEntry != nil {
			if err := tx.Create(logEntry).Error; err != nil {
				return fmt.Errorf("创建库存流水失败: %w", err)
			}
		}

		result = &inv
		return nil
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}
