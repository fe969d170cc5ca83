package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProcessedEvent 已处理事件标记（幂等存储的持久层）
type ProcessedEvent struct {
	// 事件ID作为主键：唯一约束就是去重机制本身
	EventID     string    `gorm:"type:varchar(64);primaryKey" json:"event_id"`
	ProcessedAt time.Time `gorm:"not null" json:"processed_at"`
}

// TableName 指定表名
func (ProcessedEvent) TableName() string {
	return "processed_events"
}

// ProcessedEventRepository MySQL幂等存储实现
//
// 教学要点：Mark用INSERT ... ON DUPLICATE KEY忽略冲突（upsert语义）。
// 两个消费者并发标记同一event_id时，冲突不是错误——冲突恰恰证明
// 该事件已被处理，双方都应该得到成功
type ProcessedEventRepository struct {
	db *gorm.DB
}

// NewProcessedEventRepository 创建幂等存储实例
func NewProcessedEventRepository(db *gorm.DB) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

// Seen 判断事件是否已处理
func (r *ProcessedEventRepository) Seen(ctx context.Context, eventID string) (bool, error) {
	var record ProcessedEvent

	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询幂等标记失败: %w", err)
	}

	return true, nil
}

// Mark 标记事件已处理（并发冲突视为成功）
func (r *ProcessedEventRepository) Mark(ctx context.Context, eventID string) error {
	record := ProcessedEvent{
		EventID:     eventID,
		ProcessedAt: time.Now().UTC(),
	}

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error; err != nil {
		return fmt.Errorf("写入幂等标记失败: %w", err)
	}

	return nil
}
