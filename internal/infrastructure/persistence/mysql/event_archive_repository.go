package mysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zhwei/shopcore/internal/domain/event"
)

// ArchivedEvent 事件归档记录
// broker的消息有保留期限，归档表是重放的长期数据源
type ArchivedEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	EventID       string    `gorm:"type:varchar(64);uniqueIndex" json:"event_id"`
	Topic         string    `gorm:"type:varchar(128);index:idx_topic;not null" json:"topic"`
	EventType     string    `gorm:"type:varchar(128);not null" json:"event_type"`
	CorrelationID string    `gorm:"type:varchar(64);index:idx_correlation" json:"correlation_id"`
	Payload       []byte    `gorm:"type:mediumblob;not null" json:"payload"`
	OccurredAt    time.Time `gorm:"index:idx_occurred_at;not null" json:"occurred_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName 指定表名
func (ArchivedEvent) TableName() string {
	return "archived_events"
}

// EventArchiveRepository 事件归档仓储
// 实现eventbus.Source，重放引擎从这里按序读取历史事件
type EventArchiveRepository struct {
	db *gorm.DB
}

// NewEventArchiveRepository 创建事件归档仓储实例
func NewEventArchiveRepository(db *gorm.DB) *EventArchiveRepository {
	return &EventArchiveRepository{db: db}
}

// Append 归档一条事件
// event_id唯一索引 + 冲突忽略：发布重试导致的重复归档静默去重
func (r *EventArchiveRepository) Append(ctx context.Context, topic string, env *event.Envelope) error {
	payload, err := env.Marshal()
	if err != nil {
		return err
	}

	record := ArchivedEvent{
		EventID:       env.EventID,
		Topic:         topic,
		EventType:     env.EventType,
		CorrelationID: env.CorrelationID,
		Payload:       payload,
		OccurredAt:    env.Timestamp,
	}

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error; err != nil {
		return fmt.Errorf("归档事件失败: %w", err)
	}

	return nil
}

// Read 按创建顺序读取一个topic的全部归档事件
func (r *EventArchiveRepository) Read(ctx context.Context, topic string) ([]*event.Envelope, error) {
	var records []*ArchivedEvent

	if err := r.db.WithContext(ctx).
		Where("topic = ?", topic).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("读取事件归档失败: %w", err)
	}

	envs := make([]*event.Envelope, 0, len(records))
	for _, rec := range records {
		env, err := event.Unmarshal(rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("解析归档事件失败(event_id=%s): %w", rec.EventID, err)
		}
		envs = append(envs, env)
	}

	return envs, nil
}
