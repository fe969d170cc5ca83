package eventbus

import (
	"context"
	"fmt"

	"github.com/zhwei/shopcore/internal/domain/event"
)

// Appender 事件归档接口（MySQL归档表实现）
type Appender interface {
	Append(ctx context.Context, topic string, env *event.Envelope) error
}

// ArchivingPublisher 归档发布器
//
// 先归档再发broker：归档表是重放的长期数据源，顺序反过来的话
// broker投递成功而归档失败，这条事件对重放引擎就永远不存在。
// 归档层以event_id去重，发布重试不会产生重复归档
type ArchivingPublisher struct {
	archive Appender
	broker  Publisher
}

// NewArchivingPublisher 创建归档发布器
func NewArchivingPublisher(archive Appender, broker Publisher) *ArchivingPublisher {
	return &ArchivingPublisher{archive: archive, broker: broker}
}

// Publish 归档并发布
func (p *ArchivingPublisher) Publish(ctx context.Context, topic string, env *event.Envelope) error {
	if err := p.archive.Append(ctx, topic, env); err != nil {
		return fmt.Errorf("归档事件失败: %w", err)
	}

	return p.broker.Publish(ctx, topic, env)
}
